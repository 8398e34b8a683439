package web

import (
	"bytes"
	"html/template"

	"fanctl/internal/fan"
)

type pageData struct {
	Title   string
	Enabled bool
	Speed   int
	Forward bool
}

var controlPage = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><meta charset="UTF-8">
<title>{{.Title}}</title>
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<style>
body{font-family:sans-serif;background:#f0f4f8;text-align:center;}
.container{background:#fff;padding:2rem;margin:3rem auto;max-width:400px;border-radius:1rem;box-shadow:0 0 10px rgba(0,0,0,0.1);}
.status{font-size:1.2rem;}
.status.on{color:green;}
.status.off{color:red;}
.btn{padding:0.75rem 1.5rem;font-size:1rem;border:none;border-radius:0.5rem;cursor:pointer;}
.btn-on{background:#28a745;color:white;}
.btn-off{background:#dc3545;color:white;}
</style>
<script>
function pollState(){
  fetch('/status').then(function(r){return r.json();}).then(function(data){
    document.getElementById('speed').value=data.speed;
    document.getElementById('speedLabel').innerText='Speed: '+data.speed+'%';
    document.getElementById('dirFwd').checked=data.direction==='forward';
    document.getElementById('dirRev').checked=data.direction==='reverse';
    var s=document.getElementById('status');
    var b=document.getElementById('powerBtn');
    if(data.enabled){
      s.innerHTML='Status: <strong>ON</strong>';s.className='status on';
      b.innerText='Turn OFF';b.value='off';b.className='btn btn-off';
    }else{
      s.innerHTML='Status: <strong>OFF</strong>';s.className='status off';
      b.innerText='Turn ON';b.value='on';b.className='btn btn-on';
    }
  }).catch(function(){});
}
setInterval(pollState, 2000);
</script></head>
<body><div class="container"><h2>{{.Title}}</h2>
{{if .Enabled}}<p id="status" class="status on">Status: <strong>ON</strong></p>{{else}}<p id="status" class="status off">Status: <strong>OFF</strong></p>{{end}}
<form action="/" method="get">
<label id="speedLabel">Speed: {{.Speed}}%</label><br>
<input type="range" id="speed" name="speed" min="0" max="100" value="{{.Speed}}" onchange="this.form.submit()"><br><br>
<label>Direction:</label><br>
{{if .Forward}}<input type="radio" id="dirFwd" name="direction" value="forward" checked onchange="this.form.submit()"> Forward
<input type="radio" id="dirRev" name="direction" value="reverse" onchange="this.form.submit()"> Reverse{{else}}<input type="radio" id="dirFwd" name="direction" value="forward" onchange="this.form.submit()"> Forward
<input type="radio" id="dirRev" name="direction" value="reverse" checked onchange="this.form.submit()"> Reverse{{end}}<br><br>
{{if .Enabled}}<button id="powerBtn" class="btn btn-off" name="power" value="off">Turn OFF</button>{{else}}<button id="powerBtn" class="btn btn-on" name="power" value="on">Turn ON</button>{{end}}
</form></div></body></html>
`))

func renderPage(title string, s fan.State) ([]byte, error) {
	var buf bytes.Buffer
	err := controlPage.Execute(&buf, pageData{
		Title:   title,
		Enabled: s.Enabled,
		Speed:   s.SpeedPercent(),
		Forward: s.Direction == fan.Forward,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
