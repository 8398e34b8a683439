package web

import (
	"encoding/json"
	"math"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

type aboutResponse struct {
	Service    string   `json:"service"`
	NowUTC     string   `json:"now_utc"`
	Uptime     string   `json:"uptime"`
	Board      string   `json:"board,omitempty"`
	SoCTempC   *float64 `json:"soc_temp_c,omitempty"`
	GoVersion  string   `json:"go_version"`
	ModulePath string   `json:"module_path,omitempty"`
	Version    string   `json:"version,omitempty"`
	Commit     string   `json:"commit,omitempty"`
	Dirty      bool     `json:"dirty,omitempty"`
	BuildTime  string   `json:"build_time,omitempty"`
}

func (s *Server) aboutReply() response {
	now := nowFn()
	resp := aboutResponse{
		Service:   "fanctl",
		NowUTC:    now.UTC().Format(time.RFC3339Nano),
		Uptime:    now.Sub(s.started).Truncate(time.Second).String(),
		Board:     s.cfg.Board,
		GoVersion: runtime.Version(),
	}
	if s.cfg.Temperature != nil {
		if c, err := s.cfg.Temperature(); err == nil {
			c = math.Round(c*10) / 10
			resp.SoCTempC = &c
		}
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		resp.ModulePath = bi.Main.Path
		resp.Version = bi.Main.Version
		for _, kv := range bi.Settings {
			switch kv.Key {
			case "vcs.revision":
				resp.Commit = kv.Value
			case "vcs.modified":
				resp.Dirty = kv.Value == "true"
			case "vcs.time":
				resp.BuildTime = kv.Value
			}
		}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return textResponse(http.StatusInternalServerError, "marshal failed\n")
	}
	return response{status: http.StatusOK, contentType: contentJSON, body: body}
}
