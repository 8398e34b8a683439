package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanctl/internal/fan"
	"fanctl/internal/hw"
)

type fakeFan struct {
	mu     sync.Mutex
	state  fan.State
	cmds   []fan.Command
	panics bool
	err    error
}

func (f *fakeFan) Apply(ctx context.Context, cmd fan.Command, source string) (fan.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		f.panics = false
		panic("boom")
	}
	if f.err != nil {
		return fan.State{}, f.err
	}
	f.cmds = append(f.cmds, cmd)
	if cmd.Speed != nil {
		f.state.Speed = *cmd.Speed
	}
	if cmd.Direction != nil {
		f.state.Direction = *cmd.Direction
	}
	if cmd.Power != nil {
		f.state.Enabled = *cmd.Power
	}
	return f.state, nil
}

func (f *fakeFan) commands() []fan.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fan.Command(nil), f.cmds...)
}

func (f *fakeFan) Snapshot() fan.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fan.Snapshot{State: f.state}
}

func startServer(t *testing.T, cfg Config, ctl FanController, logs *LogBuffer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(cfg, ctl, logs, log)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr().String()
}

type rawResponse struct {
	status  int
	headers map[string]string
	body    string
}

func roundTrip(t *testing.T, addr, raw string) rawResponse {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(3 * time.Second))

	_, err = io.WriteString(c, raw)
	require.NoError(t, err)

	b, err := io.ReadAll(c)
	require.NoError(t, err)

	r := bufio.NewReader(strings.NewReader(string(b)))
	resp, err := http.ReadResponse(r, nil)
	require.NoError(t, err, string(b))
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	h := map[string]string{}
	for k := range resp.Header {
		h[k] = resp.Header.Get(k)
	}
	assert.Equal(t, "HTTP/1.0", resp.Proto)
	return rawResponse{status: resp.StatusCode, headers: h, body: string(body)}
}

func get(t *testing.T, addr, target string) rawResponse {
	return roundTrip(t, addr, "GET "+target+" HTTP/1.1\r\nHost: fan\r\n\r\n")
}

func TestServer_Status(t *testing.T) {
	ctl := &fakeFan{state: fan.State{Speed: 0.3, Direction: fan.Reverse, Enabled: true}}
	addr := startServer(t, Config{}, ctl, nil)

	resp := get(t, addr, "/status")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "application/json", resp.headers["Content-Type"])
	assert.Equal(t, "close", resp.headers["Connection"])
	assert.JSONEq(t, `{"speed":30,"direction":"reverse","enabled":true}`, resp.body)
	assert.Empty(t, ctl.commands(), "status must not touch the fan")
}

func TestServer_ControlPageAppliesQuery(t *testing.T) {
	ctl := &fakeFan{state: fan.State{Speed: 0.9}}
	addr := startServer(t, Config{Title: "Porch Fan"}, ctl, nil)

	resp := get(t, addr, "/?speed=45&direction=reverse&power=on&x=1")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "text/html; charset=utf-8", resp.headers["Content-Type"])
	assert.Contains(t, resp.body, "<title>Porch Fan</title>")
	assert.Contains(t, resp.body, "Speed: 45%")
	assert.Contains(t, resp.body, `value="reverse" checked`)
	assert.Contains(t, resp.body, "Turn OFF")
	assert.Contains(t, resp.body, "setInterval(pollState, 2000)")

	cmds := ctl.commands()
	require.Len(t, cmds, 1)
	assert.True(t, *cmds[0].Power)
}

func TestServer_PlainPageReappliesState(t *testing.T) {
	ctl := &fakeFan{state: fan.State{Speed: 0.5}}
	addr := startServer(t, Config{}, ctl, nil)

	resp := get(t, addr, "/")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "Family Fan Control")
	assert.Contains(t, resp.body, "Turn ON")
	cmds := ctl.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, fan.Command{}, cmds[0])
}

func TestServer_BadRequestKeepsServing(t *testing.T) {
	ctl := &fakeFan{}
	addr := startServer(t, Config{}, ctl, nil)

	resp := get(t, addr, "/?speed=fast")
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Contains(t, resp.body, "invalid speed")

	resp = get(t, addr, "/?speed")
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Contains(t, resp.body, "malformed query")

	resp = get(t, addr, "/status")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Empty(t, ctl.commands())
}

func TestServer_RecoversFromPanic(t *testing.T) {
	ctl := &fakeFan{panics: true}
	addr := startServer(t, Config{}, ctl, nil)

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, _ = io.WriteString(c, "GET /?power=on HTTP/1.0\r\n\r\n")
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, _ := io.ReadAll(c)
	_ = c.Close()
	assert.Empty(t, b, "connection should be dropped without a response")

	resp := get(t, addr, "/?power=on")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "Turn OFF")
}

func TestServer_ControllerUnavailable(t *testing.T) {
	ctl := &fakeFan{err: errors.New("fan: controller stopped")}
	addr := startServer(t, Config{}, ctl, nil)

	resp := get(t, addr, "/")
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)
}

func TestServer_RecvTimeoutClosesIdleConnection(t *testing.T) {
	ctl := &fakeFan{}
	addr := startServer(t, Config{RecvTimeout: 50 * time.Millisecond}, ctl, nil)

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	start := time.Now()
	b, err := io.ReadAll(c)
	_ = c.Close()
	require.NoError(t, err)
	assert.Empty(t, b)
	assert.Less(t, time.Since(start), 2*time.Second)

	resp := get(t, addr, "/status")
	assert.Equal(t, http.StatusOK, resp.status)
}

func TestServer_EmptyRequestClosed(t *testing.T) {
	addr := startServer(t, Config{}, &fakeFan{}, nil)

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, c.(*net.TCPConn).CloseWrite())
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, err := io.ReadAll(c)
	_ = c.Close()
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	addr := startServer(t, Config{}, &fakeFan{}, nil)

	resp := roundTrip(t, addr, "POST / HTTP/1.0\r\n\r\n")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.status)
	assert.Equal(t, "GET, HEAD", resp.headers["Allow"])
}

func TestServer_HeadOmitsBody(t *testing.T) {
	addr := startServer(t, Config{}, &fakeFan{}, nil)

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(2 * time.Second))
	_, _ = io.WriteString(c, "HEAD /status HTTP/1.0\r\n\r\n")
	b, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "HTTP/1.0 200 OK\r\n"))
	assert.True(t, strings.HasSuffix(string(b), "\r\n\r\n"))
}

func TestServer_LogsAndAbout(t *testing.T) {
	logs := NewLogBuffer(10)
	_, _ = io.WriteString(logs, "level=INFO msg=started\n")
	temp := func() (float64, error) { return 51.234, nil }
	addr := startServer(t, Config{Board: "Raspberry Pi 4 Model B", Temperature: temp}, &fakeFan{}, logs)

	resp := get(t, addr, "/logs")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "level=INFO msg=started\n", resp.body)

	resp = get(t, addr, "/about")
	require.Equal(t, http.StatusOK, resp.status)
	var about aboutResponse
	require.NoError(t, json.Unmarshal([]byte(resp.body), &about))
	assert.Equal(t, "fanctl", about.Service)
	assert.Equal(t, "Raspberry Pi 4 Model B", about.Board)
	require.NotNil(t, about.SoCTempC)
	assert.InDelta(t, 51.2, *about.SoCTempC, 1e-9)
	assert.NotEmpty(t, about.GoVersion)
}

func TestServer_LogsUnavailable(t *testing.T) {
	addr := startServer(t, Config{}, &fakeFan{}, nil)
	resp := get(t, addr, "/logs")
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestServer_RateLimitStillServes(t *testing.T) {
	addr := startServer(t, Config{RateLimit: 50, Burst: 1}, &fakeFan{}, nil)
	for i := 0; i < 3; i++ {
		resp := get(t, addr, "/status")
		assert.Equal(t, http.StatusOK, resp.status)
	}
}

// Remote commands flow through the real controller and show up in /status.
func TestServer_WithController(t *testing.T) {
	pwm := hw.NewSimPWM()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctl := fan.NewController(fan.Config{
		Initial:       fan.State{Speed: 0.9},
		BlinkInterval: time.Hour,
	}, fan.NewActuator(pwm, hw.NewSimLine(0), hw.NewSimLine(0)), log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	addr := startServer(t, Config{}, ctl, nil)

	resp := get(t, addr, "/?power=on&direction=reverse&speed=30")
	require.Equal(t, http.StatusOK, resp.status)
	assert.InDelta(t, 30.0, pwm.Duty(), 1e-9)

	resp = get(t, addr, "/status")
	assert.JSONEq(t, `{"speed":30,"direction":"reverse","enabled":true}`, resp.body)

	resp = get(t, addr, "/?power=off")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, 0.0, pwm.Duty())

	resp = get(t, addr, "/status")
	assert.JSONEq(t, `{"speed":30,"direction":"reverse","enabled":false}`, resp.body)
}
