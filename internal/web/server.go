package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"fanctl/internal/fan"
)

var nowFn = time.Now

// maxRequestBytes bounds how much of a request is read; only the request
// line matters.
const maxRequestBytes = 1024

const (
	contentHTML = "text/html; charset=utf-8"
	contentJSON = "application/json"
	contentText = "text/plain; charset=utf-8"
)

// FanController is the part of fan.Controller the web server uses.
type FanController interface {
	Apply(ctx context.Context, cmd fan.Command, source string) (fan.State, error)
	Snapshot() fan.Snapshot
}

type Config struct {
	Title       string
	RecvTimeout time.Duration
	// RateLimit caps handled connections per second. Zero disables it.
	RateLimit float64
	Burst     int
	// Board is reported by GET /about.
	Board string
	// Temperature, when set, adds the SoC temperature to GET /about.
	Temperature func() (float64, error)
}

// Server is a sequential HTTP/1.0 server: one connection is read, answered
// and closed before the next is accepted.
type Server struct {
	cfg     Config
	fan     FanController
	logs    *LogBuffer
	log     *slog.Logger
	limiter *rate.Limiter
	started time.Time
}

func NewServer(cfg Config, ctl FanController, logs *LogBuffer, log *slog.Logger) *Server {
	if cfg.RecvTimeout <= 0 {
		cfg.RecvTimeout = 5 * time.Second
	}
	if cfg.Title == "" {
		cfg.Title = "Family Fan Control"
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		fan:     ctl,
		logs:    logs,
		log:     log,
		started: nowFn(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// returns nil. Per-connection failures are logged and never end the loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.log.Info("web server listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn("accept failed", "error", err)
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				_ = conn.Close()
				return nil
			}
		}
		s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("request handler panicked", "remote", remote, "panic", r)
		}
		_ = conn.Close()
	}()

	_ = conn.SetDeadline(time.Now().Add(s.cfg.RecvTimeout))

	raw, err := readRequest(conn)
	if err != nil {
		s.log.Warn("read request failed", "remote", remote, "error", err)
		return
	}

	req, err := ParseRequest(raw)
	if err != nil {
		if errors.Is(err, ErrEmptyRequest) {
			s.log.Debug("empty request", "remote", remote)
			return
		}
		s.log.Warn("bad request", "remote", remote, "error", err)
		if isParseError(err) {
			s.send(conn, remote, textResponse(http.StatusBadRequest, err.Error()+"\n"), false)
		}
		return
	}

	resp := s.handle(ctx, req)
	s.send(conn, remote, resp, req.Method == http.MethodHead)
	s.log.Debug("request served",
		"remote", remote,
		"method", req.Method,
		"path", req.Path,
		"status", resp.status,
	)
}

func (s *Server) send(w io.Writer, remote string, resp response, head bool) {
	if err := resp.writeTo(w, head); err != nil {
		s.log.Warn("write response failed", "remote", remote, "error", err)
	}
}

func (s *Server) handle(ctx context.Context, req Request) response {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		r := textResponse(http.StatusMethodNotAllowed, "method not allowed\n")
		r.allow = "GET, HEAD"
		return r
	}

	switch req.Path {
	case "/status":
		return s.statusReply()
	case "/about":
		return s.aboutReply()
	case "/logs":
		if s.logs == nil {
			return textResponse(http.StatusNotFound, "logs unavailable\n")
		}
		return s.logs.logsReply(req)
	}
	return s.controlReply(ctx, req)
}

type statusResponse struct {
	Speed     int           `json:"speed"`
	Direction fan.Direction `json:"direction"`
	Enabled   bool          `json:"enabled"`
}

func (s *Server) statusReply() response {
	st := s.fan.Snapshot().State
	body, err := json.Marshal(statusResponse{
		Speed:     st.SpeedPercent(),
		Direction: st.Direction,
		Enabled:   st.Enabled,
	})
	if err != nil {
		return textResponse(http.StatusInternalServerError, "marshal failed\n")
	}
	return response{status: http.StatusOK, contentType: contentJSON, body: body}
}

// controlReply applies the request's fan keys, even when there are none, and
// renders the control page for the resulting state.
func (s *Server) controlReply(ctx context.Context, req Request) response {
	actx, cancel := context.WithTimeout(ctx, s.cfg.RecvTimeout)
	defer cancel()

	st, err := s.fan.Apply(actx, req.Command, "http")
	if err != nil {
		s.log.Warn("apply fan command failed", "error", err)
		return textResponse(http.StatusServiceUnavailable, "fan controller unavailable\n")
	}
	body, err := renderPage(s.cfg.Title, st)
	if err != nil {
		s.log.Error("render page failed", "error", err)
		return textResponse(http.StatusInternalServerError, "render failed\n")
	}
	return response{status: http.StatusOK, contentType: contentHTML, body: body}
}

// readRequest reads until the request line is complete, the peer stops
// sending, or maxRequestBytes have arrived.
func readRequest(r io.Reader) ([]byte, error) {
	buf := make([]byte, maxRequestBytes)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if bytes.IndexByte(buf[:n], '\n') >= 0 {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	return buf[:n], nil
}

type response struct {
	status      int
	contentType string
	allow       string
	body        []byte
}

func textResponse(status int, msg string) response {
	return response{status: status, contentType: contentText, body: []byte(msg)}
}

func (r response) writeTo(w io.Writer, head bool) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.0 %d %s\r\n", r.status, http.StatusText(r.status))
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", r.contentType)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(r.body))
	if r.allow != "" {
		fmt.Fprintf(&buf, "Allow: %s\r\n", r.allow)
	}
	buf.WriteString("Cache-Control: no-store\r\nConnection: close\r\n\r\n")
	if !head {
		buf.Write(r.body)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
