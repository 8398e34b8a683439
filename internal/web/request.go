package web

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"fanctl/internal/fan"
)

var (
	ErrEmptyRequest         = errors.New("empty request")
	ErrMalformedRequestLine = errors.New("malformed request line")
	ErrMalformedQuery       = errors.New("malformed query")
	ErrInvalidSpeed         = errors.New("invalid speed")
	ErrInvalidDirection     = errors.New("invalid direction")
	ErrInvalidPower         = errors.New("invalid power")
)

// Param is one decoded key=value pair from the query string, in request order.
type Param struct {
	Key   string
	Value string
}

// Request is the part of an HTTP request line the server acts on.
type Request struct {
	Method string
	Path   string
	Proto  string
	Params []Param
	// Command holds the recognised fan keys. Later duplicates win.
	Command fan.Command
}

// Get returns the last value for key, or "".
func (r Request) Get(key string) string {
	v := ""
	for _, p := range r.Params {
		if p.Key == key {
			v = p.Value
		}
	}
	return v
}

// ParseRequest parses the request line at the start of raw. Headers and body
// are ignored. A request line without a trailing newline is accepted so that
// truncated reads still parse.
func ParseRequest(raw []byte) (Request, error) {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(raw)) == 0 {
		return Request{}, ErrEmptyRequest
	}

	fields := strings.Fields(string(line))
	if len(fields) < 2 || len(fields) > 3 {
		return Request{}, fmt.Errorf("%w: %q", ErrMalformedRequestLine, line)
	}
	req := Request{Method: fields[0], Proto: "HTTP/0.9"}
	if len(fields) == 3 {
		if !strings.HasPrefix(fields[2], "HTTP/") {
			return Request{}, fmt.Errorf("%w: bad protocol %q", ErrMalformedRequestLine, fields[2])
		}
		req.Proto = fields[2]
	}

	target := fields[1]
	if !strings.HasPrefix(target, "/") {
		return Request{}, fmt.Errorf("%w: bad target %q", ErrMalformedRequestLine, target)
	}
	rawPath, rawQuery, _ := strings.Cut(target, "?")
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return Request{}, fmt.Errorf("%w: bad path %q", ErrMalformedRequestLine, rawPath)
	}
	req.Path = path

	params, err := parseQuery(rawQuery)
	if err != nil {
		return Request{}, err
	}
	req.Params = params

	cmd, err := commandFromParams(params)
	if err != nil {
		return Request{}, err
	}
	req.Command = cmd
	return req, nil
}

func parseQuery(q string) ([]Param, error) {
	if q == "" {
		return nil, nil
	}
	var out []Param
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedQuery, pair)
		}
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedQuery, pair)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedQuery, pair)
		}
		out = append(out, Param{Key: key, Value: val})
	}
	return out, nil
}

func commandFromParams(params []Param) (fan.Command, error) {
	var cmd fan.Command
	for _, p := range params {
		switch p.Key {
		case "speed":
			n, err := strconv.Atoi(strings.TrimSpace(p.Value))
			if err != nil {
				return fan.Command{}, fmt.Errorf("%w: %q", ErrInvalidSpeed, p.Value)
			}
			s := fan.ClampSpeed(float64(n) / 100)
			cmd.Speed = &s
		case "direction":
			d, err := fan.ParseDirection(p.Value)
			if err != nil {
				return fan.Command{}, fmt.Errorf("%w: %q", ErrInvalidDirection, p.Value)
			}
			cmd.Direction = &d
		case "power":
			var on bool
			switch strings.ToLower(strings.TrimSpace(p.Value)) {
			case "on":
				on = true
			case "off":
				on = false
			default:
				return fan.Command{}, fmt.Errorf("%w: %q", ErrInvalidPower, p.Value)
			}
			cmd.Power = &on
		}
	}
	return cmd, nil
}

// isParseError reports whether err came from ParseRequest rejecting input, as
// opposed to an I/O failure.
func isParseError(err error) bool {
	for _, e := range []error{
		ErrMalformedRequestLine, ErrMalformedQuery,
		ErrInvalidSpeed, ErrInvalidDirection, ErrInvalidPower,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
