package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogBuffer keeps the most recent log lines in memory for GET /logs. It is an
// io.Writer so it can sit behind the slog handler.
type LogBuffer struct {
	mu      sync.Mutex
	ring    []string
	next    int
	full    bool
	partial []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 500
	}
	return &LogBuffer{ring: make([]string, maxLines)}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append(b.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.pushLocked(string(bytes.TrimRight(data[:i], "\r")))
		data = data[i+1:]
	}
	b.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (b *LogBuffer) pushLocked(line string) {
	if line == "" {
		return
	}
	if b.full {
		b.dropped++
	}
	b.ring[b.next] = line
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.full = true
	}
}

// Tail returns up to n of the newest complete lines, oldest first, and how
// many lines have been evicted so far.
func (b *LogBuffer) Tail(n int) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.next
	if b.full {
		size = len(b.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	lines = make([]string, 0, n)
	start := b.next - n
	for i := 0; i < n; i++ {
		idx := start + i
		if idx < 0 {
			idx += len(b.ring)
		}
		lines = append(lines, b.ring[idx])
	}
	return lines, b.dropped
}

type logsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

// logsReply renders GET /logs. tail defaults to 200 and is capped at 5000;
// format=json switches from plain text to a JSON envelope.
func (b *LogBuffer) logsReply(req Request) response {
	tail := 200
	if s := strings.TrimSpace(req.Get("tail")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 5000 {
			return textResponse(http.StatusBadRequest, "tail must be an integer in [1,5000]\n")
		}
		tail = v
	}
	lines, dropped := b.Tail(tail)

	if strings.EqualFold(req.Get("format"), "json") {
		body, err := json.Marshal(logsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Lines:   lines,
		})
		if err != nil {
			return textResponse(http.StatusInternalServerError, "marshal failed\n")
		}
		return response{status: http.StatusOK, contentType: contentJSON, body: body}
	}

	var buf bytes.Buffer
	if dropped > 0 {
		fmt.Fprintf(&buf, "[dropped=%d]\n", dropped)
	}
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return response{status: http.StatusOK, contentType: contentText, body: buf.Bytes()}
}
