package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanctl/internal/config"
)

func TestNew_TeesJSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(config.LogConfig{Level: "info", Format: "json", Output: "discard"}, &buf)
	require.NoError(t, err)
	defer closer()

	log.Info("fan updated", "speed", 30)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "fan updated", entry["msg"])
	assert.Equal(t, float64(30), entry["speed"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(config.LogConfig{Level: "warn", Format: "text", Output: "discard"}, &buf)
	require.NoError(t, err)
	defer closer()

	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanctl.log")
	log, closer, err := New(config.LogConfig{Output: path})
	require.NoError(t, err)

	log.Info("hello", "k", "v")
	require.NoError(t, closer())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "msg=hello"))
}

func TestNew_BadFileOutput(t *testing.T) {
	_, _, err := New(config.LogConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "input=%q", tt.input)
	}
}

func TestOpenOutput_StdStreams(t *testing.T) {
	w, closer, err := openOutput("stdout")
	require.NoError(t, err)
	defer closer()
	assert.Same(t, os.Stdout, w)

	w, closer2, err := openOutput("")
	require.NoError(t, err)
	defer closer2()
	assert.Same(t, os.Stderr, w)
}
