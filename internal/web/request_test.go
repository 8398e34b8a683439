package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanctl/internal/fan"
)

func TestParseRequest_Status(t *testing.T) {
	req, err := ParseRequest([]byte("GET /status HTTP/1.1\r\nHost: fan\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/status", req.Path)
	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Empty(t, req.Params)
	assert.Equal(t, fan.Command{}, req.Command)
}

func TestParseRequest_AllKeys(t *testing.T) {
	req, err := ParseRequest([]byte("GET /?power=on&direction=reverse&speed=30 HTTP/1.0\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "/", req.Path)

	require.NotNil(t, req.Command.Power)
	assert.True(t, *req.Command.Power)
	require.NotNil(t, req.Command.Direction)
	assert.Equal(t, fan.Reverse, *req.Command.Direction)
	require.NotNil(t, req.Command.Speed)
	assert.InDelta(t, 0.30, *req.Command.Speed, 1e-9)
}

func TestParseRequest_SubsetAndUnknownKeys(t *testing.T) {
	req, err := ParseRequest([]byte("GET /?foo=bar&power=off HTTP/1.0\r\n"))
	require.NoError(t, err)
	assert.Nil(t, req.Command.Speed)
	assert.Nil(t, req.Command.Direction)
	require.NotNil(t, req.Command.Power)
	assert.False(t, *req.Command.Power)
	assert.Equal(t, "bar", req.Get("foo"))
}

func TestParseRequest_SpeedClamped(t *testing.T) {
	for raw, want := range map[string]float64{
		"GET /?speed=150 HTTP/1.0\r\n": 1,
		"GET /?speed=-3 HTTP/1.0\r\n":  0,
		"GET /?speed=0 HTTP/1.0\r\n":   0,
		"GET /?speed=100 HTTP/1.0\r\n": 1,
	} {
		req, err := ParseRequest([]byte(raw))
		require.NoError(t, err, raw)
		require.NotNil(t, req.Command.Speed, raw)
		assert.Equal(t, want, *req.Command.Speed, raw)
	}
}

func TestParseRequest_LastDuplicateWins(t *testing.T) {
	req, err := ParseRequest([]byte("GET /?speed=10&speed=20 HTTP/1.0\r\n"))
	require.NoError(t, err)
	assert.InDelta(t, 0.20, *req.Command.Speed, 1e-9)
	assert.Equal(t, "20", req.Get("speed"))
}

func TestParseRequest_EscapesAndEmptyPairs(t *testing.T) {
	req, err := ParseRequest([]byte("GET /hello%20world?&direction=%66orward& HTTP/1.0"))
	require.NoError(t, err)
	assert.Equal(t, "/hello world", req.Path)
	require.NotNil(t, req.Command.Direction)
	assert.Equal(t, fan.Forward, *req.Command.Direction)
}

func TestParseRequest_NoProtocol(t *testing.T) {
	req, err := ParseRequest([]byte("GET /status\n"))
	require.NoError(t, err)
	assert.Equal(t, "HTTP/0.9", req.Proto)
}

func TestParseRequest_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"Empty", "", ErrEmptyRequest},
		{"Blank", "\r\n\r\n", ErrEmptyRequest},
		{"OneField", "GET\r\n", ErrMalformedRequestLine},
		{"TooManyFields", "GET / HTTP/1.0 extra\r\n", ErrMalformedRequestLine},
		{"BadProto", "GET / FTP/1.0\r\n", ErrMalformedRequestLine},
		{"AbsoluteTarget", "GET http://fan/ HTTP/1.0\r\n", ErrMalformedRequestLine},
		{"BadPathEscape", "GET /%zz HTTP/1.0\r\n", ErrMalformedRequestLine},
		{"MissingEquals", "GET /?speed HTTP/1.0\r\n", ErrMalformedQuery},
		{"EmptyKey", "GET /?=5 HTTP/1.0\r\n", ErrMalformedQuery},
		{"BadEscape", "GET /?speed=%zz HTTP/1.0\r\n", ErrMalformedQuery},
		{"NonNumericSpeed", "GET /?speed=fast HTTP/1.0\r\n", ErrInvalidSpeed},
		{"FractionalSpeed", "GET /?speed=0.5 HTTP/1.0\r\n", ErrInvalidSpeed},
		{"BadDirection", "GET /?direction=up HTTP/1.0\r\n", ErrInvalidDirection},
		{"BadPower", "GET /?power=maybe HTTP/1.0\r\n", ErrInvalidPower},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tc.raw))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestIsParseError(t *testing.T) {
	_, err := ParseRequest([]byte("GET /?power=maybe HTTP/1.0\r\n"))
	assert.True(t, isParseError(err))
	assert.False(t, isParseError(ErrEmptyRequest))
	assert.False(t, isParseError(nil))
}
