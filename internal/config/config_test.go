package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hperssn/palmpay/internal/domain"
)

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte("standalone_mode: true\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, 30*time.Second, c.Capture.Timeout)
	assert.Equal(t, time.Hour, c.Sessions.TTL)
	assert.InDelta(t, 0.8, c.Capture.ConfidenceThreshold, 1e-9)
	assert.Equal(t, "pay 150 rupees", c.Capture.SimTranscript)
	assert.Zero(t, c.Server.RateLimit)
	assert.Empty(t, c.Auth.JWTSecret)
}

func TestParse_RateLimitBurst(t *testing.T) {
	c, err := Parse([]byte(`standalone_mode: true
server:
  rate_limit: 5
auth:
  jwt_secret: abc
`))
	require.NoError(t, err)

	assert.Equal(t, 5.0, c.Server.RateLimit)
	assert.Equal(t, 11, c.Server.RateBurst)
	assert.Equal(t, "abc", c.Auth.JWTSecret)
}

func TestParse_CaptureTimeouts(t *testing.T) {
	data := []byte(`
standalone_mode: true
capture:
  timeout: 20s
  timeouts:
    voice: 45s
  speed_scale: 4
  sim_transcript: "pay 20 dollars"
storage:
  driver: sqlite
  dsn: /tmp/palmpay.db
`)
	c, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, c.CaptureTimeout(domain.CaptureVoice))
	assert.Equal(t, 20*time.Second, c.CaptureTimeout(domain.CapturePalm))
	assert.Equal(t, 4.0, c.Capture.SpeedScale)
	assert.Equal(t, "pay 20 dollars", c.Capture.SimTranscript)
	assert.Equal(t, "sqlite", c.Storage.Driver)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown driver", "standalone_mode: true\nstorage:\n  driver: mongo\n"},
		{"postgres without dsn", "standalone_mode: true\nstorage:\n  driver: postgres\n"},
		{"online without verifier", "standalone_mode: false\n"},
		{"threshold above one", "standalone_mode: true\ncapture:\n  confidence_threshold: 1.5\n"},
		{"negative rate limit", "standalone_mode: true\nserver:\n  rate_limit: -1\n"},
		{"bad yaml", "capture: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("standalone_mode: true\nlog:\n  format: json\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	var buf bytes.Buffer
	c.Logger(&buf).Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
