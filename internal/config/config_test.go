package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.Throttle.Interval)
	assert.Equal(t, 200, cfg.Inbound.Limit)
	assert.Equal(t, time.Second, cfg.Inbound.Interval)
	assert.Equal(t, "drop", cfg.Backpressure)
	assert.Equal(t, "synthetic", cfg.Capture.Driver)
	assert.True(t, cfg.Capture.Mirror)
	assert.Equal(t, "none", cfg.Detector.Driver)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
port: 9000
log_level: debug
throttle:
  interval: 250ms
capture:
  driver: mjpeg
  url: http://camera.local/stream
  fps: 30
detector:
  driver: http
  url: http://localhost:9100/detect
`)
	t.Setenv("AIRBOARD_BACKPRESSURE", "kick")
	t.Setenv("AIRBOARD_INBOUND_LIMIT", "50")

	cfg, err := Load([]string{"--config", path, "--port", "9100"})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port, "flag wins over file")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.Throttle.Interval)
	assert.Equal(t, "mjpeg", cfg.Capture.Driver)
	assert.Equal(t, 30.0, cfg.Capture.FPS)
	assert.Equal(t, "http", cfg.Detector.Driver)
	assert.Equal(t, "kick", cfg.Backpressure)
	assert.Equal(t, 50, cfg.Inbound.Limit)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "throttle:\n  interval: 0s\n")
	_, err := Load([]string{"--config", path})
	assert.Error(t, err)

	path = writeConfig(t, "capture:\n  driver: mjpeg\n")
	_, err = Load([]string{"--config", path})
	assert.ErrorContains(t, err, "capture.url")

	path = writeConfig(t, "port: [1, 2\n")
	_, err = Load([]string{"--config", path})
	assert.Error(t, err)
}

func TestLoadBadFlag(t *testing.T) {
	_, err := Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}
