package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, ":8091", cfg.Listen)
	require.Equal(t, "102", cfg.Camera.Channel)
	require.Equal(t, 5*time.Second, cfg.Snapshot.Timeout)
	require.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Live.ICEServers)
	require.False(t, cfg.Player.PrimeSnapshot)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_DASHBOARD_DIR", "/var/lib/shots")

	path := writeFile(t, "dashboard.yaml", `
listen: ":9000"
log:
  level: debug
  format: json
camera:
  channel: main
snapshot:
  dir: ${TEST_DASHBOARD_DIR}
  port: 8000
  timeout: 10s
ffmpeg:
  bin: /usr/local/bin/ffmpeg
  width: 1280
  height: 720
live:
  fps: 15
  refresh: 2s
  ice_servers: []
player:
  bin: /usr/bin/vlc
  grace: 3s
  prime_snapshot: true
`)

	cfg, err := Load(path, filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, Log{Level: "debug", Format: "json"}, cfg.Log)
	require.Equal(t, "101", cfg.Camera.Channel)
	require.Equal(t, "/var/lib/shots", cfg.Snapshot.Dir)
	require.Equal(t, 8000, cfg.Snapshot.Port)
	require.Equal(t, 10*time.Second, cfg.Snapshot.Timeout)
	require.Equal(t, "/usr/local/bin/ffmpeg", cfg.FFmpeg.Bin)
	require.Equal(t, 1280, cfg.FFmpeg.Width)
	require.Equal(t, 720, cfg.FFmpeg.Height)
	// untouched keys keep defaults
	require.Equal(t, 10*time.Second, cfg.FFmpeg.Timeout)
	require.Equal(t, 15, cfg.Live.FPS)
	require.Equal(t, 2*time.Second, cfg.Live.Refresh)
	require.Empty(t, cfg.Live.ICEServers)
	require.Equal(t, "/usr/bin/vlc", cfg.Player.Bin)
	require.Equal(t, 3*time.Second, cfg.Player.Grace)
	require.Equal(t, 300, cfg.Player.NetworkCaching)
	require.True(t, cfg.Player.PrimeSnapshot)
}

func TestLoadEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "DASHBOARD_LISTEN=:7000\nDASHBOARD_SNAPSHOT_PORT=8000\n")
	// godotenv.Load sets process variables
	t.Cleanup(func() {
		_ = os.Unsetenv("DASHBOARD_LISTEN")
		_ = os.Unsetenv("DASHBOARD_SNAPSHOT_PORT")
	})
	t.Setenv("DASHBOARD_FFMPEG", "/opt/ffmpeg")
	t.Setenv("DASHBOARD_SCREENSHOT_DIR", "/tmp/shots")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Listen)
	require.Equal(t, 8000, cfg.Snapshot.Port)
	require.Equal(t, "/opt/ffmpeg", cfg.FFmpeg.Bin)
	require.Equal(t, "/opt/ffmpeg", cfg.Live.Bin)
	require.Equal(t, "/tmp/shots", cfg.Snapshot.Dir)
}

func TestLoadErrors(t *testing.T) {
	noEnv := filepath.Join(t.TempDir(), ".env")

	_, err := Load(writeFile(t, "bad.yaml", "listen: [unterminated"), noEnv)
	require.Error(t, err)

	_, err = Load(writeFile(t, "channel.yaml", "camera:\n  channel: \"103\"\n"), noEnv)
	require.ErrorContains(t, err, "unknown channel")

	t.Setenv("DASHBOARD_SNAPSHOT_PORT", "eighty")
	_, err = Load("", noEnv)
	require.ErrorContains(t, err, "SNAPSHOT_PORT")
}
