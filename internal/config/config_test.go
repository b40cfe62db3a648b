package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerDefaults(t *testing.T) {
	cfg, err := LoadServer("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServer(), cfg)
	assert.Empty(t, cfg.Storage.Dir)
}

func TestParseServerOverridesDefaults(t *testing.T) {
	cfg, err := ParseServer([]byte(`
server:
  listen_addr: ":9000"
  api_key: secret
  shutdown_timeout: 3s
  protocol:
    chunk_size: 1024
storage:
  dir: /var/lib/placenote
log:
  level: debug
  format: json
`))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 1024, cfg.Server.Protocol.ChunkSize)
	assert.Equal(t, DefaultServer().Server.MaxClients, cfg.Server.MaxClients)
	assert.Equal(t, "/var/lib/placenote", cfg.Storage.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestUnknownLogFormatRejected(t *testing.T) {
	_, err := ParseServer([]byte("log:\n  format: xml\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseServerRejectsInvalid(t *testing.T) {
	_, err := ParseServer([]byte("server:\n  max_clients: 0\n"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = ParseServer([]byte("server: ["))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadClient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sdk:
  api_key: k1
cloud:
  url: ws://maps.example.com/ws
  request_timeout: 30s
engine:
  frame_buffer: 2
  tracking:
    match_distance: 1.5
tick: 5ms
`), 0o600))

	cfg, err := LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "k1", cfg.APIKey())
	assert.Equal(t, "ws://maps.example.com/ws", cfg.Cloud.URL)
	assert.Equal(t, 30*time.Second, cfg.Cloud.RequestTimeout)
	assert.Equal(t, 2, cfg.Engine.FrameBuffer)
	assert.InDelta(t, 1.5, cfg.Engine.Tracking.MatchDistance, 1e-9)
	assert.Equal(t, DefaultClient().Engine.Tracking.KeyframeDistance, cfg.Engine.Tracking.KeyframeDistance)
	assert.Equal(t, "maps", cfg.SDK.MapPath)
	assert.Equal(t, 5*time.Millisecond, cfg.Tick)
}

func TestClientValidate(t *testing.T) {
	cfg := DefaultClient()
	require.NoError(t, cfg.Validate())

	cfg.Cloud.URL = ""
	cfg.Tick = 0
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "url")
	assert.Contains(t, err.Error(), "tick")

	cfg = DefaultClient()
	cfg.Cloud.APIKey = "cloud-key"
	assert.Equal(t, "cloud-key", cfg.APIKey())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadClient(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
