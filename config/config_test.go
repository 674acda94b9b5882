package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "duplexrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15*time.Second, cfg.RPC.ResponseTimeout)
	assert.Equal(t, 5000*time.Millisecond, cfg.Transport.TransmissionTimeout)
	assert.True(t, cfg.Transport.SuppressErrors)
	assert.False(t, cfg.Transport.StopOnError)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
listen:
  port: 9000
dial:
  host: peer.local
  port: 9001
  local_port: -1
rpc:
  response_timeout: 2s
  codec: cbor
  rate_limit: 50
  rate_burst: 10
transport:
  stop_on_error: true
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Listen.Port)
	assert.Equal(t, "peer.local", cfg.Dial.Host)
	assert.Equal(t, -1, cfg.Dial.LocalPort)
	assert.Equal(t, 2*time.Second, cfg.RPC.ResponseTimeout)
	assert.Equal(t, "cbor", cfg.RPC.Codec)
	assert.Equal(t, 50.0, cfg.RPC.RateLimit)
	assert.True(t, cfg.Transport.StopOnError)
	assert.Equal(t, "debug", cfg.Log.Level)

	// untouched keys keep their defaults
	assert.True(t, cfg.Transport.SuppressErrors)
	assert.Equal(t, 5*time.Second, cfg.Transport.TransmissionTimeout)

	opts := cfg.TransportOptions()
	assert.True(t, opts.StopOnError)
	assert.Equal(t, cfg.Transport.MaxPayload, opts.MaxPayload)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"codec":       "rpc:\n  codec: xml\n",
		"timeout":     "rpc:\n  response_timeout: 0s\n",
		"local port":  "dial:\n  local_port: -2\n",
		"burst":       "rpc:\n  rate_limit: 5\n",
		"max payload": "transport:\n  max_payload: 0\n",
		"syntax":      "rpc: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
