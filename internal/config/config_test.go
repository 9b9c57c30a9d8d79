package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  name: tickstream
  version: "1.2.0"
feed:
  endpoint: wss://feed.example.com/stream
  reconnect_min_sec: 2
  reconnect_max_sec: 20
candles:
  interval_sec: 30
  ring_capacity: 5000
server:
  listen_addr: ":9090"
instruments:
  RELIANCE: 408065
  INFY: 1594
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "tickstream", cfg.App.Name)
	assert.Equal(t, "wss://feed.example.com/stream", cfg.Feed.Endpoint)
	assert.Equal(t, 30, cfg.Candles.IntervalSec)
	assert.Equal(t, 5000, cfg.Candles.RingCapacity)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, uint32(408065), cfg.Instruments["RELIANCE"])
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Defaults fill what the file leaves out.
	assert.Equal(t, 15, cfg.Feed.PingPeriodSec)
	assert.Equal(t, 100, cfg.Fanout.QueueSize)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TICKSTREAM_FEED_ENDPOINT", "ws://override.local/feed")
	t.Setenv("TICKSTREAM_LISTEN_ADDR", ":7070")
	t.Setenv("TICKSTREAM_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "ws://override.local/feed", cfg.Feed.Endpoint)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing feed endpoint",
			content: "server:\n  listen_addr: \":8080\"\n",
		},
		{
			name:    "http endpoint rejected",
			content: "feed:\n  endpoint: http://feed.example.com\n",
		},
		{
			name:    "inverted reconnect bounds",
			content: "feed:\n  endpoint: ws://x\n  reconnect_min_sec: 60\n  reconnect_max_sec: 5\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate(), "the built-in default configuration must be valid")
	assert.Equal(t, 60, cfg.Candles.IntervalSec)
}
