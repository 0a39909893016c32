package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "parley.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 60*time.Second, c.IdleTime)
	assert.Equal(t, 30*time.Second, c.PongTime)
	assert.Equal(t, 100*time.Millisecond, c.SendTimeout)
	assert.Equal(t, 64, c.SendQueue)
	assert.NoError(t, c.check())
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
# test config
idle-time = 10s
pong-time = 5s
send-queue = 128
metrics-address = 127.0.0.1:9091
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, c.IdleTime)
	assert.Equal(t, 5*time.Second, c.PongTime)
	assert.Equal(t, 128, c.SendQueue)
	assert.Equal(t, "127.0.0.1:9091", c.MetricsAddress)

	// Untouched keys keep their defaults.
	assert.Equal(t, 100*time.Millisecond, c.SendTimeout)
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "idle-timeout = 10s\n"},
		{"bad duration", "idle-time = banana\n"},
		{"bad integer", "send-queue = many\n"},
		{"zero queue", "send-queue = 0\n"},
		{"negative duration", "pong-time = -5s\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, test.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	assert.Error(t, err)
}
