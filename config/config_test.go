package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8000, cfg.RegistryPort)
	assert.Equal(t, 8000, cfg.RoomBasePort)
	assert.Equal(t, 1<<19, cfg.ChunkSize)
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 2, cfg.Channels)
	assert.Equal(t, 64, cfg.QueueDepth)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"host: 0.0.0.0\nregistry_port: 9000\nchunk_size: 1024\nlog_level: info\n",
	), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.RegistryPort)
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.Equal(t, "info", cfg.LogLevel)
	// untouched keys keep their defaults
	assert.Equal(t, 44100, cfg.SampleRate)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VOICECHAT_QUEUE_DEPTH", "128")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.QueueDepth)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrParse)
}
