package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callme.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:33500", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.RingTimeout)
	assert.True(t, cfg.Stdio)
	assert.False(t, cfg.Noise)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: "127.0.0.1:40000"
ws_addr: "127.0.0.1:8080"
stdio: false
ring_timeout: 10s
noise: true
log_level: debug
log_format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:40000", cfg.ListenAddr)
	assert.Equal(t, "127.0.0.1:8080", cfg.WSAddr)
	assert.False(t, cfg.Stdio)
	assert.Equal(t, 10*time.Second, cfg.RingTimeout)
	assert.True(t, cfg.Noise)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"zero ring timeout", func(c *Config) { c.RingTimeout = 0 }},
		{"negative ring timeout", func(c *Config) { c.RingTimeout = -time.Second }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, "ring_timeout: -5s\n")
	_, err := Load(path)
	assert.Error(t, err)
}
