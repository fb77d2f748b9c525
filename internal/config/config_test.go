package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	n, ok := cfg.MaxTextLength()
	assert.True(t, ok)
	assert.Equal(t, 166, n)
	assert.Equal(t, []string{"*"}, cfg.Origins())
}

func TestFromEnvironOverrides(t *testing.T) {
	cfg := Default()
	err := FromEnviron(&cfg, []string{
		"SERVER_PORT=:8080",
		"ALLOWED_ORIGINS=http://a.test, http://b.test",
		"MAX_WIRE_MESSAGE_SIZE=512",
		"STORE_DRIVER=badger",
		"STORE_PATH=/data/chat",
		"REPLAY_HISTORY=true",
		"UNRELATED=1",
	})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Origins())
	assert.Equal(t, 512, cfg.MaxWireMessageSize)
	assert.Equal(t, DriverBadger, cfg.StoreDriver)
	assert.Equal(t, "/data/chat", cfg.StorePath)
	assert.True(t, cfg.ReplayHistory)

	// Untouched keys keep their defaults.
	assert.Equal(t, 35, cfg.MaxSenderLength)
	assert.Equal(t, "unknown", cfg.AnonymousName)
}

func TestUnrestrictedWireSize(t *testing.T) {
	cfg := Default()
	cfg.MaxWireMessageSize = 0
	require.NoError(t, cfg.Validate())

	_, ok := cfg.MaxTextLength()
	assert.False(t, ok)
	assert.Zero(t, cfg.Codec().MaxWireSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"driver":     func(c *Config) { c.StoreDriver = "sqlite" },
		"port":       func(c *Config) { c.Port = "" },
		"negative":   func(c *Config) { c.MaxWireMessageSize = -1 },
		"sender":     func(c *Config) { c.MaxSenderLength = 0 },
		"log level":  func(c *Config) { c.LogLevel = "loud" },
		"frame size": func(c *Config) { c.MaxFrameSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portalchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
maxWireMessageSize: 300
storePath: /tmp/portal.log
logLevel: DEBUG
`), 0o600))

	t.Chdir(dir)
	t.Setenv("MAX_WIRE_MESSAGE_SIZE", "400")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, 400, cfg.MaxWireMessageSize)
	assert.Equal(t, "/tmp/portal.log", cfg.StorePath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
