package mqttbridge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreDefaults(t *testing.T) {
	s, err := NewStore(openDB(t))
	require.NoError(t, err)

	cfg, err := s.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "plen/commands", cfg.commandTopic())
	assert.Equal(t, "plen/responses", cfg.responseTopic())
}

func TestStoreKeepsConfig(t *testing.T) {
	db := openDB(t)
	s, err := NewStore(db)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Broker = "tcp://bridge.local:1883"
	cfg.TopicRoot = "lab/plen"
	cfg.ResponseTimeout = 1500
	require.NoError(t, s.SetConfig(cfg))

	// Reopening must not overwrite the stored config with defaults.
	s, err = NewStore(db)
	require.NoError(t, err)
	got, err := s.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"default", func(c *Config) {}, ""},
		{"empty broker", func(c *Config) { c.Broker = "" }, "broker cannot be empty"},
		{"empty topic root", func(c *Config) { c.TopicRoot = "" }, "invalid topic root"},
		{"wildcard topic root", func(c *Config) { c.TopicRoot = "plen/#" }, "invalid topic root"},
		{"zero timeout", func(c *Config) { c.ResponseTimeout = 0 }, "invalid response timeout"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestSetConfigRejectsInvalid(t *testing.T) {
	s, err := NewStore(openDB(t))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Broker = ""
	assert.Error(t, s.SetConfig(cfg))

	got, err := s.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), got)
}
