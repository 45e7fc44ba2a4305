package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STOREFRONT_SESSION_SECRET", "s3cret")
	t.Setenv("STOREFRONT_MONGO_DATABASE", "shop")

	cfg, err := loadConfig(true)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, "shop", cfg.Mongo.Database)
	assert.Equal(t, "checkout-outbox", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.MergeKeyTTL)
	assert.Equal(t, 720*time.Hour, cfg.Guest.MaxAge)
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxRequestBodySize)
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
addr: 127.0.0.1:9000
session:
  secret: from-file
cache:
  ttl: 5m
`), 0o600))

	cfg, err := loadConfig(true)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, "from-file", cfg.Session.Secret)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoadConfig_RequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STOREFRONT_SESSION_SECRET", "")

	_, err := loadConfig(true)
	require.ErrorContains(t, err, "session secret is required")
}
