package config

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SENTINEL_DATA_DIR", t.TempDir())
	t.Setenv("SENTINEL_DB_PATH", t.TempDir()+"/sentinel.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, 5, cfg.FailedLoginThreshold)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSize)
	assert.True(t, cfg.FailOpen)
	assert.False(t, cfg.BypassBlocklist)

	// Development generates an ephemeral key when none is configured.
	assert.Len(t, cfg.EncryptionKey, 32)
}

func TestLoad_EncryptionKey(t *testing.T) {
	t.Setenv("SENTINEL_DATA_DIR", t.TempDir())
	t.Setenv("SENTINEL_DB_PATH", t.TempDir()+"/sentinel.db")

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("SENTINEL_FILE_ENCRYPTION_KEY", hex.EncodeToString(key))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, key, cfg.EncryptionKey)

	t.Setenv("SENTINEL_FILE_ENCRYPTION_KEY", "deadbeef")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("SENTINEL_FILE_ENCRYPTION_KEY", "not-hex")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_ProductionRequiresKey(t *testing.T) {
	t.Setenv("SENTINEL_DATA_DIR", t.TempDir())
	t.Setenv("SENTINEL_DB_PATH", t.TempDir()+"/sentinel.db")
	t.Setenv("SENTINEL_ENV", "production")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ListParsing(t *testing.T) {
	t.Setenv("SENTINEL_DATA_DIR", t.TempDir())
	t.Setenv("SENTINEL_DB_PATH", t.TempDir()+"/sentinel.db")
	t.Setenv("SENTINEL_CLIENT_ORIGINS", "http://a.local:3001, http://b.local:3002 ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.local:3001", "http://b.local:3002"}, cfg.ClientOrigins)
}

func TestDataSubdirectories(t *testing.T) {
	cfg := Config{DataDir: "/srv/sentinel"}
	assert.Equal(t, "/srv/sentinel/uploads", cfg.UploadDir())
	assert.Equal(t, "/srv/sentinel/quarantine", cfg.QuarantineDir())
	assert.Equal(t, "/srv/sentinel/secure", cfg.SecureDir())
}
