package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cybersentinel/sentinel/internal/models"
)

var testClientOrigins = []string{"http://localhost:3001", "http://localhost:3002"}

func setupBlocklistTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.BlockedEntry{}))
	return db
}

func newTestBlocklist(t *testing.T) *BlocklistService {
	return NewBlocklistService(setupBlocklistTestDB(t), time.Minute, testClientOrigins)
}

func TestBlocklistService_BlockAndIsBlocked(t *testing.T) {
	svc := newTestBlocklist(t)

	blocked, err := svc.IsBlocked("203.0.113.7")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, svc.Block("203.0.113.7", models.ReasonRateLimit, BlockOptions{Duration: time.Hour}))

	blocked, err = svc.IsBlocked("203.0.113.7")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestBlocklistService_ExpiredBlockIsInactive(t *testing.T) {
	svc := newTestBlocklist(t)

	require.NoError(t, svc.Block("203.0.113.7", models.ReasonRateLimit, BlockOptions{Duration: -time.Minute}))

	blocked, err := svc.IsBlocked("203.0.113.7")
	require.NoError(t, err)
	assert.False(t, blocked, "an entry past its expiry must read as unblocked")
}

func TestBlocklistService_PermanentBlockNeverExpires(t *testing.T) {
	svc := newTestBlocklist(t)

	require.NoError(t, svc.Block("203.0.113.7", models.ReasonManual, BlockOptions{Permanent: true}))

	entry, err := svc.Get("203.0.113.7")
	require.NoError(t, err)
	assert.False(t, entry.Temporary)
	assert.Nil(t, entry.ExpiresAt)
	assert.True(t, entry.IsActive(time.Now().Add(100*365*24*time.Hour)))
}

func TestBlocklistService_RepeatedBlockAccumulatesAttempts(t *testing.T) {
	svc := newTestBlocklist(t)

	require.NoError(t, svc.Block("k", models.ReasonFailedLogin, BlockOptions{Duration: time.Hour, FailedAttempts: 3}))
	require.NoError(t, svc.Block("k", models.ReasonFailedLogin, BlockOptions{Duration: time.Hour, FailedAttempts: 2}))

	entry, err := svc.Get("k")
	require.NoError(t, err)
	assert.Equal(t, 5, entry.FailedAttempts)
}

func TestBlocklistService_UnblockSweepsLegacyFormats(t *testing.T) {
	svc := newTestBlocklist(t)

	// Blocks recorded under different historic spellings of localhost.
	keys := []string{
		"127.0.0.1",
		"::1",
		"CLIENT:127.0.0.1:http://localhost:3001",
		"127.0.0.1:http://localhost:3002", // legacy composite
	}
	for _, k := range keys {
		require.NoError(t, svc.Block(k, models.ReasonMaliciousPattern, BlockOptions{Duration: time.Hour}))
	}

	removed, err := svc.Unblock("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, len(keys), removed)

	for _, k := range keys {
		blocked, err := svc.IsBlocked(k)
		require.NoError(t, err)
		assert.False(t, blocked, "key %q must be gone after the variant sweep", k)
	}
}

func TestBlocklistService_UnblockExternal(t *testing.T) {
	svc := newTestBlocklist(t)

	require.NoError(t, svc.Block("203.0.113.7", models.ReasonManual, BlockOptions{Permanent: true}))

	removed, err := svc.Unblock("203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = svc.Unblock("203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestBlocklistService_IsBlockedAny(t *testing.T) {
	svc := newTestBlocklist(t)

	require.NoError(t, svc.Block("CLIENT:127.0.0.1:http://localhost:3001", models.ReasonRateLimit, BlockOptions{Duration: time.Hour}))

	blocked, err := svc.IsBlockedAny("127.0.0.1", "CLIENT:127.0.0.1:http://localhost:3001")
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = svc.IsBlockedAny("127.0.0.1", "127.0.0.1:http://localhost:3001")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlocklistService_CacheInvalidationOnBlock(t *testing.T) {
	svc := newTestBlocklist(t)

	// Prime the cache with a negative result.
	blocked, err := svc.IsBlocked("203.0.113.7")
	require.NoError(t, err)
	assert.False(t, blocked)

	// Blocking must be visible immediately, not after the cache TTL.
	require.NoError(t, svc.Block("203.0.113.7", models.ReasonManual, BlockOptions{Duration: time.Hour}))
	blocked, err = svc.IsBlocked("203.0.113.7")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestBlocklistService_PurgeExpired(t *testing.T) {
	svc := newTestBlocklist(t)

	require.NoError(t, svc.Block("stale", models.ReasonRateLimit, BlockOptions{Duration: -time.Minute}))
	require.NoError(t, svc.Block("fresh", models.ReasonRateLimit, BlockOptions{Duration: time.Hour}))
	require.NoError(t, svc.Block("forever", models.ReasonManual, BlockOptions{Permanent: true}))

	purged, err := svc.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = svc.Get("stale")
	assert.ErrorIs(t, err, ErrBlockedEntryNotFound)

	_, err = svc.Get("fresh")
	assert.NoError(t, err)
	_, err = svc.Get("forever")
	assert.NoError(t, err)
}
