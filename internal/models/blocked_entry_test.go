package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBlockedEntry_IsActive(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	permanent := BlockedEntry{Temporary: false}
	assert.True(t, permanent.IsActive(now))

	live := BlockedEntry{Temporary: true, ExpiresAt: &future}
	assert.True(t, live.IsActive(now))

	expired := BlockedEntry{Temporary: true, ExpiresAt: &past}
	assert.False(t, expired.IsActive(now))

	// A temporary entry without an expiry is malformed and reads inactive.
	broken := BlockedEntry{Temporary: true}
	assert.False(t, broken.IsActive(now))
}
