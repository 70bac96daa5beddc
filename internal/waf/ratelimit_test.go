package waf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_CeilingAndRecovery(t *testing.T) {
	limiter := NewRateLimiter(time.Minute, 3)
	now := time.Now()

	// First three requests pass, the fourth is denied.
	assert.True(t, limiter.Allow("k", now))
	assert.True(t, limiter.Allow("k", now.Add(time.Second)))
	assert.True(t, limiter.Allow("k", now.Add(2*time.Second)))
	assert.False(t, limiter.Allow("k", now.Add(3*time.Second)))

	// Once the early timestamps fall out of the window the key recovers.
	later := now.Add(time.Minute + 5*time.Second)
	assert.True(t, limiter.Allow("k", later))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(time.Minute, 1)
	now := time.Now()

	assert.True(t, limiter.Allow("a", now))
	assert.False(t, limiter.Allow("a", now))
	assert.True(t, limiter.Allow("b", now))
}

func TestRateLimiter_CountAndReset(t *testing.T) {
	limiter := NewRateLimiter(time.Minute, 10)
	now := time.Now()

	limiter.Allow("k", now)
	limiter.Allow("k", now)
	assert.Equal(t, 2, limiter.Count("k", now))

	limiter.Reset("k")
	assert.Equal(t, 0, limiter.Count("k", now))
}
