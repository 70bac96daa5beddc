package waf

import (
	"sync"
	"time"
)

// RateLimiter counts requests per key over a trailing window. Each check
// prunes stale timestamps, appends the current one and compares against
// the ceiling, so cost is O(entries in window) per call. That is fine at
// moderate traffic but degrades under sustained flood from many keys; a
// counting structure would be the next step if that ever matters.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	windows map[string][]time.Time
}

// NewRateLimiter builds a sliding-window limiter with the given window and
// per-window ceiling.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     max,
		windows: make(map[string][]time.Time),
	}
}

// Allow records a request for key at now and reports whether it stays
// within the ceiling. The request that crosses the ceiling is itself
// counted, matching the original middleware's append-then-compare order.
func (r *RateLimiter) Allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	kept := r.windows[key][:0]
	for _, ts := range r.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	r.windows[key] = kept

	return len(kept) <= r.max
}

// Count returns the number of requests currently inside the window for key
// without recording a new one.
func (r *RateLimiter) Count(key string, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	n := 0
	for _, ts := range r.windows[key] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Reset drops the window for key, used when an identity is unblocked.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, key)
}
