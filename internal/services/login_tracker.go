package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/cybersentinel/sentinel/internal/logger"
	"github.com/cybersentinel/sentinel/internal/metrics"
	"github.com/cybersentinel/sentinel/internal/models"
	"github.com/cybersentinel/sentinel/internal/waf"
)

// LoginTracker counts failed logins per tracking key over a sliding
// window and escalates to a block when the threshold is crossed.
//
// Tracking and blocking use different key spellings on purpose: failures
// are counted per ip+origin so two tenants behind one proxy do not share
// a counter, while the resulting block lands on the canonical blocking
// key so the firewall's usual lookup finds it.
type LoginTracker struct {
	window    time.Duration
	threshold int
	blockFor  time.Duration

	blocklist *BlocklistService
	events    *EventService
	alerts    *AlertService

	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewLoginTracker wires the tracker to its stores.
func NewLoginTracker(window time.Duration, threshold int, blockFor time.Duration, blocklist *BlocklistService, events *EventService, alerts *AlertService) *LoginTracker {
	return &LoginTracker{
		window:    window,
		threshold: threshold,
		blockFor:  blockFor,
		blocklist: blocklist,
		events:    events,
		alerts:    alerts,
		failures:  make(map[string][]time.Time),
	}
}

// RecordFailure notes one failed login for the account hinted at by
// email. It returns true when this failure crossed the threshold and the
// blocking key is now blocked.
//
// Admin-classified requests are logged but never counted: an operator
// mistyping a password must not lock the admin surface out.
func (t *LoginTracker) RecordFailure(req *waf.RequestContext, class waf.TrustClass, email string) bool {
	addr := req.Addr()
	trackingKey := waf.TrackingKey(addr, req.Origin, class)

	if class == waf.TrustAdmin {
		logger.WithFields(map[string]interface{}{
			"ip":     addr,
			"origin": req.Origin,
		}).Info("failed admin login (not counted)")
		return false
	}

	count := t.addFailure(trackingKey, time.Now())
	metrics.FailedLogins.Inc()

	t.events.Record(&models.SecurityEvent{
		IP:            addr,
		EventType:     models.EventFailedLogin,
		Severity:      models.SeverityMedium,
		Description:   fmt.Sprintf("Failed login attempt %d of %d for %s", count, t.threshold, email),
		UserAgent:     req.UserAgent,
		RequestURL:    req.URL,
		RequestMethod: req.Method,
		Origin:        req.Origin,
		Blocked:       false,
		TrackingKey:   trackingKey,
	})

	if count < t.threshold {
		logger.WithFields(map[string]interface{}{
			"key":       trackingKey,
			"attempts":  count,
			"threshold": t.threshold,
		}).Warn("failed login recorded")

		t.alerts.Dispatch(AlertFailedLogins, map[string]interface{}{
			"ip":         addr,
			"email":      email,
			"origin":     req.Origin,
			"attempts":   count,
			"user_agent": req.UserAgent,
		})
		return false
	}

	blockingKey := waf.BlockingKey(addr, req.Origin, class)
	err := t.blocklist.Block(blockingKey, models.ReasonFailedLogin, BlockOptions{
		Duration:       t.blockFor,
		UserAgent:      req.UserAgent,
		FailedAttempts: count,
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"key":   blockingKey,
			"error": err.Error(),
		}).Error("failed to block after login failures")
		return false
	}

	t.events.Record(&models.SecurityEvent{
		IP:            addr,
		EventType:     models.EventBlockedRequest,
		Severity:      models.SeverityHigh,
		Description:   fmt.Sprintf("Blocked after %d failed logins in %s", count, t.window),
		UserAgent:     req.UserAgent,
		RequestURL:    req.URL,
		RequestMethod: req.Method,
		Origin:        req.Origin,
		Blocked:       true,
		BlockingKey:   blockingKey,
		TrackingKey:   trackingKey,
	})

	t.alerts.Dispatch(AlertIPBlocked, map[string]interface{}{
		"ip":          addr,
		"reason":      string(models.ReasonFailedLogin),
		"origin":      req.Origin,
		"attempts":    count,
		"window":      t.window.String(),
		"blocked_for": t.blockFor.String(),
		"user_agent":  req.UserAgent,
	})

	t.clear(trackingKey)
	return true
}

// RecordSuccess clears the failure counter for the tracking key. A
// successful login proves the client is not brute forcing.
func (t *LoginTracker) RecordSuccess(req *waf.RequestContext, class waf.TrustClass) {
	trackingKey := waf.TrackingKey(req.Addr(), req.Origin, class)
	t.clear(trackingKey)
}

// Failures returns the current in-window failure count for a tracking key.
func (t *LoginTracker) Failures(trackingKey string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prune(trackingKey, time.Now()))
}

func (t *LoginTracker) addFailure(key string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := append(t.prune(key, now), now)
	t.failures[key] = kept
	return len(kept)
}

func (t *LoginTracker) clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, key)
}

// prune drops timestamps outside the window. Caller holds the lock.
func (t *LoginTracker) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-t.window)
	kept := t.failures[key][:0]
	for _, ts := range t.failures[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(t.failures, key)
		return nil
	}
	t.failures[key] = kept
	return kept
}
