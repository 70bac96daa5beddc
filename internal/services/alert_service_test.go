package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertService_RecipientSelection(t *testing.T) {
	svc := NewAlertService(false, nil, "fallback@example.com", t.TempDir())

	// No sessions: configured default wins.
	assert.Equal(t, "fallback@example.com", svc.Recipient())

	svc.RegisterSession("s1", "first@example.com")
	time.Sleep(2 * time.Millisecond)
	svc.RegisterSession("s2", "second@example.com")
	assert.Equal(t, "second@example.com", svc.Recipient())

	// Touching the older session makes it most recent again.
	time.Sleep(2 * time.Millisecond)
	svc.TouchSession("s1")
	assert.Equal(t, "first@example.com", svc.Recipient())
}

func TestAlertService_CleanupSessions(t *testing.T) {
	svc := NewAlertService(false, nil, "fallback@example.com", t.TempDir())

	svc.RegisterSession("stale", "old@example.com")
	svc.mu.Lock()
	sess := svc.sessions["stale"]
	sess.LastActivity = time.Now().Add(-9 * time.Hour)
	svc.sessions["stale"] = sess
	svc.mu.Unlock()

	svc.RegisterSession("live", "new@example.com")

	assert.Equal(t, 1, svc.CleanupSessions())
	assert.Equal(t, "new@example.com", svc.Recipient())
}

func TestAlertService_DispatchAlwaysWritesLog(t *testing.T) {
	dir := t.TempDir()
	svc := NewAlertService(false, nil, "fallback@example.com", dir)

	svc.Dispatch(AlertIPBlocked, map[string]interface{}{"ip": "203.0.113.7"})

	data, err := os.ReadFile(filepath.Join(dir, "logs", "alerts.log"))
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &entry))
	assert.Equal(t, AlertIPBlocked, entry["type"])
	assert.Equal(t, "skipped", entry["status"])
	assert.Equal(t, "203.0.113.7", entry["ip"])
}

func TestAlertService_MessageTemplates(t *testing.T) {
	svc := NewAlertService(true, nil, "ops@example.com", t.TempDir())

	subject := svc.subject(AlertFileUpload, map[string]interface{}{"ip": "203.0.113.7"})
	assert.Contains(t, subject, "Malicious File Upload")
	assert.Contains(t, subject, "203.0.113.7")

	body := svc.message(AlertRateLimit, map[string]interface{}{
		"ip":          "203.0.113.7",
		"blocked_for": "1h0m0s",
	})
	assert.Contains(t, body, "RATE_LIMIT_EXCEEDED")
	assert.Contains(t, body, "ops@example.com")
	assert.Contains(t, body, "Blocked For: 1h0m0s")
}
