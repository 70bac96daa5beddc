package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/containrrr/shoutrrr"

	"github.com/cybersentinel/sentinel/internal/logger"
	"github.com/cybersentinel/sentinel/internal/metrics"
)

// Alert types keyed to their message templates.
const (
	AlertIPBlocked     = "ip_blocked"
	AlertPattern       = "malicious_pattern"
	AlertRateLimit     = "rate_limit_exceeded"
	AlertSuspiciousURL = "suspicious_url"
	AlertFailedLogins  = "failed_login_attempts"
	AlertFileUpload    = "malicious_file_upload"
)

// adminSessionTimeout is how long an idle admin session stays eligible as
// an alert recipient.
const adminSessionTimeout = 8 * time.Hour

type adminSession struct {
	Email        string
	LoginTime    time.Time
	LastActivity time.Time
}

// AlertService dispatches best-effort notifications for WAF verdicts.
// Every alert is appended to the alert log regardless of delivery; actual
// sending happens in a goroutine and failures never reach the request
// path.
type AlertService struct {
	enabled   bool
	urls      []string
	defaultTo string
	logPath   string

	mu       sync.Mutex
	sessions map[string]adminSession
}

// NewAlertService builds the dispatcher. urls are shoutrrr destinations;
// defaultTo is the fallback recipient when no admin session is active.
func NewAlertService(enabled bool, urls []string, defaultTo, dataDir string) *AlertService {
	return &AlertService{
		enabled:   enabled,
		urls:      urls,
		defaultTo: defaultTo,
		logPath:   filepath.Join(dataDir, "logs", "alerts.log"),
		sessions:  make(map[string]adminSession),
	}
}

// RegisterSession records an admin login so alerts can target the most
// recently active operator.
func (s *AlertService) RegisterSession(sessionID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.sessions[sessionID] = adminSession{Email: email, LoginTime: now, LastActivity: now}
}

// TouchSession refreshes a session's activity timestamp.
func (s *AlertService) TouchSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastActivity = time.Now()
		s.sessions[sessionID] = sess
	}
}

// RemoveSession drops a session on logout.
func (s *AlertService) RemoveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// CleanupSessions drops sessions idle past the timeout and returns how
// many were removed.
func (s *AlertService) CleanupSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-adminSessionTimeout)
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Recipient returns the most recently active admin's email, falling back
// to the configured default address.
func (s *AlertService) Recipient() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := ""
	var bestTime time.Time
	for _, sess := range s.sessions {
		if sess.LastActivity.After(bestTime) {
			bestTime = sess.LastActivity
			best = sess.Email
		}
	}
	if best == "" {
		return s.defaultTo
	}
	return best
}

// Dispatch logs the alert and, when alerting is enabled, sends it
// asynchronously. It never blocks on delivery and never returns an error:
// alerting is fire-and-forget by design.
func (s *AlertService) Dispatch(alertType string, fields map[string]interface{}) {
	metrics.AlertsDispatched.WithLabelValues(alertType).Inc()

	status := "skipped"
	if s.enabled {
		status = "sending"
	}
	s.appendLog(alertType, status, fields)

	if !s.enabled {
		return
	}

	subject := s.subject(alertType, fields)
	body := s.message(alertType, fields)

	go func() {
		msg := subject + "\n\n" + body
		for _, url := range s.urls {
			if err := shoutrrr.Send(url, msg); err != nil {
				logger.WithFields(map[string]interface{}{
					"alert_type": alertType,
					"error":      err.Error(),
				}).Error("failed to send alert")
				s.appendLog(alertType, "failed", fields)
				return
			}
		}
		s.appendLog(alertType, "sent", fields)
	}()
}

func (s *AlertService) subject(alertType string, fields map[string]interface{}) string {
	ip := str(fields, "ip")
	switch alertType {
	case AlertIPBlocked:
		return fmt.Sprintf("WAF Alert: IP Blocked - %s", ip)
	case AlertPattern:
		return fmt.Sprintf("WAF Alert: Malicious Pattern Detected - %s", ip)
	case AlertRateLimit:
		return fmt.Sprintf("WAF Alert: Rate Limit Exceeded - %s", ip)
	case AlertSuspiciousURL:
		return fmt.Sprintf("WAF Alert: Suspicious URL Access - %s", ip)
	case AlertFailedLogins:
		return fmt.Sprintf("WAF Alert: Multiple Failed Logins - %s", ip)
	case AlertFileUpload:
		return fmt.Sprintf("WAF Alert: Malicious File Upload Blocked - %s", ip)
	default:
		return fmt.Sprintf("WAF Alert: %s", alertType)
	}
}

func (s *AlertService) message(alertType string, fields map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert Type: %s\n", strings.ToUpper(alertType))
	fmt.Fprintf(&b, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Recipient: %s\n", s.Recipient())

	// Stable field order keeps messages diffable in the alert log.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", fieldLabel(k), fields[k])
	}

	b.WriteString("\nThis is an automated alert from the Sentinel WAF. Please investigate promptly.\n")
	return b.String()
}

func (s *AlertService) appendLog(alertType, status string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"type":      alertType,
		"status":    status,
	}
	for k, v := range fields {
		entry[k] = v
	}

	if err := os.MkdirAll(filepath.Dir(s.logPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')
	_, _ = f.Write(line)
}

// fieldLabel turns a snake_case field key into a readable message label,
// e.g. "user_agent" becomes "User Agent".
func fieldLabel(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func str(fields map[string]interface{}, key string) string {
	if v, ok := fields[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return "unknown"
}
