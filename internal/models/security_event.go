package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventType labels a security event in the audit trail.
type EventType string

const (
	EventBlockedRequest    EventType = "blocked_request"
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
	EventMaliciousPattern  EventType = "malicious_pattern"
	EventSuspiciousURL     EventType = "suspicious_url"
	EventFailedLogin       EventType = "failed_login"
	EventFileQuarantined   EventType = "file_quarantined"
	EventManualAction      EventType = "manual_action"
)

// Severity grades a security event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is an immutable audit record of a WAF verdict. Rows are
// append-only and expire after the retention window via a background sweep.
type SecurityEvent struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	UUID          string    `json:"uuid" gorm:"uniqueIndex"`
	IP            string    `json:"ip" gorm:"index"`
	EventType     EventType `json:"event_type" gorm:"index"`
	Severity      Severity  `json:"severity"`
	Description   string    `json:"description"`
	UserAgent     string    `json:"user_agent"`
	RequestURL    string    `json:"request_url"`
	RequestMethod string    `json:"request_method"`
	Payload       string    `json:"payload" gorm:"type:text"` // truncated snapshot
	Origin        string    `json:"origin"`
	Blocked       bool      `json:"blocked"`
	BlockingKey   string    `json:"blocking_key"`
	TrackingKey   string    `json:"tracking_key"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
}

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	return
}
