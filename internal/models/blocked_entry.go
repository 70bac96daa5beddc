package models

import (
	"time"
)

// BlockReason classifies why a key was blocked.
type BlockReason string

const (
	ReasonFailedLogin      BlockReason = "failed_login_attempts"
	ReasonRateLimit        BlockReason = "rate_limit_exceeded"
	ReasonMaliciousPattern BlockReason = "malicious_pattern_detected"
	ReasonSuspiciousURL    BlockReason = "suspicious_url_access"
	ReasonMaliciousFile    BlockReason = "malicious_file_upload"
	ReasonManual           BlockReason = "manual"
)

// BlockedEntry is a persistent block record keyed by the resolved blocking
// key: a plain IP for external traffic or "CLIENT:ip:origin" for trusted-IP
// client frontends. A legacy "ip:origin" spelling may still exist in older
// databases and is honoured on lookup.
type BlockedEntry struct {
	ID             uint        `json:"id" gorm:"primaryKey"`
	Key            string      `json:"key" gorm:"uniqueIndex;column:key"`
	Reason         BlockReason `json:"reason"`
	BlockedAt      time.Time   `json:"blocked_at"`
	ExpiresAt      *time.Time  `json:"expires_at"` // nil means permanent
	Temporary      bool        `json:"temporary"`
	FailedAttempts int         `json:"failed_attempts"`
	UserAgent      string      `json:"user_agent"`
	LastAttempt    time.Time   `json:"last_attempt"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// IsActive reports whether the block is still in force at now. Temporary
// entries whose expiry has passed are logically inactive even before the
// background sweep physically deletes them.
func (b *BlockedEntry) IsActive(now time.Time) bool {
	if !b.Temporary {
		return true
	}
	return b.ExpiresAt != nil && now.Before(*b.ExpiresAt)
}
