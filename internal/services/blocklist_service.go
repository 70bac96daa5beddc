package services

import (
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"

	"github.com/cybersentinel/sentinel/internal/logger"
	"github.com/cybersentinel/sentinel/internal/models"
	"github.com/cybersentinel/sentinel/internal/waf"
)

// ErrBlockedEntryNotFound is returned when an unblock matches nothing.
var ErrBlockedEntryNotFound = errors.New("blocked entry not found")

const blocklistCacheSize = 4096

// BlockOptions tunes a block decision.
type BlockOptions struct {
	// Duration of the block. Ignored when Permanent is set.
	Duration time.Duration
	// Permanent blocks never expire and survive the TTL sweep.
	Permanent bool
	UserAgent string
	// FailedAttempts to add to the entry's counter (defaults to 1).
	FailedAttempts int
}

// BlocklistService is the persistent, TTL-aware store of blocked keys.
// Reads go through a short-lived cache because every request consults the
// blocklist on the hot path; any write invalidates the affected keys.
type BlocklistService struct {
	db            *gorm.DB
	cache         *expirable.LRU[string, bool]
	clientOrigins []string
}

// NewBlocklistService builds the store with the given cache TTL and the
// configured client origins used by the unblock variant sweep.
func NewBlocklistService(db *gorm.DB, cacheTTL time.Duration, clientOrigins []string) *BlocklistService {
	return &BlocklistService{
		db:            db,
		cache:         expirable.NewLRU[string, bool](blocklistCacheSize, nil, cacheTTL),
		clientOrigins: clientOrigins,
	}
}

// IsBlocked reports whether key has an active block.
func (s *BlocklistService) IsBlocked(key string) (bool, error) {
	if blocked, ok := s.cache.Get(key); ok {
		return blocked, nil
	}

	var entry models.BlockedEntry
	err := s.db.Where("key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.cache.Add(key, false)
			return false, nil
		}
		return false, err
	}

	blocked := entry.IsActive(time.Now())
	s.cache.Add(key, blocked)
	return blocked, nil
}

// IsBlockedAny probes every key spelling and reports the first active hit.
func (s *BlocklistService) IsBlockedAny(keys ...string) (bool, error) {
	for _, key := range keys {
		blocked, err := s.IsBlocked(key)
		if err != nil {
			return false, err
		}
		if blocked {
			return true, nil
		}
	}
	return false, nil
}

// Block upserts an entry for key. Repeated blocks refresh the window and
// accumulate the failed-attempt counter.
func (s *BlocklistService) Block(key string, reason models.BlockReason, opts BlockOptions) error {
	now := time.Now()
	attempts := opts.FailedAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var expiresAt *time.Time
	temporary := !opts.Permanent
	if temporary {
		t := now.Add(opts.Duration)
		expiresAt = &t
	}

	var entry models.BlockedEntry
	err := s.db.Where("key = ?", key).First(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = models.BlockedEntry{
			Key:            key,
			Reason:         reason,
			BlockedAt:      now,
			ExpiresAt:      expiresAt,
			Temporary:      temporary,
			FailedAttempts: attempts,
			UserAgent:      opts.UserAgent,
			LastAttempt:    now,
		}
		if err := s.db.Create(&entry).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		entry.Reason = reason
		entry.BlockedAt = now
		entry.ExpiresAt = expiresAt
		entry.Temporary = temporary
		entry.UserAgent = opts.UserAgent
		entry.LastAttempt = now
		entry.FailedAttempts += attempts
		if err := s.db.Save(&entry).Error; err != nil {
			return err
		}
	}

	s.invalidate(key)

	logger.WithFields(map[string]interface{}{
		"key":       key,
		"reason":    reason,
		"temporary": temporary,
		"expires":   expiresAt,
	}).Warn("blocking key")

	return nil
}

// BlockFor is the narrow blocking entry point the firewall engine uses.
func (s *BlocklistService) BlockFor(key string, reason models.BlockReason, d time.Duration, userAgent string) error {
	return s.Block(key, reason, BlockOptions{Duration: d, UserAgent: userAgent})
}

// Unblock removes every block whose key could represent the logical entity
// behind ip, probing the full legacy-format closure. It returns the number
// of entries removed.
func (s *BlocklistService) Unblock(ip string) (int, error) {
	variants := waf.KeyVariants(ip, s.clientOrigins)

	res := s.db.Where("key IN ?", variants).Delete(&models.BlockedEntry{})
	if res.Error != nil {
		return 0, res.Error
	}

	for _, v := range variants {
		s.cache.Remove(v)
	}
	s.invalidate(ip)

	logger.WithFields(map[string]interface{}{
		"ip":      ip,
		"removed": res.RowsAffected,
	}).Info("unblocked key variants")

	return int(res.RowsAffected), nil
}

// Get returns the entry for an exact key.
func (s *BlocklistService) Get(key string) (*models.BlockedEntry, error) {
	var entry models.BlockedEntry
	if err := s.db.Where("key = ?", key).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBlockedEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// ListActive returns active blocks, newest first.
func (s *BlocklistService) ListActive(limit int) ([]models.BlockedEntry, error) {
	var entries []models.BlockedEntry
	q := s.db.Where("temporary = ? OR expires_at > ?", false, time.Now()).Order("blocked_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// PurgeExpired physically deletes temporary entries past their expiry.
// Correctness never depends on this; reads already treat them as inactive.
func (s *BlocklistService) PurgeExpired() (int, error) {
	res := s.db.Where("temporary = ? AND expires_at <= ?", true, time.Now()).Delete(&models.BlockedEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.cache.Purge()
	}
	return int(res.RowsAffected), nil
}

// invalidate drops the key and any cached composite spelling containing it.
func (s *BlocklistService) invalidate(key string) {
	s.cache.Remove(key)
	for _, cached := range s.cache.Keys() {
		if strings.Contains(cached, key) {
			s.cache.Remove(cached)
		}
	}
}
