package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/cybersentinel/sentinel/internal/logger"
	"github.com/cybersentinel/sentinel/internal/models"
	"github.com/cybersentinel/sentinel/internal/util"
)

// eventRetention is how long audit records are kept before the sweep
// removes them.
const eventRetention = 30 * 24 * time.Hour

// maxPayloadSnapshot bounds the payload excerpt stored with an event.
const maxPayloadSnapshot = 200

// EventService is the append-only audit trail of WAF verdicts.
type EventService struct {
	db *gorm.DB
}

// NewEventService returns an EventService using the provided DB.
func NewEventService(db *gorm.DB) *EventService {
	return &EventService{db: db}
}

// Record appends a security event. Records are never mutated afterwards.
// A failed write is logged and swallowed: losing one audit row must not
// fail the request that produced it.
func (s *EventService) Record(e *models.SecurityEvent) {
	if e == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Payload = util.Truncate(e.Payload, maxPayloadSnapshot)

	if err := s.db.Create(e).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"event_type": e.EventType,
			"ip":         e.IP,
			"error":      err.Error(),
		}).Error("failed to log security event")
		return
	}

	logger.WithFields(map[string]interface{}{
		"event_type": e.EventType,
		"severity":   e.Severity,
		"ip":         e.IP,
		"blocked":    e.Blocked,
		"url":        util.SanitizeForLog(e.RequestURL),
	}).Warn("security event")
}

// ListRecent returns events newest first.
func (s *EventService) ListRecent(limit int) ([]models.SecurityEvent, error) {
	var events []models.SecurityEvent
	q := s.db.Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ListByIP returns events for one address, newest first.
func (s *EventService) ListByIP(ip string, limit int) ([]models.SecurityEvent, error) {
	var events []models.SecurityEvent
	q := s.db.Where("ip = ?", ip).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// SweepExpired deletes events older than the retention window.
func (s *EventService) SweepExpired() (int, error) {
	cutoff := time.Now().Add(-eventRetention)
	res := s.db.Where("created_at < ?", cutoff).Delete(&models.SecurityEvent{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
