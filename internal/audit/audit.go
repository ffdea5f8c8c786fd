// Package audit provides an append-only event log written by every
// governance component. The recorder is a dependency, not a decision-maker.
package audit

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
)

// Recorder receives governance audit events.
type Recorder interface {
	Record(event models.AuditEvent) error
	Query(filter QueryFilter) ([]models.AuditEvent, error)
	Close() error
}

// QueryFilter selects audit events.
type QueryFilter struct {
	Action        string
	SubjectUserID string
	StartTime     *time.Time
	EndTime       *time.Time
	Success       *bool
	Limit         int
}

// NewEventID returns a time-ordered event id.
func NewEventID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

// MemoryRecorder keeps events in memory. Used in tests and as the degraded
// fallback when persistent audit storage is unavailable.
type MemoryRecorder struct {
	mu     sync.RWMutex
	events []models.AuditEvent
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends an event.
func (m *MemoryRecorder) Record(event models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Query returns events matching the filter, newest first.
func (m *MemoryRecorder) Query(filter QueryFilter) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.AuditEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.SubjectUserID != "" && e.SubjectUserID != filter.SubjectUserID {
			continue
		}
		if filter.StartTime != nil && e.Timestamp.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && e.Timestamp.After(*filter.EndTime) {
			continue
		}
		if filter.Success != nil && e.Success != *filter.Success {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory recorder.
func (m *MemoryRecorder) Close() error { return nil }
