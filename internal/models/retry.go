package models

import (
	"time"

	"github.com/google/uuid"
)

// ErrorClass categorizes a sync failure for retry decisions.
type ErrorClass string

const (
	ErrClassRateLimit ErrorClass = "rate_limit"
	ErrClassTimeout   ErrorClass = "timeout"
	ErrClassNetwork   ErrorClass = "network"
	ErrClassAuth      ErrorClass = "auth_error"
	ErrClassNotFound  ErrorClass = "not_found"
	ErrClassNoData    ErrorClass = "no_data"
	ErrClassAPI       ErrorClass = "api_error"
)

// Retryable reports whether failures of this class are worth retrying.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrClassRateLimit, ErrClassTimeout, ErrClassNetwork, ErrClassAPI:
		return true
	}
	return false
}

// RetryScheduleEntry is one pending retry for a webinar's attendance sync,
// persisted so it survives the run that created it.
type RetryScheduleEntry struct {
	ID            uuid.UUID  `json:"id"`
	ConnectionID  uuid.UUID  `json:"connection_id"`
	EntityID      string     `json:"entity_id"` // webinar external id
	AttemptNumber int        `json:"attempt_number"`
	ErrorClass    ErrorClass `json:"error_class"`
	ScheduledFor  time.Time  `json:"scheduled_for"`
	OriginalError string     `json:"original_error"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
