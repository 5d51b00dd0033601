package models

import (
	"time"

	"github.com/google/uuid"
)

// WebinarStatus is the canonical lifecycle status of a webinar.
type WebinarStatus string

const (
	StatusScheduled WebinarStatus = "scheduled"
	StatusLive      WebinarStatus = "live"
	StatusEnded     WebinarStatus = "ended"
	StatusAborted   WebinarStatus = "aborted"
	StatusDeleted   WebinarStatus = "deleted"
	StatusUnknown   WebinarStatus = "unknown"
)

// Webinar is a synchronized webinar row. External ID is the provider's id,
// unique per connection. The Total*/Avg* columns are computed from child rows
// by the reconciler's recompute step and are never written from fetched payloads.
type Webinar struct {
	ID              uuid.UUID     `json:"id"`
	ConnectionID    uuid.UUID     `json:"connection_id"`
	ExternalID      string        `json:"external_id"`
	Topic           string        `json:"topic"`
	Status          WebinarStatus `json:"status"`
	StartTime       *time.Time    `json:"start_time,omitempty"`
	DurationMinutes int           `json:"duration_minutes"`
	Timezone        string        `json:"timezone,omitempty"`
	HostEmail       string        `json:"host_email,omitempty"`
	JoinURL         string        `json:"join_url,omitempty"`

	TotalRegistrants      int     `json:"total_registrants"`
	TotalAttendees        int     `json:"total_attendees"`
	TotalMinutes          int     `json:"total_minutes"`
	AvgAttendanceDuration float64 `json:"avg_attendance_duration"`

	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Concluded reports whether the webinar's real-world event is over,
// i.e. attendance data can meaningfully be fetched.
func (w *Webinar) Concluded(now time.Time) bool {
	switch w.Status {
	case StatusEnded, StatusAborted, StatusDeleted:
		return true
	}
	if w.StartTime == nil {
		return false
	}
	end := w.StartTime.Add(time.Duration(w.DurationMinutes) * time.Minute)
	return now.After(end)
}
