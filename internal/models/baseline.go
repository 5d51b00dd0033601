package models

import (
	"time"

	"github.com/google/uuid"
)

// Baseline is an immutable count/field-completeness snapshot of a connection's
// synced data, captured before and after a run for loss detection.
type Baseline struct {
	ID                  uuid.UUID `json:"id"`
	ConnectionID        uuid.UUID `json:"connection_id"`
	RunID               uuid.UUID `json:"run_id"`
	Phase               string    `json:"phase"` // pre | post
	WebinarCount        int       `json:"webinar_count"`
	ParticipantCount    int       `json:"participant_count"`
	RegistrantCount     int       `json:"registrant_count"`
	FieldPopulationRate float64   `json:"field_population_rate"`
	CapturedAt          time.Time `json:"captured_at"`
}
