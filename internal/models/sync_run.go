package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the lifecycle status of a sync run.
type SyncStatus string

const (
	SyncStarted             SyncStatus = "started"
	SyncInProgress          SyncStatus = "in_progress"
	SyncCompleted           SyncStatus = "completed"
	SyncCompletedWithErrors SyncStatus = "completed_with_errors"
	SyncPartial             SyncStatus = "partial"
	SyncFailed              SyncStatus = "failed"
)

// Terminal reports whether the status is final.
func (s SyncStatus) Terminal() bool {
	switch s {
	case SyncCompleted, SyncCompletedWithErrors, SyncPartial, SyncFailed:
		return true
	}
	return false
}

// SyncType selects the fetch strategy for a run.
type SyncType string

const (
	SyncTypeInitial          SyncType = "initial"
	SyncTypeIncremental      SyncType = "incremental"
	SyncTypeSingle           SyncType = "single"
	SyncTypeParticipantsOnly SyncType = "participants_only"
)

// Valid reports whether t is a recognized sync type.
func (t SyncType) Valid() bool {
	switch t {
	case SyncTypeInitial, SyncTypeIncremental, SyncTypeSingle, SyncTypeParticipantsOnly:
		return true
	}
	return false
}

// SyncRun is one execution of the reconciliation pipeline for a connection.
// ProgressPercentage is monotonic non-decreasing within a run and reaches 100
// on every exit path.
type SyncRun struct {
	ID                 uuid.UUID       `json:"id"`
	ConnectionID       uuid.UUID       `json:"connection_id"`
	SyncType           SyncType        `json:"sync_type"`
	SyncStatus         SyncStatus      `json:"sync_status"`
	Stage              string          `json:"stage"`
	CurrentWebinarID   *string         `json:"current_webinar_id,omitempty"`
	ProgressPercentage int             `json:"progress_percentage"`
	ProcessedItems     int             `json:"processed_items"`
	TotalItems         int             `json:"total_items"`
	ErrorDetails       json.RawMessage `json:"error_details,omitempty"`
	StartedAt          time.Time       `json:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// SyncIssue is one human-readable problem recorded against a run.
type SyncIssue struct {
	Severity string `json:"severity"` // critical | warning | info
	Type     string `json:"type"`
	EntityID string `json:"entity_id,omitempty"`
	Message  string `json:"message"`
}

// RunReport is the terminal summary of a run, archived after completion.
type RunReport struct {
	RunID             uuid.UUID   `json:"run_id"`
	ConnectionID      uuid.UUID   `json:"connection_id"`
	SyncType          SyncType    `json:"sync_type"`
	Status            SyncStatus  `json:"status"`
	WebinarsFetched   int         `json:"webinars_fetched"`
	DuplicatesRemoved int         `json:"duplicates_removed"`
	WebinarsSynced    int         `json:"webinars_synced"`
	WebinarsFailed    int         `json:"webinars_failed"`
	IntegrityScore    int         `json:"integrity_score"`
	Issues            []SyncIssue `json:"issues,omitempty"`
	StartedAt         time.Time   `json:"started_at"`
	CompletedAt       time.Time   `json:"completed_at"`
}
