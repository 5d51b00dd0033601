package models

import (
	"time"

	"github.com/google/uuid"
)

// Registrant is a person registered for a webinar, whether or not they attended.
// Natural key: (webinar_id, external_id).
type Registrant struct {
	ID         uuid.UUID `json:"id"`
	WebinarID  uuid.UUID `json:"webinar_id"`
	ExternalID string    `json:"external_id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
