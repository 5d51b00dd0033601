package models

import (
	"time"

	"github.com/google/uuid"
)

// Connection is an external provider account whose webinars we synchronize.
// Credentials are held by an external token service; we only store a reference.
type Connection struct {
	ID            uuid.UUID `json:"id"`
	AccountID     string    `json:"account_id"`
	CredentialRef string    `json:"credential_ref"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
