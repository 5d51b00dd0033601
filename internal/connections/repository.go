// Package connections stores the external provider accounts whose webinars
// are synchronized.
package connections

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/sync-engine/internal/models"
)

// Repository handles connection persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a connections repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a connection.
func (r *Repository) Create(ctx context.Context, c *models.Connection) error {
	const q = `INSERT INTO connections (id, account_id, credential_ref)
		VALUES (gen_random_uuid(), $1, $2)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, c.AccountID, c.CredentialRef).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// GetByID returns a connection by id, or nil if absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	const q = `SELECT id, account_id, credential_ref, created_at, updated_at FROM connections WHERE id = $1`
	var c models.Connection
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.AccountID, &c.CredentialRef, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns all connections.
func (r *Repository) List(ctx context.Context) ([]models.Connection, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_id, credential_ref, created_at, updated_at FROM connections ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Connection
	for rows.Next() {
		var c models.Connection
		if err := rows.Scan(&c.ID, &c.AccountID, &c.CredentialRef, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
