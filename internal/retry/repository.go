package retry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/sync-engine/internal/models"
)

// Repository is the Postgres-backed retry queue, keyed by
// (connection_id, entity_id) so an entity has at most one pending retry.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a retry schedule repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the pending retry for an entity, or nil when none is queued.
func (r *Repository) Get(ctx context.Context, connectionID uuid.UUID, entityID string) (*models.RetryScheduleEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, connection_id, entity_id, attempt_number, error_class, scheduled_for, original_error, created_at, updated_at
		 FROM retry_schedule WHERE connection_id = $1 AND entity_id = $2`, connectionID, entityID)

	var e models.RetryScheduleEntry
	var class string
	err := row.Scan(&e.ID, &e.ConnectionID, &e.EntityID, &e.AttemptNumber, &class,
		&e.ScheduledFor, &e.OriginalError, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.ErrorClass = models.ErrorClass(class)
	return &e, nil
}

// Upsert inserts or replaces the pending retry for an entity.
func (r *Repository) Upsert(ctx context.Context, e *models.RetryScheduleEntry) error {
	const q = `INSERT INTO retry_schedule (id, connection_id, entity_id, attempt_number, error_class, scheduled_for, original_error)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		ON CONFLICT (connection_id, entity_id) DO UPDATE SET
			attempt_number = EXCLUDED.attempt_number,
			error_class    = EXCLUDED.error_class,
			scheduled_for  = EXCLUDED.scheduled_for,
			original_error = EXCLUDED.original_error,
			updated_at     = NOW()
		RETURNING id`
	return r.pool.QueryRow(ctx, q,
		e.ConnectionID, e.EntityID, e.AttemptNumber, string(e.ErrorClass), e.ScheduledFor, e.OriginalError).
		Scan(&e.ID)
}

// Pending returns all queued retries for a connection, oldest schedule first.
func (r *Repository) Pending(ctx context.Context, connectionID uuid.UUID) ([]models.RetryScheduleEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, connection_id, entity_id, attempt_number, error_class, scheduled_for, original_error, created_at, updated_at
		 FROM retry_schedule WHERE connection_id = $1 ORDER BY scheduled_for`, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.RetryScheduleEntry
	for rows.Next() {
		var e models.RetryScheduleEntry
		var class string
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.EntityID, &e.AttemptNumber, &class,
			&e.ScheduledFor, &e.OriginalError, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.ErrorClass = models.ErrorClass(class)
		list = append(list, e)
	}
	return list, rows.Err()
}

// Delete removes an entity's pending retry.
func (r *Repository) Delete(ctx context.Context, connectionID uuid.UUID, entityID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM retry_schedule WHERE connection_id = $1 AND entity_id = $2`,
		connectionID, entityID)
	return err
}
