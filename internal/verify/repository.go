package verify

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/sync-engine/internal/models"
)

// Repository is the Postgres-backed Snapshotter.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a baseline repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Counts returns entity counts for a connection.
func (r *Repository) Counts(ctx context.Context, connectionID uuid.UUID) (webinars, participants, registrants int, err error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM webinars WHERE connection_id = $1),
		(SELECT COUNT(*) FROM participants p JOIN webinars w ON w.id = p.webinar_id WHERE w.connection_id = $1),
		(SELECT COUNT(*) FROM registrants g JOIN webinars w ON w.id = g.webinar_id WHERE w.connection_id = $1)`
	err = r.pool.QueryRow(ctx, q, connectionID).Scan(&webinars, &participants, &registrants)
	return webinars, participants, registrants, err
}

// FieldPopulationRate returns the fraction of required webinar fields (topic,
// status, start_time) that are populated across a sample of recent rows.
// An empty table reports 1.0: nothing synced yet is not a mapping problem.
func (r *Repository) FieldPopulationRate(ctx context.Context, connectionID uuid.UUID, sample int) (float64, error) {
	if sample <= 0 {
		sample = DefaultSampleSize
	}
	const q = `SELECT COALESCE(AVG(
			((topic IS NOT NULL AND topic <> '')::int
			+ (status IS NOT NULL AND status <> 'unknown')::int
			+ (start_time IS NOT NULL)::int)::float / 3
		), 1.0)
		FROM (
			SELECT topic, status, start_time FROM webinars
			WHERE connection_id = $1 ORDER BY updated_at DESC LIMIT $2
		) sampled`
	var rate float64
	err := r.pool.QueryRow(ctx, q, connectionID, sample).Scan(&rate)
	return rate, err
}

// SaveBaseline persists a snapshot.
func (r *Repository) SaveBaseline(ctx context.Context, b *models.Baseline) error {
	const q = `INSERT INTO baselines (id, connection_id, run_id, phase, webinar_count, participant_count, registrant_count, field_population_rate, captured_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	return r.pool.QueryRow(ctx, q, b.ConnectionID, b.RunID, b.Phase,
		b.WebinarCount, b.ParticipantCount, b.RegistrantCount, b.FieldPopulationRate, b.CapturedAt).
		Scan(&b.ID)
}
