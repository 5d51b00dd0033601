// Package syncrun persists sync run rows and tracks their stage, progress,
// and heartbeat for observability and crash resumability.
package syncrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/sync-engine/internal/models"
)

const runColumns = `id, connection_id, sync_type, sync_status, stage, current_webinar_id,
	progress_percentage, processed_items, total_items, error_details,
	started_at, completed_at, created_at, updated_at`

// Repository handles sync_runs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sync run repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new run in the started state.
func (r *Repository) Create(ctx context.Context, connectionID uuid.UUID, syncType models.SyncType) (*models.SyncRun, error) {
	const q = `INSERT INTO sync_runs (id, connection_id, sync_type, sync_status, stage, started_at)
		VALUES (gen_random_uuid(), $1, $2, 'started', 'queued', NOW())
		RETURNING ` + runColumns
	row := r.pool.QueryRow(ctx, q, connectionID, string(syncType))
	return scanRun(row)
}

// GetByID returns a run by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListByConnection returns the most recent runs for a connection.
func (r *Repository) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE connection_id = $1 ORDER BY started_at DESC LIMIT $2`,
		connectionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *run)
	}
	return list, rows.Err()
}

// ActiveRun returns the non-terminal run for a connection, if any.
func (r *Repository) ActiveRun(ctx context.Context, connectionID uuid.UUID) (*models.SyncRun, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM sync_runs
		 WHERE connection_id = $1 AND sync_status IN ('started', 'in_progress')
		 ORDER BY started_at DESC LIMIT 1`, connectionID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// SetStage updates stage, current webinar, and progress. Progress is clamped
// with GREATEST so it can never go backwards within a run, and to 99 so only
// Finish reaches 100.
func (r *Repository) SetStage(ctx context.Context, runID uuid.UUID, webinarExternalID *string, stage string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 99 {
		percent = 99
	}
	const q = `UPDATE sync_runs SET
			sync_status = 'in_progress',
			stage = $2,
			current_webinar_id = $3,
			progress_percentage = GREATEST(progress_percentage, $4),
			updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, runID, stage, webinarExternalID, percent)
	return err
}

// SetTotals updates the processed/total item counters.
func (r *Repository) SetTotals(ctx context.Context, runID uuid.UUID, processed, total int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sync_runs SET processed_items = $2, total_items = $3, updated_at = NOW() WHERE id = $1`,
		runID, processed, total)
	return err
}

// Heartbeat touches only updated_at, so an external staleness check does not
// mistake a long but healthy run for a stuck one.
func (r *Repository) Heartbeat(ctx context.Context, runID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE sync_runs SET updated_at = NOW() WHERE id = $1`, runID)
	return err
}

// Finish moves a run to a terminal status at 100% progress. It only fires for
// runs that are not already terminal, so a run reaches its terminal status
// exactly once.
func (r *Repository) Finish(ctx context.Context, runID uuid.UUID, status models.SyncStatus, issues []models.SyncIssue) error {
	if !status.Terminal() {
		return fmt.Errorf("finish with non-terminal status %q", status)
	}
	var details []byte
	if len(issues) > 0 {
		b, err := json.Marshal(issues)
		if err != nil {
			return fmt.Errorf("marshal issues: %w", err)
		}
		details = b
	}
	const q = `UPDATE sync_runs SET
			sync_status = $2,
			stage = 'finished',
			current_webinar_id = NULL,
			progress_percentage = 100,
			error_details = $3,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND sync_status IN ('started', 'in_progress')`
	_, err := r.pool.Exec(ctx, q, runID, string(status), details)
	return err
}

// ForceClear marks a stale run failed so a fresh run can start.
func (r *Repository) ForceClear(ctx context.Context, runID uuid.UUID) error {
	issues := []models.SyncIssue{{
		Severity: "critical",
		Type:     "stale_run",
		Message:  "run had no heartbeat within the staleness threshold and was force-cleared",
	}}
	return r.Finish(ctx, runID, models.SyncFailed, issues)
}

func scanRun(row pgx.Row) (*models.SyncRun, error) {
	var run models.SyncRun
	var syncType, syncStatus string
	var details []byte
	err := row.Scan(&run.ID, &run.ConnectionID, &syncType, &syncStatus, &run.Stage,
		&run.CurrentWebinarID, &run.ProgressPercentage, &run.ProcessedItems, &run.TotalItems,
		&details, &run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.SyncType = models.SyncType(syncType)
	run.SyncStatus = models.SyncStatus(syncStatus)
	if len(details) > 0 {
		run.ErrorDetails = json.RawMessage(details)
	}
	return &run, nil
}

// Stale reports whether a run's heartbeat is older than the threshold.
func Stale(run *models.SyncRun, threshold time.Duration, now time.Time) bool {
	if run == nil || run.SyncStatus.Terminal() {
		return false
	}
	return now.Sub(run.UpdatedAt) > threshold
}
