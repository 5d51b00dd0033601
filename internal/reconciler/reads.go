package reconciler

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-webinar/sync-engine/internal/models"
)

const webinarColumns = `id, connection_id, external_id, topic, status, start_time, duration_minutes,
	timezone, host_email, join_url, total_registrants, total_attendees, total_minutes,
	avg_attendance_duration, last_synced_at, created_at, updated_at`

// GetWebinarByExternalID returns a synced webinar by its provider id, or nil.
func (r *Reconciler) GetWebinarByExternalID(ctx context.Context, connectionID uuid.UUID, externalID string) (*models.Webinar, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+webinarColumns+` FROM webinars WHERE connection_id = $1 AND external_id = $2`,
		connectionID, externalID)
	w, err := scanWebinar(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

// ListWebinarsByConnection returns synced webinars with their computed
// aggregates, most recent start first.
func (r *Reconciler) ListWebinarsByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]models.Webinar, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+webinarColumns+` FROM webinars WHERE connection_id = $1 ORDER BY start_time DESC NULLS LAST LIMIT $2`,
		connectionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Webinar
	for rows.Next() {
		w, err := scanWebinar(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *w)
	}
	return list, rows.Err()
}

func scanWebinar(row pgx.Row) (*models.Webinar, error) {
	var w models.Webinar
	var status string
	err := row.Scan(&w.ID, &w.ConnectionID, &w.ExternalID, &w.Topic, &status, &w.StartTime,
		&w.DurationMinutes, &w.Timezone, &w.HostEmail, &w.JoinURL,
		&w.TotalRegistrants, &w.TotalAttendees, &w.TotalMinutes, &w.AvgAttendanceDuration,
		&w.LastSyncedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Status = models.WebinarStatus(status)
	return &w, nil
}
