// Package reconciler merges fetched webinar, participant, and registrant
// records into the store. All writes are idempotent upserts keyed by natural
// key; computed aggregate columns are written only by the explicit recompute
// step, never from fetched payloads.
package reconciler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/aura-webinar/sync-engine/internal/models"
	"github.com/aura-webinar/sync-engine/internal/upstream"
)

// DB is the subset of pgxpool.Pool the reconciler issues queries through.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Reconciler persists fetched records.
type Reconciler struct {
	pool      DB
	batchSize int
	logger    *zap.Logger
}

// New creates a reconciler. batchSize bounds how many child records are
// written per database round trip.
func New(pool DB, batchSize int, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{pool: pool, batchSize: batchSize, logger: logger}
}

// UpsertOutcome reports what an upsert did.
type UpsertOutcome struct {
	ID       uuid.UUID
	Inserted bool
}

// BatchResult summarizes a child-record sync.
type BatchResult struct {
	Written  int
	Failed   int
	Failures []string
}

// upsertWebinarSQL merges fetched descriptive fields onto an existing row.
// The aggregate columns (total_registrants, total_attendees, total_minutes,
// avg_attendance_duration) are deliberately absent from the update list so a
// sparse re-fetch can never reset previously computed values. Sparse fetched
// values fall back to the existing column so a thin payload cannot blank a
// row either.
const upsertWebinarSQL = `
	INSERT INTO webinars (id, connection_id, external_id, topic, status, start_time, duration_minutes, timezone, host_email, join_url, last_synced_at)
	VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	ON CONFLICT (connection_id, external_id) DO UPDATE SET
		topic            = COALESCE(NULLIF(EXCLUDED.topic, ''), webinars.topic),
		status           = EXCLUDED.status,
		start_time       = COALESCE(EXCLUDED.start_time, webinars.start_time),
		duration_minutes = CASE WHEN EXCLUDED.duration_minutes = 0 THEN webinars.duration_minutes ELSE EXCLUDED.duration_minutes END,
		timezone         = COALESCE(NULLIF(EXCLUDED.timezone, ''), webinars.timezone),
		host_email       = COALESCE(NULLIF(EXCLUDED.host_email, ''), webinars.host_email),
		join_url         = COALESCE(NULLIF(EXCLUDED.join_url, ''), webinars.join_url),
		last_synced_at   = NOW(),
		updated_at       = NOW()
	RETURNING id, (xmax = 0) AS inserted`

// UpsertWebinar inserts or merges one webinar. Safe to call twice with
// identical input.
func (r *Reconciler) UpsertWebinar(ctx context.Context, connectionID uuid.UUID, w upstream.WebinarSummary, status models.WebinarStatus) (UpsertOutcome, error) {
	var out UpsertOutcome
	err := r.pool.QueryRow(ctx, upsertWebinarSQL,
		connectionID, w.ExternalID, w.Topic, string(status), w.StartTime,
		w.DurationMinutes, w.Timezone, w.HostEmail, w.JoinURL,
	).Scan(&out.ID, &out.Inserted)
	if err != nil {
		return out, fmt.Errorf("upsert webinar %s: %w", w.ExternalID, err)
	}
	return out, nil
}

// Engagement flags OR-merge on conflict: once a participant has chatted or
// raised a hand in any fetched snapshot of the session, that fact stands.
const upsertParticipantSQL = `
	INSERT INTO participants (id, webinar_id, external_id, name, email, join_time, leave_time, duration_seconds, sent_chat, raised_hand, answered_poll, asked_question)
	VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (webinar_id, external_id, join_time) DO UPDATE SET
		name             = COALESCE(NULLIF(EXCLUDED.name, ''), participants.name),
		email            = COALESCE(NULLIF(EXCLUDED.email, ''), participants.email),
		leave_time       = COALESCE(EXCLUDED.leave_time, participants.leave_time),
		duration_seconds = GREATEST(EXCLUDED.duration_seconds, participants.duration_seconds),
		sent_chat        = participants.sent_chat OR EXCLUDED.sent_chat,
		raised_hand      = participants.raised_hand OR EXCLUDED.raised_hand,
		answered_poll    = participants.answered_poll OR EXCLUDED.answered_poll,
		asked_question   = participants.asked_question OR EXCLUDED.asked_question,
		updated_at       = NOW()`

// SyncParticipants upserts attendance sessions in batches. A failed batch is
// replayed record by record so one malformed record cannot sink its batch-mates.
func (r *Reconciler) SyncParticipants(ctx context.Context, webinarID uuid.UUID, recs []upstream.ParticipantRecord) *BatchResult {
	res := &BatchResult{}

	valid := make([]upstream.ParticipantRecord, 0, len(recs))
	for _, p := range recs {
		if p.JoinTime == nil {
			res.Failed++
			res.Failures = append(res.Failures, fmt.Sprintf("participant %q: no join time", p.Name))
			continue
		}
		if p.ExternalID == "" {
			p.ExternalID = SyntheticParticipantID(p.Name, p.Email, *p.JoinTime)
		}
		valid = append(valid, p)
	}

	for _, chunk := range chunks(valid, r.batchSize) {
		batch := &pgx.Batch{}
		for _, p := range chunk {
			batch.Queue(upsertParticipantSQL, participantArgs(webinarID, p)...)
		}
		if err := r.sendBatch(ctx, batch); err != nil {
			r.logger.Warn("participant batch failed, retrying records individually",
				zap.String("webinar_id", webinarID.String()), zap.Int("batch_size", len(chunk)), zap.Error(err))
			for _, p := range chunk {
				if _, err := r.pool.Exec(ctx, upsertParticipantSQL, participantArgs(webinarID, p)...); err != nil {
					res.Failed++
					res.Failures = append(res.Failures, fmt.Sprintf("participant %s: %v", p.ExternalID, err))
					continue
				}
				res.Written++
			}
			continue
		}
		res.Written += len(chunk)
	}
	return res
}

const upsertRegistrantSQL = `
	INSERT INTO registrants (id, webinar_id, external_id, email, first_name, last_name, status)
	VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
	ON CONFLICT (webinar_id, external_id) DO UPDATE SET
		email      = COALESCE(NULLIF(EXCLUDED.email, ''), registrants.email),
		first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), registrants.first_name),
		last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), registrants.last_name),
		status     = COALESCE(NULLIF(EXCLUDED.status, ''), registrants.status),
		updated_at = NOW()`

// SyncRegistrants upserts registrants in batches with the same per-record
// fallback as SyncParticipants.
func (r *Reconciler) SyncRegistrants(ctx context.Context, webinarID uuid.UUID, recs []upstream.RegistrantRecord) *BatchResult {
	res := &BatchResult{}

	valid := make([]upstream.RegistrantRecord, 0, len(recs))
	for _, g := range recs {
		if g.ExternalID == "" {
			res.Failed++
			res.Failures = append(res.Failures, "registrant with no id or email")
			continue
		}
		valid = append(valid, g)
	}

	for _, chunk := range chunks(valid, r.batchSize) {
		batch := &pgx.Batch{}
		for _, g := range chunk {
			batch.Queue(upsertRegistrantSQL, webinarID, g.ExternalID, g.Email, g.FirstName, g.LastName, g.Status)
		}
		if err := r.sendBatch(ctx, batch); err != nil {
			r.logger.Warn("registrant batch failed, retrying records individually",
				zap.String("webinar_id", webinarID.String()), zap.Error(err))
			for _, g := range chunk {
				if _, err := r.pool.Exec(ctx, upsertRegistrantSQL, webinarID, g.ExternalID, g.Email, g.FirstName, g.LastName, g.Status); err != nil {
					res.Failed++
					res.Failures = append(res.Failures, fmt.Sprintf("registrant %s: %v", g.ExternalID, err))
					continue
				}
				res.Written++
			}
			continue
		}
		res.Written += len(chunk)
	}
	return res
}

// RecomputeAggregates recalculates a webinar's aggregate columns from the
// now-current child rows. This is the only writer of those columns.
func (r *Reconciler) RecomputeAggregates(ctx context.Context, webinarID uuid.UUID) error {
	const q = `
		UPDATE webinars w SET
			total_registrants       = (SELECT COUNT(*) FROM registrants WHERE webinar_id = w.id),
			total_attendees         = (SELECT COUNT(DISTINCT external_id) FROM participants WHERE webinar_id = w.id),
			total_minutes           = (SELECT COALESCE(SUM(duration_seconds), 0) / 60 FROM participants WHERE webinar_id = w.id),
			avg_attendance_duration = (SELECT COALESCE(AVG(duration_seconds), 0) FROM participants WHERE webinar_id = w.id),
			updated_at              = NOW()
		WHERE w.id = $1`
	if _, err := r.pool.Exec(ctx, q, webinarID); err != nil {
		return fmt.Errorf("recompute aggregates for %s: %w", webinarID, err)
	}
	return nil
}

func (r *Reconciler) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func participantArgs(webinarID uuid.UUID, p upstream.ParticipantRecord) []interface{} {
	return []interface{}{
		webinarID, p.ExternalID, p.Name, p.Email, p.JoinTime, p.LeaveTime,
		p.DurationSeconds, p.SentChat, p.RaisedHand, p.AnsweredPoll, p.AskedQuestion,
	}
}

// SyntheticParticipantID builds a deterministic fallback id for attendance
// records the provider returns without one. Identical inputs always yield the
// same id, keeping the upsert idempotent across runs.
func SyntheticParticipantID(name, email string, join time.Time) string {
	h := sha256.Sum256([]byte(name + "|" + email + "|" + join.UTC().Format(time.RFC3339)))
	return "synth-" + hex.EncodeToString(h[:8])
}

func chunks[T any](in []T, size int) [][]T {
	if size <= 0 {
		size = len(in)
	}
	var out [][]T
	for start := 0; start < len(in); start += size {
		end := start + size
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[start:end])
	}
	return out
}
