package reconciler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-webinar/sync-engine/internal/models"
	"github.com/aura-webinar/sync-engine/internal/upstream"
)

func TestSyntheticParticipantID_Deterministic(t *testing.T) {
	join := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := SyntheticParticipantID("Ada Lovelace", "ada@example.com", join)
	b := SyntheticParticipantID("Ada Lovelace", "ada@example.com", join)
	assert.Equal(t, a, b, "same inputs must produce the same id across runs")
	assert.Contains(t, a, "synth-")

	// Any input change produces a different id.
	assert.NotEqual(t, a, SyntheticParticipantID("Ada L.", "ada@example.com", join))
	assert.NotEqual(t, a, SyntheticParticipantID("Ada Lovelace", "other@example.com", join))
	assert.NotEqual(t, a, SyntheticParticipantID("Ada Lovelace", "ada@example.com", join.Add(time.Second)))
}

func TestSyntheticParticipantID_TimezoneInsensitive(t *testing.T) {
	utc := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	offset := utc.In(time.FixedZone("CET", 3600))

	// A rejoin reported in a different zone is still the same session.
	assert.Equal(t,
		SyntheticParticipantID("Ada", "ada@example.com", utc),
		SyntheticParticipantID("Ada", "ada@example.com", offset))
}

func TestChunks(t *testing.T) {
	in := []int{1, 2, 3, 4, 5, 6, 7}

	got := chunks(in, 3)
	assert.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 3}, got[0])
	assert.Equal(t, []int{7}, got[2])

	assert.Len(t, chunks(in, 10), 1)
	assert.Nil(t, chunks([]int{}, 3))

	// non-positive size degrades to a single chunk
	assert.Len(t, chunks(in, 0), 1)
}

func TestUpsertWebinarSQLLeavesAggregatesAlone(t *testing.T) {
	// The update list must never touch the computed aggregate columns; only
	// RecomputeAggregates writes those. A regression here would let a sparse
	// re-fetch zero out counts computed from child rows.
	_, update, ok := strings.Cut(upsertWebinarSQL, "DO UPDATE SET")
	assert.True(t, ok)
	for _, col := range []string{"total_registrants", "total_attendees", "total_minutes", "avg_attendance_duration"} {
		assert.NotContains(t, update, col)
	}

	// Empty fetched strings fall back to the stored value.
	for _, col := range []string{"topic", "timezone", "host_email", "join_url"} {
		assert.Contains(t, update, "COALESCE(NULLIF(EXCLUDED."+col)
	}
}

func TestUpsertWebinarAppliedTwice(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := New(mock, 0, zap.NewNop())

	connID := uuid.New()
	rowID := uuid.New()
	start := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	w := upstream.WebinarSummary{
		ExternalID:      "w-100",
		Topic:           "Quarterly review",
		StartTime:       &start,
		DurationMinutes: 45,
		Timezone:        "UTC",
		HostEmail:       "host@example.com",
		JoinURL:         "https://example.com/j/100",
	}
	args := []interface{}{
		connID, w.ExternalID, w.Topic, string(models.StatusEnded), w.StartTime,
		w.DurationMinutes, w.Timezone, w.HostEmail, w.JoinURL,
	}

	mock.ExpectQuery("INSERT INTO webinars").WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(rowID, true))
	mock.ExpectQuery("INSERT INTO webinars").WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(rowID, false))

	first, err := r.UpsertWebinar(context.Background(), connID, w, models.StatusEnded)
	require.NoError(t, err)
	assert.True(t, first.Inserted)

	// The second identical apply merges onto the same row.
	second, err := r.UpsertWebinar(context.Background(), connID, w, models.StatusEnded)
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, first.ID, second.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputeAggregates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := New(mock, 0, zap.NewNop())

	webinarID := uuid.New()
	mock.ExpectExec("UPDATE webinars").WithArgs(webinarID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, r.RecomputeAggregates(context.Background(), webinarID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
