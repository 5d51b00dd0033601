package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/sync-engine/internal/models"
)

type fakeSnapshotter struct {
	webinars, participants, registrants int
	rate                                float64
	countsErr                           error
	saved                               []*models.Baseline
}

func (f *fakeSnapshotter) Counts(context.Context, uuid.UUID) (int, int, int, error) {
	if f.countsErr != nil {
		return 0, 0, 0, f.countsErr
	}
	return f.webinars, f.participants, f.registrants, nil
}

func (f *fakeSnapshotter) FieldPopulationRate(context.Context, uuid.UUID, int) (float64, error) {
	return f.rate, nil
}

func (f *fakeSnapshotter) SaveBaseline(_ context.Context, b *models.Baseline) error {
	f.saved = append(f.saved, b)
	return nil
}

func pre(w, p, r int) *models.Baseline {
	return &models.Baseline{WebinarCount: w, ParticipantCount: p, RegistrantCount: r, FieldPopulationRate: 1, Phase: "pre"}
}

func TestVerify_CleanRunScoresFull(t *testing.T) {
	store := &fakeSnapshotter{webinars: 10, participants: 200, registrants: 300, rate: 0.95}
	v := New(store, nil)

	res := v.Verify(context.Background(), uuid.New(), uuid.New(), pre(8, 150, 250))

	assert.False(t, res.DataLossDetected)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 100, res.IntegrityScore)
	require.NotNil(t, res.Post)
	assert.Equal(t, "post", res.Post.Phase)
}

func TestVerify_CountDropIsCriticalDataLoss(t *testing.T) {
	store := &fakeSnapshotter{webinars: 5, participants: 200, registrants: 300, rate: 0.95}
	v := New(store, nil)

	res := v.Verify(context.Background(), uuid.New(), uuid.New(), pre(10, 200, 300))

	assert.True(t, res.DataLossDetected)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "critical", res.Issues[0].Severity)
	assert.Equal(t, "data_loss", res.Issues[0].Type)
	// 100 - 20 (critical) - 50 (data loss)
	assert.Equal(t, 30, res.IntegrityScore)
}

func TestVerify_LowFieldPopulationIsWarning(t *testing.T) {
	store := &fakeSnapshotter{webinars: 10, participants: 0, registrants: 0, rate: 0.3}
	v := New(store, nil)

	res := v.Verify(context.Background(), uuid.New(), uuid.New(), pre(10, 0, 0))

	require.Len(t, res.Issues, 1)
	assert.Equal(t, "field_mapping", res.Issues[0].Type)
	assert.Equal(t, 90, res.IntegrityScore)
}

func TestVerify_InternalFailureNeverBlocksCompletion(t *testing.T) {
	store := &fakeSnapshotter{countsErr: errors.New("connection reset")}
	v := New(store, nil)

	res := v.Verify(context.Background(), uuid.New(), uuid.New(), pre(10, 0, 0))

	require.Len(t, res.Issues, 1)
	assert.Equal(t, "verification_error", res.Issues[0].Type)
	assert.False(t, res.DataLossDetected)
	assert.Equal(t, 90, res.IntegrityScore)
}

func TestScore_Bounds(t *testing.T) {
	assert.Equal(t, 100, Score(nil, false))

	many := make([]models.SyncIssue, 20)
	for i := range many {
		many[i] = models.SyncIssue{Severity: "critical"}
	}
	assert.Equal(t, 0, Score(many, true), "score floors at 0")

	mixed := []models.SyncIssue{
		{Severity: "critical"},
		{Severity: "warning"},
		{Severity: "info"},
	}
	assert.Equal(t, 65, Score(mixed, false))
	assert.Equal(t, 15, Score(mixed, true))
}
