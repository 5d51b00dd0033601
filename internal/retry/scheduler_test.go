package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/sync-engine/internal/models"
	"github.com/aura-webinar/sync-engine/internal/upstream"
)

type memStore struct {
	entries map[string]models.RetryScheduleEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]models.RetryScheduleEntry)}
}

func (m *memStore) Get(_ context.Context, _ uuid.UUID, entityID string) (*models.RetryScheduleEntry, error) {
	e, ok := m.entries[entityID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memStore) Upsert(_ context.Context, e *models.RetryScheduleEntry) error {
	m.entries[e.EntityID] = *e
	return nil
}

func (m *memStore) Pending(context.Context, uuid.UUID) ([]models.RetryScheduleEntry, error) {
	out := make([]models.RetryScheduleEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, _ uuid.UUID, entityID string) error {
	delete(m.entries, entityID)
	return nil
}

func TestBackoff_Sequence(t *testing.T) {
	cfg := BackoffConfig{BaseDelay: 1000 * time.Millisecond, Multiplier: 2, MaxDelay: 8000 * time.Millisecond}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		8000 * time.Millisecond,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, cfg.Delay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 8000*time.Millisecond, cfg.Delay(30), "stays capped")
	assert.Equal(t, 1000*time.Millisecond, cfg.Delay(-1))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorClass
	}{
		{"429", &upstream.APIError{StatusCode: 429, Message: "too many requests"}, models.ErrClassRateLimit},
		{"504", &upstream.APIError{StatusCode: 504, Message: "gateway timeout"}, models.ErrClassTimeout},
		{"401", &upstream.APIError{StatusCode: 401, Message: "invalid access token"}, models.ErrClassAuth},
		{"404", &upstream.APIError{StatusCode: 404, Message: "webinar not found"}, models.ErrClassNotFound},
		{"500", &upstream.APIError{StatusCode: 500, Message: "internal error"}, models.ErrClassAPI},
		{"deadline", context.DeadlineExceeded, models.ErrClassTimeout},
		{"wrapped deadline", errors.Join(errors.New("fetch"), context.DeadlineExceeded), models.ErrClassTimeout},
		{"conn refused", errors.New("dial tcp: connection refused"), models.ErrClassNetwork},
		{"rate limit text", errors.New("Rate limit exceeded, retry later"), models.ErrClassRateLimit},
		{"no data", errors.New("empty report: no participants"), models.ErrClassNoData},
		{"mystery", errors.New("something odd happened"), models.ErrClassAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryableClasses(t *testing.T) {
	assert.True(t, models.ErrClassRateLimit.Retryable())
	assert.True(t, models.ErrClassTimeout.Retryable())
	assert.True(t, models.ErrClassNetwork.Retryable())
	assert.True(t, models.ErrClassAPI.Retryable())
	assert.False(t, models.ErrClassAuth.Retryable())
	assert.False(t, models.ErrClassNotFound.Retryable())
	assert.False(t, models.ErrClassNoData.Retryable())
}

func concludedWebinar() *models.Webinar {
	start := time.Now().Add(-3 * time.Hour)
	return &models.Webinar{Status: models.StatusEnded, StartTime: &start, DurationMinutes: 60}
}

func liveWebinar() *models.Webinar {
	start := time.Now().Add(-10 * time.Minute)
	return &models.Webinar{Status: models.StatusLive, StartTime: &start, DurationMinutes: 60}
}

func TestEligible(t *testing.T) {
	now := time.Now()

	assert.True(t, Eligible(concludedWebinar(), models.ErrClassTimeout, 0, 5, now))
	assert.False(t, Eligible(concludedWebinar(), models.ErrClassTimeout, 5, 5, now), "budget exhausted")
	assert.False(t, Eligible(concludedWebinar(), models.ErrClassAuth, 0, 5, now), "permanent class")
	assert.False(t, Eligible(liveWebinar(), models.ErrClassTimeout, 0, 5, now), "event still in progress")
	assert.False(t, Eligible(nil, models.ErrClassTimeout, 0, 5, now))
}

func TestScheduleFailure_PersistsEligibleEntry(t *testing.T) {
	store := newMemStore()
	s := New(store, DefaultBackoff(), 5, nil)
	connID := uuid.New()

	class, scheduled := s.ScheduleFailure(context.Background(), concludedWebinar(), connID, "w-1", 0,
		&upstream.APIError{StatusCode: 429, Message: "too many requests"})

	assert.Equal(t, models.ErrClassRateLimit, class)
	assert.True(t, scheduled)
	entry, ok := store.entries["w-1"]
	require.True(t, ok)
	assert.Equal(t, 0, entry.AttemptNumber)
	assert.WithinDuration(t, time.Now().Add(time.Second), entry.ScheduledFor, 200*time.Millisecond)
}

func TestScheduleFailure_AdvancesPersistedBudget(t *testing.T) {
	store := newMemStore()
	s := New(store, DefaultBackoff(), 5, nil)
	connID := uuid.New()
	store.entries["w-1"] = models.RetryScheduleEntry{
		ConnectionID: connID, EntityID: "w-1", AttemptNumber: 2,
		ErrorClass: models.ErrClassRateLimit, ScheduledFor: time.Now().Add(-time.Minute),
	}

	_, scheduled := s.ScheduleFailure(context.Background(), concludedWebinar(), connID, "w-1", 0,
		&upstream.APIError{StatusCode: 429, Message: "too many requests"})

	require.True(t, scheduled)
	entry := store.entries["w-1"]
	assert.Equal(t, 3, entry.AttemptNumber, "a repeated failure consumes budget, never restarts it")
	// attempt 3 => 8s delay
	assert.WithinDuration(t, time.Now().Add(8*time.Second), entry.ScheduledFor, 200*time.Millisecond)
}

func TestScheduleFailure_ExhaustsPersistedBudget(t *testing.T) {
	store := newMemStore()
	s := New(store, DefaultBackoff(), 5, nil)
	connID := uuid.New()
	store.entries["w-1"] = models.RetryScheduleEntry{
		ConnectionID: connID, EntityID: "w-1", AttemptNumber: 4,
		ErrorClass: models.ErrClassRateLimit, ScheduledFor: time.Now().Add(-time.Minute),
	}

	_, scheduled := s.ScheduleFailure(context.Background(), concludedWebinar(), connID, "w-1", 0,
		&upstream.APIError{StatusCode: 429, Message: "too many requests"})

	assert.False(t, scheduled, "attempt 5 of 5 is out of budget")
	assert.Empty(t, store.entries, "exhausted entry leaves the queue")
}

func TestScheduleFailure_PermanentErrorNotScheduled(t *testing.T) {
	store := newMemStore()
	s := New(store, DefaultBackoff(), 5, nil)

	class, scheduled := s.ScheduleFailure(context.Background(), concludedWebinar(), uuid.New(), "w-1", 0,
		&upstream.APIError{StatusCode: 403, Message: "invalid scope"})

	assert.Equal(t, models.ErrClassAuth, class)
	assert.False(t, scheduled)
	assert.Empty(t, store.entries)
}

func TestExecute_DueSuccessRemovesEntry(t *testing.T) {
	store := newMemStore()
	s := New(store, DefaultBackoff(), 5, nil)
	connID := uuid.New()
	store.entries["w-1"] = models.RetryScheduleEntry{
		ConnectionID: connID, EntityID: "w-1", AttemptNumber: 1,
		ErrorClass: models.ErrClassTimeout, ScheduledFor: time.Now().Add(-time.Minute),
	}

	res, err := s.Execute(context.Background(), connID, func(context.Context, models.RetryScheduleEntry) error {
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"w-1"}, res.Successful)
	assert.Empty(t, store.entries)
}

func TestExecute_NotDueIsDeferred(t *testing.T) {
	store := newMemStore()
	s := New(store, DefaultBackoff(), 5, nil)
	connID := uuid.New()
	store.entries["w-1"] = models.RetryScheduleEntry{
		ConnectionID: connID, EntityID: "w-1",
		ScheduledFor: time.Now().Add(time.Hour),
	}

	called := false
	res, err := s.Execute(context.Background(), connID, func(context.Context, models.RetryScheduleEntry) error {
		called = true
		return nil
	})
	require.NoError(t, err)

	assert.False(t, called, "a not-yet-due entry must not execute")
	assert.Equal(t, []string{"w-1"}, res.Deferred)
	assert.Len(t, store.entries, 1)
}

func TestExecute_FailureReschedulesWithBackoff(t *testing.T) {
	store := newMemStore()
	s := New(store, DefaultBackoff(), 5, nil)
	connID := uuid.New()
	store.entries["w-1"] = models.RetryScheduleEntry{
		ConnectionID: connID, EntityID: "w-1", AttemptNumber: 1,
		ScheduledFor: time.Now().Add(-time.Minute),
	}

	res, err := s.Execute(context.Background(), connID, func(context.Context, models.RetryScheduleEntry) error {
		return errors.New("request timed out")
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"w-1"}, res.Deferred)
	entry := store.entries["w-1"]
	assert.Equal(t, 2, entry.AttemptNumber)
	assert.Equal(t, models.ErrClassTimeout, entry.ErrorClass)
	// attempt 2 => 4s delay
	assert.WithinDuration(t, time.Now().Add(4*time.Second), entry.ScheduledFor, 200*time.Millisecond)
}

func TestExecute_ExhaustionRemovesPermanently(t *testing.T) {
	store := newMemStore()
	s := New(store, DefaultBackoff(), 3, nil)
	connID := uuid.New()
	store.entries["w-1"] = models.RetryScheduleEntry{
		ConnectionID: connID, EntityID: "w-1", AttemptNumber: 2,
		ScheduledFor: time.Now().Add(-time.Minute),
	}

	res, err := s.Execute(context.Background(), connID, func(context.Context, models.RetryScheduleEntry) error {
		return errors.New("request timed out")
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"w-1"}, res.Failed)
	assert.Empty(t, store.entries, "exhausted entry leaves the queue for good")
}
