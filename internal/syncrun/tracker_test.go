package syncrun

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/aura-webinar/sync-engine/internal/models"
)

type fakeRunStore struct {
	mu         sync.Mutex
	heartbeats int
	stages     []string
	percents   []int
}

func (f *fakeRunStore) SetStage(_ context.Context, _ uuid.UUID, _ *string, stage string, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	f.percents = append(f.percents, percent)
	return nil
}

func (f *fakeRunStore) Heartbeat(_ context.Context, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeRunStore) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats
}

func TestStartHeartbeat_TicksUntilStopped(t *testing.T) {
	store := &fakeRunStore{}
	tracker := NewTracker(store, 10*time.Millisecond, nil)

	stop := tracker.StartHeartbeat(context.Background(), uuid.New())
	time.Sleep(60 * time.Millisecond)
	stop()
	count := store.heartbeatCount()

	assert.Greater(t, count, 1, "ticker should have fired repeatedly")

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, count, store.heartbeatCount(), "no heartbeats after stop")
}

func TestStartHeartbeat_StopIsIdempotent(t *testing.T) {
	store := &fakeRunStore{}
	tracker := NewTracker(store, 10*time.Millisecond, nil)

	stop := tracker.StartHeartbeat(context.Background(), uuid.New())
	stop()
	assert.NotPanics(t, func() { stop(); stop() })
}

func TestStartHeartbeat_StopsWhenParentContextCancelled(t *testing.T) {
	store := &fakeRunStore{}
	tracker := NewTracker(store, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stop := tracker.StartHeartbeat(ctx, uuid.New())
	defer stop()

	cancel()
	time.Sleep(30 * time.Millisecond)
	count := store.heartbeatCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, store.heartbeatCount(), "cancelled context stops the ticker")
}

func TestStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	threshold := 30 * time.Minute

	fresh := &models.SyncRun{SyncStatus: models.SyncInProgress, UpdatedAt: now.Add(-5 * time.Minute)}
	stuck := &models.SyncRun{SyncStatus: models.SyncInProgress, UpdatedAt: now.Add(-45 * time.Minute)}
	finished := &models.SyncRun{SyncStatus: models.SyncCompleted, UpdatedAt: now.Add(-2 * time.Hour)}

	assert.False(t, Stale(fresh, threshold, now))
	assert.True(t, Stale(stuck, threshold, now))
	assert.False(t, Stale(finished, threshold, now), "terminal runs are never stale")
	assert.False(t, Stale(nil, threshold, now))
}
