package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aura-webinar/sync-engine/pkg/queue"
)

// blockingQueue mimics BLPop: it blocks until the context dies, then returns
// the cancellation error the way pkg/queue does.
type blockingQueue struct{}

func (blockingQueue) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	<-ctx.Done()
	return nil, "", ctx.Err()
}

func (blockingQueue) Retry(context.Context, *queue.Job) error { return nil }

func TestRunStopsPromptlyOnCancel(t *testing.T) {
	p := NewSyncProcessor(nil, blockingQueue{}, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation; it must not back off on a cancelled dequeue")
	}
}

func TestProcessRejectsUnknownJobType(t *testing.T) {
	p := NewSyncProcessor(nil, blockingQueue{}, time.Minute, nil)

	err := p.Process(context.Background(), &queue.Job{ID: "j1", Type: "email"})
	assert.ErrorContains(t, err, "unknown job type")
}
