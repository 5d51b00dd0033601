package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	syncsvc "github.com/aura-webinar/sync-engine/internal/sync"
	"github.com/aura-webinar/sync-engine/pkg/queue"
)

// JobQueue is the slice of pkg/queue the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// SyncProcessor consumes sync run jobs from the queue and executes them.
type SyncProcessor struct {
	svc     *syncsvc.Service
	queue   JobQueue
	timeout time.Duration // per-run ceiling
	logger  *zap.Logger
}

// NewSyncProcessor creates a sync run processor.
func NewSyncProcessor(svc *syncsvc.Service, q JobQueue, timeout time.Duration, logger *zap.Logger) *SyncProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 40 * time.Minute
	}
	return &SyncProcessor{svc: svc, queue: q, timeout: timeout, logger: logger}
}

// Process executes one sync run job.
func (p *SyncProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSyncRun {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SyncRunPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	p.logger.Info("processing sync run",
		zap.String("run_id", payload.RunID.String()),
		zap.String("connection_id", payload.ConnectionID.String()),
		zap.String("sync_type", payload.SyncType))

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Execute never returns an error; it records all outcomes on the run row.
	p.svc.Execute(runCtx, payload.RunID, payload.WebinarID)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *SyncProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("sync worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			// Dequeue surfaces the cancellation itself; backing off on it
			// would hold shutdown hostage for the whole backoff window.
			if ctx.Err() != nil {
				p.logger.Info("sync worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
