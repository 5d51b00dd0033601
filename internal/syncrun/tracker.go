package syncrun

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunStore is the slice of the repository the tracker needs.
type RunStore interface {
	SetStage(ctx context.Context, runID uuid.UUID, webinarExternalID *string, stage string, percent int) error
	Heartbeat(ctx context.Context, runID uuid.UUID) error
}

// Tracker reports stage/progress and keeps a run's heartbeat alive while work
// is in flight.
type Tracker struct {
	runs     RunStore
	interval time.Duration
	logger   *zap.Logger
}

// NewTracker creates a progress tracker. interval is the heartbeat period.
func NewTracker(runs RunStore, interval time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Tracker{runs: runs, interval: interval, logger: logger}
}

// SetStage records the current stage and progress. Failures are logged, not
// propagated: progress reporting must never fail the work it is reporting on.
func (t *Tracker) SetStage(ctx context.Context, runID uuid.UUID, webinarExternalID *string, stage string, percent int) {
	if err := t.runs.SetStage(ctx, runID, webinarExternalID, stage, percent); err != nil {
		t.logger.Warn("set stage failed",
			zap.String("run_id", runID.String()), zap.String("stage", stage), zap.Error(err))
	}
}

// StartHeartbeat launches the heartbeat ticker for a run and returns a stop
// function. Callers must defer stop() so the ticker is released on every exit
// path; stop is idempotent.
func (t *Tracker) StartHeartbeat(ctx context.Context, runID uuid.UUID) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				// The parent ctx may already carry a deadline under pressure;
				// the heartbeat still uses it so a cancelled run stops touching rows.
				if err := t.runs.Heartbeat(hbCtx, runID); err != nil {
					t.logger.Warn("heartbeat failed", zap.String("run_id", runID.String()), zap.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
