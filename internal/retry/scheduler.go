package retry

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/sync-engine/internal/models"
)

// BackoffConfig computes retry delays.
type BackoffConfig struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultBackoff yields the sequence 1s, 2s, 4s, 8s, 8s, ...
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 8 * time.Second}
}

// Delay returns min(base * multiplier^attempt, max) for a 0-based attempt.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt)))
	if d > c.MaxDelay || d <= 0 {
		d = c.MaxDelay
	}
	return d
}

// Store persists the retry queue.
type Store interface {
	Get(ctx context.Context, connectionID uuid.UUID, entityID string) (*models.RetryScheduleEntry, error)
	Upsert(ctx context.Context, e *models.RetryScheduleEntry) error
	Pending(ctx context.Context, connectionID uuid.UUID) ([]models.RetryScheduleEntry, error)
	Delete(ctx context.Context, connectionID uuid.UUID, entityID string) error
}

// Scheduler manages the persisted retry queue for a connection.
type Scheduler struct {
	store       Store
	backoff     BackoffConfig
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a scheduler.
func New(store Store, backoff BackoffConfig, maxAttempts int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Scheduler{store: store, backoff: backoff, maxAttempts: maxAttempts, logger: logger, now: time.Now}
}

// MaxAttempts exposes the configured retry budget.
func (s *Scheduler) MaxAttempts() int { return s.maxAttempts }

// ScheduleFailure records a failed entity for later retry if it is eligible.
// Returns the class and whether a retry was scheduled. Permanent failures for
// entities already in the queue are removed from it.
//
// An entity already in the queue has its attempt number advanced, not
// restarted: a repeated failure consumes the persisted budget, so exhaustion
// is reachable for entities that fail run after run.
func (s *Scheduler) ScheduleFailure(ctx context.Context, w *models.Webinar, connectionID uuid.UUID, entityID string, attempt int, cause error) (models.ErrorClass, bool) {
	class := Classify(cause)

	if existing, err := s.store.Get(ctx, connectionID, entityID); err != nil {
		s.logger.Warn("load retry entry", zap.String("entity_id", entityID), zap.Error(err))
	} else if existing != nil && existing.AttemptNumber+1 > attempt {
		attempt = existing.AttemptNumber + 1
	}

	if !Eligible(w, class, attempt, s.maxAttempts, s.now()) {
		if err := s.store.Delete(ctx, connectionID, entityID); err != nil {
			s.logger.Warn("drop ineligible retry entry", zap.String("entity_id", entityID), zap.Error(err))
		}
		return class, false
	}

	entry := &models.RetryScheduleEntry{
		ConnectionID:  connectionID,
		EntityID:      entityID,
		AttemptNumber: attempt,
		ErrorClass:    class,
		ScheduledFor:  s.now().Add(s.backoff.Delay(attempt)),
		OriginalError: cause.Error(),
	}
	if err := s.store.Upsert(ctx, entry); err != nil {
		s.logger.Error("persist retry entry", zap.String("entity_id", entityID), zap.Error(err))
		return class, false
	}
	s.logger.Info("scheduled retry",
		zap.String("entity_id", entityID),
		zap.String("error_class", string(class)),
		zap.Int("attempt", attempt),
		zap.Time("scheduled_for", entry.ScheduledFor))
	return class, true
}

// ExecResult summarizes one execution pass over the queue.
type ExecResult struct {
	Successful []string
	Failed     []string // exhausted, permanently failed
	Deferred   []string // not yet due, or rescheduled for a later pass
}

// RetryFunc re-executes the sync work for one queued entity.
type RetryFunc func(ctx context.Context, entry models.RetryScheduleEntry) error

// Execute runs one pass over the pending queue: due entries are re-executed,
// the rest are deferred. Success removes the entry; failure schedules the next
// attempt or, once the budget is exhausted, removes the entry for good.
func (s *Scheduler) Execute(ctx context.Context, connectionID uuid.UUID, fn RetryFunc) (*ExecResult, error) {
	entries, err := s.store.Pending(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	res := &ExecResult{}
	now := s.now()
	for _, entry := range entries {
		if entry.ScheduledFor.After(now) {
			res.Deferred = append(res.Deferred, entry.EntityID)
			continue
		}

		if err := fn(ctx, entry); err != nil {
			nextAttempt := entry.AttemptNumber + 1
			if nextAttempt >= s.maxAttempts {
				if delErr := s.store.Delete(ctx, connectionID, entry.EntityID); delErr != nil {
					s.logger.Warn("remove exhausted retry entry", zap.String("entity_id", entry.EntityID), zap.Error(delErr))
				}
				s.logger.Warn("retries exhausted, giving up permanently",
					zap.String("entity_id", entry.EntityID), zap.Int("attempts", nextAttempt), zap.Error(err))
				res.Failed = append(res.Failed, entry.EntityID)
				continue
			}
			entry.AttemptNumber = nextAttempt
			entry.ErrorClass = Classify(err)
			entry.ScheduledFor = s.now().Add(s.backoff.Delay(nextAttempt))
			entry.OriginalError = err.Error()
			if upErr := s.store.Upsert(ctx, &entry); upErr != nil {
				s.logger.Error("reschedule retry entry", zap.String("entity_id", entry.EntityID), zap.Error(upErr))
			}
			res.Deferred = append(res.Deferred, entry.EntityID)
			continue
		}

		if err := s.store.Delete(ctx, connectionID, entry.EntityID); err != nil {
			s.logger.Warn("remove completed retry entry", zap.String("entity_id", entry.EntityID), zap.Error(err))
		}
		res.Successful = append(res.Successful, entry.EntityID)
	}
	return res, nil
}
