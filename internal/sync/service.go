package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/sync-engine/config"
	"github.com/aura-webinar/sync-engine/internal/connections"
	"github.com/aura-webinar/sync-engine/internal/fetcher"
	"github.com/aura-webinar/sync-engine/internal/models"
	"github.com/aura-webinar/sync-engine/internal/reconciler"
	"github.com/aura-webinar/sync-engine/internal/retry"
	"github.com/aura-webinar/sync-engine/internal/status"
	"github.com/aura-webinar/sync-engine/internal/syncrun"
	"github.com/aura-webinar/sync-engine/internal/upstream"
	"github.com/aura-webinar/sync-engine/internal/verify"
	"github.com/aura-webinar/sync-engine/pkg/queue"
	redispkg "github.com/aura-webinar/sync-engine/pkg/redis"
	"github.com/aura-webinar/sync-engine/pkg/storage"
)

// Pipeline stages in execution order. Progress percentages are anchored to
// stage boundaries and only ever move forward.
const (
	StageInitializing = "initializing"
	StageBaseline     = "capturing_baseline"
	StageFetching     = "fetching_webinars"
	StageSyncing      = "syncing_webinars"
	StageRetrying     = "retrying_failures"
	StageVerifying    = "verifying"
	StageFinalizing   = "finalizing"
)

const (
	pctBaseline   = 5
	pctFetchStart = 10
	pctSyncStart  = 25
	pctSyncEnd    = 85
	pctRetrying   = 85
	pctVerifying  = 90
)

var (
	// ErrRunInProgress is returned when the connection already has an active run.
	ErrRunInProgress = errors.New("sync already in progress for connection")
	// ErrUnknownSyncType is returned for an unrecognized sync type.
	ErrUnknownSyncType = errors.New("unknown sync type")
	// ErrConnectionNotFound is returned when the connection does not exist.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrWebinarIDRequired is returned when a targeted sync lacks a webinar id.
	ErrWebinarIDRequired = errors.New("webinar_id required for this sync type")
)

// AttendanceAPI lists attendance reports for a concluded webinar.
// *upstream.Client satisfies it.
type AttendanceAPI interface {
	ListParticipants(ctx context.Context, conn *models.Connection, externalID string, page int) (*upstream.ParticipantPage, error)
	ListRegistrants(ctx context.Context, conn *models.Connection, externalID string, page int) (*upstream.RegistrantPage, error)
}

// Service orchestrates sync runs: baseline, fetch, reconcile, retry, verify.
type Service struct {
	cfg         config.SyncConfig
	connections *connections.Repository
	runs        *syncrun.Repository
	tracker     *syncrun.Tracker
	fetcher     *fetcher.Fetcher
	rec         *reconciler.Reconciler
	verifier    *verify.Verifier
	retries     *retry.Scheduler
	api         AttendanceAPI
	jobs        *queue.Queue    // nil runs in-process
	locks       *redispkg.Client // nil disables the run lock
	archive     *storage.S3     // nil disables report archival
	logger      *zap.Logger
	now         func() time.Time
}

// NewService wires the pipeline components.
func NewService(
	cfg config.SyncConfig,
	conns *connections.Repository,
	runs *syncrun.Repository,
	tracker *syncrun.Tracker,
	f *fetcher.Fetcher,
	rec *reconciler.Reconciler,
	verifier *verify.Verifier,
	retries *retry.Scheduler,
	api AttendanceAPI,
	jobs *queue.Queue,
	locks *redispkg.Client,
	archive *storage.S3,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	return &Service{
		cfg:         cfg,
		connections: conns,
		runs:        runs,
		tracker:     tracker,
		fetcher:     f,
		rec:         rec,
		verifier:    verifier,
		retries:     retries,
		api:         api,
		jobs:        jobs,
		locks:       locks,
		archive:     archive,
		logger:      logger,
		now:         time.Now,
	}
}

// Start validates the request, clears stale runs, creates the run row and
// dispatches execution (queued for cmd/worker, or in-process otherwise).
// Returns the created run immediately; execution is always asynchronous.
func (s *Service) Start(ctx context.Context, connectionID uuid.UUID, syncType models.SyncType, webinarID string) (*models.SyncRun, error) {
	if !syncType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSyncType, syncType)
	}
	if (syncType == models.SyncTypeSingle || syncType == models.SyncTypeParticipantsOnly) && webinarID == "" {
		return nil, ErrWebinarIDRequired
	}

	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return nil, ErrConnectionNotFound
	}

	active, err := s.runs.ActiveRun(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("check active run: %w", err)
	}
	if active != nil {
		staleAfter := time.Duration(s.cfg.StaleRunMin) * time.Minute
		if !syncrun.Stale(active, staleAfter, s.now()) {
			return nil, ErrRunInProgress
		}
		s.logger.Warn("clearing stale run",
			zap.String("run_id", active.ID.String()),
			zap.Time("last_heartbeat", active.UpdatedAt))
		if err := s.runs.ForceClear(ctx, active.ID); err != nil {
			return nil, fmt.Errorf("clear stale run: %w", err)
		}
	}

	run, err := s.runs.Create(ctx, connectionID, syncType)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if s.jobs != nil && s.cfg.UseQueue {
		err := s.jobs.EnqueueSyncRun(ctx, queue.SyncRunPayload{
			RunID:        run.ID,
			ConnectionID: connectionID,
			SyncType:     string(syncType),
			WebinarID:    webinarID,
		})
		if err != nil {
			return nil, fmt.Errorf("enqueue run: %w", err)
		}
		return run, nil
	}

	go func() {
		// Detached from the request context so the run outlives the HTTP call.
		runCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.OverallTimeoutMin)*time.Minute)
		defer cancel()
		s.Execute(runCtx, run.ID, webinarID)
	}()
	return run, nil
}

// Execute runs the full pipeline for an already-created run. Safe to call from
// a worker process; every exit path finishes the run with a terminal status.
func (s *Service) Execute(ctx context.Context, runID uuid.UUID, webinarID string) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil || run == nil {
		s.logger.Error("load run for execution", zap.String("run_id", runID.String()), zap.Error(err))
		return
	}
	if run.SyncStatus.Terminal() {
		s.logger.Warn("run already terminal, skipping", zap.String("run_id", runID.String()))
		return
	}

	conn, err := s.connections.GetByID(ctx, run.ConnectionID)
	if err != nil || conn == nil {
		s.finish(ctx, run, models.SyncFailed, []models.SyncIssue{{
			Severity: "critical", Type: "internal_error", Message: "connection not found for run",
		}}, nil, nil)
		return
	}

	if s.locks != nil {
		key := "sync:lock:" + conn.ID.String()
		ok, lockErr := s.locks.AcquireLock(ctx, key, run.ID.String(), time.Duration(s.cfg.OverallTimeoutMin)*time.Minute)
		if lockErr != nil {
			s.logger.Warn("run lock check failed, proceeding without lock", zap.Error(lockErr))
		} else if !ok {
			s.finish(ctx, run, models.SyncFailed, []models.SyncIssue{{
				Severity: "critical", Type: "concurrent_run", Message: "another sync holds the connection lock",
			}}, nil, nil)
			return
		} else {
			defer func() {
				if err := s.locks.ReleaseLock(context.Background(), key, run.ID.String()); err != nil {
					s.logger.Warn("release run lock", zap.Error(err))
				}
			}()
		}
	}

	stopHeartbeat := s.tracker.StartHeartbeat(ctx, run.ID)
	defer stopHeartbeat()

	s.execute(ctx, run, conn, webinarID)
}

// issueLog accumulates issues from concurrent webinar units.
type issueLog struct {
	mu     sync.Mutex
	issues []models.SyncIssue
}

func (l *issueLog) add(severity, typ, entityID, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issues = append(l.issues, models.SyncIssue{Severity: severity, Type: typ, EntityID: entityID, Message: msg})
}

func (l *issueLog) all() []models.SyncIssue {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.SyncIssue, len(l.issues))
	copy(out, l.issues)
	return out
}

func (s *Service) execute(ctx context.Context, run *models.SyncRun, conn *models.Connection, webinarID string) {
	log := s.logger.With(
		zap.String("run_id", run.ID.String()),
		zap.String("connection_id", conn.ID.String()),
		zap.String("sync_type", string(run.SyncType)))
	log.Info("sync run starting")

	issues := &issueLog{}
	stepTimeout := time.Duration(s.cfg.StepTimeoutSec) * time.Second

	// Baseline capture. A failed pre-baseline is recorded but does not stop
	// the run; verification degrades gracefully without it.
	s.tracker.SetStage(ctx, run.ID, nil, StageBaseline, pctBaseline)
	baseCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	pre, err := s.verifier.CaptureBaseline(baseCtx, conn.ID, run.ID, "pre")
	cancel()
	if err != nil {
		log.Warn("pre-run baseline capture failed", zap.Error(err))
		issues.add("warning", "verification_error", "", fmt.Sprintf("pre-run baseline: %v", err))
		pre = nil
	}

	// Fetch.
	s.tracker.SetStage(ctx, run.ID, nil, StageFetching, pctFetchStart)
	fetchCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	result, err := s.fetcher.Fetch(fetchCtx, conn, run.SyncType, webinarID, s.now())
	cancel()
	if err != nil {
		issues.add("critical", "fetch_error", webinarID, err.Error())
		s.finish(ctx, run, models.SyncFailed, issues.all(), result, pre)
		return
	}
	for _, pf := range result.PartialFailures {
		issues.add("warning", "fetch_error", "", pf)
	}
	log.Info("fetch complete",
		zap.Int("webinars", len(result.Webinars)),
		zap.Int("duplicates_removed", result.DuplicatesRemoved),
		zap.Int("partial_failures", len(result.PartialFailures)))

	// Reconcile, bounded parallel.
	total := len(result.Webinars)
	if err := s.runs.SetTotals(ctx, run.ID, 0, total); err != nil {
		log.Warn("set run totals", zap.Error(err))
	}
	s.tracker.SetStage(ctx, run.ID, nil, StageSyncing, pctSyncStart)

	var (
		wg        sync.WaitGroup
		processed int
		failed    int
		failedIDs = make(map[string]struct{})
		mu        sync.Mutex
	)
	parallelism := s.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)
	attendanceOnly := run.SyncType == models.SyncTypeParticipantsOnly

	for i := range result.Webinars {
		w := result.Webinars[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			unitCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.WebinarTimeoutSec)*time.Second)
			err := s.syncWebinar(unitCtx, conn, w, attendanceOnly, issues)
			cancel()

			mu.Lock()
			processed++
			done := processed
			if err != nil {
				failed++
				failedIDs[w.ExternalID] = struct{}{}
				issues.add("warning", "sync_error", w.ExternalID, err.Error())
			}
			mu.Unlock()

			if err != nil {
				stored, _ := s.rec.GetWebinarByExternalID(ctx, conn.ID, w.ExternalID)
				class, scheduled := s.retries.ScheduleFailure(ctx, stored, conn.ID, w.ExternalID, 0, err)
				log.Warn("webinar sync failed",
					zap.String("external_id", w.ExternalID),
					zap.String("error_class", string(class)),
					zap.Bool("retry_scheduled", scheduled),
					zap.Error(err))
			}

			pct := pctSyncStart
			if total > 0 {
				pct += (pctSyncEnd - pctSyncStart) * done / total
			}
			s.tracker.SetStage(ctx, run.ID, &w.ExternalID, StageSyncing, pct)
			if err := s.runs.SetTotals(ctx, run.ID, done, total); err != nil {
				log.Warn("update run totals", zap.Error(err))
			}
		}()
	}
	wg.Wait()

	// Retry pass over the persisted queue, including entries left by
	// earlier runs. Each due entry gets a fresh attendance re-sync.
	s.tracker.SetStage(ctx, run.ID, nil, StageRetrying, pctRetrying)
	retryRes, err := s.retries.Execute(ctx, conn.ID, func(ctx context.Context, entry models.RetryScheduleEntry) error {
		return s.retryWebinar(ctx, conn, entry.EntityID, issues)
	})
	if err != nil {
		log.Warn("retry pass failed", zap.Error(err))
		issues.add("warning", "retry_error", "", err.Error())
	} else if len(retryRes.Successful)+len(retryRes.Failed) > 0 {
		log.Info("retry pass complete",
			zap.Int("successful", len(retryRes.Successful)),
			zap.Int("failed", len(retryRes.Failed)),
			zap.Int("deferred", len(retryRes.Deferred)))
		for _, id := range retryRes.Failed {
			issues.add("critical", "retry_exhausted", id, "retry budget exhausted")
		}
		// Successes here are usually residue from earlier runs; only the ones
		// matching a failure from this run reduce this run's failure count.
		failed -= recoveredCount(failedIDs, retryRes.Successful)
	}

	// Verify. Never fails the run by itself; issues feed the integrity score.
	s.tracker.SetStage(ctx, run.ID, nil, StageVerifying, pctVerifying)
	verifyCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	vres := s.verifier.Verify(verifyCtx, conn.ID, run.ID, pre)
	cancel()
	for _, iss := range vres.Issues {
		issues.add(iss.Severity, iss.Type, iss.EntityID, iss.Message)
	}

	final := terminalStatus(ctx.Err(), len(result.PartialFailures) > 0, failed, vres.DataLossDetected)
	report := &models.RunReport{
		RunID:             run.ID,
		ConnectionID:      conn.ID,
		SyncType:          run.SyncType,
		Status:            final,
		WebinarsFetched:   result.TotalFetched,
		DuplicatesRemoved: result.DuplicatesRemoved,
		WebinarsSynced:    total - failed,
		WebinarsFailed:    failed,
		IntegrityScore:    vres.IntegrityScore,
		StartedAt:         run.StartedAt,
	}
	s.finishWithReport(ctx, run, final, issues.all(), report)
	log.Info("sync run finished",
		zap.String("status", string(final)),
		zap.Int("synced", total-failed),
		zap.Int("failed", failed),
		zap.Int("integrity_score", vres.IntegrityScore))
}

// syncWebinar is one unit of reconciliation work: upsert the webinar row and,
// once the event has concluded, its attendance and registration children.
func (s *Service) syncWebinar(ctx context.Context, conn *models.Connection, w upstream.WebinarSummary, attendanceOnly bool, issues *issueLog) error {
	for _, warn := range w.Warnings {
		issues.add("info", "field_mapping", w.ExternalID, warn)
	}

	resolved := status.Resolve(w.RawStatus, w.StartTime, w.DurationMinutes, s.now())

	var webinarID uuid.UUID
	if attendanceOnly {
		stored, err := s.rec.GetWebinarByExternalID(ctx, conn.ID, w.ExternalID)
		if err != nil {
			return fmt.Errorf("load webinar %s: %w", w.ExternalID, err)
		}
		if stored == nil {
			return fmt.Errorf("webinar %s not synced yet", w.ExternalID)
		}
		webinarID = stored.ID
	} else {
		outcome, err := s.rec.UpsertWebinar(ctx, conn.ID, w, resolved)
		if err != nil {
			return fmt.Errorf("upsert webinar %s: %w", w.ExternalID, err)
		}
		webinarID = outcome.ID
	}

	stored := &models.Webinar{
		ID: webinarID, ConnectionID: conn.ID, ExternalID: w.ExternalID,
		Status: resolved, StartTime: w.StartTime, DurationMinutes: w.DurationMinutes,
	}
	if !stored.Concluded(s.now()) {
		// Upcoming or live events have no attendance report yet.
		return nil
	}

	return s.syncAttendance(ctx, conn, webinarID, w.ExternalID, issues)
}

// syncAttendance pages through participant and registrant reports and upserts
// them, then recomputes the webinar's aggregate columns.
func (s *Service) syncAttendance(ctx context.Context, conn *models.Connection, webinarID uuid.UUID, externalID string, issues *issueLog) error {
	participants, err := s.listAllParticipants(ctx, conn, externalID)
	if err != nil {
		return fmt.Errorf("list participants for %s: %w", externalID, err)
	}
	pres := s.rec.SyncParticipants(ctx, webinarID, participants)
	for _, f := range pres.Failures {
		issues.add("warning", "record_error", externalID, f)
	}

	registrants, err := s.listAllRegistrants(ctx, conn, externalID)
	if err != nil {
		// Registrant reports are unavailable for some webinar kinds; treat as
		// soft failure so attendance data already written survives.
		issues.add("info", "fetch_error", externalID, fmt.Sprintf("registrants: %v", err))
	} else {
		rres := s.rec.SyncRegistrants(ctx, webinarID, registrants)
		for _, f := range rres.Failures {
			issues.add("warning", "record_error", externalID, f)
		}
	}

	if err := s.rec.RecomputeAggregates(ctx, webinarID); err != nil {
		return fmt.Errorf("recompute aggregates for %s: %w", externalID, err)
	}
	return nil
}

// retryWebinar re-runs the attendance sync for a previously failed webinar.
func (s *Service) retryWebinar(ctx context.Context, conn *models.Connection, externalID string, issues *issueLog) error {
	unitCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.WebinarTimeoutSec)*time.Second)
	defer cancel()

	stored, err := s.rec.GetWebinarByExternalID(unitCtx, conn.ID, externalID)
	if err != nil {
		return fmt.Errorf("load webinar %s: %w", externalID, err)
	}
	if stored == nil {
		return fmt.Errorf("webinar %s no longer present", externalID)
	}
	return s.syncAttendance(unitCtx, conn, stored.ID, externalID, issues)
}

func (s *Service) listAllParticipants(ctx context.Context, conn *models.Connection, externalID string) ([]upstream.ParticipantRecord, error) {
	var all []upstream.ParticipantRecord
	for page := 1; page <= s.cfg.MaxPages; page++ {
		pg, err := s.api.ListParticipants(ctx, conn, externalID, page)
		if err != nil {
			return nil, err
		}
		all = append(all, pg.Participants...)
		if page >= pg.PageCount {
			break
		}
	}
	return all, nil
}

func (s *Service) listAllRegistrants(ctx context.Context, conn *models.Connection, externalID string) ([]upstream.RegistrantRecord, error) {
	var all []upstream.RegistrantRecord
	for page := 1; page <= s.cfg.MaxPages; page++ {
		pg, err := s.api.ListRegistrants(ctx, conn, externalID, page)
		if err != nil {
			return nil, err
		}
		all = append(all, pg.Registrants...)
		if page >= pg.PageCount {
			break
		}
	}
	return all, nil
}

// recoveredCount returns how many retry-pass successes correspond to webinars
// that failed in this run, as opposed to queue residue from earlier runs.
func recoveredCount(failedThisRun map[string]struct{}, successes []string) int {
	n := 0
	for _, id := range successes {
		if _, ok := failedThisRun[id]; ok {
			n++
		}
	}
	return n
}

// terminalStatus maps run outcomes to a terminal status. Deadline expiry wins,
// then fetch partials, then per-webinar failures or data loss.
func terminalStatus(ctxErr error, fetchPartial bool, failedWebinars int, dataLoss bool) models.SyncStatus {
	switch {
	case ctxErr != nil:
		return models.SyncFailed
	case fetchPartial:
		return models.SyncPartial
	case failedWebinars > 0 || dataLoss:
		return models.SyncCompletedWithErrors
	default:
		return models.SyncCompleted
	}
}

func (s *Service) finish(ctx context.Context, run *models.SyncRun, st models.SyncStatus, issues []models.SyncIssue, result *fetcher.Result, _ *models.Baseline) {
	report := &models.RunReport{
		RunID:        run.ID,
		ConnectionID: run.ConnectionID,
		SyncType:     run.SyncType,
		Status:       st,
		StartedAt:    run.StartedAt,
	}
	if result != nil {
		report.WebinarsFetched = result.TotalFetched
		report.DuplicatesRemoved = result.DuplicatesRemoved
	}
	s.finishWithReport(ctx, run, st, issues, report)
}

func (s *Service) finishWithReport(ctx context.Context, run *models.SyncRun, st models.SyncStatus, issues []models.SyncIssue, report *models.RunReport) {
	// Finish must land even when the run context is already dead.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.runs.Finish(finishCtx, run.ID, st, issues); err != nil {
		s.logger.Error("finalize run", zap.String("run_id", run.ID.String()), zap.Error(err))
	}

	report.Issues = issues
	report.CompletedAt = s.now()
	if s.archive != nil {
		if _, err := s.archive.ArchiveReport(finishCtx, report); err != nil {
			s.logger.Warn("archive run report", zap.String("run_id", run.ID.String()), zap.Error(err))
		}
	}
}
