// Package verify detects data loss across a sync run by comparing entity-count
// and field-population snapshots taken before and after the run.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/sync-engine/internal/models"
)

// Integrity score penalties per issue severity.
const (
	penaltyCritical = 20
	penaltyWarning  = 10
	penaltyInfo     = 5
	penaltyDataLoss = 50
)

// DefaultSampleSize bounds the field-population sample.
const DefaultSampleSize = 100

// Snapshotter reads snapshot inputs from the store and persists baselines.
type Snapshotter interface {
	Counts(ctx context.Context, connectionID uuid.UUID) (webinars, participants, registrants int, err error)
	FieldPopulationRate(ctx context.Context, connectionID uuid.UUID, sample int) (float64, error)
	SaveBaseline(ctx context.Context, b *models.Baseline) error
}

// Result is the outcome of post-run verification.
type Result struct {
	Issues           []models.SyncIssue
	DataLossDetected bool
	IntegrityScore   int
	Post             *models.Baseline
}

// Verifier captures and compares baselines.
type Verifier struct {
	store      Snapshotter
	sampleSize int
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a verifier.
func New(store Snapshotter, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{store: store, sampleSize: DefaultSampleSize, logger: logger, now: time.Now}
}

// CaptureBaseline snapshots counts and field population for a connection.
func (v *Verifier) CaptureBaseline(ctx context.Context, connectionID, runID uuid.UUID, phase string) (*models.Baseline, error) {
	w, p, r, err := v.store.Counts(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("baseline counts: %w", err)
	}
	rate, err := v.store.FieldPopulationRate(ctx, connectionID, v.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("baseline field population: %w", err)
	}

	b := &models.Baseline{
		ConnectionID:        connectionID,
		RunID:               runID,
		Phase:               phase,
		WebinarCount:        w,
		ParticipantCount:    p,
		RegistrantCount:     r,
		FieldPopulationRate: rate,
		CapturedAt:          v.now().UTC(),
	}
	if err := v.store.SaveBaseline(ctx, b); err != nil {
		// The snapshot is still usable for comparison even if persisting it failed.
		v.logger.Warn("persist baseline failed", zap.String("phase", phase), zap.Error(err))
	}
	return b, nil
}

// Verify captures a post-run baseline and compares it with the pre-run one.
// It never fails in a way that blocks run completion: an internal error is
// converted into a verification_error issue on the result.
func (v *Verifier) Verify(ctx context.Context, connectionID, runID uuid.UUID, pre *models.Baseline) *Result {
	res := &Result{}

	if pre == nil {
		res.Issues = append(res.Issues, models.SyncIssue{
			Severity: "info",
			Type:     "verification_skipped",
			Message:  "no pre-run baseline captured, loss detection skipped",
		})
		res.IntegrityScore = Score(res.Issues, false)
		return res
	}

	post, err := v.CaptureBaseline(ctx, connectionID, runID, "post")
	if err != nil {
		res.Issues = append(res.Issues, models.SyncIssue{
			Severity: "warning",
			Type:     "verification_error",
			Message:  fmt.Sprintf("post-run baseline capture failed: %v", err),
		})
		res.IntegrityScore = Score(res.Issues, false)
		return res
	}
	res.Post = post

	res.Issues = append(res.Issues, compareCounts("webinar", pre.WebinarCount, post.WebinarCount, &res.DataLossDetected)...)
	res.Issues = append(res.Issues, compareCounts("participant", pre.ParticipantCount, post.ParticipantCount, &res.DataLossDetected)...)
	res.Issues = append(res.Issues, compareCounts("registrant", pre.RegistrantCount, post.RegistrantCount, &res.DataLossDetected)...)

	if post.FieldPopulationRate < 0.5 {
		res.Issues = append(res.Issues, models.SyncIssue{
			Severity: "warning",
			Type:     "field_mapping",
			Message: fmt.Sprintf("required fields populated on only %.0f%% of sampled rows",
				post.FieldPopulationRate*100),
		})
	}

	res.IntegrityScore = Score(res.Issues, res.DataLossDetected)
	if res.DataLossDetected {
		v.logger.Error("data loss detected across sync run",
			zap.String("connection_id", connectionID.String()),
			zap.Int("integrity_score", res.IntegrityScore))
	}
	return res
}

func compareCounts(entity string, pre, post int, lossFlag *bool) []models.SyncIssue {
	if post >= pre {
		return nil
	}
	*lossFlag = true
	return []models.SyncIssue{{
		Severity: "critical",
		Type:     "data_loss",
		Message:  fmt.Sprintf("%s count dropped from %d to %d during sync", entity, pre, post),
	}}
}

// Score computes the 0-100 integrity score for an issue list.
func Score(issues []models.SyncIssue, dataLoss bool) int {
	score := 100
	for _, issue := range issues {
		switch issue.Severity {
		case "critical":
			score -= penaltyCritical
		case "warning":
			score -= penaltyWarning
		default:
			score -= penaltyInfo
		}
	}
	if dataLoss {
		score -= penaltyDataLoss
	}
	if score < 0 {
		score = 0
	}
	return score
}
