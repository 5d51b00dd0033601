// Package status derives a canonical lifecycle status for a webinar when the
// upstream status field is missing or unreliable.
package status

import (
	"strings"
	"time"

	"github.com/aura-webinar/sync-engine/internal/models"
)

// Timing buffers around the scheduled window. A webinar often opens slightly
// early and runs long, so the buffers are asymmetric.
const (
	PreStartBuffer = 15 * time.Minute
	PostEndBuffer  = 30 * time.Minute
)

var rawStatusMap = map[string]models.WebinarStatus{
	"scheduled":   models.StatusScheduled,
	"waiting":     models.StatusScheduled,
	"available":   models.StatusScheduled,
	"started":     models.StatusLive,
	"live":        models.StatusLive,
	"in_progress": models.StatusLive,
	"ended":       models.StatusEnded,
	"finished":    models.StatusEnded,
	"completed":   models.StatusEnded,
	"aborted":     models.StatusAborted,
	"cancelled":   models.StatusAborted,
	"deleted":     models.StatusDeleted,
}

// Resolve maps a raw upstream status plus timing onto a canonical status.
// Priority: a present raw status wins; otherwise the scheduled window decides;
// with no start time at all the status is unknown. The literal string
// "undefined" counts as absent, not as a status value.
func Resolve(rawStatus string, startTime *time.Time, durationMinutes int, now time.Time) models.WebinarStatus {
	raw := strings.ToLower(strings.TrimSpace(rawStatus))
	if raw != "" && raw != "undefined" {
		if s, ok := rawStatusMap[raw]; ok {
			return s
		}
		return models.StatusUnknown
	}

	if startTime == nil {
		return models.StatusUnknown
	}

	start := *startTime
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	switch {
	case now.Before(start.Add(-PreStartBuffer)):
		return models.StatusScheduled
	case now.After(end.Add(PostEndBuffer)):
		return models.StatusEnded
	default:
		return models.StatusLive
	}
}
