package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aura-webinar/sync-engine/internal/models"
)

func TestResolve_RawStatusMapping(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		raw  string
		want models.WebinarStatus
	}{
		{"scheduled", models.StatusScheduled},
		{"waiting", models.StatusScheduled},
		{"available", models.StatusScheduled},
		{"started", models.StatusLive},
		{"live", models.StatusLive},
		{"in_progress", models.StatusLive},
		{"ended", models.StatusEnded},
		{"finished", models.StatusEnded},
		{"completed", models.StatusEnded},
		{"aborted", models.StatusAborted},
		{"cancelled", models.StatusAborted},
		{"deleted", models.StatusDeleted},
		{"STARTED", models.StatusLive},
		{"  ended  ", models.StatusEnded},
		{"something_else", models.StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := Resolve(tt.raw, nil, 0, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_TimingDerivation(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	const duration = 60

	tests := []struct {
		name string
		now  time.Time
		want models.WebinarStatus
	}{
		{"20min before start", start.Add(-20 * time.Minute), models.StatusScheduled},
		{"just inside pre-start buffer", start.Add(-10 * time.Minute), models.StatusLive},
		{"30min after start", start.Add(30 * time.Minute), models.StatusLive},
		{"just after end, inside buffer", start.Add(75 * time.Minute), models.StatusLive},
		{"120min after start", start.Add(120 * time.Minute), models.StatusEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve("", &start, duration, tt.now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_UndefinedLiteralFallsThrough(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(120 * time.Minute)

	// "undefined" is what a buggy upstream serializer emits for a missing
	// field; it must be treated as absent, not as a status value.
	got := Resolve("undefined", &start, 60, now)
	assert.Equal(t, models.StatusEnded, got)
}

func TestResolve_NoStartTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, models.StatusUnknown, Resolve("", nil, 60, now))
	assert.Equal(t, models.StatusUnknown, Resolve("undefined", nil, 0, now))
}
