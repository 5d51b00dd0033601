package sync

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aura-webinar/sync-engine/config"
	"github.com/aura-webinar/sync-engine/internal/models"
)

func TestTerminalStatus(t *testing.T) {
	tests := []struct {
		name         string
		ctxErr       error
		fetchPartial bool
		failed       int
		dataLoss     bool
		want         models.SyncStatus
	}{
		{name: "clean run", want: models.SyncCompleted},
		{name: "deadline wins over everything", ctxErr: context.DeadlineExceeded, fetchPartial: true, failed: 3, want: models.SyncFailed},
		{name: "fetch partial", fetchPartial: true, want: models.SyncPartial},
		{name: "fetch partial wins over webinar failures", fetchPartial: true, failed: 2, want: models.SyncPartial},
		{name: "webinar failures", failed: 1, want: models.SyncCompletedWithErrors},
		{name: "data loss alone", dataLoss: true, want: models.SyncCompletedWithErrors},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := terminalStatus(tt.ctxErr, tt.fetchPartial, tt.failed, tt.dataLoss)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewServiceDefaultsPageCeiling(t *testing.T) {
	svc := NewService(config.SyncConfig{}, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil)
	assert.Equal(t, 50, svc.cfg.MaxPages, "a zero ceiling would fetch zero report pages")

	svc = NewService(config.SyncConfig{MaxPages: 7}, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil)
	assert.Equal(t, 7, svc.cfg.MaxPages)
}

func TestRecoveredCount(t *testing.T) {
	failedThisRun := map[string]struct{}{"w-1": {}, "w-2": {}}

	assert.Equal(t, 0, recoveredCount(failedThisRun, nil))
	assert.Equal(t, 0, recoveredCount(failedThisRun, []string{"old-1", "old-2"}),
		"residue from earlier runs must not offset this run's failures")
	assert.Equal(t, 1, recoveredCount(failedThisRun, []string{"old-1", "w-2"}))
	assert.Equal(t, 2, recoveredCount(failedThisRun, []string{"w-1", "w-2"}))
	assert.Equal(t, 0, recoveredCount(nil, []string{"w-1"}))
}

func TestIssueLogConcurrentAdd(t *testing.T) {
	log := &issueLog{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.add("warning", "sync_error", "w1", "boom")
		}()
	}
	wg.Wait()

	issues := log.all()
	assert.Len(t, issues, 50)
	for _, iss := range issues {
		assert.Equal(t, "warning", iss.Severity)
		assert.Equal(t, "w1", iss.EntityID)
	}
}

func TestIssueLogAllReturnsCopy(t *testing.T) {
	log := &issueLog{}
	log.add("info", "field_mapping", "w1", "missing topic")

	snapshot := log.all()
	snapshot[0].Message = "mutated"

	assert.Equal(t, "missing topic", log.all()[0].Message)
}
