// Package fetcher retrieves webinar lists from the upstream API. The provider
// cannot return all webinars in one query, so the fetcher issues several
// (category, date-range) queries in parallel, paginates each to exhaustion,
// and deduplicates the union by external id.
package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/sync-engine/internal/models"
	"github.com/aura-webinar/sync-engine/internal/upstream"
)

// API is the slice of the upstream client the fetcher uses.
type API interface {
	ListWebinars(ctx context.Context, conn *models.Connection, category string, from, to time.Time, page int) (*upstream.WebinarPage, error)
	GetWebinar(ctx context.Context, conn *models.Connection, externalID string) (*upstream.WebinarSummary, error)
}

// Config tunes the fetch windows and safety bounds.
type Config struct {
	LookbackDays    int
	LookaheadDays   int
	IncrementalDays int
	MaxPages        int // per-query pagination ceiling, guards malformed page counts
	Excluded        map[string]struct{}
}

// Query is one (category, date-range) list request.
type Query struct {
	Category string
	From     time.Time
	To       time.Time
}

// Result is the deduplicated union of all query strategies.
type Result struct {
	Webinars          []upstream.WebinarSummary
	TotalFetched      int
	DuplicatesRemoved int
	ExcludedSkipped   int
	PartialFailures   []string
}

// Fetcher lists webinars across overlapping query strategies.
type Fetcher struct {
	api    API
	cfg    Config
	logger *zap.Logger
}

// New creates a fetcher.
func New(api API, cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	return &Fetcher{api: api, cfg: cfg, logger: logger}
}

// Plan returns the query strategies for a sync type. Initial syncs use a wide
// window mirroring the analytics horizon; incremental syncs a narrow recent one.
func (f *Fetcher) Plan(syncType models.SyncType, now time.Time) []Query {
	var back, ahead time.Duration
	switch syncType {
	case models.SyncTypeInitial:
		back = time.Duration(f.cfg.LookbackDays) * 24 * time.Hour
		ahead = time.Duration(f.cfg.LookaheadDays) * 24 * time.Hour
	default:
		back = time.Duration(f.cfg.IncrementalDays) * 24 * time.Hour
		ahead = time.Duration(f.cfg.IncrementalDays) * 24 * time.Hour
	}
	return []Query{
		{Category: "past", From: now.Add(-back), To: now},
		{Category: "upcoming", From: now, To: now.Add(ahead)},
	}
}

// Fetch returns a best-effort deduplicated list of webinar summaries. A failed
// query contributes zero results and is recorded as a partial failure; only a
// first-page failure of the first strategy propagates as a hard error, since
// that signals broken credentials or connectivity rather than a flaky slice.
func (f *Fetcher) Fetch(ctx context.Context, conn *models.Connection, syncType models.SyncType, webinarID string, now time.Time) (*Result, error) {
	if syncType == models.SyncTypeSingle || syncType == models.SyncTypeParticipantsOnly {
		return f.fetchSingle(ctx, conn, webinarID)
	}

	queries := f.Plan(syncType, now)

	type queryResult struct {
		items []upstream.WebinarSummary
		err   error
	}
	results := make([]queryResult, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q Query) {
			defer wg.Done()
			items, err := f.fetchQuery(ctx, conn, q)
			results[i] = queryResult{items: items, err: err}
		}(i, q)
	}
	wg.Wait()

	if results[0].err != nil && len(results[0].items) == 0 {
		return nil, fmt.Errorf("fetch %s window: %w", queries[0].Category, results[0].err)
	}

	out := &Result{}
	seen := make(map[string]struct{})
	for i, r := range results {
		if r.err != nil {
			msg := fmt.Sprintf("%s window: %v", queries[i].Category, r.err)
			out.PartialFailures = append(out.PartialFailures, msg)
			f.logger.Warn("query strategy failed, continuing with partial results",
				zap.String("category", queries[i].Category), zap.Error(r.err))
		}
		for _, w := range r.items {
			out.TotalFetched++
			if _, dup := seen[w.ExternalID]; dup {
				out.DuplicatesRemoved++
				continue
			}
			seen[w.ExternalID] = struct{}{}
			if _, skip := f.cfg.Excluded[w.ExternalID]; skip {
				out.ExcludedSkipped++
				continue
			}
			out.Webinars = append(out.Webinars, w)
		}
	}

	f.logger.Info("fetch complete",
		zap.Int("total_fetched", out.TotalFetched),
		zap.Int("duplicates_removed", out.DuplicatesRemoved),
		zap.Int("excluded_skipped", out.ExcludedSkipped),
		zap.Int("final_count", len(out.Webinars)),
		zap.Int("partial_failures", len(out.PartialFailures)))
	return out, nil
}

func (f *Fetcher) fetchSingle(ctx context.Context, conn *models.Connection, externalID string) (*Result, error) {
	if externalID == "" {
		return nil, fmt.Errorf("single sync requires a webinar id")
	}
	if _, skip := f.cfg.Excluded[externalID]; skip {
		return &Result{ExcludedSkipped: 1}, nil
	}
	w, err := f.api.GetWebinar(ctx, conn, externalID)
	if err != nil {
		return nil, fmt.Errorf("fetch webinar %s: %w", externalID, err)
	}
	return &Result{Webinars: []upstream.WebinarSummary{*w}, TotalFetched: 1}, nil
}

// fetchQuery paginates one query. On a mid-pagination failure it returns the
// pages collected so far together with the error.
func (f *Fetcher) fetchQuery(ctx context.Context, conn *models.Connection, q Query) ([]upstream.WebinarSummary, error) {
	var items []upstream.WebinarSummary
	for page := 1; page <= f.cfg.MaxPages; page++ {
		p, err := f.api.ListWebinars(ctx, conn, q.Category, q.From, q.To, page)
		if err != nil {
			return items, fmt.Errorf("page %d: %w", page, err)
		}
		items = append(items, p.Webinars...)
		if p.PageCount == 0 || page >= p.PageCount || len(p.Webinars) == 0 {
			break
		}
		if page == f.cfg.MaxPages {
			f.logger.Warn("page ceiling hit, stopping pagination",
				zap.String("category", q.Category), zap.Int("page_count", p.PageCount))
		}
	}
	return items, nil
}
