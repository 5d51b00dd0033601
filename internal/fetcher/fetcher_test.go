package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/sync-engine/internal/models"
	"github.com/aura-webinar/sync-engine/internal/upstream"
)

type fakeAPI struct {
	// pages[category] is the paginated result set for that query strategy.
	pages      map[string][][]upstream.WebinarSummary
	failFirst  map[string]bool // category -> fail page 1
	calls      int
	pagesAsked map[string]int
}

func (f *fakeAPI) ListWebinars(_ context.Context, _ *models.Connection, category string, _, _ time.Time, page int) (*upstream.WebinarPage, error) {
	f.calls++
	if f.pagesAsked == nil {
		f.pagesAsked = make(map[string]int)
	}
	if page > f.pagesAsked[category] {
		f.pagesAsked[category] = page
	}
	if f.failFirst[category] && page == 1 {
		return nil, &upstream.APIError{StatusCode: 401, Message: "invalid access token"}
	}
	pages := f.pages[category]
	if page > len(pages) {
		return &upstream.WebinarPage{PageCount: len(pages), PageNumber: page}, nil
	}
	return &upstream.WebinarPage{
		PageCount:  len(pages),
		PageNumber: page,
		Webinars:   pages[page-1],
	}, nil
}

func (f *fakeAPI) GetWebinar(_ context.Context, _ *models.Connection, externalID string) (*upstream.WebinarSummary, error) {
	return &upstream.WebinarSummary{ExternalID: externalID, Topic: "single"}, nil
}

func summaries(ids ...string) []upstream.WebinarSummary {
	out := make([]upstream.WebinarSummary, len(ids))
	for i, id := range ids {
		out[i] = upstream.WebinarSummary{ExternalID: id, Topic: "w" + id}
	}
	return out
}

func testConn() *models.Connection {
	return &models.Connection{AccountID: "acct-1"}
}

func TestFetch_DeduplicatesOverlappingWindows(t *testing.T) {
	// 10 distinct webinars across two windows, 3 ids in both.
	api := &fakeAPI{pages: map[string][][]upstream.WebinarSummary{
		"past":     {summaries("1", "2", "3", "4", "5", "6", "7")},
		"upcoming": {summaries("5", "6", "7", "8", "9", "10")},
	}}
	f := New(api, Config{IncrementalDays: 14}, nil)

	res, err := f.Fetch(context.Background(), testConn(), models.SyncTypeIncremental, "", time.Now())
	require.NoError(t, err)

	assert.Equal(t, 13, res.TotalFetched)
	assert.Equal(t, 3, res.DuplicatesRemoved)
	assert.Len(t, res.Webinars, 10)
	assert.Equal(t, res.TotalFetched-len(res.Webinars), res.DuplicatesRemoved)
	assert.Empty(t, res.PartialFailures)

	seen := make(map[string]int)
	for _, w := range res.Webinars {
		seen[w.ExternalID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %s appears once", id)
	}
}

func TestFetch_PaginatesToExhaustion(t *testing.T) {
	api := &fakeAPI{pages: map[string][][]upstream.WebinarSummary{
		"past":     {summaries("1", "2"), summaries("3", "4"), summaries("5")},
		"upcoming": {},
	}}
	f := New(api, Config{IncrementalDays: 14}, nil)

	res, err := f.Fetch(context.Background(), testConn(), models.SyncTypeIncremental, "", time.Now())
	require.NoError(t, err)
	assert.Len(t, res.Webinars, 5)
	assert.Equal(t, 3, api.pagesAsked["past"])
}

func TestFetch_PageCeilingBoundsMalformedPageCount(t *testing.T) {
	// Server claims 1000 pages but only has content on the first two.
	api := &fakeAPI{pages: map[string][][]upstream.WebinarSummary{}}
	pages := make([][]upstream.WebinarSummary, 0, 2)
	pages = append(pages, summaries("1"), summaries("2"))
	api.pages["past"] = pages
	f := New(&ceilingAPI{inner: api}, Config{IncrementalDays: 14, MaxPages: 5}, nil)

	res, err := f.Fetch(context.Background(), testConn(), models.SyncTypeIncremental, "", time.Now())
	require.NoError(t, err)
	// pagination terminated by the ceiling, not the bogus page count
	assert.LessOrEqual(t, api.pagesAsked["past"], 5)
	assert.Len(t, res.Webinars, 2)
}

// ceilingAPI reports an absurd page count while serving empty pages past the
// real content, then empty pages stop the loop via the zero-items check only
// if the ceiling did not fire first.
type ceilingAPI struct {
	inner *fakeAPI
}

func (c *ceilingAPI) ListWebinars(ctx context.Context, conn *models.Connection, category string, from, to time.Time, page int) (*upstream.WebinarPage, error) {
	p, err := c.inner.ListWebinars(ctx, conn, category, from, to, page)
	if err != nil {
		return nil, err
	}
	p.PageCount = 1000
	return p, nil
}

func (c *ceilingAPI) GetWebinar(ctx context.Context, conn *models.Connection, id string) (*upstream.WebinarSummary, error) {
	return c.inner.GetWebinar(ctx, conn, id)
}

func TestFetch_FirstStrategyFirstPageFailureIsHard(t *testing.T) {
	api := &fakeAPI{
		pages:     map[string][][]upstream.WebinarSummary{"upcoming": {summaries("1")}},
		failFirst: map[string]bool{"past": true},
	}
	f := New(api, Config{IncrementalDays: 14}, nil)

	_, err := f.Fetch(context.Background(), testConn(), models.SyncTypeIncremental, "", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "past window")
}

func TestFetch_SecondStrategyFailureIsPartial(t *testing.T) {
	api := &fakeAPI{
		pages:     map[string][][]upstream.WebinarSummary{"past": {summaries("1", "2")}},
		failFirst: map[string]bool{"upcoming": true},
	}
	f := New(api, Config{IncrementalDays: 14}, nil)

	res, err := f.Fetch(context.Background(), testConn(), models.SyncTypeIncremental, "", time.Now())
	require.NoError(t, err)
	assert.Len(t, res.Webinars, 2)
	require.Len(t, res.PartialFailures, 1)
	assert.Contains(t, res.PartialFailures[0], "upcoming window")
}

func TestFetch_ExclusionListSkipsWebinars(t *testing.T) {
	api := &fakeAPI{pages: map[string][][]upstream.WebinarSummary{
		"past":     {summaries("1", "2", "3")},
		"upcoming": {},
	}}
	f := New(api, Config{
		IncrementalDays: 14,
		Excluded:        map[string]struct{}{"2": {}},
	}, nil)

	res, err := f.Fetch(context.Background(), testConn(), models.SyncTypeIncremental, "", time.Now())
	require.NoError(t, err)
	assert.Len(t, res.Webinars, 2)
	assert.Equal(t, 1, res.ExcludedSkipped)
}

func TestFetch_SingleMode(t *testing.T) {
	api := &fakeAPI{}
	f := New(api, Config{}, nil)

	res, err := f.Fetch(context.Background(), testConn(), models.SyncTypeSingle, "w-42", time.Now())
	require.NoError(t, err)
	require.Len(t, res.Webinars, 1)
	assert.Equal(t, "w-42", res.Webinars[0].ExternalID)

	_, err = f.Fetch(context.Background(), testConn(), models.SyncTypeSingle, "", time.Now())
	require.Error(t, err)
}

func TestPlan_WindowsPerSyncType(t *testing.T) {
	f := New(&fakeAPI{}, Config{LookbackDays: 365, LookaheadDays: 90, IncrementalDays: 14}, nil)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	initial := f.Plan(models.SyncTypeInitial, now)
	require.Len(t, initial, 2)
	assert.Equal(t, "past", initial[0].Category)
	assert.Equal(t, now.Add(-365*24*time.Hour), initial[0].From)
	assert.Equal(t, now, initial[0].To)
	assert.Equal(t, "upcoming", initial[1].Category)
	assert.Equal(t, now.Add(90*24*time.Hour), initial[1].To)

	incr := f.Plan(models.SyncTypeIncremental, now)
	assert.Equal(t, now.Add(-14*24*time.Hour), incr[0].From)
	assert.Equal(t, now.Add(14*24*time.Hour), incr[1].To)
}
