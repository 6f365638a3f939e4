package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/infrastructure/storage"
	"BillsAnalyzer/internal/ports"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, clock ports.Clock) *storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Options{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "bills.db"),
		Clock:  clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeSource serves scripted pages per feed; failures are consumed in order
// before the page at that offset is served.
type fakeSource struct {
	mu       sync.Mutex
	pages    map[string][]ports.Page
	failures map[string][]error
	requests []ports.PageRequest
}

func newFakeSource() *fakeSource {
	return &fakeSource{pages: map[string][]ports.Page{}, failures: map[string][]error{}}
}

func (f *fakeSource) setPages(feed domain.Feed, pages ...ports.Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	offset := 0
	for i := range pages {
		offset += pages[i].Len()
		pages[i].NextOffset = offset
		pages[i].HasMore = i < len(pages)-1
	}
	f.pages[feed.Key()] = pages
}

func (f *fakeSource) failAt(feed domain.Feed, offset int, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s@%d", feed.Key(), offset)
	f.failures[key] = append(f.failures[key], errs...)
}

func (f *fakeSource) FetchPage(_ context.Context, req ports.PageRequest) (ports.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	key := fmt.Sprintf("%s@%d", req.Feed.Key(), req.Offset)
	if errs := f.failures[key]; len(errs) > 0 {
		f.failures[key] = errs[1:]
		return ports.Page{}, errs[0]
	}

	offset := 0
	for _, page := range f.pages[req.Feed.Key()] {
		if offset == req.Offset {
			return page, nil
		}
		offset += page.Len()
	}
	return ports.Page{NextOffset: req.Offset}, nil
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type analyzerFunc func(ctx context.Context, input domain.AnalysisInput) (domain.Analysis, error)

func (f analyzerFunc) Analyze(ctx context.Context, input domain.AnalysisInput) (domain.Analysis, error) {
	return f(ctx, input)
}

func analysisFor(input domain.AnalysisInput) domain.Analysis {
	return domain.Analysis{
		Summary:                  "Summary of " + input.Title,
		Perspective:              "free-market",
		KeyPoints:                []string{"point"},
		EstimatedCostImpact:      "cost",
		GovernmentGrowthAnalysis: "growth",
		MarketImpactAnalysis:     "market",
		LibertyImpactAnalysis:    "liberty",
	}
}

var houseBills = domain.Feed{Kind: domain.TargetBill, Congress: 117, Type: "HR"}

func testBill(number int, updated time.Time) domain.Bill {
	return domain.Bill{
		Key:              domain.BillKey{Congress: 117, Type: domain.BillType("HR"), Number: number},
		Title:            fmt.Sprintf("Test bill %d", number),
		OriginChamber:    "House",
		LatestActionDate: updated.Truncate(24 * time.Hour),
		LatestActionText: "Referred to committee.",
		UpdateDate:       updated,
	}
}

// requireInvariants checks the ledger and summary tables agree for every known target.
func requireInvariants(t *testing.T, store *storage.Store, targets ...domain.Target) {
	t.Helper()
	ctx := context.Background()
	for _, target := range targets {
		ok, err := store.Entities().Exists(ctx, target)
		require.NoError(t, err)
		require.True(t, ok, "status row for missing entity %s", target)

		st, err := store.Ledger().Get(ctx, target)
		require.NoError(t, err)
		_, err = store.Summaries().Get(ctx, target)
		if st.Status == domain.StatusCompleted {
			require.NoError(t, err, "completed target %s without summary", target)
		}
	}
}
