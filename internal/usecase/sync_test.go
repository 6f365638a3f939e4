package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/infrastructure/storage"
	"BillsAnalyzer/internal/ports"
)

func newTestSyncEngine(t *testing.T, store *storage.Store, source ports.BillSource, clock ports.Clock) *SyncEngine {
	t.Helper()
	engine, err := NewSyncEngine(SyncDeps{
		Source:     source,
		Entities:   store.Entities(),
		Ledger:     store.Ledger(),
		Watermarks: store.Watermarks(),
		Clock:      clock,
		Logger:     discardLogger(),
	}, SyncConfig{
		PageSize:        2,
		InitialLookback: 48 * time.Hour,
		MaxPageAttempts: 3,
	})
	require.NoError(t, err)
	return engine
}

func transientFetch() error {
	return domain.NewError(domain.KindTransientFetch, "test", errors.New("503 Service Unavailable"))
}

func TestSyncSinceAppliesPagesInOrder(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := newTestStore(t, clock)
	source := newFakeSource()
	base := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	source.setPages(houseBills,
		ports.Page{Bills: []domain.Bill{testBill(1, base), testBill(2, base.Add(time.Hour))}},
		ports.Page{Bills: []domain.Bill{testBill(3, base.Add(2 * time.Hour))}},
	)
	engine := newTestSyncEngine(t, store, source, clock)
	ctx := context.Background()

	report, err := engine.SyncSince(ctx, houseBills, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, report.ItemsSeen)
	assert.Equal(t, 3, report.ItemsCreated)
	assert.Zero(t, report.ItemsChanged)
	assert.True(t, base.Add(2*time.Hour).Equal(report.NewWatermark))

	mark, ok, err := store.Watermarks().Watermark(ctx, houseBills.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, report.NewWatermark.Equal(mark))

	counts, err := store.Ledger().Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.StatusPending])

	// a second pass over identical data is a no-op
	report, err = engine.SyncSince(ctx, houseBills, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, report.ItemsSeen)
	assert.Zero(t, report.ItemsCreated)
	assert.Zero(t, report.ItemsChanged)
}

func TestSyncRetriesTransientPageFailures(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := newTestStore(t, clock)
	source := newFakeSource()
	base := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	source.setPages(houseBills, ports.Page{Bills: []domain.Bill{testBill(1, base)}})
	source.failAt(houseBills, 0, transientFetch(), transientFetch())

	report, err := newTestSyncEngine(t, store, source, clock).SyncSince(context.Background(), houseBills, base)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ItemsCreated)
	assert.Equal(t, 3, source.calls())
}

func TestSyncKeepsWatermarkOfLastAppliedPage(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := newTestStore(t, clock)
	source := newFakeSource()
	base := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	source.setPages(houseBills,
		ports.Page{Bills: []domain.Bill{testBill(1, base), testBill(2, base.Add(time.Hour))}},
		ports.Page{Bills: []domain.Bill{testBill(3, base.Add(2 * time.Hour))}},
	)
	source.failAt(houseBills, 2, transientFetch(), transientFetch(), transientFetch())
	ctx := context.Background()

	report, err := newTestSyncEngine(t, store, source, clock).SyncSince(ctx, houseBills, base.Add(-time.Hour))
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 2, report.ItemsSeen)
	assert.Equal(t, 4, source.calls(), "one good page plus three attempts at the second")

	mark, ok, err := store.Watermarks().Watermark(ctx, houseBills.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, base.Add(time.Hour).Equal(mark), "watermark must stop at the last applied page, got %s", mark)

	_, err = store.Entities().BillByKey(ctx, testBill(3, base).Key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncPermanentFailureAbortsAtOnce(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := newTestStore(t, clock)
	source := newFakeSource()
	source.failAt(houseBills, 0, domain.NewError(domain.KindPermanentFetch, "test", errors.New("403 Forbidden")))

	_, err := newTestSyncEngine(t, store, source, clock).SyncSince(context.Background(), houseBills, time.Time{})
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
	assert.Equal(t, 1, source.calls())
}

func TestSyncReflagsChangedTargets(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := newTestStore(t, clock)
	source := newFakeSource()
	ctx := context.Background()
	base := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

	source.setPages(houseBills, ports.Page{Bills: []domain.Bill{testBill(1, base)}})
	engine := newTestSyncEngine(t, store, source, clock)
	_, err := engine.SyncSince(ctx, houseBills, base)
	require.NoError(t, err)

	bill, err := store.Entities().BillByKey(ctx, testBill(1, base).Key)
	require.NoError(t, err)
	_, err = store.Ledger().Claim(ctx, bill.Target())
	require.NoError(t, err)
	require.NoError(t, store.Summaries().Complete(ctx, bill.Target(), analysisFor(domain.BillContent(bill))))

	amended := testBill(1, base.Add(24*time.Hour))
	amended.LatestActionText = "Passed House."
	source.setPages(houseBills, ports.Page{Bills: []domain.Bill{amended}})
	report, err := engine.SyncSince(ctx, houseBills, base)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ItemsChanged)

	st, err := store.Ledger().Get(ctx, bill.Target())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, st.Status)
}

func TestSyncFeedStartsFromInitialLookback(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := newTestStore(t, clock)
	source := newFakeSource()
	engine := newTestSyncEngine(t, store, source, clock)
	ctx := context.Background()

	_, err := engine.SyncFeed(ctx, houseBills)
	require.NoError(t, err)
	require.Len(t, source.requests, 1)
	assert.True(t, clock.Now().Add(-48*time.Hour).Equal(source.requests[0].Since))

	stored := time.Date(2024, time.February, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Watermarks().SaveWatermark(ctx, houseBills.Key(), stored))
	_, err = engine.SyncFeed(ctx, houseBills)
	require.NoError(t, err)
	assert.True(t, stored.Equal(source.requests[1].Since))
}

func TestSyncRunContinuesPastFailingFeed(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := newTestStore(t, clock)
	source := newFakeSource()
	senateBills := domain.Feed{Kind: domain.TargetBill, Congress: 117, Type: "S"}
	source.failAt(houseBills, 0, domain.NewError(domain.KindPermanentFetch, "test", errors.New("404")))
	senate := testBill(9, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))
	senate.Key.Type = domain.BillType("S")
	source.setPages(senateBills, ports.Page{Bills: []domain.Bill{senate}})

	reports, err := newTestSyncEngine(t, store, source, clock).Run(context.Background(), []domain.Feed{houseBills, senateBills})
	require.Error(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[1].ItemsCreated)
}

func TestNewSyncEngineValidates(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, newTestClock())
	_, err := NewSyncEngine(SyncDeps{
		Source:     newFakeSource(),
		Entities:   store.Entities(),
		Ledger:     store.Ledger(),
		Watermarks: store.Watermarks(),
	}, SyncConfig{MaxPageAttempts: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
