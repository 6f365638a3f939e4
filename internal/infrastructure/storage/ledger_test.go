package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BillsAnalyzer/internal/domain"
)

func seedBill(t *testing.T, store *Store, number int) domain.Target {
	t.Helper()
	bill := sampleBill()
	bill.Key.Number = number
	res, err := store.Entities().UpsertBill(context.Background(), bill)
	require.NoError(t, err)
	return res.Target
}

func requireStatus(t *testing.T, store *Store, target domain.Target, want domain.Status) domain.ProcessingStatus {
	t.Helper()
	st, err := store.Ledger().Get(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, want, st.Status)
	return st
}

func TestClaimIsExclusive(t *testing.T) {
	t.Parallel()

	store, _ := createTestStore(t)
	target := seedBill(t, store, 1)

	const workers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := store.Ledger().Claim(context.Background(), target)
			assert.NoError(t, err)
			if res == domain.Claimed {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, winners.Load())
	requireStatus(t, store, target, domain.StatusProcessing)
}

func TestLedgerLifecycle(t *testing.T) {
	t.Parallel()

	store, clock := createTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()
	target := seedBill(t, store, 2)

	res, err := ledger.Claim(ctx, target)
	require.NoError(t, err)
	require.Equal(t, domain.Claimed, res)

	res, err = ledger.Claim(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, domain.AlreadyClaimed, res)

	clock.Advance(time.Minute)
	require.NoError(t, ledger.MarkError(ctx, target, "rate limited", true))
	st := requireStatus(t, store, target, domain.StatusError)
	assert.Equal(t, "rate limited", st.ErrorMessage)
	assert.True(t, st.Retryable)
	assertSameTime(t, clock.Now(), st.LastProcessed)

	require.NoError(t, ledger.Reset(ctx, target))
	st = requireStatus(t, store, target, domain.StatusPending)
	assert.Empty(t, st.ErrorMessage)
	assert.False(t, st.Retryable)

	_, err = ledger.Claim(ctx, target)
	require.NoError(t, err)
	require.NoError(t, ledger.MarkCompleted(ctx, target))
	requireStatus(t, store, target, domain.StatusCompleted)

	// completed rows only return to pending through a sync reflag
	err = ledger.Reset(ctx, target)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err), "err: %v", err)
	assert.Contains(t, err.Error(), "found completed")
	requireStatus(t, store, target, domain.StatusCompleted)
}

func TestLedgerConflictingTransitions(t *testing.T) {
	t.Parallel()

	store, _ := createTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()
	target := seedBill(t, store, 3)

	err := ledger.MarkCompleted(ctx, target)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err), "err: %v", err)
	assert.Contains(t, err.Error(), "found pending")

	err = ledger.MarkError(ctx, target, "boom", false)
	assert.True(t, domain.IsConflict(err))

	err = ledger.Reset(ctx, target)
	assert.True(t, domain.IsConflict(err), "reset of a pending target is not a legal move")

	requireStatus(t, store, target, domain.StatusPending)
}

func TestLedgerRejectsUnknownTargets(t *testing.T) {
	t.Parallel()

	store, _ := createTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()
	billTarget := seedBill(t, store, 4)

	ghosts := []domain.Target{
		domain.BillTarget(uuid.New()),
		domain.AmendmentTarget(billTarget.ID),
		{ID: billTarget.ID, Type: domain.TargetType("resolution")},
		{Type: domain.TargetBill},
	}
	for _, ghost := range ghosts {
		_, err := ledger.Claim(ctx, ghost)
		assert.True(t, domain.IsIntegrity(err), "claim %s: %v", ghost, err)
		assert.True(t, domain.IsIntegrity(ledger.MarkCompleted(ctx, ghost)))
		assert.True(t, domain.IsIntegrity(ledger.MarkError(ctx, ghost, "x", false)))
		assert.True(t, domain.IsIntegrity(ledger.Reset(ctx, ghost)))
		_, err = ledger.Reflag(ctx, ghost)
		assert.True(t, domain.IsIntegrity(err))
	}

	counts, err := ledger.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusPending])
}

func TestReflag(t *testing.T) {
	t.Parallel()

	store, _ := createTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()
	target := seedBill(t, store, 5)

	flagged, err := ledger.Reflag(ctx, target)
	require.NoError(t, err)
	assert.False(t, flagged, "already pending")

	_, err = ledger.Claim(ctx, target)
	require.NoError(t, err)
	flagged, err = ledger.Reflag(ctx, target)
	require.NoError(t, err)
	assert.True(t, flagged)
	st := requireStatus(t, store, target, domain.StatusProcessing)
	assert.True(t, st.SourceChanged)

	res, err := ledger.Claim(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, domain.AlreadyClaimed, res, "the marked claim still has its owner")

	err = ledger.MarkCompleted(ctx, target)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err), "err: %v", err)
	assert.Contains(t, err.Error(), releaseMessage)
	st = requireStatus(t, store, target, domain.StatusPending)
	assert.False(t, st.SourceChanged)

	_, err = ledger.Claim(ctx, target)
	require.NoError(t, err)
	require.NoError(t, ledger.MarkCompleted(ctx, target))
	flagged, err = ledger.Reflag(ctx, target)
	require.NoError(t, err)
	assert.True(t, flagged)
	requireStatus(t, store, target, domain.StatusPending)
}

func TestMarkErrorReleasesChangedClaim(t *testing.T) {
	t.Parallel()

	store, _ := createTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()
	target := seedBill(t, store, 15)

	_, err := ledger.Claim(ctx, target)
	require.NoError(t, err)
	_, err = ledger.Reflag(ctx, target)
	require.NoError(t, err)

	err = ledger.MarkError(ctx, target, "model refused", false)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err), "err: %v", err)
	st := requireStatus(t, store, target, domain.StatusPending)
	assert.Empty(t, st.ErrorMessage)
	assert.False(t, st.Retryable)
	assert.False(t, st.SourceChanged)

	// the next claim finishes normally
	_, err = ledger.Claim(ctx, target)
	require.NoError(t, err)
	require.NoError(t, ledger.MarkError(ctx, target, "model refused", false))
	st = requireStatus(t, store, target, domain.StatusError)
	assert.Equal(t, "model refused", st.ErrorMessage)
}

func TestReclaimClearsSourceChanged(t *testing.T) {
	t.Parallel()

	store, clock := createTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()
	target := seedBill(t, store, 16)

	_, err := ledger.Claim(ctx, target)
	require.NoError(t, err)
	_, err = ledger.Reflag(ctx, target)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	n, err := ledger.ReclaimStale(ctx, clock.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	st := requireStatus(t, store, target, domain.StatusPending)
	assert.False(t, st.SourceChanged)

	_, err = ledger.Claim(ctx, target)
	require.NoError(t, err)
	require.NoError(t, ledger.MarkCompleted(ctx, target))
}

func TestReclaimStale(t *testing.T) {
	t.Parallel()

	store, clock := createTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()

	stale := seedBill(t, store, 6)
	fresh := seedBill(t, store, 7)

	_, err := ledger.Claim(ctx, stale)
	require.NoError(t, err)
	clock.Advance(40 * time.Minute)
	_, err = ledger.Claim(ctx, fresh)
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)

	n, err := ledger.ReclaimStale(ctx, clock.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	st := requireStatus(t, store, stale, domain.StatusPending)
	assert.Equal(t, reclaimMessage, st.ErrorMessage)
	requireStatus(t, store, fresh, domain.StatusProcessing)

	res, err := ledger.Claim(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, domain.Claimed, res)
}

func TestRequeueErrorsOnlyRetryable(t *testing.T) {
	t.Parallel()

	store, clock := createTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()

	retryable := seedBill(t, store, 8)
	permanent := seedBill(t, store, 9)
	for _, target := range []domain.Target{retryable, permanent} {
		_, err := ledger.Claim(ctx, target)
		require.NoError(t, err)
	}
	require.NoError(t, ledger.MarkError(ctx, retryable, "timeout", true))
	require.NoError(t, ledger.MarkError(ctx, permanent, "bad request", false))

	n, err := ledger.RequeueErrors(ctx, clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "cooldown not elapsed")

	clock.Advance(2 * time.Hour)
	n, err = ledger.RequeueErrors(ctx, clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	requireStatus(t, store, retryable, domain.StatusPending)
	requireStatus(t, store, permanent, domain.StatusError)
}

func TestListByStatusNewestFirst(t *testing.T) {
	t.Parallel()

	store, clock := createTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()

	older := seedBill(t, store, 17)
	newer := seedBill(t, store, 18)
	untouched := seedBill(t, store, 19)

	for _, target := range []domain.Target{older, newer} {
		_, err := ledger.Claim(ctx, target)
		require.NoError(t, err)
		require.NoError(t, ledger.MarkError(ctx, target, "bad request "+target.ID.String(), false))
		clock.Advance(time.Minute)
	}

	errs, err := ledger.ListByStatus(ctx, domain.StatusError, 10)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, newer, errs[0].Target)
	assert.Equal(t, older, errs[1].Target)
	assert.Contains(t, errs[0].ErrorMessage, newer.ID.String())

	errs, err = ledger.ListByStatus(ctx, domain.StatusError, 1)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, newer, errs[0].Target)

	pending, err := ledger.ListByStatus(ctx, domain.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, untouched, pending[0].Target)
}

func TestListPendingOldestFirst(t *testing.T) {
	t.Parallel()

	store, clock := createTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()

	var targets []domain.Target
	for i := 10; i < 14; i++ {
		targets = append(targets, seedBill(t, store, i))
		clock.Advance(time.Minute)
	}

	// touching the oldest moves it to the back of the queue
	_, err := ledger.Claim(ctx, targets[0])
	require.NoError(t, err)
	require.NoError(t, ledger.MarkCompleted(ctx, targets[0]))
	_, err = ledger.Reflag(ctx, targets[0])
	require.NoError(t, err)

	pending, err := ledger.ListPending(ctx, 3)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, targets[1], pending[0].Target)
	assert.Equal(t, targets[2], pending[1].Target)
	assert.Equal(t, targets[3], pending[2].Target)

	counts, err := ledger.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.Status]int{
		domain.StatusPending:    4,
		domain.StatusProcessing: 0,
		domain.StatusCompleted:  0,
		domain.StatusError:      0,
	}, counts)
}
