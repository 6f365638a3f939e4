package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BillsAnalyzer/internal/config"
	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/ports"
)

type sourceFunc func(ctx context.Context, req ports.PageRequest) (ports.Page, error)

func (f sourceFunc) FetchPage(ctx context.Context, req ports.PageRequest) (ports.Page, error) {
	return f(ctx, req)
}

type analyzerFunc func(ctx context.Context, input domain.AnalysisInput) (domain.Analysis, error)

func (f analyzerFunc) Analyze(ctx context.Context, input domain.AnalysisInput) (domain.Analysis, error) {
	return f(ctx, input)
}

func newTestApp(t *testing.T) *Application {
	t.Helper()

	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "bills.db")
	cfg.Congress.Congresses = []int{117}
	cfg.Congress.Chambers = []string{"house"}
	require.NoError(t, cfg.Validate())

	updated := time.Now().UTC().Add(-time.Hour)
	source := sourceFunc(func(_ context.Context, req ports.PageRequest) (ports.Page, error) {
		if req.Feed.Key() != "bill/117/hr" || req.Offset > 0 {
			return ports.Page{NextOffset: req.Offset}, nil
		}
		return ports.Page{
			Bills: []domain.Bill{{
				Key:              domain.BillKey{Congress: 117, Type: domain.BillHR, Number: 3076},
				Title:            "Postal Service Reform Act of 2022",
				OriginChamber:    "House",
				LatestActionText: "Became Public Law No: 117-108.",
				UpdateDate:       updated,
			}},
			NextOffset: 1,
		}, nil
	})
	analyzer := analyzerFunc(func(_ context.Context, input domain.AnalysisInput) (domain.Analysis, error) {
		return domain.Analysis{
			Summary:     "Restructures USPS finances: " + input.Title,
			Perspective: "free-market",
			KeyPoints:   []string{"retiree health benefits"},
		}, nil
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	application, err := New(context.Background(), cfg, logger, Options{Source: source, Analyzer: analyzer})
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })
	return application
}

func TestSyncAnalyzeReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	application := newTestApp(t)

	reports, err := application.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 5)
	assert.Equal(t, "bill/117/hr", reports[0].Feed)
	assert.Equal(t, 1, reports[0].ItemsCreated)

	counts, err := application.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusPending])

	report, err := application.Analyze(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)

	counts, err = application.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusCompleted])
	assert.Equal(t, 0, counts[domain.StatusPending])

	bill, err := application.store.Entities().BillByKey(ctx, domain.BillKey{Congress: 117, Type: domain.BillHR, Number: 3076})
	require.NoError(t, err)
	err = application.Reset(ctx, bill.Target())
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err), "completed targets are not reset by hand: %v", err)

	counts, err = application.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusCompleted])

	require.NoError(t, application.Delete(ctx, bill.Target()))
	counts, err = application.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[domain.StatusCompleted])
	assert.ErrorIs(t, application.Delete(ctx, bill.Target()), domain.ErrNotFound)
}

func TestResetUnknownTargetIsIntegrityViolation(t *testing.T) {
	t.Parallel()

	application := newTestApp(t)
	err := application.Reset(context.Background(), domain.BillTarget(uuid.Must(uuid.NewV7())))
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))
}

func TestReclaimWithNothingStale(t *testing.T) {
	t.Parallel()

	reclaimed, requeued, err := newTestApp(t).Reclaim(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
	assert.Zero(t, requeued)
}

func TestNewRejectsBadDriver(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Database.Driver = "mysql"
	_, err := New(context.Background(), cfg, nil, Options{})
	require.Error(t, err)
}
