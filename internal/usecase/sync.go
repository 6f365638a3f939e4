package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/ports"
)

// SyncConfig bounds one sync run.
type SyncConfig struct {
	PageSize        int
	InitialLookback time.Duration
	MaxPageAttempts int
	PageRetry       Backoff
}

// SyncDeps wires the driven adapters the Sync Engine needs.
type SyncDeps struct {
	Source     ports.BillSource
	Entities   ports.EntityStore
	Ledger     ports.StatusLedger
	Watermarks ports.WatermarkStore
	Clock      ports.Clock
	Logger     *slog.Logger
}

// SyncReport summarizes one feed's run.
type SyncReport struct {
	Feed         string
	ItemsSeen    int
	ItemsCreated int
	ItemsChanged int
	NewWatermark time.Time
}

// SyncEngine pulls source pages and reconciles them into the Entity Store.
type SyncEngine struct {
	source     ports.BillSource
	entities   ports.EntityStore
	ledger     ports.StatusLedger
	watermarks ports.WatermarkStore
	clock      ports.Clock
	logger     *slog.Logger
	cfg        SyncConfig
}

// NewSyncEngine validates cfg and constructs the engine.
func NewSyncEngine(deps SyncDeps, cfg SyncConfig) (*SyncEngine, error) {
	if deps.Source == nil || deps.Entities == nil || deps.Ledger == nil || deps.Watermarks == nil {
		return nil, errors.New("sync engine: source, entities, ledger and watermarks are required")
	}
	if cfg.MaxPageAttempts < 1 {
		return nil, fmt.Errorf("%w: max page attempts must be >= 1, got %d", domain.ErrInvalidConfig, cfg.MaxPageAttempts)
	}
	if cfg.PageSize < 0 || cfg.InitialLookback < 0 {
		return nil, fmt.Errorf("%w: page size and initial lookback must not be negative", domain.ErrInvalidConfig)
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &SyncEngine{
		source:     deps.Source,
		entities:   deps.Entities,
		ledger:     deps.Ledger,
		watermarks: deps.Watermarks,
		clock:      deps.Clock,
		logger:     deps.Logger,
		cfg:        cfg,
	}, nil
}

// Run syncs every feed from its stored watermark. A failing feed does not stop
// the others; all failures are joined into the returned error.
func (e *SyncEngine) Run(ctx context.Context, feeds []domain.Feed) ([]SyncReport, error) {
	reports := make([]SyncReport, 0, len(feeds))
	var errs []error
	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := e.SyncFeed(ctx, feed)
		reports = append(reports, report)
		if err != nil {
			e.logger.Warn("sync run aborted", "feed", feed.Key(), "seen", report.ItemsSeen, "err", err)
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.Key(), err))
			continue
		}
		e.logger.Info("sync run finished",
			"feed", feed.Key(),
			"seen", report.ItemsSeen,
			"created", report.ItemsCreated,
			"changed", report.ItemsChanged,
			"watermark", report.NewWatermark,
		)
	}
	return reports, errors.Join(errs...)
}

// SyncFeed resumes a feed from its stored watermark, or from InitialLookback
// before now when the feed has never been synced.
func (e *SyncEngine) SyncFeed(ctx context.Context, feed domain.Feed) (SyncReport, error) {
	since, ok, err := e.watermarks.Watermark(ctx, feed.Key())
	if err != nil {
		return SyncReport{Feed: feed.Key()}, fmt.Errorf("load watermark: %w", err)
	}
	if !ok {
		since = e.clock.Now().Add(-e.cfg.InitialLookback)
	}
	return e.SyncSince(ctx, feed, since)
}

// SyncSince walks the feed's pages in source order starting at since. The
// watermark is persisted after every fully applied page; a failure leaves it at
// the last applied page so the next run resumes there.
func (e *SyncEngine) SyncSince(ctx context.Context, feed domain.Feed, since time.Time) (SyncReport, error) {
	report := SyncReport{Feed: feed.Key(), NewWatermark: since}
	logger := e.logger.With("feed", feed.Key())

	offset := 0
	for {
		page, err := e.fetchWithRetry(ctx, logger, ports.PageRequest{
			Feed:   feed,
			Since:  since,
			Offset: offset,
			Limit:  e.cfg.PageSize,
		})
		if err != nil {
			return report, err
		}

		mark, err := e.applyPage(ctx, page, &report)
		if err != nil {
			return report, err
		}
		if mark.After(report.NewWatermark) {
			report.NewWatermark = mark
		}
		if err := e.watermarks.SaveWatermark(ctx, feed.Key(), report.NewWatermark); err != nil {
			return report, fmt.Errorf("save watermark: %w", err)
		}
		logger.Debug("page applied", "offset", offset, "items", page.Len(), "watermark", report.NewWatermark)

		if !page.HasMore || page.NextOffset <= offset {
			return report, nil
		}
		offset = page.NextOffset
	}
}

func (e *SyncEngine) fetchWithRetry(ctx context.Context, logger *slog.Logger, req ports.PageRequest) (ports.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxPageAttempts; attempt++ {
		page, err := e.source.FetchPage(ctx, req)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ports.Page{}, ctx.Err()
		}
		if domain.IsPermanent(err) {
			return ports.Page{}, fmt.Errorf("fetch offset %d: %w", req.Offset, err)
		}
		if attempt == e.cfg.MaxPageAttempts {
			break
		}
		delay := e.cfg.PageRetry.Delay(attempt)
		logger.Warn("page fetch failed, retrying", "offset", req.Offset, "attempt", attempt, "delay", delay, "err", err)
		if err := sleep(ctx, delay); err != nil {
			return ports.Page{}, err
		}
	}
	return ports.Page{}, fmt.Errorf("fetch offset %d: gave up after %d attempts: %w", req.Offset, e.cfg.MaxPageAttempts, lastErr)
}

// applyPage upserts every record in order and re-flags what was created or
// changed. It returns the latest source update time seen on the page.
func (e *SyncEngine) applyPage(ctx context.Context, page ports.Page, report *SyncReport) (time.Time, error) {
	var mark time.Time
	observe := func(res ports.UpsertResult, updated time.Time) error {
		report.ItemsSeen++
		if updated.After(mark) {
			mark = updated
		}
		if !res.Created && !res.Changed {
			return nil
		}
		if res.Created {
			report.ItemsCreated++
		} else {
			report.ItemsChanged++
		}
		if _, err := e.ledger.Reflag(ctx, res.Target); err != nil {
			return fmt.Errorf("reflag %s: %w", res.Target, err)
		}
		return nil
	}

	for _, bill := range page.Bills {
		res, err := e.entities.UpsertBill(ctx, bill)
		if err != nil {
			return time.Time{}, err
		}
		if err := observe(res, bill.UpdateDate); err != nil {
			return time.Time{}, err
		}
	}
	for _, amendment := range page.Amendments {
		res, err := e.entities.UpsertAmendment(ctx, amendment)
		if err != nil {
			return time.Time{}, err
		}
		if err := observe(res, amendment.UpdateDate); err != nil {
			return time.Time{}, err
		}
	}
	return mark.UTC(), nil
}
