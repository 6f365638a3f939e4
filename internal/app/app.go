package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"BillsAnalyzer/internal/config"
	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/infrastructure/congress"
	"BillsAnalyzer/internal/infrastructure/httpapi"
	"BillsAnalyzer/internal/infrastructure/llm"
	"BillsAnalyzer/internal/infrastructure/scheduler"
	"BillsAnalyzer/internal/infrastructure/storage"
	"BillsAnalyzer/internal/logging"
	"BillsAnalyzer/internal/ports"
	"BillsAnalyzer/internal/usecase"
)

const shutdownGrace = 30 * time.Second

// Options overrides adapters; zero values get the production ones.
type Options struct {
	Clock    ports.Clock
	Source   ports.BillSource
	Analyzer ports.Analyzer
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg          config.Config
	logger       *slog.Logger
	store        *storage.Store
	sync         *usecase.SyncEngine
	orchestrator *usecase.Orchestrator
}

// New opens the store and builds the sync engine and orchestrator.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		Clock:        opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	source := opts.Source
	if source == nil {
		source = congress.NewClient(cfg.Congress, nil, baseLogger)
	}
	analyzer := opts.Analyzer
	if analyzer == nil {
		analyzer = llm.NewOpenAIAnalyzer(cfg.OpenAI, nil)
	}

	entities := store.Entities()
	ledger := store.Ledger()

	syncEngine, err := usecase.NewSyncEngine(usecase.SyncDeps{
		Source:     source,
		Entities:   entities,
		Ledger:     ledger,
		Watermarks: store.Watermarks(),
		Clock:      opts.Clock,
		Logger:     logging.Component(baseLogger, "sync"),
	}, usecase.SyncConfig{
		PageSize:        cfg.Congress.PageSize,
		InitialLookback: cfg.Congress.InitialLookback,
		MaxPageAttempts: cfg.Congress.MaxPageAttempts,
		PageRetry:       usecase.Backoff{Base: cfg.Congress.PageRetryDelay, Exponential: true},
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	orchestrator, err := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Entities:  entities,
		Ledger:    ledger,
		Completer: store.Summaries(),
		Analyzer:  analyzer,
		Clock:     opts.Clock,
		Logger:    logging.Component(baseLogger, "orchestrator"),
	}, usecase.OrchestratorConfig{
		Workers:       cfg.Orchestrator.Workers,
		MaxAttempts:   cfg.Orchestrator.MaxAttempts,
		Retry:         usecase.Backoff{Base: cfg.Orchestrator.RetryDelay, Exponential: cfg.Orchestrator.Backoff},
		CallTimeout:   cfg.OpenAI.Timeout,
		StaleAfter:    cfg.Orchestrator.StaleAfter,
		ErrorCooldown: cfg.Orchestrator.ErrorCooldown,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Application{
		cfg:          cfg,
		logger:       baseLogger,
		store:        store,
		sync:         syncEngine,
		orchestrator: orchestrator,
	}, nil
}

// Close releases the database pool.
func (a *Application) Close() error {
	return a.store.Close()
}

// Sync runs every configured feed once.
func (a *Application) Sync(ctx context.Context) ([]usecase.SyncReport, error) {
	feeds, err := a.cfg.Congress.Feeds()
	if err != nil {
		return nil, err
	}
	return a.sync.Run(ctx, feeds)
}

// Analyze runs one orchestrator batch.
func (a *Application) Analyze(ctx context.Context, batchSize int) (usecase.BatchReport, error) {
	return a.orchestrator.RunBatch(ctx, batchSize)
}

// Reclaim returns stale claims and cooled-down retryable errors to pending.
func (a *Application) Reclaim(ctx context.Context) (reclaimed, requeued int64, err error) {
	reclaimed, err = a.orchestrator.ReclaimStale(ctx)
	if err != nil {
		return 0, 0, err
	}
	requeued, err = a.orchestrator.RequeueErrors(ctx)
	return reclaimed, requeued, err
}

// Reset is the manual move of an error target back to pending.
func (a *Application) Reset(ctx context.Context, target domain.Target) error {
	return a.store.Ledger().Reset(ctx, target)
}

// Delete removes a target with its status row and summary.
func (a *Application) Delete(ctx context.Context, target domain.Target) error {
	return a.store.Entities().Delete(ctx, target)
}

// Counts returns the ledger population per state.
func (a *Application) Counts(ctx context.Context) (map[domain.Status]int, error) {
	return a.store.Ledger().Counts(ctx)
}

// RecentErrors returns up to limit error rows, most recently failed first.
func (a *Application) RecentErrors(ctx context.Context, limit int) ([]domain.ProcessingStatus, error) {
	if limit <= 0 {
		return nil, nil
	}
	return a.store.Ledger().ListByStatus(ctx, domain.StatusError, limit)
}

// Serve drives the recurring jobs and the ops HTTP surface until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	jobs := usecase.NewScheduler(logging.Component(a.logger, "scheduler"),
		usecase.Job{
			Name:   "sync",
			Driver: scheduler.NewIntervalScheduler(a.cfg.Congress.PollInterval),
			Run: func(ctx context.Context) error {
				_, err := a.Sync(ctx)
				return err
			},
		},
		usecase.Job{
			Name:   "analyze",
			Driver: scheduler.NewIntervalScheduler(a.cfg.Orchestrator.Interval),
			Run: func(ctx context.Context) error {
				_, err := a.Analyze(ctx, a.cfg.Orchestrator.BatchSize)
				return err
			},
		},
		usecase.Job{
			Name:   "maintenance",
			Driver: scheduler.NewIntervalScheduler(a.cfg.Orchestrator.ReclaimInterval),
			Run:    a.orchestrator.Maintain,
		},
	)

	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	server := httpapi.NewServer(a.cfg.HTTP.Addr, a.store, a.store.Ledger(), logging.Component(a.logger, "http"))
	serveErr := server.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	stopErr := jobs.Stop(stopCtx)
	if serveErr != nil {
		return errors.Join(fmt.Errorf("ops http: %w", serveErr), stopErr)
	}
	return stopErr
}
