package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/ports"
)

// OrchestratorConfig bounds analysis batches.
type OrchestratorConfig struct {
	Workers       int
	MaxAttempts   int
	Retry         Backoff
	CallTimeout   time.Duration
	StaleAfter    time.Duration
	ErrorCooldown time.Duration
}

// OrchestratorDeps wires the driven adapters the orchestrator needs.
type OrchestratorDeps struct {
	Entities  ports.EntityStore
	Ledger    ports.StatusLedger
	Completer ports.Completer
	Analyzer  ports.Analyzer
	Clock     ports.Clock
	Logger    *slog.Logger
}

// BatchReport counts what one RunBatch did.
type BatchReport struct {
	Attempted int
	Completed int
	Failed    int
	Skipped   int
}

func (r *BatchReport) add(o outcome) {
	switch o {
	case outcomeCompleted:
		r.Attempted++
		r.Completed++
	case outcomeFailed:
		r.Attempted++
		r.Failed++
	case outcomeInterrupted:
		r.Attempted++
	case outcomeSkipped:
		r.Skipped++
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeInterrupted
)

// Orchestrator claims pending targets, runs the analysis and records results.
type Orchestrator struct {
	entities  ports.EntityStore
	ledger    ports.StatusLedger
	completer ports.Completer
	analyzer  ports.Analyzer
	clock     ports.Clock
	logger    *slog.Logger
	cfg       OrchestratorConfig
}

// NewOrchestrator validates cfg and constructs the orchestrator.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) (*Orchestrator, error) {
	if deps.Entities == nil || deps.Ledger == nil || deps.Completer == nil || deps.Analyzer == nil {
		return nil, errors.New("orchestrator: entities, ledger, completer and analyzer are required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be >= 1, got %d", domain.ErrInvalidConfig, cfg.MaxAttempts)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be >= 1, got %d", domain.ErrInvalidConfig, cfg.Workers)
	}
	if cfg.CallTimeout < 0 || cfg.StaleAfter < 0 || cfg.ErrorCooldown < 0 {
		return nil, fmt.Errorf("%w: durations must not be negative", domain.ErrInvalidConfig)
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		entities:  deps.Entities,
		ledger:    deps.Ledger,
		completer: deps.Completer,
		analyzer:  deps.Analyzer,
		clock:     deps.Clock,
		logger:    deps.Logger,
		cfg:       cfg,
	}, nil
}

// RunBatch analyzes up to batchSize pending targets, least recently checked
// first. Per-target failures are recorded in the ledger and never fail the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, batchSize int) (BatchReport, error) {
	if batchSize <= 0 {
		return BatchReport{}, fmt.Errorf("%w: batch size must be > 0, got %d", domain.ErrInvalidConfig, batchSize)
	}

	pending, err := o.ledger.ListPending(ctx, batchSize)
	if err != nil {
		return BatchReport{}, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return BatchReport{}, nil
	}

	jobs := make(chan domain.Target)
	results := make(chan outcome, len(pending))

	workers := min(o.cfg.Workers, len(pending))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range jobs {
				results <- o.process(ctx, target)
			}
		}()
	}

feed:
	for _, st := range pending {
		select {
		case jobs <- st.Target:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	var report BatchReport
	for res := range results {
		report.add(res)
	}
	o.logger.Info("analysis batch finished",
		"selected", len(pending),
		"attempted", report.Attempted,
		"completed", report.Completed,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, ctx.Err()
}

func (o *Orchestrator) process(ctx context.Context, target domain.Target) outcome {
	logger := o.logger.With("target", target.String())

	claim, err := o.ledger.Claim(ctx, target)
	switch {
	case err != nil && domain.IsIntegrity(err):
		logger.Error("pending target has no entity", "err", err)
		return outcomeSkipped
	case err != nil:
		logger.Warn("claim failed", "err", err)
		return outcomeSkipped
	case claim != domain.Claimed:
		logger.Debug("lost claim")
		return outcomeSkipped
	}

	input, err := o.content(ctx, target)
	if err != nil {
		return o.fail(ctx, logger, target, err, !errors.Is(err, domain.ErrNotFound))
	}

	analysis, err := o.analyze(ctx, logger, input)
	if err != nil {
		if ctx.Err() != nil {
			// left in processing; the reclaim scan returns it to pending
			logger.Info("analysis interrupted", "err", ctx.Err())
			return outcomeInterrupted
		}
		return o.fail(ctx, logger, target, err, !domain.IsPermanent(err))
	}

	if err := o.completer.Complete(ctx, target, analysis); err != nil {
		if domain.IsConflict(err) {
			logger.Info("target changed during analysis, result discarded", "err", err)
			return outcomeSkipped
		}
		logger.Warn("complete failed", "err", err)
		return outcomeFailed
	}
	logger.Debug("analysis completed")
	return outcomeCompleted
}

// analyze calls the analyzer up to MaxAttempts times. Permanent failures are not retried.
func (o *Orchestrator) analyze(ctx context.Context, logger *slog.Logger, input domain.AnalysisInput) (domain.Analysis, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		analysis, err := o.analyzeOnce(ctx, input)
		if err == nil {
			return analysis, nil
		}
		lastErr = err
		if ctx.Err() != nil || domain.IsPermanent(err) {
			return domain.Analysis{}, err
		}
		if attempt == o.cfg.MaxAttempts {
			break
		}
		delay := o.cfg.Retry.Delay(attempt)
		logger.Warn("analysis failed, retrying", "attempt", attempt, "delay", delay, "err", err)
		if err := sleep(ctx, delay); err != nil {
			return domain.Analysis{}, err
		}
	}
	return domain.Analysis{}, lastErr
}

func (o *Orchestrator) analyzeOnce(ctx context.Context, input domain.AnalysisInput) (domain.Analysis, error) {
	if o.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
	}
	return o.analyzer.Analyze(ctx, input)
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, target domain.Target, cause error, retryable bool) outcome {
	logger.Warn("analysis failed", "retryable", retryable, "err", cause)
	if err := o.ledger.MarkError(ctx, target, cause.Error(), retryable); err != nil {
		if domain.IsConflict(err) {
			logger.Info("target changed during analysis, failure discarded", "err", err)
			return outcomeSkipped
		}
		logger.Warn("mark error failed", "err", err)
	}
	return outcomeFailed
}

// content loads the target and renders its analysis input. Amendments are
// rendered together with their parent bill when it is stored.
func (o *Orchestrator) content(ctx context.Context, target domain.Target) (domain.AnalysisInput, error) {
	entity, err := o.entities.Get(ctx, target)
	if err != nil {
		return domain.AnalysisInput{}, fmt.Errorf("load %s: %w", target, err)
	}

	switch e := entity.(type) {
	case domain.Bill:
		return domain.BillContent(e), nil
	case domain.Amendment:
		if !e.BillID.Valid {
			return domain.AmendmentContent(e, nil), nil
		}
		parent, err := o.entities.Get(ctx, domain.BillTarget(e.BillID.UUID))
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return domain.AmendmentContent(e, nil), nil
		case err != nil:
			return domain.AnalysisInput{}, fmt.Errorf("load parent of %s: %w", target, err)
		}
		bill := parent.(domain.Bill)
		return domain.AmendmentContent(e, &bill), nil
	default:
		return domain.AnalysisInput{}, fmt.Errorf("load %s: unexpected entity %T", target, entity)
	}
}

// ReclaimStale returns claims older than StaleAfter to pending.
func (o *Orchestrator) ReclaimStale(ctx context.Context) (int64, error) {
	if o.cfg.StaleAfter <= 0 {
		return 0, nil
	}
	n, err := o.ledger.ReclaimStale(ctx, o.clock.Now().Add(-o.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Warn("reclaimed stale claims", "count", n, "stale_after", o.cfg.StaleAfter)
	}
	return n, nil
}

// RequeueErrors returns retryable failures older than ErrorCooldown to pending.
func (o *Orchestrator) RequeueErrors(ctx context.Context) (int64, error) {
	if o.cfg.ErrorCooldown <= 0 {
		return 0, nil
	}
	n, err := o.ledger.RequeueErrors(ctx, o.clock.Now().Add(-o.cfg.ErrorCooldown))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Info("requeued retryable errors", "count", n)
	}
	return n, nil
}

// Maintain runs the reclaim and requeue scans.
func (o *Orchestrator) Maintain(ctx context.Context) error {
	_, reclaimErr := o.ReclaimStale(ctx)
	_, requeueErr := o.RequeueErrors(ctx)
	return errors.Join(reclaimErr, requeueErr)
}
