package ports

import (
	"context"
	"time"

	"BillsAnalyzer/internal/domain"
)

// PageRequest asks the source for one page of a feed.
type PageRequest struct {
	Feed   domain.Feed
	Since  time.Time
	Offset int
	Limit  int
}

// Page is one page of source records in source order.
type Page struct {
	Bills      []domain.Bill
	Amendments []domain.Amendment
	NextOffset int
	HasMore    bool
}

// Len returns the number of records on the page.
func (p Page) Len() int {
	return len(p.Bills) + len(p.Amendments)
}

// BillSource pulls bills and amendments from the upstream data source.
type BillSource interface {
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// UpsertResult reports what an Entity Store upsert did.
type UpsertResult struct {
	Target  domain.Target
	Created bool
	Changed bool
}

// EntityStore persists bills and amendments keyed by natural identity.
type EntityStore interface {
	UpsertBill(ctx context.Context, bill domain.Bill) (UpsertResult, error)
	UpsertAmendment(ctx context.Context, amendment domain.Amendment) (UpsertResult, error)
	Exists(ctx context.Context, target domain.Target) (bool, error)
	Get(ctx context.Context, target domain.Target) (domain.Entity, error)
	BillByKey(ctx context.Context, key domain.BillKey) (domain.Bill, error)
	AmendmentByKey(ctx context.Context, key domain.AmendmentKey) (domain.Amendment, error)
	Delete(ctx context.Context, target domain.Target) error
}

// StatusLedger owns the per-target processing state machine.
type StatusLedger interface {
	Claim(ctx context.Context, target domain.Target) (domain.ClaimResult, error)
	MarkCompleted(ctx context.Context, target domain.Target) error
	MarkError(ctx context.Context, target domain.Target, message string, retryable bool) error
	Reset(ctx context.Context, target domain.Target) error
	Reflag(ctx context.Context, target domain.Target) (bool, error)
	Get(ctx context.Context, target domain.Target) (domain.ProcessingStatus, error)
	ListPending(ctx context.Context, limit int) ([]domain.ProcessingStatus, error)
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)
	RequeueErrors(ctx context.Context, olderThan time.Time) (int64, error)
	Counts(ctx context.Context) (map[domain.Status]int, error)
}

// SummaryStore persists AI output per target.
type SummaryStore interface {
	Write(ctx context.Context, target domain.Target, analysis domain.Analysis) error
	Get(ctx context.Context, target domain.Target) (domain.AISummary, error)
	Recent(ctx context.Context, limit int) ([]domain.AISummary, error)
}

// Completer writes a summary and moves processing -> completed as one unit.
type Completer interface {
	Complete(ctx context.Context, target domain.Target, analysis domain.Analysis) error
}

// WatermarkStore remembers how far each feed has been synced.
type WatermarkStore interface {
	Watermark(ctx context.Context, feedKey string) (time.Time, bool, error)
	SaveWatermark(ctx context.Context, feedKey string, at time.Time) error
}

// Analyzer is the opaque analysis function.
type Analyzer interface {
	Analyze(ctx context.Context, input domain.AnalysisInput) (domain.Analysis, error)
}

// Scheduler controls when jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// Clock abstracts wall time for storage stamps and staleness checks.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC at storage precision.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
