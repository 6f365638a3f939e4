package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/ports"
)

const (
	reclaimMessage = "reclaimed stale claim"
	releaseMessage = "source changed during analysis, claim released to pending"
)

var statusColumns = []string{
	"target_id", "target_type", "status", "last_checked", "last_processed",
	"error_message", "retryable", "source_changed", "created_at", "updated_at",
}

// Ledger is the Status Ledger. Every transition is a single conditional UPDATE
// on one processing_status row; that row is the only lock in the pipeline.
type Ledger struct {
	s *Store
}

var _ ports.StatusLedger = (*Ledger)(nil)

// Claim moves pending -> processing. Exactly one concurrent caller wins.
func (l *Ledger) Claim(ctx context.Context, target domain.Target) (domain.ClaimResult, error) {
	moved, err := l.transition(ctx, "claim", target, domain.TransitionClaim, nil)
	if err != nil {
		return domain.AlreadyClaimed, err
	}
	if !moved {
		return domain.AlreadyClaimed, nil
	}
	return domain.Claimed, nil
}

// MarkCompleted moves processing -> completed. A claim whose source changed
// meanwhile is released to pending instead and a conflict is returned.
func (l *Ledger) MarkCompleted(ctx context.Context, target domain.Target) error {
	now := l.s.clock.Now()
	return l.finish(ctx, "mark completed", target, domain.TransitionComplete, map[string]any{
		"last_processed": now,
		"error_message":  "",
		"retryable":      false,
	})
}

// MarkError moves processing -> error and records why. Like MarkCompleted it
// releases a source-changed claim to pending.
func (l *Ledger) MarkError(ctx context.Context, target domain.Target, message string, retryable bool) error {
	now := l.s.clock.Now()
	return l.finish(ctx, "mark error", target, domain.TransitionFail, map[string]any{
		"last_processed": now,
		"error_message":  message,
		"retryable":      retryable,
	})
}

// Reset is the manual error -> pending move. A target without a ledger row
// gets a fresh pending one. Completed rows go back to pending only through a
// sync that saw changed source data.
func (l *Ledger) Reset(ctx context.Context, target domain.Target) error {
	return l.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := l.s.validateTarget(ctx, tx, "reset", target); err != nil {
			return err
		}
		now := l.s.clock.Now()
		inserted, err := l.s.ensurePending(ctx, tx, target, now)
		if err != nil || inserted {
			return err
		}
		moved, err := l.s.applyTransition(ctx, tx, target, domain.TransitionReset, now, resetFields())
		if err != nil {
			return err
		}
		if !moved {
			return l.s.conflict(ctx, tx, "reset", target, domain.TransitionReset)
		}
		return nil
	})
}

// Reflag is the sync-side reset after source data changed. It creates the row
// when missing and is a no-op for targets already pending. A processing row
// keeps its status and owner; it is marked source-changed so the worker's
// result is dropped and the row released when that worker finishes.
func (l *Ledger) Reflag(ctx context.Context, target domain.Target) (bool, error) {
	var flagged bool
	err := l.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := l.s.validateTarget(ctx, tx, "reflag", target); err != nil {
			return err
		}
		now := l.s.clock.Now()
		inserted, err := l.s.ensurePending(ctx, tx, target, now)
		if err != nil {
			return err
		}
		if inserted {
			flagged = true
			return nil
		}
		marked, err := execAffected(ctx, tx, l.s.sb.Update("processing_status").
			Set("source_changed", true).
			Set("updated_at", now).
			Where(targetWhere(target)).
			Where(sq.Eq{"status": string(domain.StatusProcessing)}))
		if err != nil {
			return fmt.Errorf("mark source changed %s: %w", target, err)
		}
		if marked == 1 {
			flagged = true
			return nil
		}
		flagged, err = l.s.applyTransition(ctx, tx, target, domain.TransitionReflag, now, resetFields())
		return err
	})
	return flagged, err
}

// Get returns the ledger row of a target.
func (l *Ledger) Get(ctx context.Context, target domain.Target) (domain.ProcessingStatus, error) {
	row, err := queryRow(ctx, l.s.db, l.s.sb.Select(statusColumns...).From("processing_status").Where(targetWhere(target)))
	if err != nil {
		return domain.ProcessingStatus{}, err
	}
	st, err := scanStatus(row)
	if err != nil {
		return domain.ProcessingStatus{}, fmt.Errorf("status of %s: %w", target, err)
	}
	return st, nil
}

// ListPending returns up to limit pending rows, least recently checked first.
func (l *Ledger) ListPending(ctx context.Context, limit int) ([]domain.ProcessingStatus, error) {
	return l.list(ctx, l.s.sb.Select(statusColumns...).
		From("processing_status").
		Where(sq.Eq{"status": string(domain.StatusPending)}).
		OrderBy("last_checked ASC", "target_id ASC").
		Limit(uint64(limit)))
}

// ListByStatus returns rows in the given state, most recently checked first.
func (l *Ledger) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.ProcessingStatus, error) {
	return l.list(ctx, l.s.sb.Select(statusColumns...).
		From("processing_status").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("last_checked DESC", "target_id ASC").
		Limit(uint64(limit)))
}

// ReclaimStale returns processing rows not touched since olderThan to pending.
func (l *Ledger) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	now := l.s.clock.Now()
	n, err := execAffected(ctx, l.s.db, l.s.sb.Update("processing_status").
		Set("status", string(domain.TransitionReclaim.To)).
		Set("error_message", reclaimMessage).
		Set("source_changed", false).
		Set("last_checked", now).
		Set("updated_at", now).
		Where(sq.Eq{"status": statusStrings(domain.TransitionReclaim.From)}).
		Where(sq.Lt{"last_checked": olderThan.UTC()}))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return n, nil
}

// RequeueErrors returns retryable error rows not touched since olderThan to pending.
func (l *Ledger) RequeueErrors(ctx context.Context, olderThan time.Time) (int64, error) {
	now := l.s.clock.Now()
	n, err := execAffected(ctx, l.s.db, l.s.sb.Update("processing_status").
		Set("status", string(domain.TransitionRequeue.To)).
		Set("last_checked", now).
		Set("updated_at", now).
		Where(sq.Eq{"status": statusStrings(domain.TransitionRequeue.From), "retryable": true}).
		Where(sq.Lt{"last_checked": olderThan.UTC()}))
	if err != nil {
		return 0, fmt.Errorf("requeue errors: %w", err)
	}
	return n, nil
}

// Counts returns the number of rows per status; absent states map to zero.
func (l *Ledger) Counts(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := queryRows(ctx, l.s.db, l.s.sb.Select("status", "COUNT(*)").From("processing_status").GroupBy("status"))
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int, len(domain.Statuses))
	for _, st := range domain.Statuses {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

func (l *Ledger) list(ctx context.Context, b sq.SelectBuilder) ([]domain.ProcessingStatus, error) {
	rows, err := queryRows(ctx, l.s.db, b)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessingStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (l *Ledger) transition(ctx context.Context, op string, target domain.Target, tr domain.Transition, fields map[string]any) (bool, error) {
	var moved bool
	err := l.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := l.s.validateTarget(ctx, tx, op, target); err != nil {
			return err
		}
		var err error
		moved, err = l.s.applyTransition(ctx, tx, target, tr, l.s.clock.Now(), fields)
		return err
	})
	return moved, err
}

func (l *Ledger) finish(ctx context.Context, op string, target domain.Target, tr domain.Transition, fields map[string]any) error {
	var released bool
	err := l.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := l.s.validateTarget(ctx, tx, op, target); err != nil {
			return err
		}
		var err error
		released, err = l.s.finishClaim(ctx, tx, op, target, tr, l.s.clock.Now(), fields)
		return err
	})
	if err != nil {
		return err
	}
	if released {
		return releasedError(op, target)
	}
	return nil
}

func resetFields() map[string]any {
	return map[string]any{"error_message": "", "retryable": false}
}

// ensurePending inserts a pending row unless the target already has one.
func (s *Store) ensurePending(ctx context.Context, q querier, target domain.Target, now time.Time) (bool, error) {
	n, err := execAffected(ctx, q, s.sb.Insert("processing_status").
		Columns("target_id", "target_type", "status", "last_checked", "error_message", "retryable", "created_at", "updated_at").
		Values(target.ID.String(), string(target.Type), string(domain.StatusPending), now, "", false, now, now).
		Suffix("ON CONFLICT (target_id, target_type) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("ensure pending %s: %w", target, err)
	}
	return n == 1, nil
}

// finishClaim ends a processing claim with tr. A source-changed claim is
// released to pending instead and reported with released=true; the caller must
// still commit so the release sticks.
func (s *Store) finishClaim(ctx context.Context, q querier, op string, target domain.Target, tr domain.Transition, now time.Time, fields map[string]any) (bool, error) {
	moved, err := s.applyTransitionWhere(ctx, q, target, tr, now, fields, sq.Eq{"source_changed": false})
	if err != nil {
		return false, err
	}
	if moved {
		return false, nil
	}
	released, err := s.applyTransitionWhere(ctx, q, target, domain.TransitionRelease, now, map[string]any{
		"source_changed": false,
		"error_message":  "",
		"retryable":      false,
	}, sq.Eq{"source_changed": true})
	if err != nil {
		return false, err
	}
	if released {
		return true, nil
	}
	return false, s.conflict(ctx, q, op, target, tr)
}

func releasedError(op string, target domain.Target) error {
	return domain.NewTargetError(domain.KindConflictingTransition, op, target, errors.New(releaseMessage))
}

// applyTransition runs the guarded UPDATE and reports whether the row moved.
func (s *Store) applyTransition(ctx context.Context, q querier, target domain.Target, tr domain.Transition, now time.Time, fields map[string]any) (bool, error) {
	return s.applyTransitionWhere(ctx, q, target, tr, now, fields, nil)
}

func (s *Store) applyTransitionWhere(ctx context.Context, q querier, target domain.Target, tr domain.Transition, now time.Time, fields map[string]any, guard sq.Sqlizer) (bool, error) {
	b := s.sb.Update("processing_status").
		Set("status", string(tr.To)).
		Set("last_checked", now).
		Set("updated_at", now).
		Where(targetWhere(target)).
		Where(sq.Eq{"status": statusStrings(tr.From)})
	if guard != nil {
		b = b.Where(guard)
	}
	if len(fields) > 0 {
		b = b.SetMap(fields)
	}

	n, err := execAffected(ctx, q, b)
	if err != nil {
		return false, fmt.Errorf("transition %s %s: %w", target, tr, err)
	}
	return n == 1, nil
}

func statusStrings(states []domain.Status) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}

func (s *Store) conflict(ctx context.Context, q querier, op string, target domain.Target, tr domain.Transition) error {
	current := "missing"
	row, err := queryRow(ctx, q, s.sb.Select("status").From("processing_status").Where(targetWhere(target)))
	if err == nil {
		var st string
		if scanErr := row.Scan(&st); scanErr == nil {
			current = st
		} else if !errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("%s: read current status: %w", op, scanErr)
		}
	}
	return domain.NewTargetError(domain.KindConflictingTransition, op, target,
		fmt.Errorf("expected %v -> %s, found %s", tr.From, tr.To, current))
}

func scanStatus(row rowScanner) (domain.ProcessingStatus, error) {
	var (
		st            domain.ProcessingStatus
		targetType    string
		status        string
		lastProcessed sql.NullTime
	)
	err := row.Scan(
		&st.Target.ID, &targetType, &status, &st.LastChecked, &lastProcessed,
		&st.ErrorMessage, &st.Retryable, &st.SourceChanged, &st.CreatedAt, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProcessingStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ProcessingStatus{}, fmt.Errorf("scan status: %w", err)
	}
	st.Target.Type = domain.TargetType(targetType)
	st.Status = domain.Status(status)
	st.LastChecked = st.LastChecked.UTC()
	st.LastProcessed = timeOf(lastProcessed)
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}
