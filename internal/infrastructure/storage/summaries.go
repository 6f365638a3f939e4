package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/ports"
)

var summaryColumns = []string{
	"target_id", "target_type", "summary", "perspective", "key_points",
	"estimated_cost_impact", "government_growth_analysis", "market_impact_analysis", "liberty_impact_analysis",
	"created_at", "updated_at",
}

// Summaries is the Summary Store.
type Summaries struct {
	s *Store
}

var (
	_ ports.SummaryStore = (*Summaries)(nil)
	_ ports.Completer    = (*Summaries)(nil)
)

// Write validates the target and replaces any prior summary for it.
func (m *Summaries) Write(ctx context.Context, target domain.Target, analysis domain.Analysis) error {
	if err := analysis.Validate(); err != nil {
		return fmt.Errorf("write summary %s: %w", target, err)
	}
	return m.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := m.s.validateTarget(ctx, tx, "write summary", target); err != nil {
			return err
		}
		return m.upsert(ctx, tx, target, analysis, m.s.clock.Now())
	})
}

// Complete writes the summary and moves processing -> completed in one
// transaction. If the row left processing meanwhile (a reclaim took it back)
// nothing is written and a conflict is returned. If a sync marked the source
// changed, the summary is dropped, the row is released to pending and a
// conflict is returned as well.
func (m *Summaries) Complete(ctx context.Context, target domain.Target, analysis domain.Analysis) error {
	if err := analysis.Validate(); err != nil {
		return fmt.Errorf("complete %s: %w", target, err)
	}
	var released bool
	err := m.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := m.s.validateTarget(ctx, tx, "complete", target); err != nil {
			return err
		}
		now := m.s.clock.Now()
		var err error
		released, err = m.s.finishClaim(ctx, tx, "complete", target, domain.TransitionComplete, now, map[string]any{
			"last_processed": now,
			"error_message":  "",
			"retryable":      false,
		})
		if err != nil || released {
			return err
		}
		return m.upsert(ctx, tx, target, analysis, now)
	})
	if err != nil {
		return err
	}
	if released {
		return releasedError("complete", target)
	}
	return nil
}

func (m *Summaries) upsert(ctx context.Context, q querier, target domain.Target, a domain.Analysis, now time.Time) error {
	keyPoints := a.KeyPoints
	if keyPoints == nil {
		keyPoints = []string{}
	}
	encoded, err := json.Marshal(keyPoints)
	if err != nil {
		return fmt.Errorf("marshal key points: %w", err)
	}

	_, err = exec(ctx, q, m.s.sb.Insert("ai_summaries").
		Columns(summaryColumns...).
		Values(
			target.ID.String(), string(target.Type), a.Summary, a.Perspective, string(encoded),
			a.EstimatedCostImpact, a.GovernmentGrowthAnalysis, a.MarketImpactAnalysis, a.LibertyImpactAnalysis,
			now, now,
		).
		Suffix(`ON CONFLICT (target_id, target_type) DO UPDATE SET
			summary = excluded.summary,
			perspective = excluded.perspective,
			key_points = excluded.key_points,
			estimated_cost_impact = excluded.estimated_cost_impact,
			government_growth_analysis = excluded.government_growth_analysis,
			market_impact_analysis = excluded.market_impact_analysis,
			liberty_impact_analysis = excluded.liberty_impact_analysis,
			updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("upsert summary %s: %w", target, err)
	}
	return nil
}

// Get returns the summary of a target, or domain.ErrNotFound.
func (m *Summaries) Get(ctx context.Context, target domain.Target) (domain.AISummary, error) {
	row, err := queryRow(ctx, m.s.db, m.s.sb.Select(summaryColumns...).From("ai_summaries").Where(targetWhere(target)))
	if err != nil {
		return domain.AISummary{}, err
	}
	summary, err := scanSummary(row)
	if err != nil {
		return domain.AISummary{}, fmt.Errorf("summary of %s: %w", target, err)
	}
	return summary, nil
}

// Recent returns the most recently written summaries.
func (m *Summaries) Recent(ctx context.Context, limit int) ([]domain.AISummary, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := queryRows(ctx, m.s.db, m.s.sb.Select(summaryColumns...).
		From("ai_summaries").
		OrderBy("updated_at DESC", "target_id ASC").
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("recent summaries: %w", err)
	}
	defer rows.Close()

	var out []domain.AISummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func scanSummary(row rowScanner) (domain.AISummary, error) {
	var (
		s          domain.AISummary
		targetType string
		keyPoints  string
	)
	err := row.Scan(
		&s.Target.ID, &targetType, &s.Summary, &s.Perspective, &keyPoints,
		&s.EstimatedCostImpact, &s.GovernmentGrowthAnalysis, &s.MarketImpactAnalysis, &s.LibertyImpactAnalysis,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AISummary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AISummary{}, fmt.Errorf("scan summary: %w", err)
	}
	s.Target.Type = domain.TargetType(targetType)
	if keyPoints != "" {
		if err := json.Unmarshal([]byte(keyPoints), &s.KeyPoints); err != nil {
			return domain.AISummary{}, fmt.Errorf("decode key points: %w", err)
		}
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}
