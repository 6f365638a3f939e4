package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"BillsAnalyzer/internal/ports"
)

// Watermarks persists per-feed sync progress.
type Watermarks struct {
	s *Store
}

var _ ports.WatermarkStore = (*Watermarks)(nil)

// Watermark returns the stored watermark and whether one exists.
func (w *Watermarks) Watermark(ctx context.Context, feedKey string) (time.Time, bool, error) {
	row, err := queryRow(ctx, w.s.db, w.s.sb.Select("watermark").From("sync_watermarks").Where(sq.Eq{"feed_key": feedKey}))
	if err != nil {
		return time.Time{}, false, err
	}
	var at time.Time
	if err := row.Scan(&at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("watermark %s: %w", feedKey, err)
	}
	return at.UTC(), true, nil
}

// SaveWatermark records progress for a feed.
func (w *Watermarks) SaveWatermark(ctx context.Context, feedKey string, at time.Time) error {
	now := w.s.clock.Now()
	_, err := exec(ctx, w.s.db, w.s.sb.Insert("sync_watermarks").
		Columns("feed_key", "watermark", "updated_at").
		Values(feedKey, at.UTC(), now).
		Suffix("ON CONFLICT (feed_key) DO UPDATE SET watermark = excluded.watermark, updated_at = excluded.updated_at"))
	if err != nil {
		return fmt.Errorf("save watermark %s: %w", feedKey, err)
	}
	return nil
}
