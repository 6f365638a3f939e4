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

// maxUpsertAttempts bounds the optimistic read-compare-write loop.
const maxUpsertAttempts = 3

var billColumns = []string{
	"id", "congress_number", "bill_type", "bill_number",
	"title", "description", "origin_chamber", "origin_chamber_code",
	"introduced_date", "latest_action_date", "latest_action_text", "update_date",
	"constitutional_authority_text", "url", "actions",
	"revision", "created_at", "updated_at",
}

var amendmentColumns = []string{
	"id", "bill_id", "congress_number", "amendment_type", "amendment_number",
	"chamber", "purpose", "description",
	"submitted_date", "latest_action_date", "latest_action_text", "update_date",
	"url", "actions",
	"revision", "created_at", "updated_at",
}

// Entities is the Entity Store: bills and amendments keyed by natural identity.
type Entities struct {
	s *Store
}

var _ ports.EntityStore = (*Entities)(nil)

// UpsertBill inserts or refreshes a bill. Data older than what is stored is ignored.
// A first insert creates the bill's pending ledger row in the same transaction.
func (e *Entities) UpsertBill(ctx context.Context, bill domain.Bill) (ports.UpsertResult, error) {
	if err := bill.Key.Validate(); err != nil {
		return ports.UpsertResult{}, fmt.Errorf("upsert bill: %w", err)
	}
	incoming := bill.Normalize()

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		res, retry, err := e.tryUpsertBill(ctx, incoming)
		if err != nil {
			return ports.UpsertResult{}, fmt.Errorf("upsert bill %s: %w", bill.Key, err)
		}
		if !retry {
			return res, nil
		}
	}
	return ports.UpsertResult{}, fmt.Errorf("upsert bill %s: lost %d optimistic races", bill.Key, maxUpsertAttempts)
}

func (e *Entities) tryUpsertBill(ctx context.Context, incoming domain.Bill) (res ports.UpsertResult, retry bool, err error) {
	err = e.s.withTx(ctx, func(tx *sql.Tx) error {
		now := e.s.clock.Now()
		stored, revision, err := e.billWhere(ctx, tx, billKeyWhere(incoming.Key))
		switch {
		case errors.Is(err, domain.ErrNotFound):
			incoming.ID = newID()
			inserted, err := e.insertBill(ctx, tx, incoming, now)
			if err != nil {
				return err
			}
			if !inserted {
				retry = true
				return nil
			}
			if _, err := e.s.ensurePending(ctx, tx, incoming.Target(), now); err != nil {
				return err
			}
			res = ports.UpsertResult{Target: incoming.Target(), Created: true}
			return nil
		case err != nil:
			return err
		}

		res.Target = stored.Target()
		if !incoming.Freshness().NotOlderThan(stored.Freshness()) {
			return nil
		}
		incoming.ID = stored.ID
		if incoming.SameContent(stored) {
			return nil
		}

		updated, err := e.updateBill(ctx, tx, incoming, revision, now)
		if err != nil {
			return err
		}
		if !updated {
			retry = true
			return nil
		}
		res.Changed = true
		return nil
	})
	return res, retry, err
}

func (e *Entities) insertBill(ctx context.Context, q querier, b domain.Bill, now time.Time) (bool, error) {
	n, err := execAffected(ctx, q, e.s.sb.Insert("bills").
		Columns(billColumns...).
		Values(
			b.ID.String(), b.Key.Congress, string(b.Key.Type), b.Key.Number,
			b.Title, b.Description, b.OriginChamber, b.OriginChamberCode,
			nullableTime(b.IntroducedDate), nullableTime(b.LatestActionDate), b.LatestActionText, nullableTime(b.UpdateDate),
			b.ConstitutionalAuthorityText, b.URL, nullableJSON(b.Actions),
			1, now, now,
		).
		Suffix("ON CONFLICT (congress_number, bill_type, bill_number) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("insert bill: %w", err)
	}
	return n == 1, nil
}

func (e *Entities) updateBill(ctx context.Context, q querier, b domain.Bill, revision int64, now time.Time) (bool, error) {
	n, err := execAffected(ctx, q, e.s.sb.Update("bills").
		SetMap(map[string]any{
			"title":                         b.Title,
			"description":                   b.Description,
			"origin_chamber":                b.OriginChamber,
			"origin_chamber_code":           b.OriginChamberCode,
			"introduced_date":               nullableTime(b.IntroducedDate),
			"latest_action_date":            nullableTime(b.LatestActionDate),
			"latest_action_text":            b.LatestActionText,
			"update_date":                   nullableTime(b.UpdateDate),
			"constitutional_authority_text": b.ConstitutionalAuthorityText,
			"url":                           b.URL,
			"actions":                       nullableJSON(b.Actions),
			"revision":                      revision + 1,
			"updated_at":                    now,
		}).
		Where(sq.Eq{"id": b.ID.String(), "revision": revision}))
	if err != nil {
		return false, fmt.Errorf("update bill: %w", err)
	}
	return n == 1, nil
}

// UpsertAmendment inserts or refreshes an amendment, linking it to its parent
// bill when that bill is already stored. An established link is never dropped.
func (e *Entities) UpsertAmendment(ctx context.Context, amendment domain.Amendment) (ports.UpsertResult, error) {
	if err := amendment.Key.Validate(); err != nil {
		return ports.UpsertResult{}, fmt.Errorf("upsert amendment: %w", err)
	}
	incoming := amendment.Normalize()

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		res, retry, err := e.tryUpsertAmendment(ctx, incoming)
		if err != nil {
			return ports.UpsertResult{}, fmt.Errorf("upsert amendment %s: %w", amendment.Key, err)
		}
		if !retry {
			return res, nil
		}
	}
	return ports.UpsertResult{}, fmt.Errorf("upsert amendment %s: lost %d optimistic races", amendment.Key, maxUpsertAttempts)
}

func (e *Entities) tryUpsertAmendment(ctx context.Context, incoming domain.Amendment) (res ports.UpsertResult, retry bool, err error) {
	err = e.s.withTx(ctx, func(tx *sql.Tx) error {
		now := e.s.clock.Now()

		if !incoming.BillID.Valid && incoming.AmendedBill != nil {
			parent, _, err := e.billWhere(ctx, tx, billKeyWhere(*incoming.AmendedBill))
			switch {
			case err == nil:
				incoming.BillID.UUID = parent.ID
				incoming.BillID.Valid = true
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
		}

		stored, revision, err := e.amendmentWhere(ctx, tx, amendmentKeyWhere(incoming.Key))
		switch {
		case errors.Is(err, domain.ErrNotFound):
			incoming.ID = newID()
			inserted, err := e.insertAmendment(ctx, tx, incoming, now)
			if err != nil {
				return err
			}
			if !inserted {
				retry = true
				return nil
			}
			if _, err := e.s.ensurePending(ctx, tx, incoming.Target(), now); err != nil {
				return err
			}
			res = ports.UpsertResult{Target: incoming.Target(), Created: true}
			return nil
		case err != nil:
			return err
		}

		res.Target = stored.Target()
		if !incoming.Freshness().NotOlderThan(stored.Freshness()) {
			return nil
		}
		incoming.ID = stored.ID
		if !incoming.BillID.Valid {
			incoming.BillID = stored.BillID
		}
		if incoming.SameContent(stored) {
			return nil
		}

		updated, err := e.updateAmendment(ctx, tx, incoming, revision, now)
		if err != nil {
			return err
		}
		if !updated {
			retry = true
			return nil
		}
		res.Changed = true
		return nil
	})
	return res, retry, err
}

func (e *Entities) insertAmendment(ctx context.Context, q querier, a domain.Amendment, now time.Time) (bool, error) {
	n, err := execAffected(ctx, q, e.s.sb.Insert("amendments").
		Columns(amendmentColumns...).
		Values(
			a.ID.String(), nullableID(a.BillID), a.Key.Congress, string(a.Key.Type), a.Key.Number,
			a.Chamber, a.Purpose, a.Description,
			nullableTime(a.SubmittedDate), nullableTime(a.LatestActionDate), a.LatestActionText, nullableTime(a.UpdateDate),
			a.URL, nullableJSON(a.Actions),
			1, now, now,
		).
		Suffix("ON CONFLICT (congress_number, amendment_type, amendment_number) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("insert amendment: %w", err)
	}
	return n == 1, nil
}

func (e *Entities) updateAmendment(ctx context.Context, q querier, a domain.Amendment, revision int64, now time.Time) (bool, error) {
	n, err := execAffected(ctx, q, e.s.sb.Update("amendments").
		SetMap(map[string]any{
			"bill_id":            nullableID(a.BillID),
			"chamber":            a.Chamber,
			"purpose":            a.Purpose,
			"description":        a.Description,
			"submitted_date":     nullableTime(a.SubmittedDate),
			"latest_action_date": nullableTime(a.LatestActionDate),
			"latest_action_text": a.LatestActionText,
			"update_date":        nullableTime(a.UpdateDate),
			"url":                a.URL,
			"actions":            nullableJSON(a.Actions),
			"revision":           revision + 1,
			"updated_at":         now,
		}).
		Where(sq.Eq{"id": a.ID.String(), "revision": revision}))
	if err != nil {
		return false, fmt.Errorf("update amendment: %w", err)
	}
	return n == 1, nil
}

// Exists reports whether the target resolves in the table its type names.
func (e *Entities) Exists(ctx context.Context, target domain.Target) (bool, error) {
	if err := target.Validate(); err != nil {
		return false, nil
	}
	return e.s.exists(ctx, e.s.db, target)
}

// Get loads the entity behind a target, or domain.ErrNotFound.
func (e *Entities) Get(ctx context.Context, target domain.Target) (domain.Entity, error) {
	where := sq.Eq{"id": target.ID.String()}
	switch target.Type {
	case domain.TargetBill:
		bill, _, err := e.billWhere(ctx, e.s.db, where)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", target, err)
		}
		return bill, nil
	case domain.TargetAmendment:
		amendment, _, err := e.amendmentWhere(ctx, e.s.db, where)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", target, err)
		}
		return amendment, nil
	default:
		return nil, fmt.Errorf("get %s: unknown target type: %w", target, domain.ErrNotFound)
	}
}

// BillByKey looks a bill up by natural key.
func (e *Entities) BillByKey(ctx context.Context, key domain.BillKey) (domain.Bill, error) {
	bill, _, err := e.billWhere(ctx, e.s.db, billKeyWhere(key))
	if err != nil {
		return domain.Bill{}, fmt.Errorf("bill %s: %w", key, err)
	}
	return bill, nil
}

// AmendmentByKey looks an amendment up by natural key.
func (e *Entities) AmendmentByKey(ctx context.Context, key domain.AmendmentKey) (domain.Amendment, error) {
	amendment, _, err := e.amendmentWhere(ctx, e.s.db, amendmentKeyWhere(key))
	if err != nil {
		return domain.Amendment{}, fmt.Errorf("amendment %s: %w", key, err)
	}
	return amendment, nil
}

// Delete removes a target together with its ledger row and summary. Amendments
// of a deleted bill keep existing with their parent link cleared.
func (e *Entities) Delete(ctx context.Context, target domain.Target) error {
	if err := target.Validate(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return e.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := exec(ctx, tx, e.s.sb.Delete("ai_summaries").Where(targetWhere(target))); err != nil {
			return fmt.Errorf("delete summary of %s: %w", target, err)
		}
		if _, err := exec(ctx, tx, e.s.sb.Delete("processing_status").Where(targetWhere(target))); err != nil {
			return fmt.Errorf("delete status of %s: %w", target, err)
		}
		if target.Type == domain.TargetBill {
			if _, err := exec(ctx, tx, e.s.sb.Update("amendments").
				Set("bill_id", nil).
				Where(sq.Eq{"bill_id": target.ID.String()})); err != nil {
				return fmt.Errorf("unlink amendments of %s: %w", target, err)
			}
		}
		n, err := execAffected(ctx, tx, e.s.sb.Delete(target.Type.Table()).Where(sq.Eq{"id": target.ID.String()}))
		if err != nil {
			return fmt.Errorf("delete %s: %w", target, err)
		}
		if n == 0 {
			return fmt.Errorf("delete %s: %w", target, domain.ErrNotFound)
		}
		return nil
	})
}

func billKeyWhere(k domain.BillKey) sq.Eq {
	return sq.Eq{"congress_number": k.Congress, "bill_type": string(k.Type), "bill_number": k.Number}
}

func amendmentKeyWhere(k domain.AmendmentKey) sq.Eq {
	return sq.Eq{"congress_number": k.Congress, "amendment_type": string(k.Type), "amendment_number": k.Number}
}

func (e *Entities) billWhere(ctx context.Context, q querier, where sq.Sqlizer) (domain.Bill, int64, error) {
	row, err := queryRow(ctx, q, e.s.sb.Select(billColumns...).From("bills").Where(where))
	if err != nil {
		return domain.Bill{}, 0, err
	}
	return scanBill(row)
}

func (e *Entities) amendmentWhere(ctx context.Context, q querier, where sq.Sqlizer) (domain.Amendment, int64, error) {
	row, err := queryRow(ctx, q, e.s.sb.Select(amendmentColumns...).From("amendments").Where(where))
	if err != nil {
		return domain.Amendment{}, 0, err
	}
	return scanAmendment(row)
}

func scanBill(row rowScanner) (domain.Bill, int64, error) {
	var (
		b                                    domain.Bill
		billType                             string
		introduced, latestAction, updateDate sql.NullTime
		actions                              sql.NullString
		revision                             int64
	)
	err := row.Scan(
		&b.ID, &b.Key.Congress, &billType, &b.Key.Number,
		&b.Title, &b.Description, &b.OriginChamber, &b.OriginChamberCode,
		&introduced, &latestAction, &b.LatestActionText, &updateDate,
		&b.ConstitutionalAuthorityText, &b.URL, &actions,
		&revision, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bill{}, 0, domain.ErrNotFound
	}
	if err != nil {
		return domain.Bill{}, 0, fmt.Errorf("scan bill: %w", err)
	}
	b.Key.Type = domain.BillType(billType)
	b.IntroducedDate = timeOf(introduced)
	b.LatestActionDate = timeOf(latestAction)
	b.UpdateDate = timeOf(updateDate)
	b.Actions = jsonOf(actions)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, revision, nil
}

func scanAmendment(row rowScanner) (domain.Amendment, int64, error) {
	var (
		a                                   domain.Amendment
		amendmentType                       string
		submitted, latestAction, updateDate sql.NullTime
		actions                             sql.NullString
		revision                            int64
	)
	err := row.Scan(
		&a.ID, &a.BillID, &a.Key.Congress, &amendmentType, &a.Key.Number,
		&a.Chamber, &a.Purpose, &a.Description,
		&submitted, &latestAction, &a.LatestActionText, &updateDate,
		&a.URL, &actions,
		&revision, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Amendment{}, 0, domain.ErrNotFound
	}
	if err != nil {
		return domain.Amendment{}, 0, fmt.Errorf("scan amendment: %w", err)
	}
	a.Key.Type = domain.AmendmentType(amendmentType)
	a.SubmittedDate = timeOf(submitted)
	a.LatestActionDate = timeOf(latestAction)
	a.UpdateDate = timeOf(updateDate)
	a.Actions = jsonOf(actions)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, revision, nil
}
