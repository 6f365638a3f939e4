package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BillType enumerates the legislative vehicles Congress.gov lists.
type BillType string

const (
	BillHR      BillType = "HR"
	BillS       BillType = "S"
	BillHJRES   BillType = "HJRES"
	BillSJRES   BillType = "SJRES"
	BillHCONRES BillType = "HCONRES"
	BillSCONRES BillType = "SCONRES"
	BillHRES    BillType = "HRES"
	BillSRES    BillType = "SRES"
)

var billTypes = map[BillType]Chamber{
	BillHR:      ChamberHouse,
	BillHJRES:   ChamberHouse,
	BillHCONRES: ChamberHouse,
	BillHRES:    ChamberHouse,
	BillS:       ChamberSenate,
	BillSJRES:   ChamberSenate,
	BillSCONRES: ChamberSenate,
	BillSRES:    ChamberSenate,
}

// Valid reports whether the bill type is known.
func (b BillType) Valid() bool {
	_, ok := billTypes[b]
	return ok
}

// ParseBillType normalizes "hr", "H.R." and friends to a BillType.
func ParseBillType(raw string) (BillType, error) {
	bt := BillType(strings.ToUpper(strings.NewReplacer(".", "", " ", "").Replace(raw)))
	if !bt.Valid() {
		return "", fmt.Errorf("unknown bill type %q", raw)
	}
	return bt, nil
}

// Chamber is the originating body.
type Chamber string

const (
	ChamberHouse  Chamber = "house"
	ChamberSenate Chamber = "senate"
)

// ParseChamber accepts "house"/"senate" in any case.
func ParseChamber(raw string) (Chamber, error) {
	c := Chamber(strings.ToLower(strings.TrimSpace(raw)))
	if c != ChamberHouse && c != ChamberSenate {
		return "", fmt.Errorf("unknown chamber %q (valid: house, senate)", raw)
	}
	return c, nil
}

// BillTypes lists the bill types originating in the chamber.
func (c Chamber) BillTypes() []BillType {
	if c == ChamberSenate {
		return []BillType{BillS, BillSJRES, BillSCONRES, BillSRES}
	}
	return []BillType{BillHR, BillHJRES, BillHCONRES, BillHRES}
}

// AmendmentTypes lists the amendment types offered in the chamber.
func (c Chamber) AmendmentTypes() []AmendmentType {
	if c == ChamberSenate {
		return []AmendmentType{AmendmentSAMDT, AmendmentSUAMDT}
	}
	return []AmendmentType{AmendmentHAMDT}
}

// BillKey is the natural identity of a bill.
type BillKey struct {
	Congress int
	Type     BillType
	Number   int
}

// Validate checks the key parts.
func (k BillKey) Validate() error {
	if k.Congress <= 0 {
		return fmt.Errorf("bill key: congress must be positive, got %d", k.Congress)
	}
	if !k.Type.Valid() {
		return fmt.Errorf("bill key: unknown type %q", k.Type)
	}
	if k.Number <= 0 {
		return fmt.Errorf("bill key: number must be positive, got %d", k.Number)
	}
	return nil
}

func (k BillKey) String() string {
	return fmt.Sprintf("%d-%s-%d", k.Congress, k.Type, k.Number)
}

// Bill is a congressional bill as stored locally.
type Bill struct {
	ID  uuid.UUID
	Key BillKey

	Title                       string
	Description                 string
	OriginChamber               string
	OriginChamberCode           string
	IntroducedDate              time.Time
	LatestActionDate            time.Time
	LatestActionText            string
	UpdateDate                  time.Time
	ConstitutionalAuthorityText string
	URL                         string
	Actions                     json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b Bill) Target() Target { return BillTarget(b.ID) }

func (b Bill) Freshness() Freshness {
	return Freshness{UpdateDate: b.UpdateDate, LatestActionDate: b.LatestActionDate}
}

func (Bill) isEntity() {}

// Normalize truncates timestamps to storage precision and compacts the action log,
// so values read back from storage compare equal to what was written.
func (b Bill) Normalize() Bill {
	b.IntroducedDate = storageTime(b.IntroducedDate)
	b.LatestActionDate = storageTime(b.LatestActionDate)
	b.UpdateDate = storageTime(b.UpdateDate)
	b.Actions = compactJSON(b.Actions)
	return b
}

// SameContent compares every persisted attribute except identity and bookkeeping.
func (b Bill) SameContent(o Bill) bool {
	return b.Key == o.Key &&
		b.Title == o.Title &&
		b.Description == o.Description &&
		b.OriginChamber == o.OriginChamber &&
		b.OriginChamberCode == o.OriginChamberCode &&
		b.IntroducedDate.Equal(o.IntroducedDate) &&
		b.LatestActionDate.Equal(o.LatestActionDate) &&
		b.LatestActionText == o.LatestActionText &&
		b.UpdateDate.Equal(o.UpdateDate) &&
		b.ConstitutionalAuthorityText == o.ConstitutionalAuthorityText &&
		b.URL == o.URL &&
		bytes.Equal(b.Actions, o.Actions)
}

// Freshness orders two observations of the same entity.
type Freshness struct {
	UpdateDate       time.Time
	LatestActionDate time.Time
}

// Latest returns the later of the two timestamps.
func (f Freshness) Latest() time.Time {
	if f.LatestActionDate.After(f.UpdateDate) {
		return f.LatestActionDate
	}
	return f.UpdateDate
}

// NotOlderThan reports whether f may overwrite stored. Equal freshness is accepted.
func (f Freshness) NotOlderThan(stored Freshness) bool {
	return !f.Latest().Before(stored.Latest())
}

func storageTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Microsecond)
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage(buf.Bytes())
}
