package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AmendmentType enumerates House, Senate and Senate unprinted amendments.
type AmendmentType string

const (
	AmendmentHAMDT  AmendmentType = "HAMDT"
	AmendmentSAMDT  AmendmentType = "SAMDT"
	AmendmentSUAMDT AmendmentType = "SUAMDT"
)

// Valid reports whether the amendment type is known.
func (a AmendmentType) Valid() bool {
	switch a {
	case AmendmentHAMDT, AmendmentSAMDT, AmendmentSUAMDT:
		return true
	}
	return false
}

// ParseAmendmentType normalizes case.
func ParseAmendmentType(raw string) (AmendmentType, error) {
	at := AmendmentType(strings.ToUpper(strings.TrimSpace(raw)))
	if !at.Valid() {
		return "", fmt.Errorf("unknown amendment type %q", raw)
	}
	return at, nil
}

// AmendmentKey is the natural identity of an amendment.
type AmendmentKey struct {
	Congress int
	Type     AmendmentType
	Number   int
}

// Validate checks the key parts.
func (k AmendmentKey) Validate() error {
	if k.Congress <= 0 {
		return fmt.Errorf("amendment key: congress must be positive, got %d", k.Congress)
	}
	if !k.Type.Valid() {
		return fmt.Errorf("amendment key: unknown type %q", k.Type)
	}
	if k.Number <= 0 {
		return fmt.Errorf("amendment key: number must be positive, got %d", k.Number)
	}
	return nil
}

func (k AmendmentKey) String() string {
	return fmt.Sprintf("%d-%s-%d", k.Congress, k.Type, k.Number)
}

// Amendment is an amendment as stored locally. BillID links to the parent bill
// once that bill is known; AmendedBill carries the source's reference until then.
type Amendment struct {
	ID          uuid.UUID
	Key         AmendmentKey
	BillID      uuid.NullUUID
	AmendedBill *BillKey

	Chamber          string
	Purpose          string
	Description      string
	SubmittedDate    time.Time
	LatestActionDate time.Time
	LatestActionText string
	UpdateDate       time.Time
	URL              string
	Actions          json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Amendment) Target() Target { return AmendmentTarget(a.ID) }

func (a Amendment) Freshness() Freshness {
	return Freshness{UpdateDate: a.UpdateDate, LatestActionDate: a.LatestActionDate}
}

func (Amendment) isEntity() {}

// Normalize mirrors Bill.Normalize.
func (a Amendment) Normalize() Amendment {
	a.SubmittedDate = storageTime(a.SubmittedDate)
	a.LatestActionDate = storageTime(a.LatestActionDate)
	a.UpdateDate = storageTime(a.UpdateDate)
	a.Actions = compactJSON(a.Actions)
	return a
}

// SameContent compares every persisted attribute except identity and bookkeeping.
func (a Amendment) SameContent(o Amendment) bool {
	return a.Key == o.Key &&
		a.BillID == o.BillID &&
		a.Chamber == o.Chamber &&
		a.Purpose == o.Purpose &&
		a.Description == o.Description &&
		a.SubmittedDate.Equal(o.SubmittedDate) &&
		a.LatestActionDate.Equal(o.LatestActionDate) &&
		a.LatestActionText == o.LatestActionText &&
		a.UpdateDate.Equal(o.UpdateDate) &&
		a.URL == o.URL &&
		bytes.Equal(a.Actions, o.Actions)
}
