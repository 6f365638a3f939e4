package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TargetType tags which entity table a target id belongs to.
type TargetType string

const (
	TargetBill      TargetType = "bill"
	TargetAmendment TargetType = "amendment"
)

// Valid reports whether t is one of the two known tags.
func (t TargetType) Valid() bool {
	return t == TargetBill || t == TargetAmendment
}

// Table returns the relation holding entities of this type.
func (t TargetType) Table() string {
	switch t {
	case TargetBill:
		return "bills"
	case TargetAmendment:
		return "amendments"
	default:
		return ""
	}
}

// ParseTargetType accepts the tag in any letter case.
func ParseTargetType(raw string) (TargetType, error) {
	t := TargetType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown target type %q (valid: bill, amendment)", raw)
	}
	return t, nil
}

// Target identifies the thing being analyzed: Bill(id) or Amendment(id).
type Target struct {
	ID   uuid.UUID
	Type TargetType
}

// BillTarget builds the Bill variant.
func BillTarget(id uuid.UUID) Target {
	return Target{ID: id, Type: TargetBill}
}

// AmendmentTarget builds the Amendment variant.
func AmendmentTarget(id uuid.UUID) Target {
	return Target{ID: id, Type: TargetAmendment}
}

// Validate checks the tag and rejects the nil id.
func (t Target) Validate() error {
	if !t.Type.Valid() {
		return fmt.Errorf("target %s: unknown type %q", t.ID, t.Type)
	}
	if t.ID == uuid.Nil {
		return fmt.Errorf("target %s: nil id", t.Type)
	}
	return nil
}

func (t Target) String() string {
	return string(t.Type) + ":" + t.ID.String()
}

// Entity is implemented by Bill and Amendment only.
type Entity interface {
	Target() Target
	Freshness() Freshness
	isEntity()
}
