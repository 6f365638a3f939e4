package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrInvalidConfig marks configuration values outside their allowed range.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorKind classifies pipeline failures by how callers must react.
type ErrorKind string

const (
	// KindTransientFetch is a network or rate-limit failure talking to the data source.
	KindTransientFetch ErrorKind = "TRANSIENT_FETCH"
	// KindPermanentFetch is a source response that retrying cannot fix.
	KindPermanentFetch ErrorKind = "PERMANENT_FETCH"
	// KindTransientAnalysis is a timeout or rate limit from the analysis function.
	KindTransientAnalysis ErrorKind = "TRANSIENT_ANALYSIS"
	// KindPermanentAnalysis is malformed input or rejected content.
	KindPermanentAnalysis ErrorKind = "PERMANENT_ANALYSIS"
	// KindIntegrityViolation is a write whose target does not resolve under its type.
	KindIntegrityViolation ErrorKind = "INTEGRITY_VIOLATION"
	// KindConflictingTransition is a ledger move attempted from an unexpected state.
	KindConflictingTransition ErrorKind = "CONFLICTING_TRANSITION"
)

// Error carries a kind plus the operation and target it concerns.
type Error struct {
	Kind   ErrorKind
	Op     string
	Target *Target
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Target != nil {
		msg += fmt.Sprintf(" (target=%s)", e.Target)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error without a target.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewTargetError builds an Error about one target.
func NewTargetError(kind ErrorKind, op string, target Target, err error) *Error {
	t := target
	return &Error{Kind: kind, Op: op, Target: &t, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTransientFetch, KindTransientAnalysis:
		return true
	}
	return false
}

// IsPermanent reports whether retrying is pointless until inputs change.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindPermanentFetch, KindPermanentAnalysis:
		return true
	}
	return false
}

// IsConflict reports a benign ledger race.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflictingTransition
}

// IsIntegrity reports a write that referenced a missing target.
func IsIntegrity(err error) bool {
	return KindOf(err) == KindIntegrityViolation
}
