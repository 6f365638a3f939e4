package domain

import (
	"fmt"
	"time"
)

// Status is the processing state of a target.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Statuses lists every state in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusError}

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Stable reports whether the state persists without an owner. Only processing is transient.
func (s Status) Stable() bool {
	return s.Valid() && s != StatusProcessing
}

// ProcessingStatus is the ledger row of one target.
type ProcessingStatus struct {
	Target        Target
	Status        Status
	LastChecked   time.Time
	LastProcessed time.Time
	ErrorMessage  string
	Retryable     bool
	// SourceChanged marks a processing row whose source was amended after the
	// claim. The worker's result is discarded and the row released to pending.
	SourceChanged bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ClaimResult is the outcome of a claim attempt.
type ClaimResult int

const (
	AlreadyClaimed ClaimResult = iota
	Claimed
)

func (c ClaimResult) String() string {
	if c == Claimed {
		return "claimed"
	}
	return "already_claimed"
}

// Transition names a guarded ledger move for diagnostics.
type Transition struct {
	From []Status
	To   Status
}

func (t Transition) String() string {
	return fmt.Sprintf("%v -> %s", t.From, t.To)
}

var (
	TransitionClaim    = Transition{From: []Status{StatusPending}, To: StatusProcessing}
	TransitionComplete = Transition{From: []Status{StatusProcessing}, To: StatusCompleted}
	TransitionFail     = Transition{From: []Status{StatusProcessing}, To: StatusError}
	TransitionReset    = Transition{From: []Status{StatusError}, To: StatusPending}
	// TransitionReflag is the sync-driven reset. In-flight claims are not moved;
	// they are marked source-changed and released by TransitionRelease instead.
	TransitionReflag  = Transition{From: []Status{StatusError, StatusCompleted}, To: StatusPending}
	TransitionRelease = Transition{From: []Status{StatusProcessing}, To: StatusPending}
	TransitionReclaim = Transition{From: []Status{StatusProcessing}, To: StatusPending}
	TransitionRequeue = Transition{From: []Status{StatusError}, To: StatusPending}
)
