package run

import "errors"

var (
	// ErrNotFound is returned when a run or settlement projection doesn't exist.
	ErrNotFound = errors.New("run: not found")
	// ErrInvalidTransition is returned when an event type is not legal from
	// the run's current status.
	ErrInvalidTransition = errors.New("run: invalid status transition")
	// ErrTerminalRun is returned when an append is attempted against a run
	// already in a terminal status (completed/failed).
	ErrTerminalRun = errors.New("run: run is in a terminal state")
	// ErrSettlementNotFound is returned by settlement-specific reads when
	// the run has no inline settlement.
	ErrSettlementNotFound = errors.New("run: settlement not found")
	// ErrNotManualReview is returned when ResolveSettlement is called on a
	// settlement whose decisionStatus isn't manual_review_required.
	ErrNotManualReview = errors.New("run: settlement is not awaiting manual review")
)
