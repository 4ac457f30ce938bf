package dispute

import "errors"

var (
	// ErrNotFound is returned when a dispute projection doesn't exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrAlreadyOpen is returned when opening a dispute on a settlement
	// that already has one open.
	ErrAlreadyOpen = errors.New("dispute: already open")
	// ErrNotOpen is returned when evidence, escalation, or close is
	// attempted against a dispute that isn't open.
	ErrNotOpen = errors.New("dispute: not open")
	// ErrEscalationBackwards is returned when a requested escalation level
	// doesn't rank strictly ahead of the dispute's current level.
	ErrEscalationBackwards = errors.New("dispute: escalation may only move forward")
	// ErrUnknownEscalationLevel is returned for an escalationLevel outside
	// {l1_counterparty, l2_arbiter, l3_external}.
	ErrUnknownEscalationLevel = errors.New("dispute: unknown escalation level")
	// ErrVerdictHashMismatch is returned when replaying a verdict's
	// signature against its stored hash fails — spec §4.9's
	// CLOSEPACK_BINDING_VERDICT_HASH_MISMATCH.
	ErrVerdictHashMismatch = errors.New("dispute: verdict hash mismatch")
	// ErrPanelQuorumNotMet is returned when no l3_external panel members are
	// named, or when fewer panel signatures are supplied than a majority of
	// the named members (members/2+1). An aggregate that fails to verify is
	// reported as ErrVerdictHashMismatch instead.
	ErrPanelQuorumNotMet = errors.New("dispute: arbitration panel quorum not met")
)
