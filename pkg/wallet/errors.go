package wallet

import "errors"

var (
	// ErrNotFound is returned when a wallet has no projection row yet.
	ErrNotFound = errors.New("wallet: not found")
	// ErrRevisionConflict is returned when the caller's expectedRevision no
	// longer matches the wallet's current projection row.
	ErrRevisionConflict = errors.New("wallet: revision conflict")
	// ErrInsufficientFunds is returned when an operation would drive
	// acct_available or acct_escrow below zero.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	// ErrUnbalancedPosting is returned if a caller-assembled batch of
	// postings does not net to zero across the accounts it touches; this
	// should never surface from this package's own exported operations,
	// only from misuse of Post directly.
	ErrUnbalancedPosting = errors.New("wallet: postings do not net to zero")
	// ErrInvalidSplitPct is returned when releaseRatePct is outside [0,100].
	ErrInvalidSplitPct = errors.New("wallet: split percentage must be between 0 and 100")
)
