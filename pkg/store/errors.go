package store

import "errors"

var (
	// ErrRevisionConflict is returned when EventAppendOp.ExpectedRevision
	// does not match the stream's actual next revision.
	ErrRevisionConflict = errors.New("store: revision conflict")
	// ErrChainHashMismatch is returned when EventAppendOp.ExpectedPrevChainHash
	// does not match the stream's actual current chain hash.
	ErrChainHashMismatch = errors.New("store: chain hash mismatch")
	// ErrEventNotFound is returned when a stream/revision lookup misses.
	ErrEventNotFound = errors.New("store: event not found")
	// ErrProjectionNotFound is returned when a projection lookup misses.
	ErrProjectionNotFound = errors.New("store: projection not found")
	// ErrArtifactNotFound is returned when an artifact lookup misses.
	ErrArtifactNotFound = errors.New("store: artifact not found")
	// ErrWalletAccountNotFound is returned when a wallet account has never
	// been posted to.
	ErrWalletAccountNotFound = errors.New("store: wallet account not found")
	// ErrIdempotencyNotFound is returned when no record exists yet for a
	// given (tenantID, idempotencyKey).
	ErrIdempotencyNotFound = errors.New("store: idempotency record not found")
	// ErrIdempotencyFingerprintMismatch is returned when a request replays
	// an idempotency key with a different request fingerprint — the same
	// key was reused for a materially different request.
	ErrIdempotencyFingerprintMismatch = errors.New("store: idempotency key reused with a different request fingerprint")
	// ErrEmptyCommit is returned when CommitTx is called with no ops.
	ErrEmptyCommit = errors.New("store: commit must contain at least one operation")
)
