// Copyright 2025 Certen Protocol
//
// Transactional Store - the commit boundary every write path goes through

package store

import "context"

// Store is the abstraction every write path in the engine commits through.
// A single call to CommitTx is atomic: either every op in the batch lands,
// or none of it does. Implementations back this with whatever isolation
// mechanism fits the backend (a mutex for the in-memory store, a
// SERIALIZABLE transaction for Postgres, a single-writer KV batch for the
// embedded backend) — callers never see the difference.
type Store interface {
	// CommitTx applies ops atomically. EventAppendOp entries are checked
	// against both ExpectedRevision and ExpectedPrevChainHash before
	// anything is written; a mismatch on either aborts the whole commit
	// with ErrRevisionConflict or ErrChainHashMismatch and leaves the store
	// untouched.
	CommitTx(ctx context.Context, ops []Op) (*CommitResult, error)

	// GetEventStream returns every event on streamID in revision order.
	GetEventStream(ctx context.Context, tenantID, streamID string) ([]EventRecord, error)

	// GetLatestEvent returns the highest-revision event on streamID, or
	// ErrEventNotFound if the stream doesn't exist yet.
	GetLatestEvent(ctx context.Context, tenantID, streamID string) (*EventRecord, error)

	// GetProjection returns the current row for (projectionType, key).
	GetProjection(ctx context.Context, tenantID, projectionType, key string) (*ProjectionRecord, error)

	// GetArtifact returns an artifact by ID.
	GetArtifact(ctx context.Context, tenantID, artifactID string) (*ArtifactRecord, error)

	// GetArtifactByContentHash looks an artifact up by its content address,
	// used by ArtifactPutOp's dedup check and by callers that only know the
	// hash.
	GetArtifactByContentHash(ctx context.Context, tenantID, artifactType, contentHash string) (*ArtifactRecord, error)

	// GetWalletBalance returns the current running balance for an account.
	GetWalletBalance(ctx context.Context, tenantID, accountID string) (int64, error)

	// GetIdempotency returns a previously stored write outcome, or
	// ErrIdempotencyNotFound.
	GetIdempotency(ctx context.Context, tenantID, idempotencyKey string) (*IdempotencyRecord, error)

	// Close releases any resources (connections, file handles) held by the
	// backend.
	Close() error
}
