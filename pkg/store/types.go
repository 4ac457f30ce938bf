// Copyright 2025 Certen Protocol
//
// Transactional Store Types - the five op kinds every commit is built from

package store

import "time"

// GenesisChainHash is the prevChainHash expected for the first event on a
// fresh stream.
const GenesisChainHash = "0000000000000000000000000000000000000000000000000000000000000"

// OpKind tags which of the five commit operations an Op carries.
type OpKind string

const (
	OpEventAppend      OpKind = "EVENT_APPEND"
	OpProjectionUpsert OpKind = "PROJECTION_UPSERT"
	OpArtifactPut      OpKind = "ARTIFACT_PUT"
	OpWalletPost       OpKind = "WALLET_POST"
	OpIdempotencyStore OpKind = "IDEMPOTENCY_STORE"
)

// Op is one operation inside a single atomic commit. Exactly one of the
// typed fields is populated, selected by Kind.
type Op struct {
	Kind        OpKind
	Event       *EventAppendOp
	Projection  *ProjectionUpsertOp
	Artifact    *ArtifactPutOp
	Wallet      *WalletPostOp
	Idempotency *IdempotencyStoreOp
}

// EventAppendOp appends one event to a hash-chained stream, subject to an
// optimistic-concurrency check against both the stream's current revision
// and its current chain hash. The chain hash itself is computed upstream by
// pkg/eventchain (per spec §4.4, over {prevChainHash, id, type, at,
// streamId, payloadHash}) — the store only validates the CAS pair and
// persists whatever hash it is handed; it never derives one itself.
type EventAppendOp struct {
	TenantID              string
	StreamID              string
	EventID               string
	EventType             string
	At                    time.Time
	Actor                 string
	Payload               []byte // canonical JSON
	PayloadHash           string // sha256 hex of Payload
	ChainHash             string // precomputed by the caller, see above
	ExpectedRevision      int64  // revision the new event must become (current length + 1)
	ExpectedPrevChainHash string // must equal the stream's current head chain hash
	SignerKeyID           string // optional: set if the stream requires signed events
	Signature             string // hex Ed25519 signature over ChainHash, if signed
}

// ProjectionUpsertOp replaces (or creates) a read-model row keyed by
// (tenantID, projectionType, key), subject to the same optimistic-CAS
// discipline as EventAppendOp: ExpectedRevision must be exactly one more
// than the row's current stored revision (0 for a row that doesn't exist
// yet), or the commit fails with ErrRevisionConflict. This is the store-level
// enforcement point spec §5 calls for; callers (pkg/wallet, pkg/run,
// pkg/marketplace, pkg/dispute, pkg/x402gate) still read-then-build their
// projection bodies, but the revision check that catches a lost update
// under concurrent writers happens here, not in the engine.
type ProjectionUpsertOp struct {
	TenantID         string
	ProjectionType   string
	Key              string
	Payload          []byte
	ExpectedRevision int64
}

// ArtifactPutOp writes a content-addressed artifact, deduplicated: if an
// artifact with the same type and ContentHash already exists for the
// tenant, the op writes nothing and the commit does not fail.
type ArtifactPutOp struct {
	TenantID     string
	ArtifactType string
	ArtifactID   string
	ContentHash  string
	Body         []byte
}

// WalletPostOp applies one signed delta to one ledger account. Multiple
// WalletPostOps in the same commit must net to zero across all accounts
// touched by that commit (the double-entry conservation invariant);
// enforcing that is the caller's (pkg/wallet's) job, not the store's.
type WalletPostOp struct {
	TenantID   string
	AccountID  string
	DeltaCents int64
	PostingRef string // idempotency ref for this specific posting line
}

// IdempotencyStoreOp records the outcome of a write so a retried request
// with the same (tenantID, idempotencyKey) can be answered without
// re-executing side effects.
type IdempotencyStoreOp struct {
	TenantID        string
	IdempotencyKey  string
	FingerprintHash string
	StatusCode      int
	ResponseBody    []byte
}

// EventRecord is a committed, chain-linked event as stored.
type EventRecord struct {
	TenantID      string
	StreamID      string
	EventID       string
	Revision      int64
	EventType     string
	At            time.Time
	Actor         string
	Payload       []byte
	PayloadHash   string
	PrevChainHash string
	ChainHash     string
	SignerKeyID   string
	Signature     string
	CommittedAt   time.Time
}

// ProjectionRecord is a committed read-model row.
type ProjectionRecord struct {
	TenantID       string
	ProjectionType string
	Key            string
	Payload        []byte
	Revision       int64
	UpdatedAt      time.Time
}

// ArtifactRecord is a committed content-addressed artifact.
type ArtifactRecord struct {
	TenantID     string
	ArtifactType string
	ArtifactID   string
	ContentHash  string
	Body         []byte
	CreatedAt    time.Time
}

// WalletAccountRecord is the running balance for one ledger account.
type WalletAccountRecord struct {
	TenantID      string
	AccountID     string
	BalanceCents  int64
	UpdatedAt     time.Time
}

// IdempotencyRecord is a previously stored write outcome.
type IdempotencyRecord struct {
	TenantID        string
	IdempotencyKey  string
	FingerprintHash string
	StatusCode      int
	ResponseBody    []byte
	CreatedAt       time.Time
}

// CommitResult reports what a successful CommitTx produced, primarily the
// assigned event revisions/chain hashes (everything else round-trips from
// the ops the caller already built).
type CommitResult struct {
	Events []EventRecord
}
