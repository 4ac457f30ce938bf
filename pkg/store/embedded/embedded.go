// Copyright 2025 Certen Protocol
//
// Embedded Store - single-writer KV backend for standalone deployments

package embedded

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/nooterra-core/pkg/store"
)

// Key layout, the same "ASCII prefix + big-endian numeric suffix" idiom
// teacher's pkg/ledger/store.go uses for its system/anchor ledger keys,
// extended here with a NUL-separated tenant scope ahead of each prefix.
var (
	prefixEvent         = []byte("evt:")
	prefixEventHead     = []byte("evthead:")
	prefixProjection    = []byte("proj:")
	prefixArtifact      = []byte("art:")
	prefixArtifactHash  = []byte("artbyhash:")
	prefixWallet        = []byte("wallet:")
	prefixWalletPosting = []byte("walletpost:")
	prefixIdempotency   = []byte("idem:")
)

func scoped(parts ...string) []byte {
	out := make([]byte, 0, 32)
	for i, p := range parts {
		if i > 0 {
			out = append(out, 0x00)
		}
		out = append(out, p...)
	}
	return out
}

func eventKey(tenantID, streamID string, revision int64) []byte {
	rev := make([]byte, 8)
	binary.BigEndian.PutUint64(rev, uint64(revision))
	k := append([]byte{}, prefixEvent...)
	k = append(k, scoped(tenantID, streamID)...)
	k = append(k, 0x00)
	return append(k, rev...)
}

func eventHeadKey(tenantID, streamID string) []byte {
	return append(append([]byte{}, prefixEventHead...), scoped(tenantID, streamID)...)
}

func projectionKey(tenantID, projectionType, key string) []byte {
	return append(append([]byte{}, prefixProjection...), scoped(tenantID, projectionType, key)...)
}

func artifactKey(tenantID, artifactID string) []byte {
	return append(append([]byte{}, prefixArtifact...), scoped(tenantID, artifactID)...)
}

func artifactHashKey(tenantID, artifactType, contentHash string) []byte {
	return append(append([]byte{}, prefixArtifactHash...), scoped(tenantID, artifactType, contentHash)...)
}

func walletKey(tenantID, accountID string) []byte {
	return append(append([]byte{}, prefixWallet...), scoped(tenantID, accountID)...)
}

func walletPostingKey(tenantID, accountID, postingRef string) []byte {
	return append(append([]byte{}, prefixWalletPosting...), scoped(tenantID, accountID, postingRef)...)
}

func idempotencyKey(tenantID, key string) []byte {
	return append(append([]byte{}, prefixIdempotency...), scoped(tenantID, key)...)
}

// eventHead is the small pointer record kept at eventHeadKey so CAS checks
// and GetLatestEvent don't need to scan the stream's full event range.
type eventHead struct {
	Revision  int64  `json:"revision"`
	ChainHash string `json:"chain_hash"`
}

// Store is a cometbft-db backed implementation of store.Store. It assumes
// single-writer access to CommitTx, the same assumption teacher's
// LedgerStore documents for its own KV-backed writes: all ops in a commit
// are staged into one dbm.Batch and written atomically, so a crash between
// validation and Write never leaves partial state on disk.
type Store struct {
	mu sync.Mutex
	db dbm.DB
}

// New wraps an already-opened cometbft-db database (goleveldb, badgerdb,
// pebbledb, or the in-memory "memdb" driver all satisfy dbm.DB).
func New(db dbm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("embedded: unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) CommitTx(_ context.Context, ops []store.Op) (*store.CommitResult, error) {
	if len(ops) == 0 {
		return nil, store.ErrEmptyCommit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every EventAppendOp against the current on-disk head before
	// staging any writes, mirroring MemoryStore's all-or-nothing validation
	// pass.
	heads := make(map[string]eventHead)
	for _, op := range ops {
		if op.Kind != store.OpEventAppend {
			continue
		}
		e := op.Event
		hk := string(eventHeadKey(e.TenantID, e.StreamID))
		head, ok := heads[hk]
		if !ok {
			found, err := s.get(eventHeadKey(e.TenantID, e.StreamID), &head)
			if err != nil {
				return nil, err
			}
			if !found {
				head = eventHead{Revision: 0, ChainHash: store.GenesisChainHash}
			}
		}
		if e.ExpectedRevision != head.Revision+1 {
			return nil, store.ErrRevisionConflict
		}
		if e.ExpectedPrevChainHash != head.ChainHash {
			return nil, store.ErrChainHashMismatch
		}
		heads[hk] = eventHead{
			Revision:  e.ExpectedRevision,
			ChainHash: e.ChainHash,
		}
	}

	// Same all-or-nothing validation pass for projection CAS, mirroring
	// MemoryStore's pendingProjRevisions map: a later op in this commit
	// touching the same row sees the earlier op's not-yet-written revision.
	projRevisions := make(map[string]int64)
	for _, op := range ops {
		if op.Kind != store.OpProjectionUpsert {
			continue
		}
		p := op.Projection
		pk := string(projectionKey(p.TenantID, p.ProjectionType, p.Key))
		current, ok := projRevisions[pk]
		if !ok {
			var rec store.ProjectionRecord
			found, err := s.get(projectionKey(p.TenantID, p.ProjectionType, p.Key), &rec)
			if err != nil {
				return nil, err
			}
			if found {
				current = rec.Revision
			}
		}
		if p.ExpectedRevision != current+1 {
			return nil, store.ErrRevisionConflict
		}
		projRevisions[pk] = p.ExpectedRevision
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	result := &store.CommitResult{}
	for _, op := range ops {
		switch op.Kind {
		case store.OpEventAppend:
			rec, err := s.stageEventAppend(batch, op.Event, heads)
			if err != nil {
				return nil, err
			}
			result.Events = append(result.Events, *rec)
		case store.OpProjectionUpsert:
			if err := s.stageProjectionUpsert(batch, op.Projection); err != nil {
				return nil, err
			}
		case store.OpArtifactPut:
			if err := s.stageArtifactPut(batch, op.Artifact); err != nil {
				return nil, err
			}
		case store.OpWalletPost:
			if err := s.stageWalletPost(batch, op.Wallet); err != nil {
				return nil, err
			}
		case store.OpIdempotencyStore:
			if err := s.stageIdempotencyStore(batch, op.Idempotency); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("embedded: unknown op kind %q", op.Kind)
		}
	}

	if err := batch.WriteSync(); err != nil {
		return nil, fmt.Errorf("embedded: write batch: %w", err)
	}
	return result, nil
}

func (s *Store) stageEventAppend(batch dbm.Batch, op *store.EventAppendOp, heads map[string]eventHead) (*store.EventRecord, error) {
	head := heads[string(eventHeadKey(op.TenantID, op.StreamID))]
	rec := store.EventRecord{
		TenantID:      op.TenantID,
		StreamID:      op.StreamID,
		EventID:       op.EventID,
		Revision:      op.ExpectedRevision,
		EventType:     op.EventType,
		At:            op.At,
		Actor:         op.Actor,
		Payload:       op.Payload,
		PayloadHash:   op.PayloadHash,
		PrevChainHash: op.ExpectedPrevChainHash,
		ChainHash:     head.ChainHash,
		SignerKeyID:   op.SignerKeyID,
		Signature:     op.Signature,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("embedded: marshal event: %w", err)
	}
	if err := batch.Set(eventKey(op.TenantID, op.StreamID, op.ExpectedRevision), raw); err != nil {
		return nil, err
	}
	headRaw, err := json.Marshal(head)
	if err != nil {
		return nil, err
	}
	if err := batch.Set(eventHeadKey(op.TenantID, op.StreamID), headRaw); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) stageProjectionUpsert(batch dbm.Batch, op *store.ProjectionUpsertOp) error {
	rec := store.ProjectionRecord{
		TenantID:       op.TenantID,
		ProjectionType: op.ProjectionType,
		Key:            op.Key,
		Payload:        op.Payload,
		Revision:       op.ExpectedRevision,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("embedded: marshal projection: %w", err)
	}
	return batch.Set(projectionKey(op.TenantID, op.ProjectionType, op.Key), raw)
}

func (s *Store) stageArtifactPut(batch dbm.Batch, op *store.ArtifactPutOp) error {
	hk := artifactHashKey(op.TenantID, op.ArtifactType, op.ContentHash)
	existing, err := s.db.Get(hk)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil // dedup: content hash already registered
	}

	rec := store.ArtifactRecord{TenantID: op.TenantID, ArtifactType: op.ArtifactType, ArtifactID: op.ArtifactID, ContentHash: op.ContentHash, Body: op.Body}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("embedded: marshal artifact: %w", err)
	}
	if err := batch.Set(artifactKey(op.TenantID, op.ArtifactID), raw); err != nil {
		return err
	}
	return batch.Set(hk, []byte(op.ArtifactID))
}

func (s *Store) stageWalletPost(batch dbm.Batch, op *store.WalletPostOp) error {
	pk := walletPostingKey(op.TenantID, op.AccountID, op.PostingRef)
	existing, err := s.db.Get(pk)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil // idempotent: this posting ref already applied to this account
	}

	var current store.WalletAccountRecord
	found, err := s.get(walletKey(op.TenantID, op.AccountID), &current)
	if err != nil {
		return err
	}
	if !found {
		current = store.WalletAccountRecord{TenantID: op.TenantID, AccountID: op.AccountID}
	}
	current.BalanceCents += op.DeltaCents

	raw, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("embedded: marshal wallet account: %w", err)
	}
	if err := batch.Set(walletKey(op.TenantID, op.AccountID), raw); err != nil {
		return err
	}
	return batch.Set(pk, []byte{0x01})
}

func (s *Store) stageIdempotencyStore(batch dbm.Batch, op *store.IdempotencyStoreOp) error {
	rec := store.IdempotencyRecord{
		TenantID:        op.TenantID,
		IdempotencyKey:  op.IdempotencyKey,
		FingerprintHash: op.FingerprintHash,
		StatusCode:      op.StatusCode,
		ResponseBody:    op.ResponseBody,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("embedded: marshal idempotency record: %w", err)
	}
	return batch.Set(idempotencyKey(op.TenantID, op.IdempotencyKey), raw)
}

func (s *Store) GetEventStream(_ context.Context, tenantID, streamID string) ([]store.EventRecord, error) {
	var head eventHead
	found, err := s.get(eventHeadKey(tenantID, streamID), &head)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	out := make([]store.EventRecord, 0, head.Revision)
	for rev := int64(1); rev <= head.Revision; rev++ {
		var rec store.EventRecord
		if _, err := s.get(eventKey(tenantID, streamID, rev), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) GetLatestEvent(_ context.Context, tenantID, streamID string) (*store.EventRecord, error) {
	var head eventHead
	found, err := s.get(eventHeadKey(tenantID, streamID), &head)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrEventNotFound
	}
	var rec store.EventRecord
	if _, err := s.get(eventKey(tenantID, streamID, head.Revision), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) GetProjection(_ context.Context, tenantID, projectionType, key string) (*store.ProjectionRecord, error) {
	var rec store.ProjectionRecord
	found, err := s.get(projectionKey(tenantID, projectionType, key), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrProjectionNotFound
	}
	return &rec, nil
}

func (s *Store) GetArtifact(_ context.Context, tenantID, artifactID string) (*store.ArtifactRecord, error) {
	var rec store.ArtifactRecord
	found, err := s.get(artifactKey(tenantID, artifactID), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrArtifactNotFound
	}
	return &rec, nil
}

func (s *Store) GetArtifactByContentHash(_ context.Context, tenantID, artifactType, contentHash string) (*store.ArtifactRecord, error) {
	raw, err := s.db.Get(artifactHashKey(tenantID, artifactType, contentHash))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, store.ErrArtifactNotFound
	}
	return s.GetArtifact(context.Background(), tenantID, string(raw))
}

func (s *Store) GetWalletBalance(_ context.Context, tenantID, accountID string) (int64, error) {
	var rec store.WalletAccountRecord
	found, err := s.get(walletKey(tenantID, accountID), &rec)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, store.ErrWalletAccountNotFound
	}
	return rec.BalanceCents, nil
}

func (s *Store) GetIdempotency(_ context.Context, tenantID, idemKey string) (*store.IdempotencyRecord, error) {
	var rec store.IdempotencyRecord
	found, err := s.get(idempotencyKey(tenantID, idemKey), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrIdempotencyNotFound
	}
	return &rec, nil
}
