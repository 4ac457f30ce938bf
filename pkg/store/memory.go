// Copyright 2025 Certen Protocol
//
// In-Memory Store - reference backend and test fixture

package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// scopedKey scopes per-tenant maps by a composite string key,
// the same "prefix the key with an identifying namespace" idiom teacher's
// pkg/ledger/store.go uses for its KV key layout, adapted here to Go map
// keys instead of byte-slice KV keys.
func scopedKey(tenantID, id string) string { return tenantID + "\x00" + id }

// MemoryStore is a mutex-guarded in-memory Store, the reference
// implementation every other backend must behave identically to. It is also
// the default test fixture across the engine's packages.
type MemoryStore struct {
	mu          sync.Mutex
	streams     map[string][]EventRecord           // scopedKey(tenant, streamID) -> ordered events
	projections map[string]ProjectionRecord         // scopedKey(tenant, type+"/"+key)
	artifacts   map[string]ArtifactRecord           // scopedKey(tenant, artifactID)
	byHash      map[string]string                   // scopedKey(tenant, type+"/"+hash) -> artifactID
	wallets     map[string]WalletAccountRecord       // scopedKey(tenant, accountID)
	idempotency map[string]IdempotencyRecord         // scopedKey(tenant, key)
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:     make(map[string][]EventRecord),
		projections: make(map[string]ProjectionRecord),
		artifacts:   make(map[string]ArtifactRecord),
		byHash:      make(map[string]string),
		wallets:     make(map[string]WalletAccountRecord),
		idempotency: make(map[string]IdempotencyRecord),
	}
}

func (m *MemoryStore) CommitTx(_ context.Context, ops []Op) (*CommitResult, error) {
	if len(ops) == 0 {
		return nil, ErrEmptyCommit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every op against current state before mutating anything, so
	// a failure partway through never leaves a half-applied commit visible.
	pendingProjRevisions := make(map[string]int64)
	for _, op := range ops {
		switch op.Kind {
		case OpEventAppend:
			if err := m.checkEventAppend(op.Event); err != nil {
				return nil, err
			}
		case OpProjectionUpsert:
			if err := m.checkProjectionUpsert(op.Projection, pendingProjRevisions); err != nil {
				return nil, err
			}
		}
	}

	now := time.Now().UTC()
	result := &CommitResult{}

	for _, op := range ops {
		switch op.Kind {
		case OpEventAppend:
			rec := m.applyEventAppend(op.Event, now)
			result.Events = append(result.Events, rec)
		case OpProjectionUpsert:
			m.applyProjectionUpsert(op.Projection, now)
		case OpArtifactPut:
			m.applyArtifactPut(op.Artifact, now)
		case OpWalletPost:
			m.applyWalletPost(op.Wallet, now)
		case OpIdempotencyStore:
			m.applyIdempotencyStore(op.Idempotency, now)
		default:
			return nil, fmt.Errorf("store: unknown op kind %q", op.Kind)
		}
	}

	return result, nil
}

func (m *MemoryStore) checkEventAppend(op *EventAppendOp) error {
	key := scopedKey(op.TenantID, op.StreamID)
	existing := m.streams[key]

	wantRevision := int64(len(existing)) + 1
	if op.ExpectedRevision != wantRevision {
		return ErrRevisionConflict
	}

	wantPrevChainHash := GenesisChainHash
	if len(existing) > 0 {
		wantPrevChainHash = existing[len(existing)-1].ChainHash
	}
	if op.ExpectedPrevChainHash != wantPrevChainHash {
		return ErrChainHashMismatch
	}
	return nil
}

// checkProjectionUpsert enforces ProjectionUpsertOp's CAS contract against
// both the currently-committed row and any earlier op in this same commit
// touching the same row, mirroring checkEventAppend's pattern.
func (m *MemoryStore) checkProjectionUpsert(op *ProjectionUpsertOp, pending map[string]int64) error {
	key := scopedKey(op.TenantID, op.ProjectionType+"/"+op.Key)
	current, ok := pending[key]
	if !ok {
		if rec, found := m.projections[key]; found {
			current = rec.Revision
		}
	}
	if op.ExpectedRevision != current+1 {
		return ErrRevisionConflict
	}
	pending[key] = op.ExpectedRevision
	return nil
}

func (m *MemoryStore) applyEventAppend(op *EventAppendOp, now time.Time) EventRecord {
	key := scopedKey(op.TenantID, op.StreamID)
	rec := EventRecord{
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
		ChainHash:     op.ChainHash,
		SignerKeyID:   op.SignerKeyID,
		Signature:     op.Signature,
		CommittedAt:   now,
	}
	m.streams[key] = append(m.streams[key], rec)
	return rec
}

func (m *MemoryStore) applyProjectionUpsert(op *ProjectionUpsertOp, now time.Time) {
	key := scopedKey(op.TenantID, op.ProjectionType+"/"+op.Key)
	m.projections[key] = ProjectionRecord{
		TenantID:       op.TenantID,
		ProjectionType: op.ProjectionType,
		Key:            op.Key,
		Payload:        op.Payload,
		Revision:       op.ExpectedRevision,
		UpdatedAt:      now,
	}
}

func (m *MemoryStore) applyArtifactPut(op *ArtifactPutOp, now time.Time) {
	hashKey := scopedKey(op.TenantID, op.ArtifactType+"/"+op.ContentHash)
	if existingID, ok := m.byHash[hashKey]; ok {
		_ = existingID // dedup: artifact already exists, nothing to write
		return
	}
	idKey := scopedKey(op.TenantID, op.ArtifactID)
	m.artifacts[idKey] = ArtifactRecord{
		TenantID:     op.TenantID,
		ArtifactType: op.ArtifactType,
		ArtifactID:   op.ArtifactID,
		ContentHash:  op.ContentHash,
		Body:         op.Body,
		CreatedAt:    now,
	}
	m.byHash[hashKey] = op.ArtifactID
}

func (m *MemoryStore) applyWalletPost(op *WalletPostOp, now time.Time) {
	key := scopedKey(op.TenantID, op.AccountID)
	existing := m.wallets[key]
	m.wallets[key] = WalletAccountRecord{
		TenantID:     op.TenantID,
		AccountID:    op.AccountID,
		BalanceCents: existing.BalanceCents + op.DeltaCents,
		UpdatedAt:    now,
	}
}

func (m *MemoryStore) applyIdempotencyStore(op *IdempotencyStoreOp, now time.Time) {
	key := scopedKey(op.TenantID, op.IdempotencyKey)
	m.idempotency[key] = IdempotencyRecord{
		TenantID:        op.TenantID,
		IdempotencyKey:  op.IdempotencyKey,
		FingerprintHash: op.FingerprintHash,
		StatusCode:      op.StatusCode,
		ResponseBody:    op.ResponseBody,
		CreatedAt:       now,
	}
}

func (m *MemoryStore) GetEventStream(_ context.Context, tenantID, streamID string) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.streams[scopedKey(tenantID, streamID)]
	out := make([]EventRecord, len(events))
	copy(out, events)
	return out, nil
}

func (m *MemoryStore) GetLatestEvent(_ context.Context, tenantID, streamID string) (*EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.streams[scopedKey(tenantID, streamID)]
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	rec := events[len(events)-1]
	return &rec, nil
}

func (m *MemoryStore) GetProjection(_ context.Context, tenantID, projectionType, key string) (*ProjectionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.projections[scopedKey(tenantID, projectionType+"/"+key)]
	if !ok {
		return nil, ErrProjectionNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) GetArtifact(_ context.Context, tenantID, artifactID string) (*ArtifactRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.artifacts[scopedKey(tenantID, artifactID)]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) GetArtifactByContentHash(_ context.Context, tenantID, artifactType, contentHash string) (*ArtifactRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[scopedKey(tenantID, artifactType+"/"+contentHash)]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	rec := m.artifacts[scopedKey(tenantID, id)]
	return &rec, nil
}

func (m *MemoryStore) GetWalletBalance(_ context.Context, tenantID, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.wallets[scopedKey(tenantID, accountID)]
	if !ok {
		return 0, ErrWalletAccountNotFound
	}
	return rec.BalanceCents, nil
}

func (m *MemoryStore) GetIdempotency(_ context.Context, tenantID, idempotencyKey string) (*IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[scopedKey(tenantID, idempotencyKey)]
	if !ok {
		return nil, ErrIdempotencyNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) Close() error { return nil }
