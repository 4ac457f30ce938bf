// Copyright 2025 Certen Protocol
//
// In-Memory Store Tests

package store

import (
	"context"
	"testing"
)

func TestCommitTx_EventAppend_GenesisAndChain(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	op1 := Op{Kind: OpEventAppend, Event: &EventAppendOp{
		TenantID:              "tenant-1",
		StreamID:              "run-1",
		EventID:               "evt_1",
		EventType:             "run.created",
		Payload:               []byte(`{"a":1}`),
		PayloadHash:           "hash1",
		ChainHash:             "chain1",
		ExpectedRevision:      1,
		ExpectedPrevChainHash: GenesisChainHash,
	}}
	res, err := s.CommitTx(ctx, []Op{op1})
	if err != nil {
		t.Fatalf("commit genesis event: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].Revision != 1 {
		t.Fatalf("unexpected commit result: %+v", res)
	}

	head, err := s.GetLatestEvent(ctx, "tenant-1", "run-1")
	if err != nil {
		t.Fatalf("get latest event: %v", err)
	}

	op2 := Op{Kind: OpEventAppend, Event: &EventAppendOp{
		TenantID:              "tenant-1",
		StreamID:              "run-1",
		EventID:               "evt_2",
		EventType:             "run.locked",
		Payload:               []byte(`{"a":2}`),
		PayloadHash:           "hash2",
		ChainHash:             "chain2",
		ExpectedRevision:      2,
		ExpectedPrevChainHash: head.ChainHash,
	}}
	if _, err := s.CommitTx(ctx, []Op{op2}); err != nil {
		t.Fatalf("commit second event: %v", err)
	}

	events, err := s.GetEventStream(ctx, "tenant-1", "run-1")
	if err != nil {
		t.Fatalf("get event stream: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].PrevChainHash != events[0].ChainHash {
		t.Errorf("chain broken: event 1 prevChainHash %s != event 0 chainHash %s",
			events[1].PrevChainHash, events[0].ChainHash)
	}
}

func TestCommitTx_RevisionConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	op := Op{Kind: OpEventAppend, Event: &EventAppendOp{
		TenantID:              "tenant-1",
		StreamID:              "run-1",
		EventType:             "run.created",
		Payload:               []byte(`{}`),
		PayloadHash:           "h",
		ExpectedRevision:      2, // wrong, should be 1
		ExpectedPrevChainHash: GenesisChainHash,
	}}
	if _, err := s.CommitTx(ctx, []Op{op}); err != ErrRevisionConflict {
		t.Fatalf("expected ErrRevisionConflict, got %v", err)
	}
}

func TestCommitTx_ChainHashMismatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	op := Op{Kind: OpEventAppend, Event: &EventAppendOp{
		TenantID:              "tenant-1",
		StreamID:              "run-1",
		EventType:             "run.created",
		Payload:               []byte(`{}`),
		PayloadHash:           "h",
		ExpectedRevision:      1,
		ExpectedPrevChainHash: "not-the-genesis-hash",
	}}
	if _, err := s.CommitTx(ctx, []Op{op}); err != ErrChainHashMismatch {
		t.Fatalf("expected ErrChainHashMismatch, got %v", err)
	}
}

func TestCommitTx_FailedOpLeavesNoPartialState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ops := []Op{
		{Kind: OpEventAppend, Event: &EventAppendOp{
			TenantID: "tenant-1", StreamID: "run-1", EventID: "evt_1", EventType: "run.created",
			Payload: []byte(`{}`), PayloadHash: "h", ChainHash: "chain1",
			ExpectedRevision: 1, ExpectedPrevChainHash: GenesisChainHash,
		}},
		{Kind: OpEventAppend, Event: &EventAppendOp{
			TenantID: "tenant-1", StreamID: "run-1", EventID: "evt_2", EventType: "run.locked",
			Payload: []byte(`{}`), PayloadHash: "h2", ChainHash: "chain2",
			ExpectedRevision: 5, ExpectedPrevChainHash: "bogus", // will fail validation
		}},
	}
	if _, err := s.CommitTx(ctx, ops); err == nil {
		t.Fatal("expected commit to fail")
	}

	events, err := s.GetEventStream(ctx, "tenant-1", "run-1")
	if err != nil {
		t.Fatalf("get event stream: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events committed after a failed op, got %d", len(events))
	}
}

func TestCommitTx_WalletPost_Accumulates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ops := []Op{
		{Kind: OpWalletPost, Wallet: &WalletPostOp{TenantID: "t1", AccountID: "acct_a", DeltaCents: 1000, PostingRef: "p1"}},
	}
	if _, err := s.CommitTx(ctx, ops); err != nil {
		t.Fatalf("first post: %v", err)
	}
	ops = []Op{
		{Kind: OpWalletPost, Wallet: &WalletPostOp{TenantID: "t1", AccountID: "acct_a", DeltaCents: -300, PostingRef: "p2"}},
	}
	if _, err := s.CommitTx(ctx, ops); err != nil {
		t.Fatalf("second post: %v", err)
	}

	bal, err := s.GetWalletBalance(ctx, "t1", "acct_a")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal != 700 {
		t.Errorf("expected balance 700, got %d", bal)
	}
}

func TestCommitTx_ArtifactPut_DedupesByContentHash(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	op := Op{Kind: OpArtifactPut, Artifact: &ArtifactPutOp{
		TenantID: "t1", ArtifactType: "PolicyBinding.v1", ArtifactID: "art_1",
		ContentHash: "samehash", Body: []byte(`{"x":1}`),
	}}
	if _, err := s.CommitTx(ctx, []Op{op}); err != nil {
		t.Fatalf("first put: %v", err)
	}

	dup := Op{Kind: OpArtifactPut, Artifact: &ArtifactPutOp{
		TenantID: "t1", ArtifactType: "PolicyBinding.v1", ArtifactID: "art_2",
		ContentHash: "samehash", Body: []byte(`{"x":1}`),
	}}
	if _, err := s.CommitTx(ctx, []Op{dup}); err != nil {
		t.Fatalf("dup put: %v", err)
	}

	if _, err := s.GetArtifact(ctx, "t1", "art_2"); err != ErrArtifactNotFound {
		t.Errorf("expected the second artifact ID to never have been written, got err=%v", err)
	}
	rec, err := s.GetArtifactByContentHash(ctx, "t1", "PolicyBinding.v1", "samehash")
	if err != nil {
		t.Fatalf("get by content hash: %v", err)
	}
	if rec.ArtifactID != "art_1" {
		t.Errorf("expected dedup to keep the first artifact ID, got %s", rec.ArtifactID)
	}
}

func TestCommitTx_IdempotencyStoreAndLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	op := Op{Kind: OpIdempotencyStore, Idempotency: &IdempotencyStoreOp{
		TenantID: "t1", IdempotencyKey: "key-1", FingerprintHash: "fp1",
		StatusCode: 201, ResponseBody: []byte(`{"ok":true}`),
	}}
	if _, err := s.CommitTx(ctx, []Op{op}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rec, err := s.GetIdempotency(ctx, "t1", "key-1")
	if err != nil {
		t.Fatalf("get idempotency: %v", err)
	}
	if rec.StatusCode != 201 || rec.FingerprintHash != "fp1" {
		t.Errorf("unexpected idempotency record: %+v", rec)
	}

	if _, err := s.GetIdempotency(ctx, "t1", "missing-key"); err != ErrIdempotencyNotFound {
		t.Errorf("expected ErrIdempotencyNotFound, got %v", err)
	}
}

func TestCommitTx_EmptyCommitRejected(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.CommitTx(context.Background(), nil); err != ErrEmptyCommit {
		t.Fatalf("expected ErrEmptyCommit, got %v", err)
	}
}
