// Copyright 2025 Certen Protocol
//
// Embedded Store Tests

package embedded

import (
	"context"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/nooterra-core/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(dbm.NewMemDB())
}

func TestEmbedded_EventAppendAndChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op1 := store.Op{Kind: store.OpEventAppend, Event: &store.EventAppendOp{
		TenantID: "t1", StreamID: "run-1", EventID: "evt_1", EventType: "run.created",
		Payload: []byte(`{}`), PayloadHash: "h1", ChainHash: "chain1",
		ExpectedRevision: 1, ExpectedPrevChainHash: store.GenesisChainHash,
	}}
	if _, err := s.CommitTx(ctx, []store.Op{op1}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	head, err := s.GetLatestEvent(ctx, "t1", "run-1")
	if err != nil {
		t.Fatalf("get latest event: %v", err)
	}

	op2 := store.Op{Kind: store.OpEventAppend, Event: &store.EventAppendOp{
		TenantID: "t1", StreamID: "run-1", EventID: "evt_2", EventType: "run.locked",
		Payload: []byte(`{}`), PayloadHash: "h2", ChainHash: "chain2",
		ExpectedRevision: 2, ExpectedPrevChainHash: head.ChainHash,
	}}
	if _, err := s.CommitTx(ctx, []store.Op{op2}); err != nil {
		t.Fatalf("commit second: %v", err)
	}

	events, err := s.GetEventStream(ctx, "t1", "run-1")
	if err != nil {
		t.Fatalf("get event stream: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestEmbedded_RevisionConflict(t *testing.T) {
	s := newTestStore(t)
	op := store.Op{Kind: store.OpEventAppend, Event: &store.EventAppendOp{
		TenantID: "t1", StreamID: "run-1", EventID: "evt_1", EventType: "run.created",
		Payload: []byte(`{}`), PayloadHash: "h", ChainHash: "chain1",
		ExpectedRevision: 7, ExpectedPrevChainHash: store.GenesisChainHash,
	}}
	if _, err := s.CommitTx(context.Background(), []store.Op{op}); err != store.ErrRevisionConflict {
		t.Fatalf("expected ErrRevisionConflict, got %v", err)
	}
}

func TestEmbedded_WalletPostIdempotentByPostingRef(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op := store.Op{Kind: store.OpWalletPost, Wallet: &store.WalletPostOp{
		TenantID: "t1", AccountID: "acct_a", DeltaCents: 500, PostingRef: "p1",
	}}
	if _, err := s.CommitTx(ctx, []store.Op{op}); err != nil {
		t.Fatalf("first post: %v", err)
	}
	// Replaying the same posting ref must not double-apply the delta.
	if _, err := s.CommitTx(ctx, []store.Op{op}); err != nil {
		t.Fatalf("replayed post: %v", err)
	}

	bal, err := s.GetWalletBalance(ctx, "t1", "acct_a")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal != 500 {
		t.Errorf("expected balance 500 after replay, got %d", bal)
	}
}

func TestEmbedded_ArtifactDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := store.Op{Kind: store.OpArtifactPut, Artifact: &store.ArtifactPutOp{
		TenantID: "t1", ArtifactType: "PolicyBinding.v1", ArtifactID: "art_1",
		ContentHash: "samehash", Body: []byte(`{}`),
	}}
	if _, err := s.CommitTx(ctx, []store.Op{first}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	second := store.Op{Kind: store.OpArtifactPut, Artifact: &store.ArtifactPutOp{
		TenantID: "t1", ArtifactType: "PolicyBinding.v1", ArtifactID: "art_2",
		ContentHash: "samehash", Body: []byte(`{}`),
	}}
	if _, err := s.CommitTx(ctx, []store.Op{second}); err != nil {
		t.Fatalf("second put: %v", err)
	}

	rec, err := s.GetArtifactByContentHash(ctx, "t1", "PolicyBinding.v1", "samehash")
	if err != nil {
		t.Fatalf("get by content hash: %v", err)
	}
	if rec.ArtifactID != "art_1" {
		t.Errorf("expected dedup to keep art_1, got %s", rec.ArtifactID)
	}
}
