// Copyright 2025 Certen Protocol

package audittrail

import (
	"context"
	"testing"
)

func TestService_DisabledClientIsNoOp(t *testing.T) {
	client, err := NewClient(context.Background(), &ClientConfig{Enabled: false})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	svc, err := NewService(&Config{Client: client, EngineTag: "test"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.IsEnabled() {
		t.Fatalf("want disabled service")
	}

	// None of these should panic or block even though no Firestore
	// connection exists - the disabled client short-circuits every call.
	ctx := context.Background()
	svc.RecordRunCreated(ctx, "t1", "run_1", 5000, "USD")
	svc.RecordDisputeOpened(ctx, "t1", "dispute_1", "run_1", "l2_arbiter")
	svc.RecordGateVerified(ctx, "t1", "gate_1", "run_1")

	if _, err := svc.VerifyChain(ctx, "t1"); err == nil {
		t.Fatalf("want error verifying chain on a disabled service")
	}
}

func TestNewClient_RequiresProjectIDWhenEnabled(t *testing.T) {
	_, err := NewClient(context.Background(), &ClientConfig{Enabled: true})
	if err == nil {
		t.Fatalf("want error creating an enabled client with no project id")
	}
}

func TestNewService_RequiresClient(t *testing.T) {
	if _, err := NewService(&Config{}); err == nil {
		t.Fatalf("want error constructing a service with no client")
	}
}

func TestComputeEntryHash_ChainsOnPreviousHash(t *testing.T) {
	base := &Entry{Kind: "run.created", RefID: "run_1", Action: "created"}
	h1 := computeEntryHash(base)

	chained := &Entry{Kind: "run.settled", RefID: "run_1", Action: "settled", PreviousHash: h1}
	h2 := computeEntryHash(chained)

	if h1 == "" || h2 == "" {
		t.Fatalf("want non-empty hashes, got %q and %q", h1, h2)
	}
	if h1 == h2 {
		t.Fatalf("want distinct hashes for distinct entries")
	}

	// Hashing is deterministic over the same fields.
	if computeEntryHash(base) != h1 {
		t.Fatalf("want computeEntryHash to be deterministic")
	}
}
