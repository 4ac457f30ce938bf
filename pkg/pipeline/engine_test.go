package pipeline

import (
	"context"
	"testing"

	"github.com/certen/nooterra-core/pkg/store"
)

func TestExecute_FirstCallCommitsAndStoresIdempotencyRecord(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st)
	ctx := context.Background()

	called := 0
	build := func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		called++
		return []store.Op{{
			Kind: store.OpProjectionUpsert,
			Projection: &store.ProjectionUpsertOp{
				TenantID:         "t1",
				ProjectionType:   "wallet",
				Key:              "agent_1",
				Payload:          []byte(`{"amountCents":500}`),
				ExpectedRevision: 1,
			},
		}}, map[string]interface{}{"amountCents": 500}, 201, nil
	}

	req := Request{
		TenantID:       "t1",
		Method:         "POST",
		Path:           "/agents/agent_1/wallet/credit",
		Body:           map[string]interface{}{"amountCents": 500},
		IdempotencyKey: "k1",
		RequestID:      "req1",
	}

	res, err := eng.Execute(ctx, req, build)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.StatusCode != 201 || res.Envelope == nil || !res.Envelope.OK {
		t.Fatalf("want 201 ok envelope, got %+v", res)
	}
	if called != 1 {
		t.Fatalf("want build called once, got %d", called)
	}

	res2, err := eng.Execute(ctx, req, build)
	if err != nil {
		t.Fatalf("execute replay: %v", err)
	}
	if res2.StatusCode != 201 || res2.Envelope.RequestID != "req1" {
		t.Fatalf("want byte-identical replay, got %+v", res2)
	}
	if called != 1 {
		t.Fatalf("want build not called again on replay, got %d calls", called)
	}
}

func TestExecute_DifferentBodySameKeyFails(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st)
	ctx := context.Background()

	build := func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		return nil, nil, 201, nil
	}

	req := Request{TenantID: "t1", Method: "POST", Path: "/x", Body: map[string]interface{}{"a": 1}, IdempotencyKey: "k1"}
	if _, err := eng.Execute(ctx, req, build); err != nil {
		t.Fatalf("execute: %v", err)
	}

	req2 := req
	req2.Body = map[string]interface{}{"a": 2}
	res, err := eng.Execute(ctx, req2, build)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Error == nil || res.Error.Code != "IDEMPOTENCY_KEY_REUSED_WITH_DIFFERENT_BODY" {
		t.Fatalf("want IDEMPOTENCY_KEY_REUSED_WITH_DIFFERENT_BODY, got %+v", res)
	}
	if res.StatusCode != 409 {
		t.Fatalf("want 409, got %d", res.StatusCode)
	}
}

func TestExecute_StoreConflictSurfacesAs409(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st)
	ctx := context.Background()

	build := func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		return []store.Op{{
			Kind: store.OpEventAppend,
			Event: &store.EventAppendOp{
				TenantID:              "t1",
				StreamID:              "stream_1",
				EventID:               "evt_1",
				EventType:             "TEST_EVENT",
				Payload:               []byte(`{}`),
				PayloadHash:           "deadbeef",
				ChainHash:             "feedface",
				ExpectedRevision:      1,
				ExpectedPrevChainHash: "wrong-hash",
			},
		}}, nil, 201, nil
	}

	res, err := eng.Execute(ctx, Request{TenantID: "t1", Method: "POST", Path: "/x", IdempotencyKey: "k1"}, build)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Error == nil || res.Error.Code != "CHAIN_HASH_MISMATCH" {
		t.Fatalf("want CHAIN_HASH_MISMATCH, got %+v", res)
	}
	if res.StatusCode != 409 {
		t.Fatalf("want 409, got %d", res.StatusCode)
	}
}

func TestExecute_ValidationErrorSkipsCommit(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st)
	ctx := context.Background()

	build := func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		return nil, nil, 0, ErrRequiredFieldMissing
	}

	res, err := eng.Execute(ctx, Request{TenantID: "t1", Method: "POST", Path: "/x", IdempotencyKey: "k1"}, build)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Error == nil || res.Error.Code != "REQUIRED_FIELD_MISSING" {
		t.Fatalf("want REQUIRED_FIELD_MISSING, got %+v", res)
	}
	if res.StatusCode != 400 {
		t.Fatalf("want 400, got %d", res.StatusCode)
	}

	if _, err := st.GetIdempotency(ctx, "t1", "k1"); err != store.ErrIdempotencyNotFound {
		t.Fatalf("want no idempotency record stored on validation error, got %v", err)
	}
}
