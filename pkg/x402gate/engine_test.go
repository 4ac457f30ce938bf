package x402gate

import (
	"context"
	"testing"
	"time"

	"github.com/certen/nooterra-core/pkg/store"
)

func newTestEngine(now time.Time) *Engine {
	st := store.NewMemoryStore()
	return New(st, WithClock(func() time.Time { return now }))
}

func TestCreate_RejectsStrictModeWithoutHash(t *testing.T) {
	eng := newTestEngine(time.Now())
	_, err := eng.Create(context.Background(), CreateRequest{
		TenantID:           "t1",
		Quote:              Quote{QuoteID: "q1", AmountCents: 500, Currency: "USD"},
		ExecutionIntent:    ExecutionIntent{IntentID: "i1", PayerAddress: "0xabc", Nonce: "n1"},
		RequestBindingMode: RequestBindingStrict,
	})
	if ge, ok := err.(*GateError); !ok || ge.Code != "X402_EXECUTION_INTENT_INVALID" {
		t.Fatalf("want X402_EXECUTION_INTENT_INVALID, got %v", err)
	}
}

func TestGateLifecycle_CreateAuthorizeVerify(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	requestSha := RequestSha256([]byte(`{"amountCents":650}`))

	g, err := eng.Create(ctx, CreateRequest{
		TenantID: "t1",
		Quote:    Quote{QuoteID: "q1", AmountCents: 650, Currency: "USD"},
		ExecutionIntent: ExecutionIntent{
			IntentID:     "i1",
			PayerAddress: "0xpayer",
			PayeeAddress: "0xpayee",
			Nonce:        "n1",
		},
		RequestBindingMode:   RequestBindingStrict,
		RequestBindingSha256: requestSha,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if g.Status != GateStatusCreated {
		t.Fatalf("want created, got %s", g.Status)
	}

	authorized, err := eng.AuthorizePayment(ctx, AuthorizeRequest{
		TenantID:      "t1",
		GateID:        g.GateID,
		RequestSha256: requestSha,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if authorized.Status != GateStatusAuthorized {
		t.Fatalf("want authorized, got %s", authorized.Status)
	}

	verified, err := eng.Verify(ctx, VerifyRequest{
		TenantID: "t1",
		GateID:   g.GateID,
		EvidenceRefs: []string{
			"http:request_sha256:" + requestSha,
			"http:response_sha256:cc",
		},
		SettlementRunID: "run_1",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != GateStatusVerified {
		t.Fatalf("want verified, got %s", verified.Status)
	}
	if verified.Verification.ResponseSha256 != "cc" {
		t.Fatalf("want response sha256 cc, got %s", verified.Verification.ResponseSha256)
	}
}

func TestAuthorizePayment_StrictModeRejectsMismatchedHash(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(time.Now())

	g, err := eng.Create(ctx, CreateRequest{
		TenantID: "t1",
		Quote:    Quote{QuoteID: "q1", AmountCents: 100, Currency: "USD"},
		ExecutionIntent: ExecutionIntent{
			IntentID:     "i1",
			PayerAddress: "0xpayer",
			Nonce:        "n1",
		},
		RequestBindingMode:   RequestBindingStrict,
		RequestBindingSha256: "bb",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = eng.AuthorizePayment(ctx, AuthorizeRequest{TenantID: "t1", GateID: g.GateID, RequestSha256: "aa"})
	if ge, ok := err.(*GateError); !ok || ge.Code != "X402_REQUEST_MISMATCH" {
		t.Fatalf("want X402_REQUEST_MISMATCH, got %v", err)
	}
}

func TestVerify_StrictModeRejectsMismatchedEvidence(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(time.Now())

	g, err := eng.Create(ctx, CreateRequest{
		TenantID: "t1",
		Quote:    Quote{QuoteID: "q1", AmountCents: 100, Currency: "USD"},
		ExecutionIntent: ExecutionIntent{
			IntentID:     "i1",
			PayerAddress: "0xpayer",
			Nonce:        "n1",
		},
		RequestBindingMode:   RequestBindingStrict,
		RequestBindingSha256: "bbbb",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := eng.AuthorizePayment(ctx, AuthorizeRequest{TenantID: "t1", GateID: g.GateID, RequestSha256: "bbbb"}); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	_, err = eng.Verify(ctx, VerifyRequest{
		TenantID:     "t1",
		GateID:       g.GateID,
		EvidenceRefs: []string{"http:request_sha256:aaaa"},
	})
	if ge, ok := err.(*GateError); !ok || ge.Code != "X402_REQUEST_MISMATCH" {
		t.Fatalf("want X402_REQUEST_MISMATCH, got %v", err)
	}
}

func TestVerify_RejectsWhenNotAuthorized(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(time.Now())

	g, err := eng.Create(ctx, CreateRequest{
		TenantID:        "t1",
		Quote:           Quote{QuoteID: "q1", AmountCents: 100, Currency: "USD"},
		ExecutionIntent: ExecutionIntent{IntentID: "i1", PayerAddress: "0xpayer", Nonce: "n1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = eng.Verify(ctx, VerifyRequest{TenantID: "t1", GateID: g.GateID})
	if err != ErrGateVerifyNotAuthorized {
		t.Fatalf("want ErrGateVerifyNotAuthorized, got %v", err)
	}
}

func TestCheckBindingEvidence_DisputeCloseAndArbitrationOpenCodes(t *testing.T) {
	g := &Gate{
		RequestBinding: RequestBinding{Mode: RequestBindingStrict, Sha256: "dead"},
	}

	err := CheckBindingEvidence(g, nil, BindingEvidenceDisputeClose)
	if ge, ok := err.(*GateError); !ok || ge.Code != "X402_DISPUTE_CLOSE_BINDING_EVIDENCE_REQUIRED" {
		t.Fatalf("want dispute close required, got %v", err)
	}

	err = CheckBindingEvidence(g, []string{"http:request_sha256:beef"}, BindingEvidenceDisputeClose)
	if ge, ok := err.(*GateError); !ok || ge.Code != "X402_DISPUTE_CLOSE_BINDING_EVIDENCE_MISMATCH" {
		t.Fatalf("want dispute close mismatch, got %v", err)
	}

	err = CheckBindingEvidence(g, nil, BindingEvidenceArbitrationOpen)
	if ge, ok := err.(*GateError); !ok || ge.Code != "X402_ARBITRATION_OPEN_BINDING_EVIDENCE_REQUIRED" {
		t.Fatalf("want arbitration open required, got %v", err)
	}

	if err := CheckBindingEvidence(g, []string{"http:request_sha256:dead"}, BindingEvidenceDisputeClose); err != nil {
		t.Fatalf("want matched binding to pass, got %v", err)
	}
}
