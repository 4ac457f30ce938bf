package run

import (
	"context"
	"testing"
	"time"

	"github.com/certen/nooterra-core/pkg/eventchain"
	"github.com/certen/nooterra-core/pkg/store"
	"github.com/certen/nooterra-core/pkg/verification"
	"github.com/certen/nooterra-core/pkg/wallet"
)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

func newTestEngine(t *testing.T, now time.Time) (*Engine, *wallet.Ledger, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	chain := eventchain.New(st, eventchain.WithClock(func() time.Time { return now }), eventchain.WithIDGenerator(sequentialIDs("evt_")))
	ledger := wallet.New(st, "USD")
	eng := New(st, chain, ledger, WithClock(fixedClock(now)), WithRunIDGenerator(sequentialIDs("run_")))
	return eng, ledger, st
}

func samplePolicy() *verification.Policy {
	return &verification.Policy{
		PolicyHash: "policy_abc",
		Rules: map[verification.Status]verification.Rule{
			verification.StatusGreen: {DecisionStatus: "auto_resolved", ReleaseRatePct: 100},
			verification.StatusAmber: {DecisionStatus: "manual_review_required"},
			verification.StatusRed:   {DecisionStatus: "auto_resolved", ReleaseRatePct: 0},
		},
	}
}

func TestCreateRun_NoSettlement(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eng, _, _ := newTestEngine(t, now)
	ctx := context.Background()

	r, s, err := eng.CreateRun(ctx, CreateRunRequest{TenantID: "t1", AgentID: "agent_payee", Actor: "agent_payee"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if s != nil {
		t.Fatalf("want nil settlement, got %+v", s)
	}
	if r.Status != StatusCreated {
		t.Fatalf("want status created, got %s", r.Status)
	}

	got, err := eng.GetRun(ctx, "t1", r.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.RunID != r.RunID {
		t.Fatalf("want runId %s, got %s", r.RunID, got.RunID)
	}
}

func TestCreateRun_WithInlineSettlement_InsufficientFunds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eng, _, _ := newTestEngine(t, now)
	ctx := context.Background()

	_, _, err := eng.CreateRun(ctx, CreateRunRequest{
		TenantID: "t1",
		AgentID:  "agent_payee",
		Actor:    "agent_payer",
		Settlement: &InlineSettlement{
			PayerAgentID:          "agent_payer",
			AmountCents:           5000,
			Currency:              "USD",
			DisputeWindowDays:     3,
			PayerExpectedRevision: 0,
		},
	})
	if err != wallet.ErrInsufficientFunds {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}

	if _, err := eng.GetRun(ctx, "t1", "run_1"); err != ErrNotFound {
		t.Fatalf("want no run to have been created, got %v", err)
	}
}

func TestCreateRun_WithInlineSettlement_LocksEscrow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eng, ledger, st := newTestEngine(t, now)
	ctx := context.Background()

	creditOps, _ := ledger.BuildCredit(ctx, "t1", "agent_payer", 10000, 0, "credit-1")
	if _, err := st.CommitTx(ctx, creditOps); err != nil {
		t.Fatalf("credit commit: %v", err)
	}

	r, s, err := eng.CreateRun(ctx, CreateRunRequest{
		TenantID: "t1",
		AgentID:  "agent_payee",
		Actor:    "agent_payer",
		Settlement: &InlineSettlement{
			PayerAgentID:          "agent_payer",
			AmountCents:           5000,
			Currency:              "USD",
			DisputeWindowDays:     3,
			PayerExpectedRevision: 1,
		},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if s.Status != SettlementLocked {
		t.Fatalf("want locked, got %s", s.Status)
	}

	payer, err := ledger.GetSummary(ctx, "t1", "agent_payer")
	if err != nil {
		t.Fatalf("get payer: %v", err)
	}
	if payer.EscrowLockedCents != 5000 {
		t.Fatalf("want escrow 5000, got %d", payer.EscrowLockedCents)
	}

	got, err := eng.GetSettlement(ctx, "t1", r.RunID)
	if err != nil {
		t.Fatalf("get settlement: %v", err)
	}
	if got.DisputeWindowEndsAt.Before(now) {
		t.Fatalf("want dispute window end after acceptedAt")
	}
}

func TestAppendEvent_InvalidTransition(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eng, _, _ := newTestEngine(t, now)
	ctx := context.Background()

	r, _, err := eng.CreateRun(ctx, CreateRunRequest{TenantID: "t1", AgentID: "agent_payee", Actor: "agent_payee"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	_, _, err = eng.AppendEvent(ctx, AppendEventRequest{
		TenantID:              "t1",
		RunID:                 r.RunID,
		EventType:             EventRunCompleted,
		ExpectedPrevChainHash: r.LastChainHash,
	})
	if err != ErrInvalidTransition {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
}

func TestAppendEvent_FullLifecycleAutoResolvesGreen(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eng, ledger, st := newTestEngine(t, now)
	ctx := context.Background()

	creditOps, _ := ledger.BuildCredit(ctx, "t1", "agent_payer", 10000, 0, "credit-1")
	st.CommitTx(ctx, creditOps)

	r, _, err := eng.CreateRun(ctx, CreateRunRequest{
		TenantID: "t1",
		AgentID:  "agent_payee",
		Actor:    "agent_payer",
		Settlement: &InlineSettlement{
			PayerAgentID:          "agent_payer",
			AmountCents:           5000,
			Currency:              "USD",
			DisputeWindowDays:     3,
			PayerExpectedRevision: 1,
		},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	r, _, err = eng.AppendEvent(ctx, AppendEventRequest{
		TenantID:              "t1",
		RunID:                 r.RunID,
		EventType:             EventRunStarted,
		ExpectedPrevChainHash: r.LastChainHash,
	})
	if err != nil {
		t.Fatalf("append started: %v", err)
	}
	if r.Status != StatusRunning {
		t.Fatalf("want running, got %s", r.Status)
	}

	r, settlement, err := eng.AppendEvent(ctx, AppendEventRequest{
		TenantID:              "t1",
		RunID:                 r.RunID,
		EventType:             EventRunCompleted,
		ExpectedPrevChainHash: r.LastChainHash,
		VerificationStatus:    verification.StatusGreen,
		Policy:                samplePolicy(),
	})
	if err != nil {
		t.Fatalf("append completed: %v", err)
	}
	if r.Status != StatusCompleted {
		t.Fatalf("want completed, got %s", r.Status)
	}
	if settlement.Status != SettlementReleased {
		t.Fatalf("want released, got %s", settlement.Status)
	}
	if settlement.ReleasedAmountCents != 5000 {
		t.Fatalf("want released 5000, got %d", settlement.ReleasedAmountCents)
	}

	payee, err := ledger.GetSummary(ctx, "t1", "agent_payee")
	if err != nil {
		t.Fatalf("get payee: %v", err)
	}
	if payee.AvailableCents != 5000 {
		t.Fatalf("want payee available 5000, got %d", payee.AvailableCents)
	}
}

func TestAppendEvent_AmberParksAtManualReview(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eng, ledger, st := newTestEngine(t, now)
	ctx := context.Background()

	creditOps, _ := ledger.BuildCredit(ctx, "t1", "agent_payer", 10000, 0, "credit-1")
	st.CommitTx(ctx, creditOps)

	r, _, err := eng.CreateRun(ctx, CreateRunRequest{
		TenantID: "t1",
		AgentID:  "agent_payee",
		Actor:    "agent_payer",
		Settlement: &InlineSettlement{
			PayerAgentID:          "agent_payer",
			AmountCents:           5000,
			Currency:              "USD",
			DisputeWindowDays:     3,
			PayerExpectedRevision: 1,
		},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	r, _, err = eng.AppendEvent(ctx, AppendEventRequest{
		TenantID:              "t1",
		RunID:                 r.RunID,
		EventType:             EventRunStarted,
		ExpectedPrevChainHash: r.LastChainHash,
	})
	if err != nil {
		t.Fatalf("append started: %v", err)
	}

	_, settlement, err := eng.AppendEvent(ctx, AppendEventRequest{
		TenantID:              "t1",
		RunID:                 r.RunID,
		EventType:             EventRunCompleted,
		ExpectedPrevChainHash: r.LastChainHash,
		VerificationStatus:    verification.StatusAmber,
		Policy:                samplePolicy(),
	})
	if err != nil {
		t.Fatalf("append completed: %v", err)
	}
	if settlement.DecisionStatus != DecisionManualReviewRequired {
		t.Fatalf("want manual_review_required, got %s", settlement.DecisionStatus)
	}
	if settlement.Status != SettlementLocked {
		t.Fatalf("want still locked pending manual review, got %s", settlement.Status)
	}

	resolved, err := eng.ResolveSettlement(ctx, "t1", r.RunID, 60)
	if err != nil {
		t.Fatalf("resolve settlement: %v", err)
	}
	if resolved.DecisionStatus != DecisionManualResolved {
		t.Fatalf("want manual_resolved, got %s", resolved.DecisionStatus)
	}
	if resolved.ReleasedAmountCents != 3000 {
		t.Fatalf("want released 3000 (60%%), got %d", resolved.ReleasedAmountCents)
	}

	if _, err := eng.ResolveSettlement(ctx, "t1", r.RunID, 10); err != ErrNotManualReview {
		t.Fatalf("want ErrNotManualReview on second resolve, got %v", err)
	}
}

func TestGetPolicyReplay_MatchesAutoResolvedDecision(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eng, ledger, st := newTestEngine(t, now)
	ctx := context.Background()

	creditOps, _ := ledger.BuildCredit(ctx, "t1", "agent_payer", 10000, 0, "credit-1")
	st.CommitTx(ctx, creditOps)

	r, _, err := eng.CreateRun(ctx, CreateRunRequest{
		TenantID: "t1",
		AgentID:  "agent_payee",
		Actor:    "agent_payer",
		Settlement: &InlineSettlement{
			PayerAgentID:          "agent_payer",
			AmountCents:           5000,
			Currency:              "USD",
			DisputeWindowDays:     3,
			PayerExpectedRevision: 1,
		},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	r, _, err = eng.AppendEvent(ctx, AppendEventRequest{
		TenantID:              "t1",
		RunID:                 r.RunID,
		EventType:             EventRunStarted,
		ExpectedPrevChainHash: r.LastChainHash,
	})
	if err != nil {
		t.Fatalf("append started: %v", err)
	}
	_, _, err = eng.AppendEvent(ctx, AppendEventRequest{
		TenantID:              "t1",
		RunID:                 r.RunID,
		EventType:             EventRunCompleted,
		ExpectedPrevChainHash: r.LastChainHash,
		VerificationStatus:    verification.StatusGreen,
		Policy:                samplePolicy(),
	})
	if err != nil {
		t.Fatalf("append completed: %v", err)
	}

	result, err := eng.GetPolicyReplay(ctx, "t1", r.RunID, verification.StatusGreen, samplePolicy())
	if err != nil {
		t.Fatalf("get policy replay: %v", err)
	}
	if !result.Match {
		t.Fatalf("want match, got mismatches %v", result.Mismatches)
	}
}
