package verification

import (
	"testing"
	"time"
)

func samplePolicy() *Policy {
	return &Policy{
		PolicyHash: "policy_abc",
		Rules: map[Status]Rule{
			StatusGreen: {DecisionStatus: "auto_resolved", ReleaseRatePct: 100},
			StatusAmber: {DecisionStatus: "manual_review_required"},
			StatusRed:   {DecisionStatus: "auto_resolved", ReleaseRatePct: 0},
		},
	}
}

func TestExpected_GreenAutoReleases(t *testing.T) {
	outcome, err := Expected(samplePolicy(), StatusGreen, 10000)
	if err != nil {
		t.Fatalf("expected: %v", err)
	}
	if outcome.DecisionStatus != "auto_resolved" {
		t.Fatalf("want auto_resolved, got %s", outcome.DecisionStatus)
	}
	if outcome.ReleasedAmountCents != 10000 || outcome.RefundedAmountCents != 0 {
		t.Fatalf("want full release, got released=%d refunded=%d", outcome.ReleasedAmountCents, outcome.RefundedAmountCents)
	}
}

func TestExpected_RedAutoRefunds(t *testing.T) {
	outcome, err := Expected(samplePolicy(), StatusRed, 10000)
	if err != nil {
		t.Fatalf("expected: %v", err)
	}
	if outcome.ReleasedAmountCents != 0 || outcome.RefundedAmountCents != 10000 {
		t.Fatalf("want full refund, got released=%d refunded=%d", outcome.ReleasedAmountCents, outcome.RefundedAmountCents)
	}
}

func TestExpected_AmberRequiresManualReview(t *testing.T) {
	outcome, err := Expected(samplePolicy(), StatusAmber, 10000)
	if err != nil {
		t.Fatalf("expected: %v", err)
	}
	if outcome.DecisionStatus != "manual_review_required" {
		t.Fatalf("want manual_review_required, got %s", outcome.DecisionStatus)
	}
	if outcome.ReleasedAmountCents != 0 || outcome.RefundedAmountCents != 0 {
		t.Fatalf("manual review should not compute amounts, got released=%d refunded=%d", outcome.ReleasedAmountCents, outcome.RefundedAmountCents)
	}
}

func TestExpected_UnknownStatusErrors(t *testing.T) {
	if _, err := Expected(samplePolicy(), Status("purple"), 10000); err == nil {
		t.Fatalf("expected error for invalid status")
	}
}

func TestReplay_MatchesStoredDecision(t *testing.T) {
	stored := &Outcome{
		DecisionStatus:      "auto_resolved",
		ReleaseRatePct:      100,
		ReleasedAmountCents: 10000,
		RefundedAmountCents: 0,
		DecisionPolicyHash:  "policy_abc",
	}
	result, err := Replay(samplePolicy(), StatusGreen, 10000, stored, "", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !result.Match {
		t.Fatalf("want match, got mismatches: %v", result.Mismatches)
	}
}

func TestReplay_DetectsMismatch(t *testing.T) {
	stored := &Outcome{
		DecisionStatus:      "auto_resolved",
		ReleaseRatePct:      50, // wrong: policy says 100 for green
		ReleasedAmountCents: 5000,
		RefundedAmountCents: 5000,
		DecisionPolicyHash:  "policy_abc",
	}
	result, err := Replay(samplePolicy(), StatusGreen, 10000, stored, "", time.Now().UTC())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Match {
		t.Fatalf("expected mismatch to be detected")
	}
	if len(result.Mismatches) == 0 {
		t.Fatalf("expected at least one mismatch reason")
	}
}

func TestReplay_ArbitrationOverrideSuppressesMismatch(t *testing.T) {
	stored := &Outcome{
		DecisionStatus:      "auto_resolved",
		ReleaseRatePct:      50,
		ReleasedAmountCents: 5000,
		RefundedAmountCents: 5000,
		DecisionPolicyHash:  "policy_abc",
	}
	result, err := Replay(samplePolicy(), StatusGreen, 10000, stored, "verdict_1", time.Now().UTC())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !result.Match {
		t.Fatalf("arbitration override should force match=true, got mismatches: %v", result.Mismatches)
	}
	if result.OverriddenBy != "verdict_1" {
		t.Fatalf("want OverriddenBy=verdict_1, got %s", result.OverriddenBy)
	}
}

func TestResolvePolicy_PicksMatchingHash(t *testing.T) {
	a := &Policy{PolicyHash: "policy_a"}
	b := &Policy{PolicyHash: "policy_b"}
	got, err := ResolvePolicy([]*Policy{a, b}, "policy_b")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != b {
		t.Fatalf("want policy_b selected")
	}
}

func TestResolvePolicy_NoMatch(t *testing.T) {
	a := &Policy{PolicyHash: "policy_a"}
	if _, err := ResolvePolicy([]*Policy{a}, "policy_missing"); err == nil {
		t.Fatalf("expected error for no matching policy")
	}
}

func TestDisputeWindowEnd(t *testing.T) {
	accepted := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end := DisputeWindowEnd(accepted, 7)
	want := time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)
	if !end.Equal(want) {
		t.Fatalf("want %v, got %v", want, end)
	}
}
