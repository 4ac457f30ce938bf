// Copyright 2025 Certen Protocol
//
// Settlement Policy Replay Verifier - recomputes the expected settlement
// decision from a stored policy binding and the latest verification status,
// and reports whether it agrees with what was actually decided.

package verification

import (
	"fmt"
	"time"
)

// Status is the outcome of the upstream verification pipeline that feeds a
// settlement decision: green (fully verified), amber (partially verified,
// needs review), or red (failed verification).
type Status string

const (
	StatusGreen Status = "green"
	StatusAmber Status = "amber"
	StatusRed   Status = "red"
)

func (s Status) valid() bool {
	switch s {
	case StatusGreen, StatusAmber, StatusRed:
		return true
	default:
		return false
	}
}

// Rule is one policy's response to a single verification status: either an
// automatic release rate, or a hand-off to manual review.
type Rule struct {
	DecisionStatus string `json:"decisionStatus"` // auto_resolved | manual_review_required
	ReleaseRatePct int    `json:"releaseRatePct"`  // 0-100, meaningless when manual_review_required
}

// Policy is the replay input derived from a stored MarketplaceAgreementPolicyBinding.v2
// artifact or a tenant-level TenantSettlementPolicy.v1, per spec §4.7.
type Policy struct {
	PolicyHash string          `json:"policyHash"`
	Rules      map[Status]Rule `json:"rules"`
}

// RuleFor returns the rule a policy applies for status, or an error if the
// policy has no rule for it (a policy must cover all three statuses to be
// usable for replay).
func (p *Policy) RuleFor(status Status) (Rule, error) {
	if p == nil {
		return Rule{}, fmt.Errorf("verification: nil policy")
	}
	rule, ok := p.Rules[status]
	if !ok {
		return Rule{}, fmt.Errorf("verification: policy %s has no rule for status %q", p.PolicyHash, status)
	}
	return rule, nil
}

// Outcome is a computed (or stored) settlement decision.
type Outcome struct {
	DecisionStatus      string `json:"decisionStatus"`
	ReleaseRatePct      int    `json:"releaseRatePct"`
	ReleasedAmountCents int64  `json:"releasedAmountCents"`
	RefundedAmountCents int64  `json:"refundedAmountCents"`
	DecisionPolicyHash  string `json:"decisionPolicyHash"`
}

// Expected computes the decision a policy produces for status and amountCents,
// per spec §4.7: "the engine computes the expected decisionStatus,
// releaseRatePct, releasedAmountCents, refundedAmountCents."
func Expected(policy *Policy, status Status, amountCents int64) (*Outcome, error) {
	if !status.valid() {
		return nil, fmt.Errorf("verification: invalid verification status %q", status)
	}
	rule, err := policy.RuleFor(status)
	if err != nil {
		return nil, err
	}
	if rule.DecisionStatus == "manual_review_required" {
		return &Outcome{
			DecisionStatus:     "manual_review_required",
			DecisionPolicyHash: policy.PolicyHash,
		}, nil
	}
	if rule.ReleaseRatePct < 0 || rule.ReleaseRatePct > 100 {
		return nil, fmt.Errorf("verification: policy %s rule for %q has out-of-range releaseRatePct %d", policy.PolicyHash, status, rule.ReleaseRatePct)
	}
	released := amountCents * int64(rule.ReleaseRatePct) / 100
	refunded := amountCents - released
	return &Outcome{
		DecisionStatus:      "auto_resolved",
		ReleaseRatePct:      rule.ReleaseRatePct,
		ReleasedAmountCents: released,
		RefundedAmountCents: refunded,
		DecisionPolicyHash:  policy.PolicyHash,
	}, nil
}

// ReplayResult reports whether a stored decision matches what policy replay
// recomputes, per spec §4.7's getRunSettlementPolicyReplay.
type ReplayResult struct {
	Expected     *Outcome  `json:"expected"`
	Stored       *Outcome  `json:"stored"`
	Match        bool      `json:"match"`
	Mismatches   []string  `json:"mismatches,omitempty"`
	OverriddenBy string    `json:"overriddenBy,omitempty"` // arbitration verdict artifact id, if any
	ReplayedAt   time.Time `json:"replayedAt"`
}

// Replay compares a recomputed Expected outcome against a stored one. If
// arbitrationVerdictID is non-empty, an arbitration verdict has overridden
// the stored decision (spec §4.9) and a mismatch against the pre-override
// policy replay is expected and not reported as a failure.
func Replay(policy *Policy, status Status, amountCents int64, stored *Outcome, arbitrationVerdictID string, now time.Time) (*ReplayResult, error) {
	expected, err := Expected(policy, status, amountCents)
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{
		Expected:     expected,
		Stored:       stored,
		OverriddenBy: arbitrationVerdictID,
		ReplayedAt:   now,
	}

	if arbitrationVerdictID != "" {
		result.Match = true
		return result, nil
	}

	if stored == nil {
		result.Mismatches = append(result.Mismatches, "no stored decision to compare against")
		return result, nil
	}

	if stored.DecisionStatus != expected.DecisionStatus {
		result.Mismatches = append(result.Mismatches, fmt.Sprintf("decisionStatus: stored=%s expected=%s", stored.DecisionStatus, expected.DecisionStatus))
	}
	if expected.DecisionStatus == "auto_resolved" {
		if stored.ReleaseRatePct != expected.ReleaseRatePct {
			result.Mismatches = append(result.Mismatches, fmt.Sprintf("releaseRatePct: stored=%d expected=%d", stored.ReleaseRatePct, expected.ReleaseRatePct))
		}
		if stored.ReleasedAmountCents != expected.ReleasedAmountCents {
			result.Mismatches = append(result.Mismatches, fmt.Sprintf("releasedAmountCents: stored=%d expected=%d", stored.ReleasedAmountCents, expected.ReleasedAmountCents))
		}
		if stored.RefundedAmountCents != expected.RefundedAmountCents {
			result.Mismatches = append(result.Mismatches, fmt.Sprintf("refundedAmountCents: stored=%d expected=%d", stored.RefundedAmountCents, expected.RefundedAmountCents))
		}
	}
	if stored.DecisionPolicyHash != expected.DecisionPolicyHash {
		result.Mismatches = append(result.Mismatches, fmt.Sprintf("decisionPolicyHash: stored=%s expected=%s", stored.DecisionPolicyHash, expected.DecisionPolicyHash))
	}

	result.Match = len(result.Mismatches) == 0
	return result, nil
}

// ResolvePolicy picks the policy version whose PolicyHash equals bindingHash
// out of a tenant's known policy versions — spec §4.7's tie-break rule:
// "when multiple policy versions exist, the one whose policyHash equals the
// binding wins."
func ResolvePolicy(candidates []*Policy, bindingHash string) (*Policy, error) {
	for _, p := range candidates {
		if p.PolicyHash == bindingHash {
			return p, nil
		}
	}
	return nil, fmt.Errorf("verification: no policy version matches binding hash %s", bindingHash)
}

// DisputeWindowEnd computes the dispute window end, per spec §4.7:
// "dispute windows computed from acceptedAt + disputeWindowDays (UTC)."
func DisputeWindowEnd(acceptedAt time.Time, disputeWindowDays int) time.Time {
	return acceptedAt.UTC().AddDate(0, 0, disputeWindowDays)
}
