// Copyright 2025 Certen Protocol
//
// Dispute/Arbitration - dispute lifecycle, evidence, escalation, verdicts

package dispute

import "time"

// Dispute lifecycle states, per spec §4.9: none → open → closed.
const (
	StatusNone   = "none"
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Escalation levels. Escalation may only move forward: l1_counterparty →
// l2_arbiter → l3_external, never backward.
const (
	EscalationCounterparty = "l1_counterparty"
	EscalationArbiter      = "l2_arbiter"
	EscalationExternal     = "l3_external"
)

var escalationRank = map[string]int{
	EscalationCounterparty: 1,
	EscalationArbiter:      2,
	EscalationExternal:     3,
}

// SettlementAdjustment kinds recorded on the SettlementAdjustment.v1
// artifact a verdict produces.
const (
	AdjustmentHoldbackRelease = "HOLDBACK_RELEASE"
	AdjustmentHoldbackRefund  = "HOLDBACK_REFUND"
)

const (
	disputeProjectionType = "dispute"

	artifactTypeOpenEnvelope = "DisputeOpenEnvelope.v1"
	artifactTypeVerdict      = "ArbitrationVerdict.v1"
	artifactTypeAdjustment   = "SettlementAdjustment.v1"
)

// Dispute is the projection-backed read model for one settlement's dispute,
// keyed one-to-one with the run/settlement it's attached to.
type Dispute struct {
	DisputeID       string     `json:"disputeId"`
	RunID           string     `json:"runId"`
	TenantID        string     `json:"tenantId"`
	Status          string     `json:"status"`
	DisputeType     string     `json:"disputeType"`
	DisputePriority string     `json:"disputePriority"`
	DisputeChannel  string     `json:"disputeChannel"`
	EscalationLevel string     `json:"escalationLevel"`
	OpenedBy        string     `json:"openedBy"`
	EvidenceRefs    []string   `json:"evidenceRefs,omitempty"`
	OpenEnvelopeID  string     `json:"openEnvelopeArtifactId,omitempty"`
	VerdictID       string     `json:"verdictArtifactId,omitempty"`
	AdjustmentID    string     `json:"adjustmentArtifactId,omitempty"`
	AdjustmentKind  string     `json:"adjustmentKind,omitempty"`
	Revision        int64      `json:"revision"`
	OpenedAt        time.Time  `json:"openedAt"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
}

// PanelMember identifies one l3_external arbiter's BLS public key, by hex
// encoding, bound to the verdict it co-signed.
type PanelMember struct {
	ArbiterID    string `json:"arbiterId"`
	PublicKeyHex string `json:"publicKeyHex"`
}
