// Copyright 2025 Certen Protocol
//
// Run Lifecycle Types - run/settlement projections and the run event chain

package run

import "time"

// Event types that make up a run's append-only chain (spec §4.7):
// RUN_CREATED → RUN_STARTED → (RUN_HEARTBEAT | EVIDENCE_ADDED)* → (RUN_COMPLETED | RUN_FAILED)
const (
	EventRunCreated   = "RUN_CREATED"
	EventRunStarted   = "RUN_STARTED"
	EventHeartbeat    = "RUN_HEARTBEAT"
	EventEvidenceAdd  = "EVIDENCE_ADDED"
	EventRunCompleted = "RUN_COMPLETED"
	EventRunFailed    = "RUN_FAILED"
)

// Run statuses; created→running→(completed|failed), terminal states cannot
// transition further.
const (
	StatusCreated   = "created"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Settlement lifecycle statuses (locked→released|refunded).
const (
	SettlementLocked   = "locked"
	SettlementReleased = "released"
	SettlementRefunded = "refunded"
)

// Dispute statuses attached to a settlement.
const (
	DisputeNone   = "none"
	DisputeOpen   = "open"
	DisputeClosed = "closed"
)

// Settlement decision statuses.
const (
	DecisionPending              = "pending"
	DecisionAutoResolved         = "auto_resolved"
	DecisionManualReviewRequired = "manual_review_required"
	DecisionManualResolved       = "manual_resolved"
)

// Run is the projection row for one agent run.
type Run struct {
	RunID         string    `json:"runId"`
	AgentID       string    `json:"agentId"`
	TenantID      string    `json:"tenantId"`
	Status        string    `json:"status"`
	LastEventID   string    `json:"lastEventId"`
	LastChainHash string    `json:"lastChainHash"`
	Revision      int64     `json:"revision"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Settlement is the projection row for one run's settlement. Spec §3: "one
// settlement per run."
type Settlement struct {
	SettlementID        string     `json:"settlementId"`
	RunID               string     `json:"runId"`
	PayerAgentID        string     `json:"payerAgentId"`
	AgentID             string     `json:"agentId"` // payee
	AmountCents         int64      `json:"amountCents"`
	Currency            string     `json:"currency"`
	Status              string     `json:"status"`
	DisputeWindowDays   int        `json:"disputeWindowDays"`
	DisputeWindowEndsAt time.Time  `json:"disputeWindowEndsAt"`
	DisputeStatus       string     `json:"disputeStatus"`
	DecisionStatus      string     `json:"decisionStatus"`
	DecisionPolicyHash  string     `json:"decisionPolicyHash"`
	ReleaseRatePct      int        `json:"releaseRatePct"`
	ReleasedAmountCents int64      `json:"releasedAmountCents"`
	RefundedAmountCents int64      `json:"refundedAmountCents"`
	DecisionTrace       []string   `json:"decisionTrace,omitempty"`
	ArbitrationVerdict  string     `json:"arbitrationVerdictId,omitempty"`
	Revision            int64      `json:"revision"`
	AcceptedAt          time.Time  `json:"acceptedAt"`
	ClosedAt            *time.Time `json:"closedAt,omitempty"`
}
