// Copyright 2025 Certen Protocol
//
// Marketplace Protocol Types - RFQ / bid / negotiation projections

package marketplace

import "time"

// RFQ lifecycle (spec §4.8): open → assigned | cancelled | closed.
const (
	RFQStatusOpen      = "open"
	RFQStatusAssigned  = "assigned"
	RFQStatusCancelled = "cancelled"
	RFQStatusClosed    = "closed"
)

// Bid lifecycle: pending → accepted | rejected.
const (
	BidStatusPending  = "pending"
	BidStatusAccepted = "accepted"
	BidStatusRejected = "rejected"
)

// genesisProposalHash is the prevProposalHash expected on a bid's first
// proposal, mirroring pkg/store.GenesisChainHash's zero-hash convention.
const genesisProposalHash = "0000000000000000000000000000000000000000000000000000000000000"

// RFQ is the projection row for one request for quote.
type RFQ struct {
	RFQID           string                 `json:"rfqId"`
	TenantID        string                 `json:"tenantId"`
	RequesterAgent  string                 `json:"requesterAgentId"`
	Terms           map[string]interface{} `json:"terms"`
	Status          string                 `json:"status"`
	AssignedBidID   string                 `json:"assignedBidId,omitempty"`
	AssignedRunID   string                 `json:"assignedRunId,omitempty"`
	Revision        int64                  `json:"revision"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// Proposal is one entry in a bid's negotiation history, hash-chained by
// prevProposalHash per spec §4.8: "Counter-offers append a
// MarketplaceBidProposal.v1 whose prevProposalHash is the previous
// proposal's hash."
type Proposal struct {
	ProposalHash     string                 `json:"proposalHash"`
	PrevProposalHash string                 `json:"prevProposalHash"`
	ProposedBy       string                 `json:"proposedByAgentId"`
	Terms            map[string]interface{} `json:"terms"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// Bid is the projection row for one bid against an RFQ, carrying its full
// negotiation history.
type Bid struct {
	BidID     string     `json:"bidId"`
	RFQID     string     `json:"rfqId"`
	TenantID  string     `json:"tenantId"`
	BidderID  string     `json:"bidderAgentId"`
	Status    string     `json:"status"`
	Proposals []Proposal `json:"proposals"`
	Revision  int64      `json:"revision"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// LatestProposal returns the bid's most recent proposal (its current
// negotiated terms), or the zero value if the bid somehow has none.
func (b *Bid) LatestProposal() Proposal {
	if len(b.Proposals) == 0 {
		return Proposal{}
	}
	return b.Proposals[len(b.Proposals)-1]
}

// Agreement is the projection row materialized from a MarketplaceTaskAgreement.v2
// artifact at acceptance time.
type Agreement struct {
	AgreementID             string    `json:"agreementId"`
	TenantID                string    `json:"tenantId"`
	RFQID                   string    `json:"rfqId"`
	BidID                   string    `json:"bidId"`
	RunID                   string    `json:"runId"`
	AcceptedBy              string    `json:"acceptedByAgentId"`
	ArtifactID              string    `json:"agreementArtifactId"`
	PolicyBindingArtifactID string    `json:"policyBindingArtifactId"`
	AcceptanceArtifactID    string    `json:"acceptanceArtifactId"`
	CreatedAt               time.Time `json:"createdAt"`
}
