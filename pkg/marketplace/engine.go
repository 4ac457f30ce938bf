// Copyright 2025 Certen Protocol
//
// Marketplace Engine - RFQ / bid / negotiation / acceptance

package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/nooterra-core/pkg/artifact"
	"github.com/certen/nooterra-core/pkg/commitment"
	"github.com/certen/nooterra-core/pkg/run"
	"github.com/certen/nooterra-core/pkg/store"
)

const (
	rfqProjectionType        = "rfq"
	bidProjectionType        = "bid"
	agreementProjectionType  = "agreement"
	agreementByRunProjection = "agreementByRun"
)

// Clock mirrors the injected-collaborator idiom used across the engine
// packages (pkg/eventchain, pkg/run) so acceptance timestamps are
// deterministic under test.
type Clock func() time.Time

func defaultID(prefix string) func() string {
	return func() string { return prefix + uuid.New().String() }
}

// Engine is the C8 component: it reduces RFQ/bid/proposal projections and
// drives bid acceptance, which atomically binds the agreement artifacts, the
// accepted bid, the corresponding run, and its escrow lock.
type Engine struct {
	store      store.Store
	artifacts  *artifact.Registry
	runs       *run.Engine
	clock      Clock
	newRFQID   func() string
	newBidID   func() string
	newAgreeID func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// New constructs an Engine.
func New(st store.Store, artifacts *artifact.Registry, runs *run.Engine, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		artifacts:  artifacts,
		runs:       runs,
		clock:      time.Now,
		newRFQID:   defaultID("rfq_"),
		newBidID:   defaultID("bid_"),
		newAgreeID: defaultID("agr_"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func proposalHash(prev, proposedBy string, terms map[string]interface{}, at time.Time) (string, error) {
	return commitment.HashCanonical(map[string]interface{}{
		"prevProposalHash":  prev,
		"proposedByAgentId": proposedBy,
		"terms":             terms,
		"createdAt":         at.UTC().Format(time.RFC3339),
	})
}

func (e *Engine) rfqOp(r *RFQ) (store.Op, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return store.Op{}, fmt.Errorf("marketplace: encode rfq projection: %w", err)
	}
	return store.Op{
		Kind: store.OpProjectionUpsert,
		Projection: &store.ProjectionUpsertOp{
			TenantID:         r.TenantID,
			ProjectionType:   rfqProjectionType,
			Key:              r.RFQID,
			Payload:          body,
			ExpectedRevision: r.Revision,
		},
	}, nil
}

func (e *Engine) bidOp(b *Bid) (store.Op, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return store.Op{}, fmt.Errorf("marketplace: encode bid projection: %w", err)
	}
	return store.Op{
		Kind: store.OpProjectionUpsert,
		Projection: &store.ProjectionUpsertOp{
			TenantID:         b.TenantID,
			ProjectionType:   bidProjectionType,
			Key:              b.BidID,
			Payload:          body,
			ExpectedRevision: b.Revision,
		},
	}, nil
}

func (e *Engine) agreementOp(a *Agreement) (store.Op, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return store.Op{}, fmt.Errorf("marketplace: encode agreement projection: %w", err)
	}
	return store.Op{
		Kind: store.OpProjectionUpsert,
		Projection: &store.ProjectionUpsertOp{
			TenantID:       a.TenantID,
			ProjectionType: agreementProjectionType,
			Key:            a.AgreementID,
			Payload:        body,
			// Agreements are write-once: acceptance is the only writer, so
			// the CAS target is always "first write" for this key.
			ExpectedRevision: 1,
		},
	}, nil
}

// agreementByRunOp writes a secondary projection keyed by runID so a run's
// agreement can be looked up without knowing its agreementId, mirroring
// agreementOp's own primary-key write.
func (e *Engine) agreementByRunOp(a *Agreement) (store.Op, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return store.Op{}, fmt.Errorf("marketplace: encode agreement-by-run projection: %w", err)
	}
	return store.Op{
		Kind: store.OpProjectionUpsert,
		Projection: &store.ProjectionUpsertOp{
			TenantID:         a.TenantID,
			ProjectionType:   agreementByRunProjection,
			Key:              a.RunID,
			Payload:          body,
			ExpectedRevision: 1,
		},
	}, nil
}

// GetAgreementByRun returns the agreement that produced runID, if any.
func (e *Engine) GetAgreementByRun(ctx context.Context, tenantID, runID string) (*Agreement, error) {
	rec, err := e.store.GetProjection(ctx, tenantID, agreementByRunProjection, runID)
	if errors.Is(err, store.ErrProjectionNotFound) {
		return nil, ErrAgreementNotFound
	}
	if err != nil {
		return nil, err
	}
	var a Agreement
	if err := json.Unmarshal(rec.Payload, &a); err != nil {
		return nil, fmt.Errorf("marketplace: decode agreement-by-run projection: %w", err)
	}
	return &a, nil
}

// OpenRFQRequest describes a new request for quote.
type OpenRFQRequest struct {
	TenantID       string
	RequesterAgent string
	Terms          map[string]interface{}
}

// OpenRFQ creates a new open RFQ.
func (e *Engine) OpenRFQ(ctx context.Context, req OpenRFQRequest) (*RFQ, error) {
	now := e.clock()
	r := &RFQ{
		RFQID:          e.newRFQID(),
		TenantID:       req.TenantID,
		RequesterAgent: req.RequesterAgent,
		Terms:          req.Terms,
		Status:         RFQStatusOpen,
		Revision:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	op, err := e.rfqOp(r)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.CommitTx(ctx, []store.Op{op}); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRFQ returns the current RFQ projection.
func (e *Engine) GetRFQ(ctx context.Context, tenantID, rfqID string) (*RFQ, error) {
	rec, err := e.store.GetProjection(ctx, tenantID, rfqProjectionType, rfqID)
	if errors.Is(err, store.ErrProjectionNotFound) {
		return nil, ErrRFQNotFound
	}
	if err != nil {
		return nil, err
	}
	var r RFQ
	if err := json.Unmarshal(rec.Payload, &r); err != nil {
		return nil, fmt.Errorf("marketplace: decode rfq projection: %w", err)
	}
	return &r, nil
}

// GetBid returns the current bid projection.
func (e *Engine) GetBid(ctx context.Context, tenantID, bidID string) (*Bid, error) {
	rec, err := e.store.GetProjection(ctx, tenantID, bidProjectionType, bidID)
	if errors.Is(err, store.ErrProjectionNotFound) {
		return nil, ErrBidNotFound
	}
	if err != nil {
		return nil, err
	}
	var b Bid
	if err := json.Unmarshal(rec.Payload, &b); err != nil {
		return nil, fmt.Errorf("marketplace: decode bid projection: %w", err)
	}
	return &b, nil
}

// SubmitBidRequest describes a new bid against an open RFQ.
type SubmitBidRequest struct {
	TenantID string
	RFQID    string
	BidderID string
	Terms    map[string]interface{}
}

// SubmitBid creates a new bid carrying its opening proposal, chained from the
// genesis proposal hash.
func (e *Engine) SubmitBid(ctx context.Context, req SubmitBidRequest) (*Bid, error) {
	rfq, err := e.GetRFQ(ctx, req.TenantID, req.RFQID)
	if err != nil {
		return nil, err
	}
	if rfq.Status != RFQStatusOpen {
		return nil, ErrRFQNotOpen
	}

	now := e.clock()
	hash, err := proposalHash(genesisProposalHash, req.BidderID, req.Terms, now)
	if err != nil {
		return nil, fmt.Errorf("marketplace: hash opening proposal: %w", err)
	}

	b := &Bid{
		BidID:    e.newBidID(),
		RFQID:    req.RFQID,
		TenantID: req.TenantID,
		BidderID: req.BidderID,
		Status:   BidStatusPending,
		Proposals: []Proposal{{
			ProposalHash:     hash,
			PrevProposalHash: genesisProposalHash,
			ProposedBy:       req.BidderID,
			Terms:            req.Terms,
			CreatedAt:        now,
		}},
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	op, err := e.bidOp(b)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.CommitTx(ctx, []store.Op{op}); err != nil {
		return nil, err
	}
	return b, nil
}

// CounterOfferRequest describes a new proposal appended to an existing bid's
// negotiation history.
type CounterOfferRequest struct {
	TenantID           string
	BidID              string
	ProposedBy         string
	Terms              map[string]interface{}
	ExpectedLatestHash string // must equal the bid's current latest proposal hash
}

// CounterOffer appends a new proposal to bid's history, chained from its
// current latest proposal. ExpectedLatestHash guards against a counter-offer
// racing a stale view of the negotiation, per spec §4.8: "acceptance must
// target the latest revision" — the same CAS discipline applies to
// counter-offers themselves.
func (e *Engine) CounterOffer(ctx context.Context, req CounterOfferRequest) (*Bid, error) {
	b, err := e.GetBid(ctx, req.TenantID, req.BidID)
	if err != nil {
		return nil, err
	}
	if b.Status != BidStatusPending {
		return nil, ErrBidNotPending
	}
	latest := b.LatestProposal()
	if latest.ProposalHash != req.ExpectedLatestHash {
		return nil, ErrStaleProposal
	}

	now := e.clock()
	hash, err := proposalHash(latest.ProposalHash, req.ProposedBy, req.Terms, now)
	if err != nil {
		return nil, fmt.Errorf("marketplace: hash counter-offer: %w", err)
	}
	b.Proposals = append(b.Proposals, Proposal{
		ProposalHash:     hash,
		PrevProposalHash: latest.ProposalHash,
		ProposedBy:       req.ProposedBy,
		Terms:            req.Terms,
		CreatedAt:        now,
	})
	b.Revision++
	b.UpdatedAt = now

	op, err := e.bidOp(b)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.CommitTx(ctx, []store.Op{op}); err != nil {
		return nil, err
	}
	return b, nil
}

// AcceptBidRequest describes the acceptance of a bid, binding an agreement,
// a run, and an escrow lock in one atomic commit.
type AcceptBidRequest struct {
	TenantID             string
	RFQID                string
	BidID                string
	AcceptedByAgentID    string
	ExpectedLatestHash   string // acceptance must target the bid's latest proposal
	ActingOnBehalfOfHash string // optional: set when accepting via delegation

	// Terms binding the accepted agreement's policy.
	TermsHash              string
	PolicyHash             string
	VerificationMethodHash string
	PolicyRefHash          string

	// Settlement terms for the run created by acceptance.
	PayerAgentID          string
	AmountCents           int64
	Currency              string
	DisputeWindowDays     int
	PayerExpectedRevision int64

	SignerKeyID string // key used to sign the acceptance artifact, if any
}

// AcceptBid implements spec §4.8's three-part acceptance: a
// MarketplaceAgreementAcceptanceSignature.v2 artifact, a
// MarketplaceAgreementPolicyBinding.v2 artifact, and the atomic creation of
// the accepted bid projection, a MarketplaceTaskAgreement.v2 artifact, the
// corresponding Run + inline settlement, and the escrow lock — all folded
// into a single CommitTx.
func (e *Engine) AcceptBid(ctx context.Context, req AcceptBidRequest) (*Agreement, *run.Run, *run.Settlement, error) {
	rfq, err := e.GetRFQ(ctx, req.TenantID, req.RFQID)
	if err != nil {
		return nil, nil, nil, err
	}
	if rfq.Status != RFQStatusOpen {
		return nil, nil, nil, ErrRFQNotOpen
	}
	b, err := e.GetBid(ctx, req.TenantID, req.BidID)
	if err != nil {
		return nil, nil, nil, err
	}
	if b.Status != BidStatusPending {
		return nil, nil, nil, ErrBidNotPending
	}
	latest := b.LatestProposal()
	if latest.ProposalHash != req.ExpectedLatestHash {
		return nil, nil, nil, ErrStaleProposal
	}

	agreementID := e.newAgreeID()

	runOps, runRec, settlement, err := e.runs.BuildCreateRunOps(ctx, run.CreateRunRequest{
		TenantID: req.TenantID,
		AgentID:  b.BidderID,
		Actor:    req.AcceptedByAgentID,
		Settlement: &run.InlineSettlement{
			PayerAgentID:          req.PayerAgentID,
			AmountCents:           req.AmountCents,
			Currency:              req.Currency,
			DisputeWindowDays:     req.DisputeWindowDays,
			PayerExpectedRevision: req.PayerExpectedRevision,
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}

	ops := append([]store.Op{}, runOps...)

	acceptanceOp, acceptanceArtifactID, err := e.artifacts.BuildPutOp(artifact.PutRequest{
		TenantID:     req.TenantID,
		ArtifactType: "MarketplaceAgreementAcceptanceSignature.v2",
		Body: map[string]interface{}{
			"agreementId":               agreementID,
			"rfqId":                     req.RFQID,
			"runId":                     runRec.RunID,
			"bidId":                     req.BidID,
			"acceptedByAgentId":         req.AcceptedByAgentID,
			"acceptedProposalHash":      latest.ProposalHash,
			"offerChainHash":            latest.ProposalHash,
			"actingOnBehalfOfChainHash": req.ActingOnBehalfOfHash,
			"signerKeyId":               req.SignerKeyID,
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	ops = append(ops, *acceptanceOp)

	policyOp, policyArtifactID, err := e.artifacts.BuildPutOp(artifact.PutRequest{
		TenantID:     req.TenantID,
		ArtifactType: "MarketplaceAgreementPolicyBinding.v2",
		Body: map[string]interface{}{
			"agreementId":            agreementID,
			"termsHash":              req.TermsHash,
			"policyHash":             req.PolicyHash,
			"verificationMethodHash": req.VerificationMethodHash,
			"policyRefHash":          req.PolicyRefHash,
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	ops = append(ops, *policyOp)

	agreementArtifactOp, agreementArtifactID, err := e.artifacts.BuildPutOp(artifact.PutRequest{
		TenantID:     req.TenantID,
		ArtifactType: "MarketplaceTaskAgreement.v2",
		Body: map[string]interface{}{
			"agreementId":             agreementID,
			"rfqId":                   req.RFQID,
			"bidId":                   req.BidID,
			"runId":                   runRec.RunID,
			"acceptedByAgentId":       req.AcceptedByAgentID,
			"acceptanceArtifactId":    acceptanceArtifactID,
			"policyBindingArtifactId": policyArtifactID,
			"terms":                   latest.Terms,
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	ops = append(ops, *agreementArtifactOp)

	now := e.clock()
	b.Status = BidStatusAccepted
	b.Revision++
	b.UpdatedAt = now
	bidOp, err := e.bidOp(b)
	if err != nil {
		return nil, nil, nil, err
	}
	ops = append(ops, bidOp)

	rfq.Status = RFQStatusAssigned
	rfq.AssignedBidID = b.BidID
	rfq.AssignedRunID = runRec.RunID
	rfq.Revision++
	rfq.UpdatedAt = now
	rfqOp, err := e.rfqOp(rfq)
	if err != nil {
		return nil, nil, nil, err
	}
	ops = append(ops, rfqOp)

	agreement := &Agreement{
		AgreementID:             agreementID,
		TenantID:                req.TenantID,
		RFQID:                   req.RFQID,
		BidID:                   req.BidID,
		RunID:                   runRec.RunID,
		AcceptedBy:              req.AcceptedByAgentID,
		ArtifactID:              agreementArtifactID,
		PolicyBindingArtifactID: policyArtifactID,
		AcceptanceArtifactID:    acceptanceArtifactID,
		CreatedAt:               now,
	}
	agreementOp, err := e.agreementOp(agreement)
	if err != nil {
		return nil, nil, nil, err
	}
	ops = append(ops, agreementOp)

	byRunOp, err := e.agreementByRunOp(agreement)
	if err != nil {
		return nil, nil, nil, err
	}
	ops = append(ops, byRunOp)

	if _, err := e.store.CommitTx(ctx, ops); err != nil {
		return nil, nil, nil, err
	}
	return agreement, runRec, settlement, nil
}

// RejectBid marks a pending bid rejected without touching the RFQ.
func (e *Engine) RejectBid(ctx context.Context, tenantID, bidID string) (*Bid, error) {
	b, err := e.GetBid(ctx, tenantID, bidID)
	if err != nil {
		return nil, err
	}
	if b.Status != BidStatusPending {
		return nil, ErrBidNotPending
	}
	b.Status = BidStatusRejected
	b.Revision++
	b.UpdatedAt = e.clock()
	op, err := e.bidOp(b)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.CommitTx(ctx, []store.Op{op}); err != nil {
		return nil, err
	}
	return b, nil
}

// CancelRFQ marks an open RFQ cancelled.
func (e *Engine) CancelRFQ(ctx context.Context, tenantID, rfqID string) (*RFQ, error) {
	r, err := e.GetRFQ(ctx, tenantID, rfqID)
	if err != nil {
		return nil, err
	}
	if r.Status != RFQStatusOpen {
		return nil, ErrRFQNotOpen
	}
	r.Status = RFQStatusCancelled
	r.Revision++
	r.UpdatedAt = e.clock()
	op, err := e.rfqOp(r)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.CommitTx(ctx, []store.Op{op}); err != nil {
		return nil, err
	}
	return r, nil
}
