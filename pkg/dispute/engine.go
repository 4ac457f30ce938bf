// Copyright 2025 Certen Protocol
//
// Dispute/Arbitration Engine - open/evidence/escalate/close over a locked
// settlement, producing the verdict and settlement-adjustment artifacts

package dispute

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/nooterra-core/pkg/artifact"
	"github.com/certen/nooterra-core/pkg/commitment"
	"github.com/certen/nooterra-core/pkg/metrics"
	"github.com/certen/nooterra-core/pkg/run"
	"github.com/certen/nooterra-core/pkg/signing"
	"github.com/certen/nooterra-core/pkg/store"
	"github.com/certen/nooterra-core/pkg/wallet"
	"github.com/certen/nooterra-core/pkg/x402gate"
)

// Clock mirrors the injected-collaborator idiom used across C4/C6/C7/C8.
type Clock func() time.Time

func defaultDisputeID() string { return "dsp_" + uuid.New().String() }

// Engine is the C9 component: it drives the dispute lifecycle attached to a
// locked settlement and, on close, produces the verdict and adjustment
// artifacts plus the escrow resolution and any coverage-reserve postings.
type Engine struct {
	store        store.Store
	artifacts    *artifact.Registry
	runs         *run.Engine
	signer       *signing.Signer
	gates        *x402gate.Engine
	clock        Clock
	newDisputeID func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithGateEngine wires C10's x402 gate lookups into dispute
// open/close, so a dispute that references a gate (a payment whose
// counterparty now disputes the underlying execution) can re-validate the
// gate's request binding against the evidence the dispute carries, per
// spec §7's X402_DISPUTE_CLOSE_BINDING_EVIDENCE_*/X402_ARBITRATION_OPEN_BINDING_EVIDENCE_*
// codes. A dispute with no GateID set never touches this.
func WithGateEngine(g *x402gate.Engine) Option { return func(e *Engine) { e.gates = g } }

// New constructs an Engine. signer is used for l1_counterparty/l2_arbiter
// Ed25519 verdict signing; l3_external verdicts never touch it, since that
// escalation level's arbiters hold key material outside this tenant's
// registry and submit already-signed BLS shares instead.
func New(st store.Store, artifacts *artifact.Registry, runs *run.Engine, signer *signing.Signer, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		artifacts:    artifacts,
		runs:         runs,
		signer:       signer,
		clock:        time.Now,
		newDisputeID: defaultDisputeID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) disputeProjectionOp(tenantID string, d *Dispute) (store.Op, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return store.Op{}, fmt.Errorf("dispute: encode projection: %w", err)
	}
	return store.Op{
		Kind: store.OpProjectionUpsert,
		Projection: &store.ProjectionUpsertOp{
			TenantID:         tenantID,
			ProjectionType:   disputeProjectionType,
			Key:              d.DisputeID,
			Payload:          body,
			ExpectedRevision: d.Revision,
		},
	}, nil
}

// GetDispute returns the current dispute projection.
func (e *Engine) GetDispute(ctx context.Context, tenantID, disputeID string) (*Dispute, error) {
	rec, err := e.store.GetProjection(ctx, tenantID, disputeProjectionType, disputeID)
	if errors.Is(err, store.ErrProjectionNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d Dispute
	if err := json.Unmarshal(rec.Payload, &d); err != nil {
		return nil, fmt.Errorf("dispute: decode projection: %w", err)
	}
	return &d, nil
}

// OpenRequest describes a new dispute against a locked settlement.
type OpenRequest struct {
	TenantID        string
	RunID           string
	DisputeID       string // optional; generated if empty
	DisputeType     string
	DisputePriority string
	DisputeChannel  string
	EscalationLevel string
	OpenedBy        string

	// GateID, if the run's settlement was paid through an x402 gate (C10),
	// re-validates the gate's strict-mode request binding against
	// GateEvidenceRefs before the dispute opens — an arbitration opened
	// over a disputed binding is itself spec §7's
	// X402_ARBITRATION_OPEN_BINDING_EVIDENCE_REQUIRED/_MISMATCH case.
	// Empty GateID skips this check entirely.
	GateID           string
	GateEvidenceRefs []string
}

// Open opens a dispute on runID's locked settlement and flips the
// settlement's disputeStatus to open in the same commit as the
// DisputeOpenEnvelope.v1 artifact and the dispute projection. Only
// escalationLevel is validated; disputeType, disputePriority and
// disputeChannel are stored as given and may be empty.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*Dispute, error) {
	if _, ok := escalationRank[req.EscalationLevel]; !ok {
		return nil, ErrUnknownEscalationLevel
	}
	if req.GateID != "" {
		if e.gates == nil {
			return nil, fmt.Errorf("dispute: GateID set but no gate engine configured")
		}
		gate, err := e.gates.GetGate(ctx, req.TenantID, req.GateID)
		if err != nil {
			return nil, err
		}
		if err := x402gate.CheckBindingEvidence(gate, req.GateEvidenceRefs, x402gate.BindingEvidenceArbitrationOpen); err != nil {
			return nil, err
		}
	}

	settleOp, _, err := e.runs.BuildOpenDisputeOp(ctx, req.TenantID, req.RunID)
	if err != nil {
		if errors.Is(err, run.ErrInvalidTransition) {
			return nil, ErrAlreadyOpen
		}
		return nil, err
	}

	disputeID := req.DisputeID
	if disputeID == "" {
		disputeID = e.newDisputeID()
	}
	now := e.clock()

	envelopeOp, envelopeID, err := e.artifacts.BuildPutOp(artifact.PutRequest{
		TenantID:     req.TenantID,
		ArtifactType: artifactTypeOpenEnvelope,
		Body: map[string]interface{}{
			"disputeId":       disputeID,
			"runId":           req.RunID,
			"disputeType":     req.DisputeType,
			"disputePriority": req.DisputePriority,
			"disputeChannel":  req.DisputeChannel,
			"escalationLevel": req.EscalationLevel,
			"openedBy":        req.OpenedBy,
			"openedAt":        now.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	d := &Dispute{
		DisputeID:       disputeID,
		RunID:           req.RunID,
		TenantID:        req.TenantID,
		Status:          StatusOpen,
		DisputeType:     req.DisputeType,
		DisputePriority: req.DisputePriority,
		DisputeChannel:  req.DisputeChannel,
		EscalationLevel: req.EscalationLevel,
		OpenedBy:        req.OpenedBy,
		OpenEnvelopeID:  envelopeID,
		Revision:        1,
		OpenedAt:        now,
	}
	disputeOp, err := e.disputeProjectionOp(req.TenantID, d)
	if err != nil {
		return nil, err
	}

	ops := []store.Op{*envelopeOp, settleOp, disputeOp}
	if _, err := e.store.CommitTx(ctx, ops); err != nil {
		return nil, err
	}
	metrics.DisputesOpenedTotal.WithLabelValues(req.EscalationLevel).Inc()
	return d, nil
}

// AddEvidence appends an evidence reference to an open dispute.
func (e *Engine) AddEvidence(ctx context.Context, tenantID, disputeID, evidenceRef string) (*Dispute, error) {
	d, err := e.GetDispute(ctx, tenantID, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusOpen {
		return nil, ErrNotOpen
	}
	d.EvidenceRefs = append(d.EvidenceRefs, evidenceRef)
	d.Revision++

	op, err := e.disputeProjectionOp(tenantID, d)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.CommitTx(ctx, []store.Op{op}); err != nil {
		return nil, err
	}
	return d, nil
}

// Escalate raises an open dispute's escalation level. Escalation may only
// move forward: l1_counterparty → l2_arbiter → l3_external.
func (e *Engine) Escalate(ctx context.Context, tenantID, disputeID, newLevel string) (*Dispute, error) {
	rank, ok := escalationRank[newLevel]
	if !ok {
		return nil, ErrUnknownEscalationLevel
	}
	d, err := e.GetDispute(ctx, tenantID, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusOpen {
		return nil, ErrNotOpen
	}
	if rank <= escalationRank[d.EscalationLevel] {
		return nil, ErrEscalationBackwards
	}
	d.EscalationLevel = newLevel
	d.Revision++

	op, err := e.disputeProjectionOp(tenantID, d)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.CommitTx(ctx, []store.Op{op}); err != nil {
		return nil, err
	}
	return d, nil
}

// CloseRequest describes a verdict closing an open dispute.
type CloseRequest struct {
	TenantID       string
	DisputeID      string
	ReleaseRatePct int

	// ArbiterKeyID signs the verdict hash for l1_counterparty/l2_arbiter
	// disputes, through the ordinary Ed25519 signer.
	ArbiterKeyID string

	// PanelMembers and PanelSignatureHexes sign l3_external verdicts: each
	// member's hex-encoded BLS signature over the domain-separated verdict
	// hash is aggregated into the one signature the artifact stores.
	PanelMembers        []PanelMember
	PanelSignatureHexes []string

	// CoverageAdjustmentCents, if positive, has the insurer's coverage
	// reserve advance the payee funds ahead of/beyond the escrowed amount,
	// booking a matching insurer receivable. Zero for an ordinary verdict
	// that only disposes of the escrow itself.
	CoverageAdjustmentCents int64

	// GateID, mirroring OpenRequest, re-validates an x402 gate's request
	// binding against GateEvidenceRefs before the dispute closes — the
	// X402_DISPUTE_CLOSE_BINDING_EVIDENCE_REQUIRED/_MISMATCH case. Empty
	// GateID skips this check entirely.
	GateID           string
	GateEvidenceRefs []string
}

// Close resolves an open dispute per its verdict: releases/refunds the
// settlement's locked escrow at releaseRatePct, signs and stores the
// ArbitrationVerdict.v1 and SettlementAdjustment.v1 artifacts, and — for
// l3_external — verifies the aggregated panel signature actually backs the
// verdict hash before any of it commits.
func (e *Engine) Close(ctx context.Context, req CloseRequest) (*Dispute, *run.Settlement, error) {
	if req.ReleaseRatePct < 0 || req.ReleaseRatePct > 100 {
		return nil, nil, fmt.Errorf("dispute: releaseRatePct must be between 0 and 100, got %d", req.ReleaseRatePct)
	}
	d, err := e.GetDispute(ctx, req.TenantID, req.DisputeID)
	if err != nil {
		return nil, nil, err
	}
	if d.Status != StatusOpen {
		return nil, nil, ErrNotOpen
	}
	if req.GateID != "" {
		if e.gates == nil {
			return nil, nil, fmt.Errorf("dispute: GateID set but no gate engine configured")
		}
		gate, err := e.gates.GetGate(ctx, req.TenantID, req.GateID)
		if err != nil {
			return nil, nil, err
		}
		if err := x402gate.CheckBindingEvidence(gate, req.GateEvidenceRefs, x402gate.BindingEvidenceDisputeClose); err != nil {
			return nil, nil, err
		}
	}

	now := e.clock()
	verdictBody := map[string]interface{}{
		"disputeId":       d.DisputeID,
		"runId":           d.RunID,
		"escalationLevel": d.EscalationLevel,
		"releaseRatePct":  req.ReleaseRatePct,
		"decidedAt":       now.UTC().Format(time.RFC3339),
	}

	var sigHex string
	switch d.EscalationLevel {
	case EscalationExternal:
		if len(req.PanelSignatureHexes) < panelQuorum(len(req.PanelMembers)) {
			return nil, nil, ErrPanelQuorumNotMet
		}
		verdictBody["signatureScheme"] = "bls12381-aggregate"
		memberIDs := make([]string, 0, len(req.PanelMembers))
		for _, m := range req.PanelMembers {
			memberIDs = append(memberIDs, m.ArbiterID)
		}
		verdictBody["panelMembers"] = memberIDs

		// Hash the body without the not-yet-known signature so the panel
		// signs exactly what gets stored.
		hashHex, err := commitment.HashCanonical(verdictBody)
		if err != nil {
			return nil, nil, fmt.Errorf("dispute: hash verdict body: %w", err)
		}
		verdictHash, err := hex.DecodeString(hashHex)
		if err != nil {
			return nil, nil, fmt.Errorf("dispute: decode verdict hash: %w", err)
		}

		sigHex, err = aggregatePanelSignatures(req.PanelSignatureHexes)
		if err != nil {
			return nil, nil, err
		}
		if err := verifyPanelVerdict(req.PanelMembers, sigHex, verdictHash); err != nil {
			return nil, nil, err
		}
		verdictBody["verdictHash"] = hashHex
	case EscalationCounterparty, EscalationArbiter:
		if req.ArbiterKeyID == "" {
			return nil, nil, fmt.Errorf("dispute: arbiterKeyId required for %s verdicts", d.EscalationLevel)
		}
		verdictBody["signatureScheme"] = "ed25519"
		verdictBody["signerKeyId"] = req.ArbiterKeyID

		hashHex, err := commitment.HashCanonical(verdictBody)
		if err != nil {
			return nil, nil, fmt.Errorf("dispute: hash verdict body: %w", err)
		}
		verdictHash, err := hex.DecodeString(hashHex)
		if err != nil {
			return nil, nil, fmt.Errorf("dispute: decode verdict hash: %w", err)
		}
		sigHex, err = signEd25519Verdict(e.signer, req.TenantID, req.ArbiterKeyID, verdictHash)
		if err != nil {
			return nil, nil, err
		}
		verdictBody["verdictHash"] = hashHex
	default:
		return nil, nil, ErrUnknownEscalationLevel
	}
	verdictBody["signature"] = sigHex

	verdictOp, verdictID, err := e.artifacts.BuildPutOp(artifact.PutRequest{
		TenantID:     req.TenantID,
		ArtifactType: artifactTypeVerdict,
		Body:         verdictBody,
	})
	if err != nil {
		return nil, nil, err
	}

	adjustmentKind := AdjustmentHoldbackRefund
	if req.ReleaseRatePct > 0 {
		adjustmentKind = AdjustmentHoldbackRelease
	}
	adjustmentOp, adjustmentID, err := e.artifacts.BuildPutOp(artifact.PutRequest{
		TenantID:     req.TenantID,
		ArtifactType: artifactTypeAdjustment,
		Body: map[string]interface{}{
			"disputeId":               d.DisputeID,
			"runId":                   d.RunID,
			"kind":                    adjustmentKind,
			"releaseRatePct":          req.ReleaseRatePct,
			"verdictArtifactId":       verdictID,
			"coverageAdjustmentCents": req.CoverageAdjustmentCents,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	settleOps, settlement, err := e.runs.BuildArbitrationResolutionOps(ctx, req.TenantID, d.RunID, req.ReleaseRatePct, verdictID)
	if err != nil {
		return nil, nil, err
	}

	ops := []store.Op{*verdictOp, *adjustmentOp}
	ops = append(ops, settleOps...)

	if req.CoverageAdjustmentCents > 0 {
		// The coverage reserve advances the payee directly, then books a
		// matching insurer receivable to restore the reserve to its
		// pre-advance balance — the reserve's net change across both legs
		// is zero; only the receivable carries the -X owed by the insurer
		// until the insurer settles it.
		payeeAccount := wallet.AccountAvailable(settlement.AgentID)
		payoutOps, err := wallet.Post(req.TenantID, "dispute:"+d.DisputeID+":coverage-payout", map[string]int64{
			wallet.AccountCoverageReserve: -req.CoverageAdjustmentCents,
			payeeAccount:                  req.CoverageAdjustmentCents,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dispute: build coverage payout: %w", err)
		}
		claimOps, err := wallet.Post(req.TenantID, "dispute:"+d.DisputeID+":coverage-claim", map[string]int64{
			wallet.AccountInsurerReceivable: -req.CoverageAdjustmentCents,
			wallet.AccountCoverageReserve:   req.CoverageAdjustmentCents,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dispute: build coverage claim: %w", err)
		}
		ops = append(ops, payoutOps...)
		ops = append(ops, claimOps...)
	}

	d.Status = StatusClosed
	d.VerdictID = verdictID
	d.AdjustmentID = adjustmentID
	d.AdjustmentKind = adjustmentKind
	d.Revision++
	d.ClosedAt = &now

	disputeOp, err := e.disputeProjectionOp(req.TenantID, d)
	if err != nil {
		return nil, nil, err
	}
	ops = append(ops, disputeOp)

	if _, err := e.store.CommitTx(ctx, ops); err != nil {
		return nil, nil, err
	}
	metrics.DisputesClosedTotal.WithLabelValues(adjustmentKind).Inc()
	return d, settlement, nil
}
