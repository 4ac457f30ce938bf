// Copyright 2025 Certen Protocol
//
// Dispute/arbitration HTTP handlers: open, evidence, escalate, close.

package server

import (
	"context"
	"net/http"

	"github.com/certen/nooterra-core/pkg/dispute"
	"github.com/certen/nooterra-core/pkg/pipeline"
	"github.com/certen/nooterra-core/pkg/store"
)

type openDisputeRequest struct {
	DisputeID        string   `json:"disputeId"`
	DisputeType      string   `json:"disputeType"`
	DisputePriority  string   `json:"disputePriority"`
	DisputeChannel   string   `json:"disputeChannel"`
	EscalationLevel  string   `json:"escalationLevel"`
	OpenedBy         string   `json:"openedBy"`
	GateID           string   `json:"gateId"`
	GateEvidenceRefs []string `json:"gateEvidenceRefs"`
}

// HandleOpenDispute implements POST /runs/{runId}/dispute/open.
func (h *Handlers) HandleOpenDispute(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	runID := r.PathValue("runId")

	var req openDisputeRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.EscalationLevel == "" || req.OpenedBy == "" {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}

	pipelineReq := pipeline.Request{
		TenantID: tenant, Method: r.Method, Path: r.URL.Path, Body: req,
		IdempotencyKey: idempotencyKey(r), RequestID: reqID,
	}
	// Open commits internally (it folds the settlement's disputeStatus
	// transition into the same commit as the open envelope artifact), so it
	// follows the same non-atomic idempotency-record tradeoff as
	// run.AppendEvent and marketplace.AcceptBid.
	result, err := h.Pipeline.Execute(r.Context(), pipelineReq, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		d, err := h.Disputes.Open(ctx, dispute.OpenRequest{
			TenantID:         tenant,
			RunID:            runID,
			DisputeID:        req.DisputeID,
			DisputeType:      req.DisputeType,
			DisputePriority:  req.DisputePriority,
			DisputeChannel:   req.DisputeChannel,
			EscalationLevel:  req.EscalationLevel,
			OpenedBy:         req.OpenedBy,
			GateID:           req.GateID,
			GateEvidenceRefs: req.GateEvidenceRefs,
		})
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, d, http.StatusCreated, nil
	})
	if err != nil {
		h.Logger.Printf("open dispute: %v", err)
		writeError(w, reqID, err)
		return
	}
	if result.Envelope != nil {
		h.publishRunEvent(tenant, runID, "dispute.opened", result.Envelope.Body)
	}
	writeEnvelope(w, reqID, result)
}

type addEvidenceRequest struct {
	DisputeID   string `json:"disputeId"`
	EvidenceRef string `json:"evidenceRef"`
}

// HandleAddEvidence implements POST /runs/{runId}/dispute/evidence.
func (h *Handlers) HandleAddEvidence(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	runID := r.PathValue("runId")

	var req addEvidenceRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.DisputeID == "" || req.EvidenceRef == "" {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}

	pipelineReq := pipeline.Request{
		TenantID: tenant, Method: r.Method, Path: r.URL.Path, Body: req,
		IdempotencyKey: idempotencyKey(r), RequestID: reqID,
	}
	result, err := h.Pipeline.Execute(r.Context(), pipelineReq, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		d, err := h.Disputes.AddEvidence(ctx, tenant, req.DisputeID, req.EvidenceRef)
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, d, http.StatusOK, nil
	})
	if err != nil {
		h.Logger.Printf("add dispute evidence: %v", err)
		writeError(w, reqID, err)
		return
	}
	if result.Envelope != nil {
		h.publishRunEvent(tenant, runID, "dispute.evidence_added", result.Envelope.Body)
	}
	writeEnvelope(w, reqID, result)
}

type escalateDisputeRequest struct {
	DisputeID string `json:"disputeId"`
	NewLevel  string `json:"escalationLevel"`
}

// HandleEscalateDispute implements POST /runs/{runId}/dispute/escalate.
func (h *Handlers) HandleEscalateDispute(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	runID := r.PathValue("runId")

	var req escalateDisputeRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.DisputeID == "" || req.NewLevel == "" {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}

	pipelineReq := pipeline.Request{
		TenantID: tenant, Method: r.Method, Path: r.URL.Path, Body: req,
		IdempotencyKey: idempotencyKey(r), RequestID: reqID,
	}
	result, err := h.Pipeline.Execute(r.Context(), pipelineReq, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		d, err := h.Disputes.Escalate(ctx, tenant, req.DisputeID, req.NewLevel)
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, d, http.StatusOK, nil
	})
	if err != nil {
		h.Logger.Printf("escalate dispute: %v", err)
		writeError(w, reqID, err)
		return
	}
	if result.Envelope != nil {
		h.publishRunEvent(tenant, runID, "dispute.escalated", result.Envelope.Body)
	}
	writeEnvelope(w, reqID, result)
}

type panelMemberPayload struct {
	ArbiterID    string `json:"arbiterId"`
	PublicKeyHex string `json:"publicKeyHex"`
}

type closeDisputeRequest struct {
	DisputeID               string               `json:"disputeId"`
	ReleaseRatePct          int                  `json:"releaseRatePct"`
	ArbiterKeyID            string               `json:"arbiterKeyId"`
	PanelMembers            []panelMemberPayload `json:"panelMembers"`
	PanelSignatureHexes     []string             `json:"panelSignatureHexes"`
	CoverageAdjustmentCents int64                `json:"coverageAdjustmentCents"`
	GateID                  string               `json:"gateId"`
	GateEvidenceRefs        []string             `json:"gateEvidenceRefs"`
}

// HandleCloseDispute implements POST /runs/{runId}/dispute/close.
func (h *Handlers) HandleCloseDispute(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	runID := r.PathValue("runId")

	var req closeDisputeRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.DisputeID == "" {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}

	members := make([]dispute.PanelMember, 0, len(req.PanelMembers))
	for _, m := range req.PanelMembers {
		members = append(members, dispute.PanelMember{ArbiterID: m.ArbiterID, PublicKeyHex: m.PublicKeyHex})
	}

	pipelineReq := pipeline.Request{
		TenantID: tenant, Method: r.Method, Path: r.URL.Path, Body: req,
		IdempotencyKey: idempotencyKey(r), RequestID: reqID,
	}
	result, err := h.Pipeline.Execute(r.Context(), pipelineReq, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		d, settlement, err := h.Disputes.Close(ctx, dispute.CloseRequest{
			TenantID:                tenant,
			DisputeID:               req.DisputeID,
			ReleaseRatePct:          req.ReleaseRatePct,
			ArbiterKeyID:            req.ArbiterKeyID,
			PanelMembers:            members,
			PanelSignatureHexes:     req.PanelSignatureHexes,
			CoverageAdjustmentCents: req.CoverageAdjustmentCents,
			GateID:                  req.GateID,
			GateEvidenceRefs:        req.GateEvidenceRefs,
		})
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, map[string]interface{}{"dispute": d, "settlement": settlement}, http.StatusOK, nil
	})
	if err != nil {
		h.Logger.Printf("close dispute: %v", err)
		writeError(w, reqID, err)
		return
	}
	if result.Envelope != nil {
		h.publishRunEvent(tenant, runID, "dispute.closed", result.Envelope.Body)
	}
	writeEnvelope(w, reqID, result)
}

// HandleGetDispute implements GET /runs/{runId}/dispute, reading by
// disputeId query parameter since the dispute projection is keyed by its
// own id, not the run's.
func (h *Handlers) HandleGetDispute(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	disputeID := r.URL.Query().Get("disputeId")
	if disputeID == "" {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}
	d, err := h.Disputes.GetDispute(r.Context(), tenant, disputeID)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeOK(w, reqID, d)
}
