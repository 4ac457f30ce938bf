// Copyright 2025 Certen Protocol
//
// Run lifecycle HTTP handlers: create run, append event, settlement reads,
// policy replay, and manual settlement resolution.

package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/certen/nooterra-core/pkg/pipeline"
	"github.com/certen/nooterra-core/pkg/run"
	"github.com/certen/nooterra-core/pkg/store"
	"github.com/certen/nooterra-core/pkg/verification"
)

type createRunRequest struct {
	RunID      string                   `json:"runId"`
	Actor      string                   `json:"actor"`
	Settlement *inlineSettlementPayload `json:"settlement"`
}

type inlineSettlementPayload struct {
	PayerAgentID          string `json:"payerAgentId"`
	AmountCents           int64  `json:"amountCents"`
	Currency              string `json:"currency"`
	DisputeWindowDays     int    `json:"disputeWindowDays"`
	PayerExpectedRevision int64  `json:"payerExpectedRevision"`
}

// HandleCreateRun implements POST /agents/{id}/runs.
func (h *Handlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	agentID := r.PathValue("id")

	var req createRunRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}

	pipelineReq := pipeline.Request{
		TenantID:       tenant,
		Method:         r.Method,
		Path:           r.URL.Path,
		Body:           req,
		IdempotencyKey: idempotencyKey(r),
		RequestID:      reqID,
	}
	result, err := h.Pipeline.Execute(r.Context(), pipelineReq, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		createReq := run.CreateRunRequest{
			TenantID: tenant,
			AgentID:  agentID,
			RunID:    req.RunID,
			Actor:    req.Actor,
		}
		if req.Settlement != nil {
			createReq.Settlement = &run.InlineSettlement{
				PayerAgentID:          req.Settlement.PayerAgentID,
				AmountCents:           req.Settlement.AmountCents,
				Currency:              req.Settlement.Currency,
				DisputeWindowDays:     req.Settlement.DisputeWindowDays,
				PayerExpectedRevision: req.Settlement.PayerExpectedRevision,
			}
		}
		ops, runRec, settlement, err := h.Runs.BuildCreateRunOps(ctx, createReq)
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return ops, map[string]interface{}{"run": runRec, "settlement": settlement}, http.StatusCreated, nil
	})
	if err != nil {
		h.Logger.Printf("create run: %v", err)
		writeError(w, reqID, err)
		return
	}
	if result.Envelope != nil {
		h.publishRunEvent(tenant, agentID, "run.created", result.Envelope.Body)
	}
	writeEnvelope(w, reqID, result)
}

type appendEventRequest struct {
	EventType          string         `json:"eventType"`
	Payload            interface{}    `json:"payload"`
	Actor              string         `json:"actor"`
	VerificationStatus string         `json:"verificationStatus"`
	Policy             *policyPayload `json:"policy"`
}

type policyPayload struct {
	PolicyHash string                       `json:"policyHash"`
	Rules      map[string]verification.Rule `json:"rules"`
}

func (p *policyPayload) toPolicy() *verification.Policy {
	if p == nil {
		return nil
	}
	rules := make(map[verification.Status]verification.Rule, len(p.Rules))
	for k, v := range p.Rules {
		rules[verification.Status(k)] = v
	}
	return &verification.Policy{PolicyHash: p.PolicyHash, Rules: rules}
}

// HandleAppendEvent implements POST /agents/{id}/runs/{runId}/events. The
// caller must supply x-proxy-expected-prev-chain-hash; when it is absent the
// append is checked against store.GenesisChainHash, which only matches an
// empty stream, so on a run (whose stream starts with RUN_CREATED) it fails
// with CHAIN_HASH_MISMATCH.
func (h *Handlers) HandleAppendEvent(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	runID := r.PathValue("runId")

	var req appendEventRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.EventType == "" {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}

	// AppendEvent commits internally (it folds settlement evaluation into
	// the same commit as the triggering event), so it can't be expressed as
	// a pipeline.BuildFunc that defers its own commit. The pipeline engine
	// still records the idempotency entry in a follow-up commit, giving
	// retries a byte-identical replay even though the two writes aren't
	// part of one transaction.
	pipelineReq := pipeline.Request{
		TenantID:       tenant,
		Method:         r.Method,
		Path:           r.URL.Path,
		Body:           req,
		IdempotencyKey: idempotencyKey(r),
		RequestID:      reqID,
	}
	result, err := h.Pipeline.Execute(r.Context(), pipelineReq, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		updatedRun, settlement, err := h.Runs.AppendEvent(ctx, run.AppendEventRequest{
			TenantID:              tenant,
			RunID:                 runID,
			EventType:             req.EventType,
			Payload:               req.Payload,
			Actor:                 req.Actor,
			ExpectedPrevChainHash: expectedPrevChainHash(r),
			VerificationStatus:    verification.Status(req.VerificationStatus),
			Policy:                req.Policy.toPolicy(),
		})
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, map[string]interface{}{"run": updatedRun, "settlement": settlement}, http.StatusOK, nil
	})
	if err != nil {
		h.Logger.Printf("append event: %v", err)
		writeError(w, reqID, err)
		return
	}
	if result.Envelope != nil {
		h.publishRunEvent(tenant, runID, "run."+req.EventType, result.Envelope.Body)
	}
	writeEnvelope(w, reqID, result)
}

// HandleGetSettlement implements GET /runs/{runId}/settlement.
func (h *Handlers) HandleGetSettlement(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	s, err := h.Runs.GetSettlement(r.Context(), tenant, r.PathValue("runId"))
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeOK(w, reqID, s)
}

// HandleGetRun implements an ancillary GET /runs/{runId} lookup (not named
// as its own bullet in the external-interfaces list, but required to
// resolve a run by id the way settlement/verification/agreement all are).
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	runRec, err := h.Runs.GetRun(r.Context(), tenant, r.PathValue("runId"))
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeOK(w, reqID, runRec)
}

// HandleGetVerification implements GET /runs/{runId}/verification: the run's
// event chain, letting a caller independently verify the hash chain and
// inspect the events (EVIDENCE_ADDED, RUN_COMPLETED, etc) a settlement
// decision was computed from.
func (h *Handlers) HandleGetVerification(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	events, err := h.Store.GetEventStream(r.Context(), tenant, "run:"+r.PathValue("runId"))
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeOK(w, reqID, map[string]interface{}{"events": events})
}

// HandleGetAgreement implements GET /runs/{runId}/agreement: the
// marketplace agreement (if any) that produced this run.
func (h *Handlers) HandleGetAgreement(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	agreement, err := h.Market.GetAgreementByRun(r.Context(), tenant, r.PathValue("runId"))
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeOK(w, reqID, agreement)
}

// HandleGetPolicyReplay implements GET /runs/{runId}/settlement/policy-replay.
// The caller supplies the verification status and the base64-encoded
// canonical JSON policy to replay against via query parameters, since the
// stored settlement only retains the decision's policyHash, not the policy
// document itself (that lives on the MarketplaceAgreementPolicyBinding.v2
// artifact the caller already holds).
func (h *Handlers) HandleGetPolicyReplay(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	status := verification.Status(r.URL.Query().Get("status"))
	policyB64 := r.URL.Query().Get("policy")
	if status == "" || policyB64 == "" {
		writeError(w, reqID, newHTTPErr(400, "REQUIRED_FIELD_MISSING", "status and policy query parameters are required"))
		return
	}
	policyJSON, err := base64.StdEncoding.DecodeString(policyB64)
	if err != nil {
		writeError(w, reqID, newHTTPErr(400, "SCHEMA_INVALID", "policy query parameter is not valid base64"))
		return
	}
	var policy verification.Policy
	if err := json.Unmarshal(policyJSON, &policy); err != nil {
		writeError(w, reqID, newHTTPErr(400, "SCHEMA_INVALID", "policy query parameter is not a valid policy document"))
		return
	}

	replay, err := h.Runs.GetPolicyReplay(r.Context(), tenant, r.PathValue("runId"), status, &policy)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeOK(w, reqID, replay)
}

type resolveSettlementRequest struct {
	ReleaseRatePct int `json:"releaseRatePct"`
}

// HandleResolveSettlement implements POST /runs/{runId}/settlement/resolve.
func (h *Handlers) HandleResolveSettlement(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	runID := r.PathValue("runId")

	var req resolveSettlementRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}

	pipelineReq := pipeline.Request{
		TenantID:       tenant,
		Method:         r.Method,
		Path:           r.URL.Path,
		Body:           req,
		IdempotencyKey: idempotencyKey(r),
		RequestID:      reqID,
	}
	result, err := h.Pipeline.Execute(r.Context(), pipelineReq, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		s, err := h.Runs.ResolveSettlement(ctx, tenant, runID, req.ReleaseRatePct)
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, s, http.StatusOK, nil
	})
	if err != nil {
		h.Logger.Printf("resolve settlement: %v", err)
		writeError(w, reqID, err)
		return
	}
	writeEnvelope(w, reqID, result)
}
