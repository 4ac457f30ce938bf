// Copyright 2025 Certen Protocol
//
// Agent identity + wallet HTTP handlers: POST /agents/register,
// POST /agents/{id}/wallet/credit.

package server

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"net/http"

	"github.com/certen/nooterra-core/pkg/pipeline"
	"github.com/certen/nooterra-core/pkg/signing"
	"github.com/certen/nooterra-core/pkg/store"
)

type registerAgentRequest struct {
	AgentID      string `json:"agentId"`
	PublicKeyB64 string `json:"publicKeyPem"` // base64-encoded raw ed25519 public key
	Purpose      string `json:"purpose"`
}

type registerAgentResponse struct {
	AgentID  string `json:"agentId"`
	KeyID    string `json:"keyId"`
	Status   string `json:"status"`
	TenantID string `json:"tenantId"`
}

// HandleRegisterAgent implements POST /agents/register: registers the
// agent's Ed25519 public key in the signing registry. Every registration
// mints a new key id, even for a public key that is already registered;
// only a retry with the same x-idempotency-key replays the original
// response.
func (h *Handlers) HandleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}

	var req registerAgentRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.AgentID == "" || req.PublicKeyB64 == "" {
		writeError(w, reqID, httpErrFieldMissing)
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
		pub, err := base64.StdEncoding.DecodeString(req.PublicKeyB64)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, nil, 0, newHTTPErr(400, "SHA256_FIELD_INVALID", "publicKeyPem must be a base64-encoded 32-byte ed25519 public key")
		}
		purpose := signing.Purpose(req.Purpose)
		if purpose == "" {
			purpose = signing.PurposeRobot
		}
		rec, err := h.Registry.Register(purpose, signing.ScopeTenant(tenant), ed25519.PublicKey(pub))
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		body := registerAgentResponse{
			AgentID:  req.AgentID,
			KeyID:    rec.KeyID,
			Status:   string(rec.Status),
			TenantID: tenant,
		}
		return nil, body, http.StatusCreated, nil
	})
	if err != nil {
		h.Logger.Printf("register agent: %v", err)
		writeError(w, reqID, err)
		return
	}
	writeEnvelope(w, reqID, result)
}

type creditWalletRequest struct {
	AmountCents      int64  `json:"amountCents"`
	ExpectedRevision int64  `json:"expectedRevision"`
	PostingRef       string `json:"postingRef"`
}

// HandleCreditWallet implements POST /agents/{id}/wallet/credit: an
// external credit against the agent's available balance. Idempotent.
func (h *Handlers) HandleCreditWallet(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	agentID := r.PathValue("id")

	var req creditWalletRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.AmountCents <= 0 {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}
	postingRef := req.PostingRef
	if postingRef == "" {
		postingRef = "credit:" + agentID + ":" + idempotencyKey(r)
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
		ops, err := h.Ledger.BuildCredit(ctx, tenant, agentID, req.AmountCents, req.ExpectedRevision, postingRef)
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return ops, map[string]interface{}{"agentId": agentID, "amountCents": req.AmountCents}, http.StatusCreated, nil
	})
	if err != nil {
		h.Logger.Printf("credit wallet: %v", err)
		writeError(w, reqID, err)
		return
	}
	writeEnvelope(w, reqID, result)
}
