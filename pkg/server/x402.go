// Copyright 2025 Certen Protocol
//
// x402 payment gate HTTP handlers: authorize-payment, verify.

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/certen/nooterra-core/pkg/pipeline"
	"github.com/certen/nooterra-core/pkg/store"
	"github.com/certen/nooterra-core/pkg/x402gate"
)

type quotePayload struct {
	QuoteID     string                 `json:"quoteId"`
	AmountCents int64                  `json:"amountCents"`
	Currency    string                 `json:"currency"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

type executionIntentPayload struct {
	IntentID     string     `json:"intentId"`
	PayerAddress string     `json:"payerAddress"`
	PayeeAddress string     `json:"payeeAddress"`
	Nonce        string     `json:"nonce"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	SignatureHex string     `json:"signatureHex,omitempty"`
}

type authorizePaymentRequest struct {
	// GateID, if supplied, authorizes an already-created gate directly.
	// Otherwise Quote/ExecutionIntent/RequestBindingMode create one first —
	// folding spec section 4.10's create-then-authorize sequence into the
	// one endpoint named in the external-interfaces bullet list.
	GateID               string                 `json:"gateId"`
	Quote                quotePayload           `json:"quote"`
	ExecutionIntent      executionIntentPayload `json:"executionIntent"`
	RequestBindingMode   string                 `json:"requestBindingMode"`
	RequestBindingSha256 string                 `json:"requestBindingSha256"`
	RequestSha256        string                 `json:"requestSha256"`
}

// HandleAuthorizePayment implements POST /x402/gate/authorize-payment.
func (h *Handlers) HandleAuthorizePayment(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}

	var req authorizePaymentRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}

	// Create and AuthorizePayment each commit internally, so — like
	// run.AppendEvent and marketplace.AcceptBid — this handler accepts the
	// non-atomic two-(or three-)commit idempotency tradeoff rather than
	// threading a Build-only variant through both calls.
	pipelineReq := pipeline.Request{
		TenantID: tenant, Method: r.Method, Path: r.URL.Path, Body: req,
		IdempotencyKey: idempotencyKey(r), RequestID: reqID,
	}
	result, err := h.Pipeline.Execute(r.Context(), pipelineReq, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		gateID := req.GateID
		if gateID == "" {
			if req.Quote.QuoteID == "" || req.ExecutionIntent.IntentID == "" {
				return nil, nil, 0, httpErrFieldMissing
			}
			gate, err := h.Gates.Create(ctx, x402gate.CreateRequest{
				TenantID: tenant,
				Quote: x402gate.Quote{
					QuoteID:     req.Quote.QuoteID,
					AmountCents: req.Quote.AmountCents,
					Currency:    req.Quote.Currency,
					Extra:       req.Quote.Extra,
				},
				ExecutionIntent: x402gate.ExecutionIntent{
					IntentID:     req.ExecutionIntent.IntentID,
					PayerAddress: req.ExecutionIntent.PayerAddress,
					PayeeAddress: req.ExecutionIntent.PayeeAddress,
					Nonce:        req.ExecutionIntent.Nonce,
					ExpiresAt:    req.ExecutionIntent.ExpiresAt,
					SignatureHex: req.ExecutionIntent.SignatureHex,
				},
				RequestBindingMode:   x402gate.RequestBindingMode(req.RequestBindingMode),
				RequestBindingSha256: req.RequestBindingSha256,
			})
			if err != nil {
				return nil, nil, 0, mapDomainError(err)
			}
			gateID = gate.GateID
		}

		gate, err := h.Gates.AuthorizePayment(ctx, x402gate.AuthorizeRequest{
			TenantID:      tenant,
			GateID:        gateID,
			RequestSha256: req.RequestSha256,
		})
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, gate, http.StatusOK, nil
	})
	if err != nil {
		h.Logger.Printf("authorize payment: %v", err)
		writeError(w, reqID, err)
		return
	}
	if result.Envelope != nil {
		h.publishRunEvent(tenant, "x402", "gate.authorized", result.Envelope.Body)
	}
	writeEnvelope(w, reqID, result)
}

type verifyGateRequest struct {
	GateID          string   `json:"gateId"`
	EvidenceRefs    []string `json:"evidenceRefs"`
	SettlementRunID string   `json:"settlementRunId"`
}

// HandleVerifyGate implements POST /x402/gate/verify.
func (h *Handlers) HandleVerifyGate(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}

	var req verifyGateRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.GateID == "" {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}

	pipelineReq := pipeline.Request{
		TenantID: tenant, Method: r.Method, Path: r.URL.Path, Body: req,
		IdempotencyKey: idempotencyKey(r), RequestID: reqID,
	}
	result, err := h.Pipeline.Execute(r.Context(), pipelineReq, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		gate, err := h.Gates.Verify(ctx, x402gate.VerifyRequest{
			TenantID:        tenant,
			GateID:          req.GateID,
			EvidenceRefs:    req.EvidenceRefs,
			SettlementRunID: req.SettlementRunID,
		})
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, gate, http.StatusOK, nil
	})
	if err != nil {
		h.Logger.Printf("verify gate: %v", err)
		writeError(w, reqID, err)
		return
	}
	if result.Envelope != nil {
		h.publishRunEvent(tenant, "x402", "gate.verified", result.Envelope.Body)
	}
	writeEnvelope(w, reqID, result)
}

// HandleGetGate implements GET /x402/gate/{id}.
func (h *Handlers) HandleGetGate(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	gate, err := h.Gates.GetGate(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeOK(w, reqID, gate)
}
