// Copyright 2025 Certen Protocol
//
// Marketplace RFQ/bid/negotiation HTTP handlers.

package server

import (
	"context"
	"net/http"

	"github.com/certen/nooterra-core/pkg/marketplace"
	"github.com/certen/nooterra-core/pkg/pipeline"
	"github.com/certen/nooterra-core/pkg/store"
)

type openRFQRequest struct {
	RequesterAgent string                 `json:"requesterAgentId"`
	Terms          map[string]interface{} `json:"terms"`
}

// HandleOpenRFQ implements POST /marketplace/rfqs.
func (h *Handlers) HandleOpenRFQ(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	var req openRFQRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.RequesterAgent == "" {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}

	result, err := h.Pipeline.Execute(r.Context(), pipeline.Request{
		TenantID: tenant, Method: r.Method, Path: r.URL.Path, Body: req,
		IdempotencyKey: idempotencyKey(r), RequestID: reqID,
	}, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		rfq, err := h.Market.OpenRFQ(ctx, marketplace.OpenRFQRequest{
			TenantID:       tenant,
			RequesterAgent: req.RequesterAgent,
			Terms:          req.Terms,
		})
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, rfq, http.StatusCreated, nil
	})
	if err != nil {
		h.Logger.Printf("open rfq: %v", err)
		writeError(w, reqID, err)
		return
	}
	if result.Envelope != nil {
		h.publishRunEvent(tenant, "marketplace", "rfq.opened", result.Envelope.Body)
	}
	writeEnvelope(w, reqID, result)
}

type submitBidRequest struct {
	BidderID string                 `json:"bidderAgentId"`
	Terms    map[string]interface{} `json:"terms"`
}

// HandleSubmitBid implements POST /marketplace/rfqs/{id}/bids.
func (h *Handlers) HandleSubmitBid(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	rfqID := r.PathValue("id")

	var req submitBidRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.BidderID == "" {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}

	result, err := h.Pipeline.Execute(r.Context(), pipeline.Request{
		TenantID: tenant, Method: r.Method, Path: r.URL.Path, Body: req,
		IdempotencyKey: idempotencyKey(r), RequestID: reqID,
	}, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		bid, err := h.Market.SubmitBid(ctx, marketplace.SubmitBidRequest{
			TenantID: tenant,
			RFQID:    rfqID,
			BidderID: req.BidderID,
			Terms:    req.Terms,
		})
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, bid, http.StatusCreated, nil
	})
	if err != nil {
		h.Logger.Printf("submit bid: %v", err)
		writeError(w, reqID, err)
		return
	}
	writeEnvelope(w, reqID, result)
}

type counterOfferRequest struct {
	ProposedBy         string                 `json:"proposedByAgentId"`
	Terms              map[string]interface{} `json:"terms"`
	ExpectedLatestHash string                 `json:"expectedLatestProposalHash"`
}

// HandleCounterOffer implements POST /marketplace/bids/{id}/counter-offers
// — a negotiation step the external-interfaces bullet list folds under
// "accept" but spec section 4.8 names as its own operation; exposed here so
// CounterOffer (the engine method backing it) is reachable over HTTP.
func (h *Handlers) HandleCounterOffer(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	bidID := r.PathValue("id")

	var req counterOfferRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}

	result, err := h.Pipeline.Execute(r.Context(), pipeline.Request{
		TenantID: tenant, Method: r.Method, Path: r.URL.Path, Body: req,
		IdempotencyKey: idempotencyKey(r), RequestID: reqID,
	}, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		bid, err := h.Market.CounterOffer(ctx, marketplace.CounterOfferRequest{
			TenantID:           tenant,
			BidID:              bidID,
			ProposedBy:         req.ProposedBy,
			Terms:              req.Terms,
			ExpectedLatestHash: req.ExpectedLatestHash,
		})
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, bid, http.StatusOK, nil
	})
	if err != nil {
		h.Logger.Printf("counter offer: %v", err)
		writeError(w, reqID, err)
		return
	}
	writeEnvelope(w, reqID, result)
}

type acceptBidRequest struct {
	BidID                  string `json:"bidId"`
	AcceptedByAgentID      string `json:"acceptedByAgentId"`
	ExpectedLatestHash     string `json:"expectedLatestProposalHash"`
	ActingOnBehalfOfHash   string `json:"actingOnBehalfOfHash"`
	TermsHash              string `json:"termsHash"`
	PolicyHash             string `json:"policyHash"`
	VerificationMethodHash string `json:"verificationMethodHash"`
	PolicyRefHash          string `json:"policyRefHash"`
	PayerAgentID           string `json:"payerAgentId"`
	AmountCents            int64  `json:"amountCents"`
	Currency               string `json:"currency"`
	DisputeWindowDays      int    `json:"disputeWindowDays"`
	PayerExpectedRevision  int64  `json:"payerExpectedRevision"`
	SignerKeyID            string `json:"signerKeyId"`
}

// HandleAcceptBid implements POST /marketplace/rfqs/{id}/accept.
func (h *Handlers) HandleAcceptBid(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	rfqID := r.PathValue("id")

	var req acceptBidRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		writeError(w, reqID, httpErr)
		return
	}
	if req.BidID == "" || req.AcceptedByAgentID == "" {
		writeError(w, reqID, httpErrFieldMissing)
		return
	}

	result, err := h.Pipeline.Execute(r.Context(), pipeline.Request{
		TenantID: tenant, Method: r.Method, Path: r.URL.Path, Body: req,
		IdempotencyKey: idempotencyKey(r), RequestID: reqID,
	}, func(ctx context.Context) ([]store.Op, interface{}, int, error) {
		agreement, runRec, settlement, err := h.Market.AcceptBid(ctx, marketplace.AcceptBidRequest{
			TenantID:               tenant,
			RFQID:                  rfqID,
			BidID:                  req.BidID,
			AcceptedByAgentID:      req.AcceptedByAgentID,
			ExpectedLatestHash:     req.ExpectedLatestHash,
			ActingOnBehalfOfHash:   req.ActingOnBehalfOfHash,
			TermsHash:              req.TermsHash,
			PolicyHash:             req.PolicyHash,
			VerificationMethodHash: req.VerificationMethodHash,
			PolicyRefHash:          req.PolicyRefHash,
			PayerAgentID:           req.PayerAgentID,
			AmountCents:            req.AmountCents,
			Currency:               req.Currency,
			DisputeWindowDays:      req.DisputeWindowDays,
			PayerExpectedRevision:  req.PayerExpectedRevision,
			SignerKeyID:            req.SignerKeyID,
		})
		if err != nil {
			return nil, nil, 0, mapDomainError(err)
		}
		return nil, map[string]interface{}{
			"agreement":  agreement,
			"run":        runRec,
			"settlement": settlement,
		}, http.StatusCreated, nil
	})
	if err != nil {
		h.Logger.Printf("accept bid: %v", err)
		writeError(w, reqID, err)
		return
	}
	if result.Envelope != nil {
		h.publishRunEvent(tenant, "marketplace", "rfq.accepted", result.Envelope.Body)
	}
	writeEnvelope(w, reqID, result)
}

// HandleGetRFQ implements GET /marketplace/rfqs/{id}.
func (h *Handlers) HandleGetRFQ(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	rfq, err := h.Market.GetRFQ(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeOK(w, reqID, rfq)
}

// HandleGetBid implements GET /marketplace/bids/{id}.
func (h *Handlers) HandleGetBid(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, reqID, httpErrTenantRequired)
		return
	}
	bid, err := h.Market.GetBid(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeOK(w, reqID, bid)
}
