// Copyright 2025 Certen Protocol
//
// Router - wires every HTTP handler onto the stdlib ServeMux's Go 1.22+
// method+pattern routing, plus the /metrics and /healthz operational
// endpoints.

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the complete external HTTP surface described in spec
// section 6: agent identity/wallet, run lifecycle, marketplace, dispute, and
// x402 gate endpoints, the session event stream, and operational endpoints.
func NewRouter(h *Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /agents/register", h.HandleRegisterAgent)
	mux.HandleFunc("POST /agents/{id}/wallet/credit", h.HandleCreditWallet)

	mux.HandleFunc("POST /agents/{id}/runs", h.HandleCreateRun)
	mux.HandleFunc("POST /agents/{id}/runs/{runId}/events", h.HandleAppendEvent)
	mux.HandleFunc("GET /runs/{runId}", h.HandleGetRun)
	mux.HandleFunc("GET /runs/{runId}/settlement", h.HandleGetSettlement)
	mux.HandleFunc("GET /runs/{runId}/settlement/policy-replay", h.HandleGetPolicyReplay)
	mux.HandleFunc("POST /runs/{runId}/settlement/resolve", h.HandleResolveSettlement)
	mux.HandleFunc("GET /runs/{runId}/verification", h.HandleGetVerification)
	mux.HandleFunc("GET /runs/{runId}/agreement", h.HandleGetAgreement)

	mux.HandleFunc("POST /runs/{runId}/dispute/open", h.HandleOpenDispute)
	mux.HandleFunc("POST /runs/{runId}/dispute/close", h.HandleCloseDispute)
	mux.HandleFunc("POST /runs/{runId}/dispute/evidence", h.HandleAddEvidence)
	mux.HandleFunc("POST /runs/{runId}/dispute/escalate", h.HandleEscalateDispute)
	mux.HandleFunc("GET /runs/{runId}/dispute", h.HandleGetDispute)

	mux.HandleFunc("POST /marketplace/rfqs", h.HandleOpenRFQ)
	mux.HandleFunc("GET /marketplace/rfqs/{id}", h.HandleGetRFQ)
	mux.HandleFunc("POST /marketplace/rfqs/{id}/bids", h.HandleSubmitBid)
	mux.HandleFunc("POST /marketplace/rfqs/{id}/accept", h.HandleAcceptBid)
	mux.HandleFunc("GET /marketplace/bids/{id}", h.HandleGetBid)
	mux.HandleFunc("POST /marketplace/bids/{id}/counter-offers", h.HandleCounterOffer)

	mux.HandleFunc("POST /x402/gate/authorize-payment", h.HandleAuthorizePayment)
	mux.HandleFunc("POST /x402/gate/verify", h.HandleVerifyGate)
	mux.HandleFunc("GET /x402/gate/{id}", h.HandleGetGate)

	mux.HandleFunc("GET /sessions/{id}/events/stream", h.HandleEventStream)

	return withRequestLogging(h, mux)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// withRequestLogging logs one line per request at the teacher's terse
// request-completion granularity, without wrapping the ResponseWriter (the
// SSE handler needs the original http.Flusher underneath it untouched).
func withRequestLogging(h *Handlers, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Logger.Printf("%s %s tenant=%s request=%s", r.Method, r.URL.Path, tenantID(r), requestID(r))
		next.ServeHTTP(w, r)
	})
}
