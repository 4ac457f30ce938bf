// Copyright 2025 Certen Protocol
//
// HTTP Handlers - binds the C1-C10 engines to the external interface spec
// section 6 names: canonical headers, the {ok,requestId,body}/{code,message,
// details,requestId} envelopes, and the enumerated error-code taxonomy.

package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/certen/nooterra-core/pkg/artifact"
	"github.com/certen/nooterra-core/pkg/audittrail"
	"github.com/certen/nooterra-core/pkg/dispute"
	"github.com/certen/nooterra-core/pkg/marketplace"
	"github.com/certen/nooterra-core/pkg/pipeline"
	"github.com/certen/nooterra-core/pkg/run"
	"github.com/certen/nooterra-core/pkg/signing"
	"github.com/certen/nooterra-core/pkg/store"
	"github.com/certen/nooterra-core/pkg/wallet"
	"github.com/certen/nooterra-core/pkg/x402gate"
)

// Canonical request/response headers, per spec section 6.
const (
	HeaderTenantID         = "x-proxy-tenant-id"
	HeaderProtocol         = "x-nooterra-protocol"
	HeaderRequestID        = "x-request-id"
	HeaderIdempotencyKey   = "x-idempotency-key"
	HeaderExpectedPrevHash = "x-proxy-expected-prev-chain-hash"
	HeaderAPIKey           = "x-api-key"
)

// Handlers wires every C1-C10 engine into one HTTP surface. One Handlers
// instance is shared across requests; every engine it holds is already
// safe for concurrent use.
type Handlers struct {
	Store      store.Store
	Signer     *signing.Signer
	Registry   *signing.Registry
	Artifacts  *artifact.Registry
	Ledger     *wallet.Ledger
	Runs       *run.Engine
	Market     *marketplace.Engine
	Disputes   *dispute.Engine
	Gates      *x402gate.Engine
	Pipeline   *pipeline.Engine
	AuditTrail *audittrail.Service
	Logger     *log.Logger

	Broker *Broker // SSE fan-out, see sse.go
}

// requestID returns the inbound x-request-id header, or mints a fresh one
// when the caller didn't supply it.
func requestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return "req_" + uuid.New().String()
}

// tenantID reads the canonical tenant header. Handlers that require a
// tenant reject an empty value with a 400 REQUIRED_FIELD_MISSING before
// touching any engine.
func tenantID(r *http.Request) string {
	return r.Header.Get(HeaderTenantID)
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get(HeaderIdempotencyKey)
}

func expectedPrevChainHash(r *http.Request) string {
	h := r.Header.Get(HeaderExpectedPrevHash)
	if h == "" {
		return store.GenesisChainHash
	}
	return h
}

// decodeBody decodes r's JSON body into v, returning PAYLOAD_REQUIRED when
// the body is empty and SCHEMA_INVALID on any other decode failure.
func decodeBody(r *http.Request, v interface{}) *pipeline.HTTPError {
	if r.Body == nil || r.ContentLength == 0 {
		return httpErrPayloadRequired
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return newHTTPErr(400, "SCHEMA_INVALID", "request body is not valid JSON: "+err.Error())
	}
	return nil
}

func newHTTPErr(status int, code, message string) *pipeline.HTTPError {
	return &pipeline.HTTPError{StatusCode: status, Code: code, Message: message}
}

var (
	httpErrPayloadRequired  = newHTTPErr(400, "PAYLOAD_REQUIRED", "request body is required")
	httpErrTenantRequired   = newHTTPErr(400, "REQUIRED_FIELD_MISSING", "x-proxy-tenant-id header is required")
	httpErrFieldMissing     = newHTTPErr(400, "REQUIRED_FIELD_MISSING", "a required field is missing")
	httpErrNotFound         = newHTTPErr(404, "NOT_FOUND", "the requested resource does not exist")
	httpErrMethodNotAllowed = newHTTPErr(405, "METHOD_NOT_ALLOWED", "method not allowed on this path")
)

// writeEnvelope renders a pipeline.Result to w.
func writeEnvelope(w http.ResponseWriter, reqID string, result *pipeline.Result) {
	w.Header().Set("Content-Type", "application/json")
	if result.Error != nil {
		w.WriteHeader(result.StatusCode)
		_ = json.NewEncoder(w).Encode(result.Error)
		return
	}
	w.WriteHeader(result.StatusCode)
	_ = json.NewEncoder(w).Encode(result.Envelope)
}

// writeError renders err (mapped through mapDomainError when it isn't
// already a *pipeline.HTTPError) directly, bypassing the pipeline engine —
// used by read-only GET handlers and by any handler that fails before it
// has ops worth folding into a commit.
func writeError(w http.ResponseWriter, reqID string, err error) {
	httpErr := mapDomainError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpErr.StatusCode)
	_ = json.NewEncoder(w).Encode(pipeline.ErrorEnvelope{
		Code:      httpErr.Code,
		Message:   httpErr.Message,
		RequestID: reqID,
	})
}

// writeOK renders a 200 success envelope carrying body, for read-only GET
// handlers that never touch the pipeline engine.
func writeOK(w http.ResponseWriter, reqID string, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(pipeline.Envelope{OK: true, RequestID: reqID, Body: body})
}
