// Copyright 2025 Certen Protocol
//
// Idempotent Write Pipeline - BuildOps -> ValidateOps -> CommitTx ->
// RenderResponse, per spec section 4.11's exact 4-step algorithm

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/nooterra-core/pkg/commitment"
	"github.com/certen/nooterra-core/pkg/metrics"
	"github.com/certen/nooterra-core/pkg/store"
)

// Request is the inbound call the pipeline fingerprints and, on first
// execution, stores the outcome of.
type Request struct {
	TenantID       string
	Method         string
	Path           string
	Body           interface{} // decoded JSON request body
	IdempotencyKey string      // empty skips idempotency handling entirely
	RequestID      string
}

// BuildFunc executes the business operation, returning the store ops it
// wants committed and the response body to wrap in the success envelope.
// BuildFunc must not call CommitTx itself — the pipeline folds its ops
// together with the IDEMPOTENCY_STORE entry into one atomic commit.
type BuildFunc func(ctx context.Context) (ops []store.Op, responseBody interface{}, statusCode int, err error)

// Engine runs BuildOps -> ValidateOps -> CommitTx -> RenderResponse over a
// Store, enforcing spec section 4.11's idempotency contract along the way.
type Engine struct {
	store store.Store
}

func New(st store.Store) *Engine { return &Engine{store: st} }

// fingerprint hashes {method,path,body} the way spec section 4.11 names:
// sha256(canonical(...)).
func fingerprint(req Request) (string, error) {
	return commitment.HashCanonical(fingerprintInput{
		Method: req.Method,
		Path:   req.Path,
		Body:   req.Body,
	})
}

// Result is what Execute returns: either a success envelope or an error
// envelope, always paired with the HTTP status to answer with.
type Result struct {
	StatusCode int
	Envelope   *Envelope
	Error      *ErrorEnvelope
}

// Execute runs the 4-step algorithm: fingerprint, idempotency lookup/replay,
// business-op execution folded with the idempotency-store entry into one
// commit, and response rendering.
func (e *Engine) Execute(ctx context.Context, req Request, build BuildFunc) (*Result, error) {
	if req.IdempotencyKey == "" {
		return e.executeWithoutIdempotency(ctx, req, build)
	}

	fp, err := fingerprint(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: compute fingerprint: %w", err)
	}

	// Step 2: lookup.
	existing, err := e.store.GetIdempotency(ctx, req.TenantID, req.IdempotencyKey)
	if err != nil && !errors.Is(err, store.ErrIdempotencyNotFound) {
		return nil, err
	}
	if err == nil {
		if existing.FingerprintHash != fp {
			metrics.IdempotencyKeyReuseRejectionsTotal.Inc()
			return errorResult(req.RequestID, ErrIdempotencyKeyReusedWithDifferentBody), nil
		}
		metrics.IdempotentReplaysTotal.Inc()
		return replayResult(existing)
	}

	// Step 3: execute the business op, accumulating ops.
	ops, body, statusCode, err := build(ctx)
	if err != nil {
		return errorResultFromBuildErr(req.RequestID, err), nil
	}

	env := Envelope{OK: true, RequestID: req.RequestID, Body: body}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode response envelope: %w", err)
	}

	ops = append(ops, store.Op{
		Kind: store.OpIdempotencyStore,
		Idempotency: &store.IdempotencyStoreOp{
			TenantID:        req.TenantID,
			IdempotencyKey:  req.IdempotencyKey,
			FingerprintHash: fp,
			StatusCode:      statusCode,
			ResponseBody:    envBytes,
		},
	})

	// Step 4: commit, or surface a store-level conflict as 409.
	timer := prometheus.NewTimer(metrics.CommitDuration)
	_, commitErr := e.store.CommitTx(ctx, ops)
	timer.ObserveDuration()
	if commitErr != nil {
		metrics.CommitsTotal.WithLabelValues("conflict").Inc()
		httpErr := storeErrorCode(commitErr, commitErr.Error())
		if httpErr.Code == "CHAIN_HASH_MISMATCH" {
			metrics.ChainHashMismatchesTotal.Inc()
		} else if httpErr.Code == "REVISION_CONFLICT" {
			metrics.RevisionConflictsTotal.Inc()
		}
		return errorResult(req.RequestID, httpErr), nil
	}
	metrics.CommitsTotal.WithLabelValues("success").Inc()

	return &Result{StatusCode: statusCode, Envelope: &env}, nil
}

// executeWithoutIdempotency handles read-like or non-idempotent calls that
// supplied no idempotencyKey: business op executes and commits directly,
// with no replay bookkeeping.
func (e *Engine) executeWithoutIdempotency(ctx context.Context, req Request, build BuildFunc) (*Result, error) {
	ops, body, statusCode, err := build(ctx)
	if err != nil {
		return errorResultFromBuildErr(req.RequestID, err), nil
	}
	if len(ops) > 0 {
		if _, err := e.store.CommitTx(ctx, ops); err != nil {
			return errorResult(req.RequestID, storeErrorCode(err, err.Error())), nil
		}
	}
	env := Envelope{OK: true, RequestID: req.RequestID, Body: body}
	return &Result{StatusCode: statusCode, Envelope: &env}, nil
}

func replayResult(rec *store.IdempotencyRecord) (*Result, error) {
	var env Envelope
	if err := json.Unmarshal(rec.ResponseBody, &env); err != nil {
		return nil, fmt.Errorf("pipeline: decode replayed envelope: %w", err)
	}
	return &Result{StatusCode: rec.StatusCode, Envelope: &env}, nil
}

func errorResult(requestID string, httpErr *HTTPError) *Result {
	return &Result{
		StatusCode: httpErr.StatusCode,
		Error: &ErrorEnvelope{
			Code:      httpErr.Code,
			Message:   httpErr.Message,
			RequestID: requestID,
		},
	}
}

// errorResultFromBuildErr renders a business-op error. A *HTTPError is
// passed through as-is (it already carries its status/code); anything else
// is wrapped as a generic 422 VALIDATION_FAILED, since per spec section 7's
// propagation policy validation errors surface immediately without any
// commitTx — the business op never got that far.
func errorResultFromBuildErr(requestID string, err error) *Result {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return errorResult(requestID, httpErr)
	}
	return errorResult(requestID, newHTTPError(422, "VALIDATION_FAILED", err.Error()))
}
