// Copyright 2025 Certen Protocol
//
// x402 Gate Engine - create/authorize-payment/verify over a quote +
// ExecutionIntent, enforcing request binding and evidence-ref matching per
// spec section 4.10

package x402gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certen/nooterra-core/pkg/metrics"
	"github.com/certen/nooterra-core/pkg/store"
)

// Clock mirrors the injected-collaborator idiom used across C4/C6/C7/C8/C9.
type Clock func() time.Time

func defaultGateID() string { return "gate_" + uuid.New().String() }

// Engine is the C10 component: it creates gates, binds the request hash
// they were opened under, authorizes payment against the ExecutionIntent,
// and verifies the authorized payment against evidence refs.
type Engine struct {
	store     store.Store
	clock     Clock
	newGateID func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithGateIDGenerator(f func() string) Option { return func(e *Engine) { e.newGateID = f } }

func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		clock:     time.Now,
		newGateID: defaultGateID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) gateProjectionOp(tenantID string, g *Gate) (store.Op, error) {
	body, err := json.Marshal(g)
	if err != nil {
		return store.Op{}, fmt.Errorf("x402gate: encode projection: %w", err)
	}
	return store.Op{
		Kind: store.OpProjectionUpsert,
		Projection: &store.ProjectionUpsertOp{
			TenantID:         tenantID,
			ProjectionType:   gateProjectionType,
			Key:              g.GateID,
			Payload:          body,
			ExpectedRevision: g.Revision,
		},
	}, nil
}

// GetGate returns the current gate projection.
func (e *Engine) GetGate(ctx context.Context, tenantID, gateID string) (*Gate, error) {
	rec, err := e.store.GetProjection(ctx, tenantID, gateProjectionType, gateID)
	if errors.Is(err, store.ErrProjectionNotFound) {
		return nil, ErrGateNotFound
	}
	if err != nil {
		return nil, err
	}
	var g Gate
	if err := json.Unmarshal(rec.Payload, &g); err != nil {
		return nil, fmt.Errorf("x402gate: decode projection: %w", err)
	}
	return &g, nil
}

// RequestSha256 hashes a request body the way callers of authorize/verify
// are expected to: sha256 over the raw bytes, hex-encoded.
func RequestSha256(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CreateRequest describes a new gate.
type CreateRequest struct {
	TenantID             string
	Quote                Quote
	ExecutionIntent      ExecutionIntent
	RequestBindingMode   RequestBindingMode
	RequestBindingSha256 string // required when RequestBindingMode == strict
}

// Create opens a gate binding quote+intent, and pins the request hash under
// strict mode.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Gate, error) {
	if req.Quote.QuoteID == "" || req.ExecutionIntent.IntentID == "" {
		return nil, ErrExecutionIntentInvalid
	}
	if req.RequestBindingMode == RequestBindingStrict && req.RequestBindingSha256 == "" {
		return nil, ErrExecutionIntentInvalid
	}
	if err := verifyExecutionIntentSignature(req.ExecutionIntent, req.Quote.QuoteID); err != nil {
		return nil, err
	}
	now := e.clock()
	g := &Gate{
		GateID:          e.newGateID(),
		TenantID:        req.TenantID,
		Status:          GateStatusCreated,
		Quote:           req.Quote,
		ExecutionIntent: req.ExecutionIntent,
		RequestBinding: RequestBinding{
			Mode:   req.RequestBindingMode,
			Sha256: req.RequestBindingSha256,
		},
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	op, err := e.gateProjectionOp(req.TenantID, g)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.CommitTx(ctx, []store.Op{op}); err != nil {
		return nil, err
	}
	return g, nil
}

// checkRequestBinding enforces spec section 4.10's strict-mode rule: a
// non-empty requestSha256 supplied to authorize/verify must equal the
// gate's pinned hash.
func checkRequestBinding(g *Gate, requestSha256 string) error {
	if g.RequestBinding.Mode != RequestBindingStrict {
		return nil
	}
	if requestSha256 == "" {
		return nil
	}
	if requestSha256 != g.RequestBinding.Sha256 {
		return ErrRequestMismatch
	}
	return nil
}

// AuthorizeRequest describes an authorize-payment call against an existing
// gate.
type AuthorizeRequest struct {
	TenantID      string
	GateID        string
	RequestSha256 string // hash of the inbound request body, checked under strict binding
}

// AuthorizePayment accepts the gate's execution intent for payment,
// enforcing expiry and request binding.
func (e *Engine) AuthorizePayment(ctx context.Context, req AuthorizeRequest) (*Gate, error) {
	g, err := e.GetGate(ctx, req.TenantID, req.GateID)
	if err != nil {
		metrics.GateAuthorizationsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}
	if g.Status != GateStatusCreated {
		metrics.GateAuthorizationsTotal.WithLabelValues("already_authorized").Inc()
		return nil, ErrGateAuthorizeAlreadyAuthorized
	}
	if err := checkRequestBinding(g, req.RequestSha256); err != nil {
		metrics.GateAuthorizationsTotal.WithLabelValues("request_mismatch").Inc()
		return nil, err
	}
	now := e.clock()
	if g.ExecutionIntent.ExpiresAt != nil && now.After(*g.ExecutionIntent.ExpiresAt) {
		metrics.GateAuthorizationsTotal.WithLabelValues("expired").Inc()
		return nil, ErrExecutionIntentExpired
	}
	g.Status = GateStatusAuthorized
	g.Authorization = &Authorization{
		AuthorizedAt:  now,
		PayerAddress:  g.ExecutionIntent.PayerAddress,
		RequestSha256: req.RequestSha256,
	}
	g.Revision++
	g.UpdatedAt = now
	op, err := e.gateProjectionOp(req.TenantID, g)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.CommitTx(ctx, []store.Op{op}); err != nil {
		metrics.GateAuthorizationsTotal.WithLabelValues("commit_failed").Inc()
		return nil, err
	}
	metrics.GateAuthorizationsTotal.WithLabelValues("authorized").Inc()
	return g, nil
}

// evidenceSha256 extracts the hex digest following prefix from an evidence
// ref, or "" if ref doesn't carry that prefix.
func evidenceSha256(ref, prefix string) string {
	if !strings.HasPrefix(ref, prefix) {
		return ""
	}
	return strings.TrimPrefix(ref, prefix)
}

// bindingHashesFromEvidence scans evidenceRefs for the http:request_sha256:
// and http:response_sha256: forms spec section 4.10 names.
func bindingHashesFromEvidence(evidenceRefs []string) (requestSha256, responseSha256 string) {
	for _, ref := range evidenceRefs {
		if h := evidenceSha256(ref, evidenceRequestPrefix); h != "" {
			requestSha256 = h
		}
		if h := evidenceSha256(ref, evidenceResponsePrefix); h != "" {
			responseSha256 = h
		}
	}
	return requestSha256, responseSha256
}

// VerifyRequest describes a verify call matching recorded evidence against
// the gate's stored bindings.
type VerifyRequest struct {
	TenantID        string
	GateID          string
	EvidenceRefs    []string
	SettlementRunID string
}

// Verify matches evidenceRefs against the gate's stored request binding
// (and, once recorded, its response hash), closing the gate out.
func (e *Engine) Verify(ctx context.Context, req VerifyRequest) (*Gate, error) {
	g, err := e.GetGate(ctx, req.TenantID, req.GateID)
	if err != nil {
		return nil, err
	}
	if g.Status == GateStatusVerified {
		metrics.GateVerificationsTotal.WithLabelValues("already_verified").Inc()
		return nil, ErrGateVerifyAlreadyVerified
	}
	if g.Status != GateStatusAuthorized {
		metrics.GateVerificationsTotal.WithLabelValues("not_authorized").Inc()
		return nil, ErrGateVerifyNotAuthorized
	}
	requestSha256, responseSha256 := bindingHashesFromEvidence(req.EvidenceRefs)
	if g.RequestBinding.Mode == RequestBindingStrict {
		if requestSha256 == "" || requestSha256 != g.RequestBinding.Sha256 {
			metrics.GateVerificationsTotal.WithLabelValues("request_mismatch").Inc()
			return nil, ErrRequestMismatch
		}
	}
	now := e.clock()
	g.Status = GateStatusVerified
	g.Verification = &Verification{
		VerifiedAt:      now,
		EvidenceRefs:    req.EvidenceRefs,
		RequestSha256:   requestSha256,
		ResponseSha256:  responseSha256,
		SettlementRunID: req.SettlementRunID,
	}
	g.Revision++
	g.UpdatedAt = now
	op, err := e.gateProjectionOp(req.TenantID, g)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.CommitTx(ctx, []store.Op{op}); err != nil {
		metrics.GateVerificationsTotal.WithLabelValues("commit_failed").Inc()
		return nil, err
	}
	metrics.GateVerificationsTotal.WithLabelValues("verified").Inc()
	return g, nil
}

// CheckBindingEvidence re-validates a gate's stored bindings against a
// later caller's evidence refs — used by dispute-close and
// arbitration-open flows that must reconfirm the x402 binding before they
// touch a settlement the gate paid for.
func CheckBindingEvidence(g *Gate, evidenceRefs []string, kind BindingEvidenceKind) error {
	if g.RequestBinding.Mode != RequestBindingStrict {
		return nil
	}
	requestSha256, _ := bindingHashesFromEvidence(evidenceRefs)
	required, mismatch := requiredMismatchErrors(kind)
	if requestSha256 == "" {
		return required
	}
	if requestSha256 != g.RequestBinding.Sha256 {
		return mismatch
	}
	return nil
}

func requiredMismatchErrors(kind BindingEvidenceKind) (required, mismatch *GateError) {
	if kind == BindingEvidenceArbitrationOpen {
		return ErrArbitrationOpenBindingEvidenceRequired, ErrArbitrationOpenBindingEvidenceMismatch
	}
	return ErrDisputeCloseBindingEvidenceRequired, ErrDisputeCloseBindingEvidenceMismatch
}
