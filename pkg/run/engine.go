// Copyright 2025 Certen Protocol
//
// Run Lifecycle Engine - run reducer, settlement state machine, policy replay

package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/nooterra-core/pkg/eventchain"
	"github.com/certen/nooterra-core/pkg/store"
	"github.com/certen/nooterra-core/pkg/verification"
	"github.com/certen/nooterra-core/pkg/wallet"
)

const (
	runProjectionType        = "run"
	settlementProjectionType = "settlement"
)

// transitions maps a run's current status to the event types legal from it,
// enforcing spec §4.7's chain: created→running→(completed|failed).
var transitions = map[string]map[string]string{
	StatusCreated: {
		EventRunStarted: StatusRunning,
	},
	StatusRunning: {
		EventHeartbeat:    StatusRunning,
		EventEvidenceAdd:  StatusRunning,
		EventRunCompleted: StatusCompleted,
		EventRunFailed:    StatusFailed,
	},
}

// Clock and IDGenerator mirror pkg/eventchain's injected-collaborator idiom
// so run creation timestamps and ids are deterministic under test.
type Clock func() time.Time
type IDGenerator func() string

func defaultRunID() string { return "run_" + uuid.New().String() }

// Engine is the C7 component: it reduces run events, drives the settlement
// state machine, and answers policy-replay queries.
type Engine struct {
	store    store.Store
	chain    *eventchain.Engine
	ledger   *wallet.Ledger
	clock    Clock
	newRunID IDGenerator
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option               { return func(e *Engine) { e.clock = c } }
func WithRunIDGenerator(g IDGenerator) Option { return func(e *Engine) { e.newRunID = g } }

// New constructs an Engine.
func New(st store.Store, chain *eventchain.Engine, ledger *wallet.Ledger, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		chain:    chain,
		ledger:   ledger,
		clock:    time.Now,
		newRunID: defaultRunID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func streamID(runID string) string { return "run:" + runID }

// InlineSettlement is the settlement that RUN_CREATED may bind atomically,
// per spec §4.7: "RUN_CREATED may include an inline settlement which causes
// C6 to lockEscrow atomically."
type InlineSettlement struct {
	PayerAgentID          string
	AmountCents           int64
	Currency              string
	DisputeWindowDays     int
	PayerExpectedRevision int64
}

// CreateRunRequest describes a new run.
type CreateRunRequest struct {
	TenantID   string
	AgentID    string // payee / run owner
	RunID      string // optional; generated if empty
	Actor      string
	Settlement *InlineSettlement // optional
}

// BuildCreateRunOps builds the ops RUN_CREATED (and, if an inline settlement
// is present, the escrow lock) would commit, without committing them. This
// lets callers with their own atomicity requirements (C8's bid acceptance,
// which binds agreement artifacts + the run + the escrow lock in a single
// commit) fold these ops into a larger CommitTx instead of taking CreateRun's
// own commit. If the payer lacks sufficient funds, this returns
// wallet.ErrInsufficientFunds and builds nothing — spec §4.7: "if the payer
// wallet lacks sufficient funds at RUN_CREATED, fail with
// WALLET_INSUFFICIENT_FUNDS before any event is appended."
func (e *Engine) BuildCreateRunOps(ctx context.Context, req CreateRunRequest) ([]store.Op, *Run, *Settlement, error) {
	runID := req.RunID
	if runID == "" {
		runID = e.newRunID()
	}
	now := e.clock()

	payload := map[string]interface{}{
		"runId":   runID,
		"agentId": req.AgentID,
	}
	if req.Settlement != nil {
		payload["settlement"] = map[string]interface{}{
			"payerAgentId":      req.Settlement.PayerAgentID,
			"amountCents":       req.Settlement.AmountCents,
			"currency":          req.Settlement.Currency,
			"disputeWindowDays": req.Settlement.DisputeWindowDays,
		}
	}

	eventOp, err := e.chain.BuildAppendOp(ctx, eventchain.AppendRequest{
		TenantID:              req.TenantID,
		StreamID:              streamID(runID),
		EventType:             EventRunCreated,
		Payload:               payload,
		Actor:                 req.Actor,
		ExpectedPrevChainHash: store.GenesisChainHash,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	ops := []store.Op{*eventOp}

	var settlement *Settlement
	if req.Settlement != nil {
		lockOps, err := e.ledger.BuildLockEscrow(ctx, req.TenantID, req.Settlement.PayerAgentID, req.AgentID,
			req.Settlement.AmountCents, req.Settlement.PayerExpectedRevision, "run:"+runID+":lock")
		if err != nil {
			return nil, nil, nil, err
		}
		ops = append(ops, lockOps...)

		settlement = &Settlement{
			SettlementID:      "stl_" + runID,
			RunID:             runID,
			PayerAgentID:      req.Settlement.PayerAgentID,
			AgentID:           req.AgentID,
			AmountCents:       req.Settlement.AmountCents,
			Currency:          req.Settlement.Currency,
			Status:            SettlementLocked,
			DisputeWindowDays: req.Settlement.DisputeWindowDays,
			DisputeStatus:     DisputeNone,
			DecisionStatus:    DecisionPending,
			AcceptedAt:        now,
			Revision:          1,
		}
		settlement.DisputeWindowEndsAt = verification.DisputeWindowEnd(now, req.Settlement.DisputeWindowDays)
		settlementOp, err := e.settlementProjectionOp(req.TenantID, settlement)
		if err != nil {
			return nil, nil, nil, err
		}
		ops = append(ops, settlementOp)
	}

	runRec := &Run{
		RunID:     runID,
		AgentID:   req.AgentID,
		TenantID:  req.TenantID,
		Status:    StatusCreated,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	runOp, err := e.runProjectionOp(req.TenantID, runRec, eventOp.Event.EventID, eventOp.Event.ChainHash)
	if err != nil {
		return nil, nil, nil, err
	}
	ops = append(ops, runOp)

	return ops, runRec, settlement, nil
}

// CreateRun builds and commits a new run in one atomic commit. Callers that
// need to fold the run into a larger commit (e.g. C8) use BuildCreateRunOps
// directly instead.
func (e *Engine) CreateRun(ctx context.Context, req CreateRunRequest) (*Run, *Settlement, error) {
	ops, runRec, settlement, err := e.BuildCreateRunOps(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.store.CommitTx(ctx, ops); err != nil {
		return nil, nil, err
	}
	return runRec, settlement, nil
}

func (e *Engine) runProjectionOp(tenantID string, r *Run, lastEventID, lastChainHash string) (store.Op, error) {
	r.LastEventID = lastEventID
	r.LastChainHash = lastChainHash
	body, err := json.Marshal(r)
	if err != nil {
		return store.Op{}, fmt.Errorf("run: encode run projection: %w", err)
	}
	return store.Op{
		Kind: store.OpProjectionUpsert,
		Projection: &store.ProjectionUpsertOp{
			TenantID:         tenantID,
			ProjectionType:   runProjectionType,
			Key:              r.RunID,
			Payload:          body,
			ExpectedRevision: r.Revision,
		},
	}, nil
}

func (e *Engine) settlementProjectionOp(tenantID string, s *Settlement) (store.Op, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return store.Op{}, fmt.Errorf("run: encode settlement projection: %w", err)
	}
	return store.Op{
		Kind: store.OpProjectionUpsert,
		Projection: &store.ProjectionUpsertOp{
			TenantID:         tenantID,
			ProjectionType:   settlementProjectionType,
			Key:              s.RunID,
			Payload:          body,
			ExpectedRevision: s.Revision,
		},
	}, nil
}

// GetRun returns the current run projection.
func (e *Engine) GetRun(ctx context.Context, tenantID, runID string) (*Run, error) {
	rec, err := e.store.GetProjection(ctx, tenantID, runProjectionType, runID)
	if errors.Is(err, store.ErrProjectionNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r Run
	if err := json.Unmarshal(rec.Payload, &r); err != nil {
		return nil, fmt.Errorf("run: decode run projection: %w", err)
	}
	return &r, nil
}

// GetSettlement returns the current settlement projection for runID.
func (e *Engine) GetSettlement(ctx context.Context, tenantID, runID string) (*Settlement, error) {
	rec, err := e.store.GetProjection(ctx, tenantID, settlementProjectionType, runID)
	if errors.Is(err, store.ErrProjectionNotFound) {
		return nil, ErrSettlementNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Settlement
	if err := json.Unmarshal(rec.Payload, &s); err != nil {
		return nil, fmt.Errorf("run: decode settlement projection: %w", err)
	}
	return &s, nil
}

// AppendEventRequest describes a run event append other than RUN_CREATED.
type AppendEventRequest struct {
	TenantID              string
	RunID                 string
	EventType             string
	Payload               interface{}
	Actor                 string
	ExpectedPrevChainHash string

	// Only read when EventType == EventRunCompleted and the run has an
	// inline settlement: drives the policy-replay settlement evaluation.
	VerificationStatus verification.Status
	Policy             *verification.Policy
}

// AppendEvent appends one run event, enforcing the status transition graph
// and, for RUN_COMPLETED, evaluating the bound settlement.
func (e *Engine) AppendEvent(ctx context.Context, req AppendEventRequest) (*Run, *Settlement, error) {
	r, err := e.GetRun(ctx, req.TenantID, req.RunID)
	if err != nil {
		return nil, nil, err
	}

	allowed, ok := transitions[r.Status]
	if !ok {
		return nil, nil, ErrTerminalRun
	}
	newStatus, ok := allowed[req.EventType]
	if !ok {
		return nil, nil, ErrInvalidTransition
	}

	eventOp, err := e.chain.BuildAppendOp(ctx, eventchain.AppendRequest{
		TenantID:              req.TenantID,
		StreamID:              streamID(req.RunID),
		EventType:             req.EventType,
		Payload:               req.Payload,
		Actor:                 req.Actor,
		ExpectedPrevChainHash: req.ExpectedPrevChainHash,
	})
	if err != nil {
		return nil, nil, err
	}
	ops := []store.Op{*eventOp}

	r.Status = newStatus
	r.Revision++
	r.UpdatedAt = e.clock()

	var settlement *Settlement
	if req.EventType == EventRunCompleted {
		settlement, err = e.GetSettlement(ctx, req.TenantID, req.RunID)
		if err != nil && !errors.Is(err, ErrSettlementNotFound) {
			return nil, nil, err
		}
		if settlement != nil && settlement.Status == SettlementLocked {
			settleOps, updated, err := e.evaluateSettlement(ctx, req.TenantID, settlement, req.VerificationStatus, req.Policy)
			if err != nil {
				return nil, nil, err
			}
			ops = append(ops, settleOps...)
			settlement = updated
		}
	}

	runOp, err := e.runProjectionOp(req.TenantID, r, eventOp.Event.EventID, eventOp.Event.ChainHash)
	if err != nil {
		return nil, nil, err
	}
	ops = append(ops, runOp)

	if _, err := e.store.CommitTx(ctx, ops); err != nil {
		return nil, nil, err
	}
	return r, settlement, nil
}

// evaluateSettlement computes the expected decision from policy replay and,
// when auto-resolved, builds the wallet ops to release/refund escrow in the
// same commit as the triggering RUN_COMPLETED event.
func (e *Engine) evaluateSettlement(ctx context.Context, tenantID string, s *Settlement, status verification.Status, policy *verification.Policy) ([]store.Op, *Settlement, error) {
	outcome, err := verification.Expected(policy, status, s.AmountCents)
	if err != nil {
		return nil, nil, err
	}

	s.DecisionPolicyHash = outcome.DecisionPolicyHash
	s.DecisionTrace = append(s.DecisionTrace, fmt.Sprintf("policy=%s status=%s", policy.PolicyHash, status))

	if outcome.DecisionStatus == DecisionManualReviewRequired {
		s.DecisionStatus = DecisionManualReviewRequired
		s.Revision++
		op, err := e.settlementProjectionOp(tenantID, s)
		if err != nil {
			return nil, nil, err
		}
		return []store.Op{op}, s, nil
	}

	payerWallet, err := e.ledger.GetSummary(ctx, tenantID, s.PayerAgentID)
	if err != nil {
		return nil, nil, err
	}
	releaseOps, err := e.ledger.BuildReleaseEscrow(ctx, tenantID, s.PayerAgentID, s.AgentID,
		s.AmountCents, int64(outcome.ReleaseRatePct), payerWallet.Revision, "run:"+s.RunID+":release")
	if err != nil {
		return nil, nil, err
	}

	s.DecisionStatus = DecisionAutoResolved
	s.ReleaseRatePct = outcome.ReleaseRatePct
	s.ReleasedAmountCents = outcome.ReleasedAmountCents
	s.RefundedAmountCents = outcome.RefundedAmountCents
	if outcome.ReleaseRatePct == 0 {
		s.Status = SettlementRefunded
	} else {
		s.Status = SettlementReleased
	}
	s.Revision++
	now := e.clock()
	s.ClosedAt = &now

	op, err := e.settlementProjectionOp(tenantID, s)
	if err != nil {
		return nil, nil, err
	}
	return append(releaseOps, op), s, nil
}

// GetPolicyReplay answers spec §4.7's getRunSettlementPolicyReplay: it
// recomputes the expected decision from policy + verification status and
// reports whether it matches the stored decision.
func (e *Engine) GetPolicyReplay(ctx context.Context, tenantID, runID string, status verification.Status, policy *verification.Policy) (*verification.ReplayResult, error) {
	s, err := e.GetSettlement(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	var stored *verification.Outcome
	if s.DecisionStatus != DecisionPending {
		stored = &verification.Outcome{
			DecisionStatus:      s.DecisionStatus,
			ReleaseRatePct:      s.ReleaseRatePct,
			ReleasedAmountCents: s.ReleasedAmountCents,
			RefundedAmountCents: s.RefundedAmountCents,
			DecisionPolicyHash:  s.DecisionPolicyHash,
		}
	}
	return verification.Replay(policy, status, s.AmountCents, stored, s.ArbitrationVerdict, e.clock())
}

// ResolveSettlement manually resolves a settlement stuck in
// manual_review_required, per POST /runs/{runId}/settlement/resolve.
func (e *Engine) ResolveSettlement(ctx context.Context, tenantID, runID string, releaseRatePct int) (*Settlement, error) {
	s, err := e.GetSettlement(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	if s.DecisionStatus != DecisionManualReviewRequired {
		return nil, ErrNotManualReview
	}
	if releaseRatePct < 0 || releaseRatePct > 100 {
		return nil, fmt.Errorf("run: releaseRatePct must be between 0 and 100, got %d", releaseRatePct)
	}

	payerWallet, err := e.ledger.GetSummary(ctx, tenantID, s.PayerAgentID)
	if err != nil {
		return nil, err
	}
	releaseOps, err := e.ledger.BuildReleaseEscrow(ctx, tenantID, s.PayerAgentID, s.AgentID,
		s.AmountCents, int64(releaseRatePct), payerWallet.Revision, "run:"+s.RunID+":manual-release")
	if err != nil {
		return nil, err
	}

	payeeCents := s.AmountCents * int64(releaseRatePct) / 100
	s.DecisionStatus = DecisionManualResolved
	s.ReleaseRatePct = releaseRatePct
	s.ReleasedAmountCents = payeeCents
	s.RefundedAmountCents = s.AmountCents - payeeCents
	if releaseRatePct == 0 {
		s.Status = SettlementRefunded
	} else {
		s.Status = SettlementReleased
	}
	s.Revision++
	now := e.clock()
	s.ClosedAt = &now

	op, err := e.settlementProjectionOp(tenantID, s)
	if err != nil {
		return nil, err
	}
	ops := append(releaseOps, op)

	if _, err := e.store.CommitTx(ctx, ops); err != nil {
		return nil, err
	}
	return s, nil
}

// BuildOpenDisputeOp flips a locked settlement's dispute status to open,
// without committing, so pkg/dispute can fold it into its own atomic commit
// alongside the dispute projection and any evidence artifacts.
func (e *Engine) BuildOpenDisputeOp(ctx context.Context, tenantID, runID string) (store.Op, *Settlement, error) {
	s, err := e.GetSettlement(ctx, tenantID, runID)
	if err != nil {
		return store.Op{}, nil, err
	}
	if s.Status != SettlementLocked {
		return store.Op{}, nil, ErrInvalidTransition
	}
	if s.DisputeStatus != DisputeNone {
		return store.Op{}, nil, ErrInvalidTransition
	}
	s.DisputeStatus = DisputeOpen
	s.Revision++

	op, err := e.settlementProjectionOp(tenantID, s)
	if err != nil {
		return store.Op{}, nil, err
	}
	return op, s, nil
}

// BuildArbitrationResolutionOps closes out a disputed settlement per the
// arbitration verdict: releases/refunds the locked escrow at releaseRatePct
// and records arbitrationVerdictID on the settlement. Build-only, so
// pkg/dispute can bind it with the verdict and settlement-adjustment
// artifacts in one commit.
func (e *Engine) BuildArbitrationResolutionOps(ctx context.Context, tenantID, runID string, releaseRatePct int, arbitrationVerdictID string) ([]store.Op, *Settlement, error) {
	if releaseRatePct < 0 || releaseRatePct > 100 {
		return nil, nil, fmt.Errorf("run: releaseRatePct must be between 0 and 100, got %d", releaseRatePct)
	}
	s, err := e.GetSettlement(ctx, tenantID, runID)
	if err != nil {
		return nil, nil, err
	}
	if s.Status != SettlementLocked || s.DisputeStatus != DisputeOpen {
		return nil, nil, ErrInvalidTransition
	}

	payerWallet, err := e.ledger.GetSummary(ctx, tenantID, s.PayerAgentID)
	if err != nil {
		return nil, nil, err
	}
	releaseOps, err := e.ledger.BuildReleaseEscrow(ctx, tenantID, s.PayerAgentID, s.AgentID,
		s.AmountCents, int64(releaseRatePct), payerWallet.Revision, "run:"+s.RunID+":arbitration-release")
	if err != nil {
		return nil, nil, err
	}

	payeeCents := s.AmountCents * int64(releaseRatePct) / 100
	s.DecisionTrace = append(s.DecisionTrace, fmt.Sprintf("arbitration verdict=%s releaseRatePct=%d", arbitrationVerdictID, releaseRatePct))
	s.ArbitrationVerdict = arbitrationVerdictID
	s.DisputeStatus = DisputeClosed
	s.ReleaseRatePct = releaseRatePct
	s.ReleasedAmountCents = payeeCents
	s.RefundedAmountCents = s.AmountCents - payeeCents
	if releaseRatePct == 0 {
		s.Status = SettlementRefunded
	} else {
		s.Status = SettlementReleased
	}
	s.Revision++
	now := e.clock()
	s.ClosedAt = &now

	op, err := e.settlementProjectionOp(tenantID, s)
	if err != nil {
		return nil, nil, err
	}
	return append(releaseOps, op), s, nil
}
