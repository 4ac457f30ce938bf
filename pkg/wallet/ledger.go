// Copyright 2025 Certen Protocol
//
// Agent/Wallet Ledger - double-entry cents postings, escrow lock/release/refund

package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/certen/nooterra-core/pkg/store"
)

const (
	// AccountPlatformSuspense receives the offsetting leg of an external
	// credit().
	AccountPlatformSuspense = "acct_platform_suspense"
	// AccountCoverageReserve and AccountInsurerReceivable are touched only by
	// dispute holdback adjustments (C9), via Post directly.
	AccountCoverageReserve   = "acct_coverage_reserve"
	AccountInsurerReceivable = "acct_insurer_receivable"
)

// AccountAvailable returns the spendable-balance account id for agentID.
func AccountAvailable(agentID string) string { return "acct_available:" + agentID }

// AccountEscrow returns the escrow-holding account id for agentID. Escrow is
// held against the payer: lockEscrow debits the payer's available account
// and credits the payer's own escrow account, earmarked (by the caller's
// run/settlement record, not by the ledger) for a specific payee.
func AccountEscrow(agentID string) string { return "acct_escrow:" + agentID }

// Summary is the read-model view of one agent's wallet, projection-backed so
// operations can be guarded by an expected revision (spec §4.6: "All
// operations require the wallet row's revision to match").
type Summary struct {
	WalletID           string `json:"walletId"`
	AgentID            string `json:"agentId"`
	TenantID           string `json:"tenantId"`
	Currency           string `json:"currency"`
	AvailableCents     int64  `json:"availableCents"`
	EscrowLockedCents  int64  `json:"escrowLockedCents"`
	TotalDebitedCents  int64  `json:"totalDebitedCents"`
	TotalCreditedCents int64  `json:"totalCreditedCents"`
	Revision           int64  `json:"revision"`
}

const projectionType = "wallet"

// Ledger is the C6 component: balanced double-entry postings over the
// handful of system accounts plus a per-agent wallet summary projection.
type Ledger struct {
	store    store.Store
	currency string
}

// New constructs a Ledger. currency is the ISO 4217 code every wallet under
// it is denominated in (e.g. "USD"); spec §3 treats currency as fixed per
// wallet, so one Ledger serves one currency.
func New(st store.Store, currency string) *Ledger {
	return &Ledger{store: st, currency: currency}
}

// GetSummary reads the current wallet summary for agentID, or a fresh
// zero-value Summary at Revision 0 if the agent has never been credited or
// locked against.
func (l *Ledger) GetSummary(ctx context.Context, tenantID, agentID string) (*Summary, error) {
	rec, err := l.store.GetProjection(ctx, tenantID, projectionType, agentID)
	if errors.Is(err, store.ErrProjectionNotFound) {
		return &Summary{
			WalletID: "wallet_" + agentID,
			AgentID:  agentID,
			TenantID: tenantID,
			Currency: l.currency,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	var summary Summary
	if err := json.Unmarshal(rec.Payload, &summary); err != nil {
		return nil, fmt.Errorf("wallet: decode projection: %w", err)
	}
	return &summary, nil
}

func (l *Ledger) checkRevision(ctx context.Context, tenantID, agentID string, expectedRevision int64) (*Summary, error) {
	summary, err := l.GetSummary(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	if summary.Revision != expectedRevision {
		return nil, ErrRevisionConflict
	}
	return summary, nil
}

func (l *Ledger) projectionOp(summary *Summary) (store.Op, error) {
	body, err := json.Marshal(summary)
	if err != nil {
		return store.Op{}, fmt.Errorf("wallet: encode projection: %w", err)
	}
	return store.Op{
		Kind: store.OpProjectionUpsert,
		Projection: &store.ProjectionUpsertOp{
			TenantID:         summary.TenantID,
			ProjectionType:   projectionType,
			Key:              summary.AgentID,
			Payload:          body,
			ExpectedRevision: summary.Revision,
		},
	}, nil
}

// Post builds a balanced batch of raw postings: deltas must net to zero and
// is the primitive every named operation below (and C9's holdback
// adjustments, which touch acct_coverage_reserve / acct_insurer_receivable
// directly) is built from. postingRef scopes idempotency: replaying the
// same commit with the same postingRef is a safe no-op at the store layer.
func Post(tenantID, postingRef string, deltas map[string]int64) ([]store.Op, error) {
	var sum int64
	ops := make([]store.Op, 0, len(deltas))
	for account, delta := range deltas {
		if delta == 0 {
			continue
		}
		sum += delta
		ops = append(ops, store.Op{
			Kind: store.OpWalletPost,
			Wallet: &store.WalletPostOp{
				TenantID:   tenantID,
				AccountID:  account,
				DeltaCents: delta,
				PostingRef: postingRef,
			},
		})
	}
	if sum != 0 {
		return nil, ErrUnbalancedPosting
	}
	return ops, nil
}

// BuildCredit credits agentID's available balance by cents, offset against
// the platform suspense account (an external deposit settling into the
// ledger), bumping the wallet's revision. expectedRevision must match the
// wallet's current revision (0 for a never-touched wallet).
func (l *Ledger) BuildCredit(ctx context.Context, tenantID, agentID string, cents, expectedRevision int64, postingRef string) ([]store.Op, error) {
	if cents <= 0 {
		return nil, fmt.Errorf("wallet: credit amount must be positive, got %d", cents)
	}
	summary, err := l.checkRevision(ctx, tenantID, agentID, expectedRevision)
	if err != nil {
		return nil, err
	}

	ops, err := Post(tenantID, postingRef, map[string]int64{
		AccountAvailable(agentID): cents,
		AccountPlatformSuspense:   -cents,
	})
	if err != nil {
		return nil, err
	}

	summary.AvailableCents += cents
	summary.TotalCreditedCents += cents
	summary.Revision++
	projOp, err := l.projectionOp(summary)
	if err != nil {
		return nil, err
	}
	return append(ops, projOp), nil
}

// BuildLockEscrow moves cents from payerAgentID's available balance into
// its own escrow account, earmarked (by the caller's run/settlement record)
// for payeeAgentID. expectedRevision is checked against the payer's wallet.
func (l *Ledger) BuildLockEscrow(ctx context.Context, tenantID, payerAgentID, payeeAgentID string, cents, expectedRevision int64, postingRef string) ([]store.Op, error) {
	if cents <= 0 {
		return nil, fmt.Errorf("wallet: escrow lock amount must be positive, got %d", cents)
	}
	if payeeAgentID == "" {
		return nil, fmt.Errorf("wallet: lockEscrow requires a payee agent id")
	}
	summary, err := l.checkRevision(ctx, tenantID, payerAgentID, expectedRevision)
	if err != nil {
		return nil, err
	}
	if summary.AvailableCents < cents {
		return nil, ErrInsufficientFunds
	}

	ops, err := Post(tenantID, postingRef, map[string]int64{
		AccountAvailable(payerAgentID): -cents,
		AccountEscrow(payerAgentID):    cents,
	})
	if err != nil {
		return nil, err
	}

	summary.AvailableCents -= cents
	summary.EscrowLockedCents += cents
	summary.Revision++
	projOp, err := l.projectionOp(summary)
	if err != nil {
		return nil, err
	}
	return append(ops, projOp), nil
}

// BuildReleaseEscrow splits payerAgentID's locked escrow between payeeAgentID
// (releaseRatePct%, rounded down) and a refund back to the payer for the
// remainder, per spec §4.7's settlement state machine. The platform does not
// take a cut here; fee arrangements, if any, are modeled upstream as a
// smaller releaseRatePct rather than a hidden deduction.
func (l *Ledger) BuildReleaseEscrow(ctx context.Context, tenantID, payerAgentID, payeeAgentID string, cents, releaseRatePct, expectedPayerRevision int64, postingRef string) ([]store.Op, error) {
	if cents <= 0 {
		return nil, fmt.Errorf("wallet: release amount must be positive, got %d", cents)
	}
	if releaseRatePct < 0 || releaseRatePct > 100 {
		return nil, ErrInvalidSplitPct
	}
	payer, err := l.checkRevision(ctx, tenantID, payerAgentID, expectedPayerRevision)
	if err != nil {
		return nil, err
	}
	if payer.EscrowLockedCents < cents {
		return nil, ErrInsufficientFunds
	}

	payeeCents := cents * releaseRatePct / 100
	refundCents := cents - payeeCents

	// Accumulate rather than assign: payerAgentID == payeeAgentID is a
	// degenerate but legal case (a 100% "release" back to the payer is just
	// BuildRefundEscrow's shape) and must not clobber the other leg.
	deltas := map[string]int64{
		AccountEscrow(payerAgentID): -cents,
	}
	if refundCents > 0 {
		deltas[AccountAvailable(payerAgentID)] += refundCents
	}
	if payeeCents > 0 {
		deltas[AccountAvailable(payeeAgentID)] += payeeCents
	}
	ops, err := Post(tenantID, postingRef, deltas)
	if err != nil {
		return nil, err
	}

	payer.EscrowLockedCents -= cents
	payer.AvailableCents += refundCents
	samePayee := payeeAgentID == payerAgentID
	if samePayee {
		payer.AvailableCents += payeeCents
		payer.TotalCreditedCents += payeeCents
	} else if payeeCents > 0 {
		// The payer's escrow debit only nets against TotalCreditedCents via
		// TotalDebitedCents when the released cents actually leave the
		// payer's own wallet. A same-payee release is a refund, not a debit.
		payer.TotalDebitedCents += payeeCents
	}
	payer.Revision++
	payerOp, err := l.projectionOp(payer)
	if err != nil {
		return nil, err
	}
	ops = append(ops, payerOp)

	if payeeCents > 0 && !samePayee {
		payee, err := l.GetSummary(ctx, tenantID, payeeAgentID)
		if err != nil {
			return nil, err
		}
		payee.AvailableCents += payeeCents
		payee.TotalCreditedCents += payeeCents
		payee.Revision++
		payeeOp, err := l.projectionOp(payee)
		if err != nil {
			return nil, err
		}
		ops = append(ops, payeeOp)
	}

	return ops, nil
}

// BuildRefundEscrow returns payerAgentID's full locked cents back to their
// available balance, per the settlement state machine's locked→refunded
// transition with releaseRatePct=0.
func (l *Ledger) BuildRefundEscrow(ctx context.Context, tenantID, payerAgentID string, cents, expectedRevision int64, postingRef string) ([]store.Op, error) {
	return l.BuildReleaseEscrow(ctx, tenantID, payerAgentID, payerAgentID, cents, 0, expectedRevision, postingRef)
}

// GetBalance returns the raw store-level balance for one account, bypassing
// the wallet summary projection — useful for reconciliation and tests.
func (l *Ledger) GetBalance(ctx context.Context, tenantID, accountID string) (int64, error) {
	return l.store.GetWalletBalance(ctx, tenantID, accountID)
}
