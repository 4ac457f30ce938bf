// Copyright 2025 Certen Protocol
//
// Domain Error Mapping - translates C1-C10 sentinel errors into spec
// section 7's enumerated HTTP error codes.

package server

import (
	"errors"

	"github.com/certen/nooterra-core/pkg/dispute"
	"github.com/certen/nooterra-core/pkg/marketplace"
	"github.com/certen/nooterra-core/pkg/pipeline"
	"github.com/certen/nooterra-core/pkg/run"
	"github.com/certen/nooterra-core/pkg/signing"
	"github.com/certen/nooterra-core/pkg/store"
	"github.com/certen/nooterra-core/pkg/wallet"
	"github.com/certen/nooterra-core/pkg/x402gate"
)

// mapDomainError maps an error surfaced from a C1-C10 engine call to the
// spec section 7 HTTP error code it corresponds to. A *pipeline.HTTPError
// passes through untouched; anything unrecognized becomes a generic 500
// INTERNAL so a handler bug never leaks a raw Go error string as the only
// signal.
func mapDomainError(err error) *pipeline.HTTPError {
	var httpErr *pipeline.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	var gateErr *x402gate.GateError
	if errors.As(err, &gateErr) {
		return newHTTPErr(gateStatusFor(gateErr.Code), gateErr.Code, gateErr.Message)
	}

	switch {
	case errors.Is(err, run.ErrNotFound), errors.Is(err, run.ErrSettlementNotFound):
		return newHTTPErr(404, "RUN_NOT_FOUND", err.Error())
	case errors.Is(err, run.ErrInvalidTransition):
		return newHTTPErr(409, "RUN_INVALID_TRANSITION", err.Error())
	case errors.Is(err, run.ErrTerminalRun):
		return newHTTPErr(409, "RUN_TERMINAL", err.Error())
	case errors.Is(err, run.ErrNotManualReview):
		return newHTTPErr(409, "SETTLEMENT_NOT_MANUAL_REVIEW", err.Error())

	case errors.Is(err, wallet.ErrNotFound):
		return newHTTPErr(404, "WALLET_NOT_FOUND", err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return newHTTPErr(422, "WALLET_INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, wallet.ErrRevisionConflict):
		return newHTTPErr(409, "REVISION_CONFLICT", err.Error())
	case errors.Is(err, wallet.ErrUnbalancedPosting), errors.Is(err, wallet.ErrInvalidSplitPct):
		return newHTTPErr(422, "WALLET_CURRENCY_MISMATCH", err.Error())

	case errors.Is(err, marketplace.ErrRFQNotFound), errors.Is(err, marketplace.ErrBidNotFound),
		errors.Is(err, marketplace.ErrAgreementNotFound):
		return newHTTPErr(404, "NOT_FOUND", err.Error())
	case errors.Is(err, marketplace.ErrRFQNotOpen), errors.Is(err, marketplace.ErrBidNotPending):
		return newHTTPErr(409, "MARKETPLACE_INVALID_STATE", err.Error())
	case errors.Is(err, marketplace.ErrStaleProposal):
		return newHTTPErr(409, "REVISION_CONFLICT", err.Error())

	case errors.Is(err, dispute.ErrNotFound):
		return newHTTPErr(404, "DISPUTE_NOT_FOUND", err.Error())
	case errors.Is(err, dispute.ErrAlreadyOpen), errors.Is(err, dispute.ErrNotOpen),
		errors.Is(err, dispute.ErrEscalationBackwards), errors.Is(err, dispute.ErrUnknownEscalationLevel):
		return newHTTPErr(409, "DISPUTE_INVALID_STATE", err.Error())
	case errors.Is(err, dispute.ErrVerdictHashMismatch):
		return newHTTPErr(409, "DISPUTE_VERDICT_HASH_MISMATCH", err.Error())
	case errors.Is(err, dispute.ErrPanelQuorumNotMet):
		return newHTTPErr(409, "DISPUTE_PANEL_QUORUM_NOT_MET", err.Error())

	case errors.Is(err, store.ErrRevisionConflict):
		return newHTTPErr(409, "REVISION_CONFLICT", err.Error())
	case errors.Is(err, store.ErrChainHashMismatch):
		return newHTTPErr(409, "CHAIN_HASH_MISMATCH", err.Error())
	case errors.Is(err, store.ErrArtifactNotFound), errors.Is(err, store.ErrProjectionNotFound),
		errors.Is(err, store.ErrEventNotFound), errors.Is(err, store.ErrWalletAccountNotFound):
		return newHTTPErr(404, "NOT_FOUND", err.Error())

	case errors.Is(err, signing.ErrKeyNotUsable), errors.Is(err, signing.ErrScopeViolation), errors.Is(err, signing.ErrInvalidPurposeScope):
		return newHTTPErr(409, "SIGNER_CANNOT_SIGN", err.Error())
	case errors.Is(err, signing.ErrKeyNotFound):
		return newHTTPErr(401, "UNKNOWN_KEY", err.Error())
	case errors.Is(err, signing.ErrInvalidSignature):
		return newHTTPErr(401, "SIGNATURE_INVALID", err.Error())

	default:
		return newHTTPErr(500, "INTERNAL", err.Error())
	}
}

// gateStatusFor maps an x402gate GateError code to its HTTP status, per
// spec section 7's 409/422 split: the missing-field and bad-signature
// execution-intent codes are 422, X402_GATE_NOT_FOUND is 404, and every
// other code (including an expired intent) is 409.
func gateStatusFor(code string) int {
	switch code {
	case "X402_GATE_NOT_FOUND":
		return 404
	case "X402_EXECUTION_INTENT_INVALID", "X402_EXECUTION_INTENT_SIGNATURE_INVALID":
		return 422
	default:
		return 409
	}
}
