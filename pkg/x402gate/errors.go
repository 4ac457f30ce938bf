// Copyright 2025 Certen Protocol

package x402gate

import "fmt"

// GateError carries one of spec section 7's enumerated X402_* codes
// alongside a human-readable message, so server handlers can surface the
// code verbatim in the {code, message, details, requestId} error envelope.
type GateError struct {
	Code    string
	Message string
}

func (e *GateError) Error() string { return fmt.Sprintf("x402gate: %s: %s", e.Code, e.Message) }

func newGateError(code, message string) *GateError {
	return &GateError{Code: code, Message: message}
}

var (
	ErrGateNotFound = newGateError("X402_GATE_NOT_FOUND", "gate not found")

	ErrExecutionIntentInvalid          = newGateError("X402_EXECUTION_INTENT_INVALID", "execution intent is missing required fields")
	ErrExecutionIntentHashMismatch     = newGateError("X402_EXECUTION_INTENT_HASH_MISMATCH", "execution intent hash does not match the expected prior chain hash")
	ErrExecutionIntentSignatureInvalid = newGateError("X402_EXECUTION_INTENT_SIGNATURE_INVALID", "execution intent signature does not recover to the claimed payer address")
	ErrExecutionIntentExpired          = newGateError("X402_EXECUTION_INTENT_EXPIRED", "execution intent has expired")

	ErrGateVerifyAlreadyVerified      = newGateError("X402_GATE_VERIFY_ALREADY_VERIFIED", "gate has already been verified")
	ErrGateVerifyNotAuthorized        = newGateError("X402_GATE_VERIFY_NOT_AUTHORIZED", "gate must be authorized before it can be verified")
	ErrGateAuthorizeAlreadyAuthorized = newGateError("X402_GATE_AUTHORIZE_ALREADY_AUTHORIZED", "gate has already been authorized or verified")

	ErrRequestMismatch = newGateError("X402_REQUEST_MISMATCH", "request body sha256 does not match the gate's strict-mode binding")

	ErrDisputeCloseBindingEvidenceRequired    = newGateError("X402_DISPUTE_CLOSE_BINDING_EVIDENCE_REQUIRED", "dispute close requires http request/response sha256 evidence refs")
	ErrDisputeCloseBindingEvidenceMismatch    = newGateError("X402_DISPUTE_CLOSE_BINDING_EVIDENCE_MISMATCH", "dispute close evidence refs do not match the gate's stored bindings")
	ErrArbitrationOpenBindingEvidenceRequired = newGateError("X402_ARBITRATION_OPEN_BINDING_EVIDENCE_REQUIRED", "arbitration open requires http request/response sha256 evidence refs")
	ErrArbitrationOpenBindingEvidenceMismatch = newGateError("X402_ARBITRATION_OPEN_BINDING_EVIDENCE_MISMATCH", "arbitration open evidence refs do not match the gate's stored bindings")
)
