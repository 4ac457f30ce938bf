// Copyright 2025 Certen Protocol
//
// x402 Gate Types - a gate binds a quote + ExecutionIntent to one payment
// authorization, per spec section 4.10

package x402gate

import "time"

// GateStatus is the gate's lifecycle position.
type GateStatus string

const (
	GateStatusCreated    GateStatus = "created"
	GateStatusAuthorized GateStatus = "authorized"
	GateStatusVerified   GateStatus = "verified"
)

// RequestBindingMode controls whether the gate enforces a fixed request
// hash across its authorize/verify calls.
type RequestBindingMode string

const (
	// RequestBindingStrict pins requestBindingSha256 at create time; any
	// later call supplying a different request hash fails X402_REQUEST_MISMATCH.
	RequestBindingStrict RequestBindingMode = "strict"
	// RequestBindingOpen performs no request-hash enforcement.
	RequestBindingOpen RequestBindingMode = "open"
)

// Quote is the payment terms the gate was opened against.
type Quote struct {
	QuoteID     string                 `json:"quoteId"`
	AmountCents int64                  `json:"amountCents"`
	Currency    string                 `json:"currency"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// ExecutionIntent is the payer's claimed authorization to execute the
// quoted payment, optionally backed by an EVM signature over its hash.
type ExecutionIntent struct {
	IntentID     string     `json:"intentId"`
	PayerAddress string     `json:"payerAddress"`
	PayeeAddress string     `json:"payeeAddress"`
	Nonce        string     `json:"nonce"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	SignatureHex string     `json:"signatureHex,omitempty"`
}

// RequestBinding is the gate's pinned request hash and the mode that governs
// how strictly it is enforced.
type RequestBinding struct {
	Mode   RequestBindingMode `json:"mode"`
	Sha256 string             `json:"sha256,omitempty"`
}

// Authorization records that the gate's execution intent was accepted for
// payment.
type Authorization struct {
	AuthorizedAt  time.Time `json:"authorizedAt"`
	PayerAddress  string    `json:"payerAddress"`
	RequestSha256 string    `json:"requestSha256,omitempty"`
}

// Verification records that the authorized payment was matched against
// evidence of the underlying request/response and, where applicable, closed
// out against a settlement.
type Verification struct {
	VerifiedAt      time.Time `json:"verifiedAt"`
	EvidenceRefs    []string  `json:"evidenceRefs"`
	RequestSha256   string    `json:"requestSha256,omitempty"`
	ResponseSha256  string    `json:"responseSha256,omitempty"`
	SettlementRunID string    `json:"settlementRunId,omitempty"`
}

// Gate is the C10 projection: one quote bound to at most one payment
// authorization and its eventual verification.
type Gate struct {
	GateID          string          `json:"gateId"`
	TenantID        string          `json:"tenantId"`
	Status          GateStatus      `json:"status"`
	Quote           Quote           `json:"quote"`
	ExecutionIntent ExecutionIntent `json:"executionIntent"`
	RequestBinding  RequestBinding  `json:"requestBinding"`
	Authorization   *Authorization  `json:"authorization,omitempty"`
	Verification    *Verification   `json:"verification,omitempty"`
	Revision        int64           `json:"revision"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

const gateProjectionType = "x402Gate"

// Evidence-ref prefixes spec section 4.10 binds requestBindingSha256/
// responseSha256 against.
const (
	evidenceRequestPrefix  = "http:request_sha256:"
	evidenceResponsePrefix = "http:response_sha256:"
)

// BindingEvidenceKind distinguishes the two binding-evidence callers named
// in spec section 7 (dispute close vs. arbitration open), since each gets
// its own REQUIRED/MISMATCH error pair.
type BindingEvidenceKind string

const (
	BindingEvidenceDisputeClose    BindingEvidenceKind = "dispute_close"
	BindingEvidenceArbitrationOpen BindingEvidenceKind = "arbitration_open"
)
