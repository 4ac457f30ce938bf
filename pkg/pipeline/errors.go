// Copyright 2025 Certen Protocol

package pipeline

import (
	"errors"
	"fmt"

	"github.com/certen/nooterra-core/pkg/store"
)

// HTTPError pairs one of spec section 7's enumerated codes with the HTTP
// status it maps to, so handlers never have to re-derive the mapping.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("pipeline: %d %s: %s", e.StatusCode, e.Code, e.Message) }

func newHTTPError(status int, code, message string) *HTTPError {
	return &HTTPError{StatusCode: status, Code: code, Message: message}
}

var (
	ErrIdempotencyKeyReusedWithDifferentBody = newHTTPError(409, "IDEMPOTENCY_KEY_REUSED_WITH_DIFFERENT_BODY", "idempotency key was already used with a different request body")
	ErrPayloadRequired                       = newHTTPError(400, "PAYLOAD_REQUIRED", "request body is required")
	ErrRequiredFieldMissing                  = newHTTPError(400, "REQUIRED_FIELD_MISSING", "a required field is missing")
)

// storeErrorCode maps a pkg/store sentinel error to its spec section 7 code
// and HTTP status, used when CommitTx fails after a business op already
// built its ops.
func storeErrorCode(err error, fallbackMessage string) *HTTPError {
	switch {
	case isRevisionConflict(err):
		return newHTTPError(409, "REVISION_CONFLICT", "expected revision did not match the current projection/stream revision")
	case isChainHashMismatch(err):
		return newHTTPError(409, "CHAIN_HASH_MISMATCH", "expected prev chain hash did not match the stream's current head")
	default:
		return newHTTPError(500, "STORE_ERROR", fallbackMessage)
	}
}

func isRevisionConflict(err error) bool  { return errors.Is(err, store.ErrRevisionConflict) }
func isChainHashMismatch(err error) bool { return errors.Is(err, store.ErrChainHashMismatch) }
