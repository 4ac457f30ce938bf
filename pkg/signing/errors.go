package signing

import "errors"

var (
	// ErrKeyNotFound is returned when a key ID has no registry entry.
	ErrKeyNotFound = errors.New("signing: key not found")
	// ErrKeyNotUsable is returned when a key exists but is rotated/revoked
	// for the requested operation.
	ErrKeyNotUsable = errors.New("signing: key is not usable for this operation")
	// ErrScopeViolation is returned when a tenant attempts to sign or
	// verify with a key scoped to a different tenant.
	ErrScopeViolation = errors.New("signing: key scope does not cover this tenant")
	// ErrInvalidPurposeScope is returned when ScopeGlobalServer is requested
	// for a non-server-purpose key (open question (a)).
	ErrInvalidPurposeScope = errors.New("signing: only server-purpose keys may be globally scoped")
	// ErrInvalidSignature is returned by Verify when the signature does not
	// match the given digest under the given public key.
	ErrInvalidSignature = errors.New("signing: signature verification failed")
	// ErrInvalidDigestLength is returned when the payload handed to Sign or
	// Verify is not a 32-byte SHA-256 digest.
	ErrInvalidDigestLength = errors.New("signing: digest must be exactly 32 bytes")
)
