package eventchain

import "errors"

var (
	// ErrChainHashMismatch mirrors store.ErrChainHashMismatch at this layer
	// so callers that only import pkg/eventchain don't need pkg/store too.
	ErrChainHashMismatch = errors.New("eventchain: chain hash mismatch")
	// ErrRevisionConflict mirrors store.ErrRevisionConflict.
	ErrRevisionConflict = errors.New("eventchain: revision conflict")
	// ErrVerifyPayloadHashMismatch is returned by VerifyChain when a
	// recorded event's payloadHash disagrees with sha256(canonical(payload)).
	ErrVerifyPayloadHashMismatch = errors.New("eventchain: payload hash mismatch")
	// ErrVerifyChainHashMismatch is returned by VerifyChain when a recorded
	// event's chainHash disagrees with the recomputed value.
	ErrVerifyChainHashMismatch = errors.New("eventchain: chain hash mismatch on replay")
	// ErrVerifyLinkageBroken is returned when event[i].chainHash !=
	// event[i+1].prevChainHash.
	ErrVerifyLinkageBroken = errors.New("eventchain: broken chain linkage")
	// ErrVerifySignatureInvalid is returned when a signed event's signature
	// does not verify against the claimed signer key.
	ErrVerifySignatureInvalid = errors.New("eventchain: signature invalid")
	// ErrUnknownSignerKey is returned when a signed event names a keyId the
	// caller did not supply a public key for.
	ErrUnknownSignerKey = errors.New("eventchain: unknown signer key")
)
