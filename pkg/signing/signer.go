// Copyright 2025 Certen Protocol
//
// Ed25519 Signer - signs raw 32-byte content digests, never re-hashes input

package signing

import (
	"crypto/ed25519"
	"fmt"
	"sync"
)

// DigestSize is the length in bytes of the SHA-256 digests this package
// signs. Signing always operates on a pre-computed digest, never on the
// original document: callers run commitment.HashCanonical themselves.
const DigestSize = 32

// Signer produces Ed25519 signatures over content digests for a fixed set
// of private keys, looked up by the registry key ID they were registered
// under. It holds private key material in memory; callers are responsible
// for how that material was provisioned (file, KMS, HSM passthrough, etc).
type Signer struct {
	mu       sync.RWMutex
	registry *Registry
	privKeys map[string]ed25519.PrivateKey
}

// NewSigner builds a Signer bound to the given registry. Private keys are
// added with AddPrivateKey once their corresponding public key has been
// registered.
func NewSigner(registry *Registry) *Signer {
	return &Signer{
		registry: registry,
		privKeys: make(map[string]ed25519.PrivateKey),
	}
}

// AddPrivateKey associates keyID (already present in the registry) with the
// private key material used to sign on its behalf.
func (s *Signer) AddPrivateKey(keyID string, priv ed25519.PrivateKey) error {
	rec, err := s.registry.Lookup(keyID)
	if err != nil {
		return err
	}
	pub := priv.Public().(ed25519.PublicKey)
	if string(pub) != string(rec.PublicKey) {
		return fmt.Errorf("signing: private key does not match registered public key for %s", keyID)
	}
	s.mu.Lock()
	s.privKeys[keyID] = priv
	s.mu.Unlock()
	return nil
}

// Sign signs digest (a 32-byte SHA-256 hash) with keyID's private key.
// Returns ErrKeyNotUsable if the key is rotated or revoked.
func (s *Signer) Sign(tenantID, keyID string, digest []byte) ([]byte, error) {
	if len(digest) != DigestSize {
		return nil, ErrInvalidDigestLength
	}

	rec, err := s.registry.Lookup(keyID)
	if err != nil {
		return nil, err
	}
	if !rec.Scope.Matches(tenantID) {
		return nil, ErrScopeViolation
	}
	if !rec.IsUsableForSigning() {
		return nil, ErrKeyNotUsable
	}

	s.mu.RLock()
	priv, ok := s.privKeys[keyID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("signing: no private key material loaded for %s", keyID)
	}

	return ed25519.Sign(priv, digest), nil
}

// Verify checks sig against digest using the public key registered under
// keyID, accepting rotated-but-not-revoked keys so historical signatures
// keep verifying across a rotation.
func (s *Signer) Verify(tenantID, keyID string, digest, sig []byte) error {
	if len(digest) != DigestSize {
		return ErrInvalidDigestLength
	}

	rec, err := s.registry.Lookup(keyID)
	if err != nil {
		return err
	}
	if !rec.Scope.Matches(tenantID) {
		return ErrScopeViolation
	}
	if !rec.IsUsableForVerification() {
		return ErrKeyNotUsable
	}
	if !ed25519.Verify(ed25519.PublicKey(rec.PublicKey), digest, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// GenerateKeyPair is a convenience wrapper over ed25519.GenerateKey for
// callers (mostly tests and bootstrap tooling) that don't bring their own
// key material.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}
