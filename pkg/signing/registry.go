// Copyright 2025 Certen Protocol
//
// Key Registry - purpose-and-scope-tagged Ed25519 identities

package signing

import (
	"crypto/ed25519"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is an in-memory key registry: it tracks every public key the
// engine knows about, keyed by key ID, along with purpose/scope/status. It
// never holds private key material — signing is done by Signer, which the
// caller backs with its own key storage.
type Registry struct {
	mu     sync.RWMutex
	keys   map[string]Record
	logger *log.Logger
}

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*Registry)

// WithLogger sets a custom logger for the registry.
func WithLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry constructs an empty key registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		keys:   make(map[string]Record),
		logger: log.New(log.Writer(), "[Signing] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a new active key to the registry. ScopeGlobalServer is only
// accepted for PurposeServer keys (open question (a)); any other purpose
// requesting a global scope is rejected with ErrInvalidPurposeScope.
func (r *Registry) Register(purpose Purpose, scope Scope, pub ed25519.PublicKey) (Record, error) {
	if len(pub) != ed25519.PublicKeySize {
		return Record{}, fmt.Errorf("signing: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	if scope.Global && purpose != PurposeServer {
		return Record{}, ErrInvalidPurposeScope
	}

	rec := Record{
		KeyID:     "key_" + uuid.New().String(),
		Purpose:   purpose,
		Scope:     scope,
		PublicKey: append([]byte(nil), pub...),
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.keys[rec.KeyID] = rec
	r.mu.Unlock()

	r.logger.Printf("registered key %s purpose=%s scope=%s", rec.KeyID, purpose, scope)
	return rec, nil
}

// RegisterWithID adds an active key under a caller-supplied keyID rather
// than a freshly generated one, for bootstrapping the registry from a
// persisted key file across restarts (so historical event signatures keep
// resolving to the same key ID they were signed under).
func (r *Registry) RegisterWithID(keyID string, purpose Purpose, scope Scope, pub ed25519.PublicKey) (Record, error) {
	if len(pub) != ed25519.PublicKeySize {
		return Record{}, fmt.Errorf("signing: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	if scope.Global && purpose != PurposeServer {
		return Record{}, ErrInvalidPurposeScope
	}

	rec := Record{
		KeyID:     keyID,
		Purpose:   purpose,
		Scope:     scope,
		PublicKey: append([]byte(nil), pub...),
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.keys[rec.KeyID] = rec
	r.mu.Unlock()

	r.logger.Printf("registered key %s purpose=%s scope=%s (persisted id)", rec.KeyID, purpose, scope)
	return rec, nil
}

// Lookup returns the registry entry for keyID.
func (r *Registry) Lookup(keyID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.keys[keyID]
	if !ok {
		return Record{}, ErrKeyNotFound
	}
	return rec, nil
}

// Rotate marks keyID as rotated and registers a replacement key with the
// same purpose and scope, active from now on.
func (r *Registry) Rotate(keyID string, newPub ed25519.PublicKey) (Record, error) {
	r.mu.Lock()
	rec, ok := r.keys[keyID]
	if !ok {
		r.mu.Unlock()
		return Record{}, ErrKeyNotFound
	}
	now := time.Now().UTC()
	rec.Status = StatusRotated
	rec.RotatedAt = &now
	r.keys[keyID] = rec
	purpose, scope := rec.Purpose, rec.Scope
	r.mu.Unlock()

	return r.Register(purpose, scope, newPub)
}

// Revoke marks keyID as revoked. Revocation is retroactive: once revoked, a
// key's historical signatures are no longer treated as valid.
func (r *Registry) Revoke(keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.keys[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	now := time.Now().UTC()
	rec.Status = StatusRevoked
	rec.RevokedAt = &now
	r.keys[keyID] = rec
	r.logger.Printf("revoked key %s", keyID)
	return nil
}

// ActiveKeysForScope returns every active key whose scope matches tenantID
// and whose purpose is one of the given purposes (all purposes if none
// given).
func (r *Registry) ActiveKeysForScope(tenantID string, purposes ...Purpose) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[Purpose]bool, len(purposes))
	for _, p := range purposes {
		want[p] = true
	}

	var out []Record
	for _, rec := range r.keys {
		if !rec.IsUsableForSigning() {
			continue
		}
		if !rec.Scope.Matches(tenantID) {
			continue
		}
		if len(want) > 0 && !want[rec.Purpose] {
			continue
		}
		out = append(out, rec)
	}
	return out
}
