// Copyright 2025 Certen Protocol
//
// Key Registry Types - purpose-scoped Ed25519 signing identities

package signing

import "time"

// Purpose tags what kind of actor a key belongs to. Only server-purpose
// keys may ever carry ScopeGlobalServer; robot and operator keys are always
// tenant-scoped, enforced at registration time in Registry.Register.
type Purpose string

const (
	PurposeRobot    Purpose = "robot"
	PurposeOperator Purpose = "operator"
	PurposeServer   Purpose = "server"
)

// Status tracks a key's lifecycle. A rotated key remains valid for
// signature verification of historical events but must not be used to sign
// new ones; a revoked key is rejected in both directions.
type Status string

const (
	StatusActive  Status = "active"
	StatusRotated Status = "rotated"
	StatusRevoked Status = "revoked"
)

// Scope binds a key either to one tenant or, for server-purpose keys only,
// globally across all tenants.
type Scope struct {
	TenantID string
	Global   bool
}

// ScopeTenant returns a tenant-bound scope.
func ScopeTenant(tenantID string) Scope { return Scope{TenantID: tenantID} }

// ScopeGlobalServer returns the global scope reserved for server-purpose
// keys (open question (a) in the key registry's design decisions).
func ScopeGlobalServer() Scope { return Scope{Global: true} }

func (s Scope) String() string {
	if s.Global {
		return "global"
	}
	return "tenant:" + s.TenantID
}

// Matches reports whether s authorizes signing/verification for tenantID.
// A global scope matches every tenant; a tenant scope matches only itself.
func (s Scope) Matches(tenantID string) bool {
	return s.Global || s.TenantID == tenantID
}

// Record is one entry in the key registry: a purpose-and-scope-tagged
// Ed25519 public key, plus the lifecycle metadata needed to judge whether a
// given signature was valid at the time it was produced.
type Record struct {
	KeyID     string
	Purpose   Purpose
	Scope     Scope
	PublicKey []byte // 32-byte Ed25519 public key
	Status    Status
	CreatedAt time.Time
	RotatedAt *time.Time
	RevokedAt *time.Time
}

// IsUsableForSigning reports whether the key may be used to produce new
// signatures right now.
func (r Record) IsUsableForSigning() bool {
	return r.Status == StatusActive
}

// IsUsableForVerification reports whether a signature made with this key
// should still be treated as valid (rotated keys remain verifiable;
// revoked keys never do, per spec — revocation is retroactive distrust).
func (r Record) IsUsableForVerification() bool {
	return r.Status == StatusActive || r.Status == StatusRotated
}
