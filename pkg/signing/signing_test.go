// Copyright 2025 Certen Protocol
//
// Key Registry and Signer Tests

package signing

import (
	"crypto/sha256"
	"testing"
)

func TestRegisterAndSign(t *testing.T) {
	registry := NewRegistry()
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	rec, err := registry.Register(PurposeRobot, ScopeTenant("tenant-1"), pub)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	signer := NewSigner(registry)
	if err := signer.AddPrivateKey(rec.KeyID, priv); err != nil {
		t.Fatalf("add private key: %v", err)
	}

	digest := sha256.Sum256([]byte("hello world"))
	sig, err := signer.Sign("tenant-1", rec.KeyID, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := signer.Verify("tenant-1", rec.KeyID, digest[:], sig); err != nil {
		t.Errorf("verify failed for valid signature: %v", err)
	}
}

func TestSign_WrongTenantRejected(t *testing.T) {
	registry := NewRegistry()
	pub, priv, _ := GenerateKeyPair()
	rec, err := registry.Register(PurposeRobot, ScopeTenant("tenant-1"), pub)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	signer := NewSigner(registry)
	if err := signer.AddPrivateKey(rec.KeyID, priv); err != nil {
		t.Fatalf("add private key: %v", err)
	}

	digest := sha256.Sum256([]byte("payload"))
	if _, err := signer.Sign("tenant-2", rec.KeyID, digest[:]); err != ErrScopeViolation {
		t.Errorf("expected ErrScopeViolation, got %v", err)
	}
}

func TestGlobalServerScope_OnlyServerPurpose(t *testing.T) {
	registry := NewRegistry()
	pub, _, _ := GenerateKeyPair()

	if _, err := registry.Register(PurposeRobot, ScopeGlobalServer(), pub); err != ErrInvalidPurposeScope {
		t.Errorf("expected ErrInvalidPurposeScope for robot key, got %v", err)
	}
	if _, err := registry.Register(PurposeOperator, ScopeGlobalServer(), pub); err != ErrInvalidPurposeScope {
		t.Errorf("expected ErrInvalidPurposeScope for operator key, got %v", err)
	}

	rec, err := registry.Register(PurposeServer, ScopeGlobalServer(), pub)
	if err != nil {
		t.Fatalf("expected server key to accept global scope: %v", err)
	}
	if !rec.Scope.Matches("any-tenant-at-all") {
		t.Error("global scope should match any tenant")
	}
}

func TestRotate_OldSignatureStillVerifies(t *testing.T) {
	registry := NewRegistry()
	pubOld, privOld, _ := GenerateKeyPair()
	recOld, err := registry.Register(PurposeOperator, ScopeTenant("tenant-1"), pubOld)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	signer := NewSigner(registry)
	if err := signer.AddPrivateKey(recOld.KeyID, privOld); err != nil {
		t.Fatalf("add private key: %v", err)
	}

	digest := sha256.Sum256([]byte("pre-rotation event"))
	sig, err := signer.Sign("tenant-1", recOld.KeyID, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	pubNew, _, _ := GenerateKeyPair()
	if _, err := registry.Rotate(recOld.KeyID, pubNew); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if err := signer.Verify("tenant-1", recOld.KeyID, digest[:], sig); err != nil {
		t.Errorf("expected rotated key to still verify historical signature: %v", err)
	}

	if _, err := signer.Sign("tenant-1", recOld.KeyID, digest[:]); err != ErrKeyNotUsable {
		t.Errorf("expected ErrKeyNotUsable signing with a rotated key, got %v", err)
	}
}

func TestRevoke_SignatureNoLongerVerifies(t *testing.T) {
	registry := NewRegistry()
	pub, priv, _ := GenerateKeyPair()
	rec, err := registry.Register(PurposeRobot, ScopeTenant("tenant-1"), pub)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	signer := NewSigner(registry)
	if err := signer.AddPrivateKey(rec.KeyID, priv); err != nil {
		t.Fatalf("add private key: %v", err)
	}

	digest := sha256.Sum256([]byte("soon to be untrusted"))
	sig, err := signer.Sign("tenant-1", rec.KeyID, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := registry.Revoke(rec.KeyID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if err := signer.Verify("tenant-1", rec.KeyID, digest[:], sig); err != ErrKeyNotUsable {
		t.Errorf("expected ErrKeyNotUsable for revoked key, got %v", err)
	}
}

func TestVerify_TamperedDigestRejected(t *testing.T) {
	registry := NewRegistry()
	pub, priv, _ := GenerateKeyPair()
	rec, err := registry.Register(PurposeRobot, ScopeTenant("tenant-1"), pub)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	signer := NewSigner(registry)
	if err := signer.AddPrivateKey(rec.KeyID, priv); err != nil {
		t.Fatalf("add private key: %v", err)
	}

	digest := sha256.Sum256([]byte("original"))
	sig, err := signer.Sign("tenant-1", rec.KeyID, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := sha256.Sum256([]byte("tampered"))
	if err := signer.Verify("tenant-1", rec.KeyID, tampered[:], sig); err != ErrInvalidSignature {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestActiveKeysForScope_FiltersByPurposeAndStatus(t *testing.T) {
	registry := NewRegistry()
	pubRobot, _, _ := GenerateKeyPair()
	pubOperator, _, _ := GenerateKeyPair()

	if _, err := registry.Register(PurposeRobot, ScopeTenant("tenant-1"), pubRobot); err != nil {
		t.Fatalf("register robot: %v", err)
	}
	operatorRec, err := registry.Register(PurposeOperator, ScopeTenant("tenant-1"), pubOperator)
	if err != nil {
		t.Fatalf("register operator: %v", err)
	}
	if err := registry.Revoke(operatorRec.KeyID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	keys := registry.ActiveKeysForScope("tenant-1", PurposeRobot, PurposeOperator)
	if len(keys) != 1 {
		t.Fatalf("expected 1 active key (operator key was revoked), got %d", len(keys))
	}
	if keys[0].Purpose != PurposeRobot {
		t.Errorf("expected remaining active key to be robot purpose, got %s", keys[0].Purpose)
	}
}
