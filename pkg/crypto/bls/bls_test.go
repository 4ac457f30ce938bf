// Copyright 2025 Certen Protocol
//
// BLS primitive tests, scoped to what pkg/dispute/panel.go actually calls:
// generate a panel member key, sign a verdict hash with domain separation,
// hex-encode/decode the signature and public key (the wire format
// aggregatePanelSignatures/verifyPanelVerdict round-trip), aggregate, and
// verify the aggregate against the domain-separated verdict hash.

package bls

import (
	"bytes"
	"testing"
)

func TestInitialize(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("initialize BLS: %v", err)
	}
	if err := Initialize(); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
}

func TestGenerateKeyPair(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	if !IsValidPrivateKeySize(sk.Bytes()) {
		t.Errorf("invalid private key size: got %d, want %d", len(sk.Bytes()), PrivateKeySize)
	}
	if !IsValidPublicKeySize(pk.Bytes()) {
		t.Errorf("invalid public key size: got %d, want %d", len(pk.Bytes()), PublicKeySize)
	}
}

func TestSignWithDomain(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	verdictHash := []byte("a 32-byte verdict hash stand-in")
	sig := sk.SignWithDomain(verdictHash, DomainArbitrationVerdict)

	if !pk.VerifyWithDomain(sig, verdictHash, DomainArbitrationVerdict) {
		t.Error("domain-separated verification failed for a genuine signature")
	}
	if pk.VerifyWithDomain(sig, verdictHash, "WRONG_DOMAIN") {
		t.Error("verification succeeded under the wrong domain tag")
	}
	if pk.VerifyWithDomain(sig, []byte("tampered"), DomainArbitrationVerdict) {
		t.Error("verification succeeded against a tampered verdict hash")
	}
}

func TestHexSerializationRoundtrip(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	pk2, err := PublicKeyFromHex(pk.Hex())
	if err != nil {
		t.Fatalf("decode public key hex: %v", err)
	}
	if !pk.Equal(pk2) {
		t.Error("public key hex roundtrip produced a different key")
	}

	verdictHash := []byte("verdict hash for hex roundtrip test")
	sig := sk.SignWithDomain(verdictHash, DomainArbitrationVerdict)
	sig2, err := SignatureFromHex(sig.Hex())
	if err != nil {
		t.Fatalf("decode signature hex: %v", err)
	}
	if !bytes.Equal(sig.Bytes(), sig2.Bytes()) {
		t.Error("signature hex roundtrip produced a different signature")
	}
	if !pk2.VerifyWithDomain(sig2, verdictHash, DomainArbitrationVerdict) {
		t.Error("hex-roundtripped signature/key no longer verify")
	}
}

func TestAggregateAndVerifyWithDomain(t *testing.T) {
	numSigners := 5
	privateKeys := make([]*PrivateKey, numSigners)
	publicKeys := make([]*PublicKey, numSigners)

	for i := 0; i < numSigners; i++ {
		sk, pk, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate key pair %d: %v", i, err)
		}
		privateKeys[i] = sk
		publicKeys[i] = pk
	}

	verdictHash := []byte("panel verdict hash for aggregate signature test")
	signatures := make([]*Signature, numSigners)
	for i := 0; i < numSigners; i++ {
		signatures[i] = privateKeys[i].SignWithDomain(verdictHash, DomainArbitrationVerdict)
	}

	aggSig, err := AggregateSignatures(signatures)
	if err != nil {
		t.Fatalf("aggregate signatures: %v", err)
	}
	if !IsValidSignatureSize(aggSig.Bytes()) {
		t.Errorf("invalid aggregate signature size: got %d, want %d", len(aggSig.Bytes()), SignatureSize)
	}

	if !VerifyAggregateSignatureWithDomain(aggSig, publicKeys, verdictHash, DomainArbitrationVerdict) {
		t.Error("aggregate signature failed to verify against the panel's public keys")
	}
	if VerifyAggregateSignatureWithDomain(aggSig, publicKeys, []byte("a different verdict"), DomainArbitrationVerdict) {
		t.Error("aggregate signature verified against a verdict hash it never signed")
	}

	// A signer dropped from the public-key set must break verification --
	// an aggregate only verifies against the exact panel that produced it.
	if VerifyAggregateSignatureWithDomain(aggSig, publicKeys[:numSigners-1], verdictHash, DomainArbitrationVerdict) {
		t.Error("aggregate signature verified against an incomplete panel")
	}
}

func TestAggregateSignaturesRejectsEmpty(t *testing.T) {
	if _, err := AggregateSignatures(nil); err == nil {
		t.Error("expected an error aggregating zero signatures")
	}
}
