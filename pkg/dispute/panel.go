// Copyright 2025 Certen Protocol
//
// Arbitration panel signing - l1_counterparty/l2_arbiter verdicts sign with
// the ordinary Ed25519 signer; l3_external verdicts are co-signed by an
// external panel of N arbiters and stored as one aggregated BLS signature.

package dispute

import (
	"encoding/hex"
	"fmt"

	"github.com/certen/nooterra-core/pkg/crypto/bls"
	"github.com/certen/nooterra-core/pkg/signing"
)

// signEd25519Verdict signs verdictHash (a 32-byte SHA-256 digest) with the
// l1_counterparty / l2_arbiter arbiter's key, resolved through the tenant's
// own key registry — unlike l3_external's out-of-registry panel, these two
// escalation levels never leave C2's signer.
func signEd25519Verdict(signer *signing.Signer, tenantID, keyID string, verdictHash []byte) (string, error) {
	if signer == nil {
		return "", fmt.Errorf("dispute: no signer configured for ed25519 verdict signing")
	}
	sig, err := signer.Sign(tenantID, keyID, verdictHash)
	if err != nil {
		return "", fmt.Errorf("dispute: sign verdict: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// aggregatePanelSignatures combines each l3_external panel member's
// individual BLS signature (hex-encoded, produced over the domain-separated
// verdict hash) into the single aggregate signature stored on
// ArbitrationVerdict.v1.
func aggregatePanelSignatures(sigHexes []string) (string, error) {
	if len(sigHexes) == 0 {
		return "", fmt.Errorf("dispute: no panel signatures to aggregate")
	}
	sigs := make([]*bls.Signature, 0, len(sigHexes))
	for i, s := range sigHexes {
		sig, err := bls.SignatureFromHex(s)
		if err != nil {
			return "", fmt.Errorf("dispute: decode panel signature %d: %w", i, err)
		}
		sigs = append(sigs, sig)
	}
	agg, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return "", fmt.Errorf("dispute: aggregate panel signatures: %w", err)
	}
	return agg.Hex(), nil
}

// panelQuorum is the minimum number of named panel members required before
// an aggregate signature is even attempted — a bare majority of whoever is
// named on the verdict.
func panelQuorum(members int) int {
	return members/2 + 1
}

// verifyPanelVerdict checks an aggregate BLS signature against every named
// panel member's public key and the domain-separated verdict hash. A
// mismatch here is spec §4.9's CLOSEPACK_BINDING_VERDICT_HASH_MISMATCH: the
// verdict's claimed signers don't actually back the hash it was closed with.
func verifyPanelVerdict(members []PanelMember, aggregateSigHex string, verdictHash []byte) error {
	if len(members) == 0 {
		return ErrPanelQuorumNotMet
	}
	if err := bls.Initialize(); err != nil {
		return fmt.Errorf("dispute: initialize bls: %w", err)
	}
	aggSig, err := bls.SignatureFromHex(aggregateSigHex)
	if err != nil {
		return ErrVerdictHashMismatch
	}
	pubKeys := make([]*bls.PublicKey, 0, len(members))
	for _, m := range members {
		pk, err := bls.PublicKeyFromHex(m.PublicKeyHex)
		if err != nil {
			return ErrVerdictHashMismatch
		}
		pubKeys = append(pubKeys, pk)
	}
	if !bls.VerifyAggregateSignatureWithDomain(aggSig, pubKeys, verdictHash, bls.DomainArbitrationVerdict) {
		return ErrVerdictHashMismatch
	}
	return nil
}
