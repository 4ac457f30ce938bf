// Copyright 2025 Certen Protocol
//
// EVM signature recovery for ExecutionIntent authorization - x402's payment
// rail settles on EVM chains, so the intent's claimed payer is only as good
// as the secp256k1 signature that recovers to it.

package x402gate

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// hexToBytes decodes a 0x-prefixed or bare hex string.
func hexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// executionIntentDigest hashes the fields an ExecutionIntent signature
// commits over, the same way go-ethereum callers hash a typed message
// before secp256k1 signing.
func executionIntentDigest(intent ExecutionIntent, quoteID string) [32]byte {
	msg := fmt.Sprintf("%s|%s|%s|%s", intent.IntentID, quoteID, intent.PayerAddress, intent.Nonce)
	return crypto.Keccak256Hash([]byte(msg))
}

// recoverSignerAddress recovers the EVM address that produced sig over
// digest, via the same secp256k1 recovery scheme x402's on-chain settlement
// rails use.
func recoverSignerAddress(digest [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("x402gate: signature must be 65 bytes, got %d", len(sig))
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("x402gate: recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// verifyExecutionIntentSignature checks that the intent's signature recovers
// to its own claimed payer address.
func verifyExecutionIntentSignature(intent ExecutionIntent, quoteID string) error {
	if intent.SignatureHex == "" {
		return nil
	}
	if !common.IsHexAddress(intent.PayerAddress) {
		return fmt.Errorf("x402gate: payerAddress %q is not a hex address", intent.PayerAddress)
	}
	sig, err := hexToBytes(intent.SignatureHex)
	if err != nil {
		return fmt.Errorf("x402gate: decode signatureHex: %w", err)
	}
	digest := executionIntentDigest(intent, quoteID)
	addr, err := recoverSignerAddress(digest, sig)
	if err != nil {
		return ErrExecutionIntentSignatureInvalid
	}
	if addr != common.HexToAddress(intent.PayerAddress) {
		return ErrExecutionIntentSignatureInvalid
	}
	return nil
}
