package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	permitrelay "github.com/coinbase/permitrelay"
)

// FingerprintMode selects which fields are bound into a permit fingerprint
type FingerprintMode int

const (
	// FingerprintModeSignature hashes owner, spender, value, deadline and signature.
	FingerprintModeSignature FingerprintMode = iota
	// FingerprintModeNonce additionally binds the holder's current nonce.
	FingerprintModeNonce
)

func (m FingerprintMode) String() string {
	switch m {
	case FingerprintModeNonce:
		return "nonce"
	default:
		return "signature"
	}
}

// ParseFingerprintMode parses "signature" or "nonce"
func ParseFingerprintMode(s string) (FingerprintMode, error) {
	switch s {
	case "", "signature":
		return FingerprintModeSignature, nil
	case "nonce":
		return FingerprintModeNonce, nil
	}
	return FingerprintModeSignature, fmt.Errorf("unknown fingerprint mode %q", s)
}

// ComputeFingerprint returns keccak256 over the packed permit fields.
//
// Layout: owner (20) | spender (20) | value (32) | deadline (32) | [nonce (32)] | r | s | v (65).
// nonce is required in FingerprintModeNonce and ignored otherwise.
func ComputeFingerprint(req permitrelay.Request, mode FingerprintMode, nonce *big.Int) (permitrelay.Fingerprint, error) {
	var fp permitrelay.Fingerprint

	var (
		owner, spender  common.Address
		value, deadline *big.Int
		sig             permitrelay.Signature
	)
	switch r := req.(type) {
	case *permitrelay.PermitRequest:
		owner, spender, value, deadline, sig = r.Owner, r.Spender, r.Value, r.Deadline, r.Signature
	case *permitrelay.BulkPermitRequest:
		owner, spender, value, deadline, sig = r.Owner, r.Spender, r.Value, r.Deadline, r.Signature
	default:
		return fp, fmt.Errorf("unsupported request type %T", req)
	}

	valueWord, err := word(value)
	if err != nil {
		return fp, fmt.Errorf("value: %w", err)
	}
	deadlineWord, err := word(deadline)
	if err != nil {
		return fp, fmt.Errorf("deadline: %w", err)
	}

	packed := make([]byte, 0, 20+20+32+32+32+SignatureLength)
	packed = append(packed, owner.Bytes()...)
	packed = append(packed, spender.Bytes()...)
	packed = append(packed, valueWord[:]...)
	packed = append(packed, deadlineWord[:]...)
	if mode == FingerprintModeNonce {
		if nonce == nil {
			return fp, fmt.Errorf("nonce required in %s mode", mode)
		}
		nonceWord, err := word(nonce)
		if err != nil {
			return fp, fmt.Errorf("nonce: %w", err)
		}
		packed = append(packed, nonceWord[:]...)
	}
	packed = append(packed, sig.Bytes()...)

	copy(fp[:], crypto.Keccak256(packed))
	return fp, nil
}

func word(v *big.Int) ([32]byte, error) {
	if v == nil {
		return [32]byte{}, fmt.Errorf("missing integer")
	}
	if v.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("negative integer")
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return [32]byte{}, fmt.Errorf("integer exceeds uint256")
	}
	return u.Bytes32(), nil
}
