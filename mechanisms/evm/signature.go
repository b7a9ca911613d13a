package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	permitrelay "github.com/coinbase/permitrelay"
)

// SplitSignature decodes a 65-byte r || s || v signature.
//
// A recovery id of 0 or 1 is normalized to 27 or 28. Any other length or
// recovery id is a MalformedSignature error.
func SplitSignature(raw []byte) (permitrelay.Signature, error) {
	var sig permitrelay.Signature
	if len(raw) != SignatureLength {
		return sig, permitrelay.Errorf(permitrelay.ErrCodeMalformedSignature,
			"signature must be %d bytes, got %d", SignatureLength, len(raw))
	}

	v := raw[64]
	if v == 0 || v == 1 {
		v += 27
	}
	if v != 27 && v != 28 {
		return sig, permitrelay.Errorf(permitrelay.ErrCodeMalformedSignature, "invalid recovery id %d", raw[64])
	}

	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])
	sig.V = v
	return sig, nil
}

// ParseSignatureHex decodes a hex signature (0x prefix optional)
func ParseSignatureHex(s string) (permitrelay.Signature, error) {
	raw, err := HexToBytes(s)
	if err != nil {
		return permitrelay.Signature{}, permitrelay.Errorf(permitrelay.ErrCodeMalformedSignature, "invalid signature hex: %v", err)
	}
	return SplitSignature(raw)
}

// RecoverSigner recovers the address that signed digest.
// Malleable (high-s) signatures are rejected.
func RecoverSigner(digest []byte, sig permitrelay.Signature) (common.Address, error) {
	if len(digest) != 32 {
		return common.Address{}, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig.V)
	}

	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	if !crypto.ValidateSignatureValues(sig.V-27, r, s, true) {
		return common.Address{}, fmt.Errorf("invalid signature values")
	}

	// go-ethereum expects v in {0, 1}
	raw := sig.Bytes()
	raw[64] -= 27

	pubKey, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifySigner reports whether sig over msg recovers to expected
func VerifySigner(msg TypedMessage, sig permitrelay.Signature, expected common.Address) (bool, error) {
	digest, err := msg.Hash()
	if err != nil {
		return false, err
	}
	recovered, err := RecoverSigner(digest, sig)
	if err != nil {
		return false, nil
	}
	return recovered == expected, nil
}
