package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// HexToBytes decodes a hex string with or without the 0x prefix
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length hex string")
	}
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes as 0x-prefixed hex
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// IsValidAddress reports whether s is a 20-byte hex address
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// IsNullAddress reports whether addr is the zero address
func IsNullAddress(addr common.Address) bool {
	return addr == (common.Address{})
}

// ParseUint256 parses a decimal or 0x-prefixed hex integer that fits in 256 bits
func ParseUint256(s string) (*big.Int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok || s[2:] == "" || strings.HasPrefix(s[2:], "-") || !FitsUint256(v) {
			return nil, fmt.Errorf("invalid uint256 %q", s)
		}
		return v, nil
	}
	if s == "" || !isDigits(s) {
		return nil, fmt.Errorf("invalid uint256 %q", s)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid uint256 %q: %w", s, err)
	}
	return v.ToBig(), nil
}

// FitsUint256 reports whether v is non-negative and representable in 256 bits
func FitsUint256(v *big.Int) bool {
	if v == nil || v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}
