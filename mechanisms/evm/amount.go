package evm

import (
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	permitrelay "github.com/coinbase/permitrelay"
)

// MaxPrecision bounds the decimals a token may declare; 10^78 already exceeds uint256.
const MaxPrecision = 77

// ToSmallestUnit converts a human decimal amount (e.g. "1.50") into the
// token's smallest unit using precision decimals.
//
// Only plain non-negative decimal notation is accepted. Fractional digits
// beyond precision are rejected rather than truncated.
func ToSmallestUnit(amount string, precision int) (*big.Int, error) {
	if precision < 0 || precision > MaxPrecision {
		return nil, permitrelay.Errorf(permitrelay.ErrCodeMalformedAmount, "unsupported precision %d", precision)
	}
	if amount == "" {
		return nil, permitrelay.NewRelayError(permitrelay.ErrCodeMalformedAmount, "empty amount")
	}

	intPart, fracPart, hasPoint := strings.Cut(amount, ".")
	if intPart == "" || !isDigits(intPart) {
		return nil, permitrelay.Errorf(permitrelay.ErrCodeMalformedAmount, "invalid amount %q", amount)
	}
	if hasPoint && (fracPart == "" || !isDigits(fracPart)) {
		return nil, permitrelay.Errorf(permitrelay.ErrCodeMalformedAmount, "invalid amount %q", amount)
	}
	if len(fracPart) > precision {
		return nil, permitrelay.Errorf(permitrelay.ErrCodeMalformedAmount,
			"amount %q has more than %d fractional digits", amount, precision)
	}

	digits := intPart + fracPart + strings.Repeat("0", precision-len(fracPart))
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, permitrelay.Errorf(permitrelay.ErrCodeMalformedAmount, "invalid amount %q", amount)
	}
	if _, overflow := uint256.FromBig(value); overflow {
		return nil, permitrelay.Errorf(permitrelay.ErrCodeMalformedAmount, "amount %q exceeds uint256", amount)
	}
	return value, nil
}

// ToDecimalString formats a smallest-unit amount with exactly precision
// fractional digits. Nil formats as zero.
func ToDecimalString(value *big.Int, precision int) string {
	if precision < 0 {
		precision = 0
	}
	digits := "0"
	if value != nil {
		digits = new(big.Int).Abs(value).String()
	}
	if len(digits) <= precision {
		digits = strings.Repeat("0", precision-len(digits)+1) + digits
	}

	split := len(digits) - precision
	out := digits[:split]
	if precision > 0 {
		out += "." + digits[split:]
	}
	if value != nil && value.Sign() < 0 {
		out = "-" + out
	}
	return out
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
