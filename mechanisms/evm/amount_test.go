package evm

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	permitrelay "github.com/coinbase/permitrelay"
)

func TestToSmallestUnit(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		precision int
		want      string
	}{
		{"whole", "1", 6, "1000000"},
		{"fraction", "1.50", 6, "1500000"},
		{"full precision", "0.000001", 6, "1"},
		{"zero", "0", 6, "0"},
		{"zero precision", "42", 0, "42"},
		{"leading zeros", "007.5", 2, "750"},
		{"eighteen decimals", "1.000000000000000001", 18, "1000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToSmallestUnit(tt.amount, tt.precision)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("ToSmallestUnit(%q, %d) = %s, want %s", tt.amount, tt.precision, got, tt.want)
			}
		})
	}
}

func TestToSmallestUnitRejectsMalformed(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		precision int
	}{
		{"empty", "", 6},
		{"negative", "-1", 6},
		{"plus sign", "+1", 6},
		{"letters", "abc", 6},
		{"exponent", "1e6", 6},
		{"too many fractional digits", "1.0000001", 6},
		{"fraction with zero precision", "1.5", 0},
		{"trailing point", "1.", 6},
		{"leading point", ".5", 6},
		{"two points", "1.2.3", 6},
		{"whitespace", " 1", 6},
		{"overflow", "1" + strings.Repeat("0", 78), 0},
		{"bad precision", "1", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToSmallestUnit(tt.amount, tt.precision)
			if !errors.Is(err, permitrelay.ErrMalformedAmount) {
				t.Errorf("expected MalformedAmount, got %v", err)
			}
		})
	}
}

func TestToDecimalString(t *testing.T) {
	tests := []struct {
		value     *big.Int
		precision int
		want      string
	}{
		{big.NewInt(1000000), 6, "1.000000"},
		{big.NewInt(990000), 6, "0.990000"},
		{big.NewInt(1), 6, "0.000001"},
		{big.NewInt(0), 6, "0.000000"},
		{nil, 2, "0.00"},
		{big.NewInt(42), 0, "42"},
		{big.NewInt(123456789), 3, "123456.789"},
	}

	for _, tt := range tests {
		if got := ToDecimalString(tt.value, tt.precision); got != tt.want {
			t.Errorf("ToDecimalString(%v, %d) = %q, want %q", tt.value, tt.precision, got, tt.want)
		}
	}
}

func TestAmountRoundTrip(t *testing.T) {
	values := []string{
		"0", "1", "9", "10", "999999", "1000000", "1234567890123456789",
		"115792089237316195423570985008687907853269984665640564039457584007913129639935",
	}

	for _, precision := range []int{0, 1, 2, 6, 18} {
		for _, v := range values {
			x, _ := new(big.Int).SetString(v, 10)
			s := ToDecimalString(x, precision)
			back, err := ToSmallestUnit(s, precision)
			if err != nil {
				t.Fatalf("round trip of %s at precision %d failed: %v", v, precision, err)
			}
			if back.Cmp(x) != 0 {
				t.Errorf("round trip of %s at precision %d = %s (via %q)", v, precision, back, s)
			}
		}
	}

	// decimal -> integer -> decimal normalizes to the same numeric value
	for _, d := range []string{"1.5", "0.01", "12", "3.000001"} {
		x, err := ToSmallestUnit(d, 6)
		if err != nil {
			t.Fatalf("ToSmallestUnit(%q): %v", d, err)
		}
		again, err := ToSmallestUnit(ToDecimalString(x, 6), 6)
		if err != nil || again.Cmp(x) != 0 {
			t.Errorf("normalization of %q changed value: %v %v", d, again, err)
		}
	}
}
