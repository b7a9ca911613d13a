package evm

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	permitrelay "github.com/coinbase/permitrelay"
)

func TestSplitSignature(t *testing.T) {
	raw := make([]byte, 65)
	for i := 0; i < 32; i++ {
		raw[i] = 0x11
		raw[32+i] = 0x22
	}

	t.Run("accepts 27 and 28", func(t *testing.T) {
		for _, v := range []byte{27, 28} {
			raw[64] = v
			sig, err := SplitSignature(raw)
			if err != nil {
				t.Fatalf("v=%d: unexpected error: %v", v, err)
			}
			if sig.V != v {
				t.Errorf("v = %d, want %d", sig.V, v)
			}
			if sig.R[0] != 0x11 || sig.S[31] != 0x22 {
				t.Errorf("r/s not split correctly")
			}
			if !bytes.Equal(sig.Bytes(), raw) {
				t.Errorf("Bytes() does not reproduce input")
			}
		}
	})

	t.Run("normalizes 0 and 1", func(t *testing.T) {
		for v, want := range map[byte]uint8{0: 27, 1: 28} {
			raw[64] = v
			sig, err := SplitSignature(raw)
			if err != nil {
				t.Fatalf("v=%d: unexpected error: %v", v, err)
			}
			if sig.V != want {
				t.Errorf("v=%d normalized to %d, want %d", v, sig.V, want)
			}
		}
	})

	t.Run("rejects other recovery ids", func(t *testing.T) {
		for _, v := range []byte{2, 26, 29, 35, 255} {
			raw[64] = v
			if _, err := SplitSignature(raw); !errors.Is(err, permitrelay.ErrMalformedSignature) {
				t.Errorf("v=%d: expected MalformedSignature, got %v", v, err)
			}
		}
	})

	t.Run("rejects wrong lengths", func(t *testing.T) {
		for _, n := range []int{0, 64, 66, 130} {
			if _, err := SplitSignature(make([]byte, n)); !errors.Is(err, permitrelay.ErrMalformedSignature) {
				t.Errorf("len=%d: expected MalformedSignature, got %v", n, err)
			}
		}
	})
}

func TestParseSignatureHex(t *testing.T) {
	hexSig := "0x" + string(bytes.Repeat([]byte("ab"), 64)) + "1c"
	sig, err := ParseSignatureHex(hexSig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.V != 28 {
		t.Errorf("v = %d, want 28", sig.V)
	}
	if sig.Hex() != hexSig {
		t.Errorf("Hex() = %s, want %s", sig.Hex(), hexSig)
	}

	for _, bad := range []string{"0xzz", "0x1", "", "0x" + string(bytes.Repeat([]byte("ab"), 64))} {
		if _, err := ParseSignatureHex(bad); !errors.Is(err, permitrelay.ErrMalformedSignature) {
			t.Errorf("%q: expected MalformedSignature, got %v", bad, err)
		}
	}
}

func TestRecoverSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey)
	digest := crypto.Keccak256([]byte("permit"))

	raw, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := SplitSignature(raw)
	if err != nil {
		t.Fatal(err)
	}

	got, err := RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if got != want {
		t.Errorf("recovered %s, want %s", got.Hex(), want.Hex())
	}

	t.Run("rejects high-s twin", func(t *testing.T) {
		n := crypto.S256().Params().N
		s := new(big.Int).SetBytes(sig.S[:])
		highS := new(big.Int).Sub(n, s)

		twin := sig
		copy(twin.S[:], common32(highS))
		if twin.V == 27 {
			twin.V = 28
		} else {
			twin.V = 27
		}
		if _, err := RecoverSigner(digest, twin); err == nil {
			t.Error("expected malleable signature to be rejected")
		}
	})

	t.Run("rejects short digest", func(t *testing.T) {
		if _, err := RecoverSigner(digest[:31], sig); err == nil {
			t.Error("expected error for short digest")
		}
	})
}

func common32(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}
