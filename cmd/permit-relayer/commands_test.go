package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
	"github.com/coinbase/permitrelay/pkg/config"
	evmsigners "github.com/coinbase/permitrelay/signers/evm"
	"github.com/coinbase/permitrelay/test/mocks/ledger"
)

const (
	testToken   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testOwner   = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	testSpender = "0x00000000000000000000000000000000000000AA"
	testAlice   = "0x0000000000000000000000000000000000000A11"
	testBob     = "0x0000000000000000000000000000000000000B0B"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvRPCURL, "")
	var out bytes.Buffer
	app := &cli.App{
		Name:     "permit-relayer",
		Writer:   &out,
		Commands: []*cli.Command{messageCommand(), fingerprintCommand()},
	}
	err := app.Run(append([]string{"permit-relayer"}, args...))
	return out.String(), err
}

// withLedger makes the message command read from l instead of dialing an RPC
func withLedger(t *testing.T, l permitrelay.Ledger) {
	t.Helper()
	orig := dialLedger
	dialLedger = func(ctx context.Context, rpcURL string, token, spender common.Address, _ *zap.Logger) (permitrelay.Ledger, func(), error) {
		return l, func() {}, nil
	}
	t.Cleanup(func() { dialLedger = orig })
}

type messageOutput struct {
	TypedData struct {
		PrimaryType string                 `json:"primaryType"`
		Message     map[string]interface{} `json:"message"`
	} `json:"typedData"`
	Digest string `json:"digest"`
}

func TestMessageCommand_Single(t *testing.T) {
	out, err := runApp(t, "message",
		"--token", testToken, "--chain-id", "84532",
		"--name", "USD Coin", "--version", "2", "--decimals", "6", "--nonce", "0",
		"--owner", testOwner, "--spender", testSpender,
		"--value", "1.5", "--deadline", "1900000000",
	)
	require.NoError(t, err)

	var parsed messageOutput
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, evm.PrimaryTypePermit, parsed.TypedData.PrimaryType)
	assert.Equal(t, "1500000", parsed.TypedData.Message["value"])

	expected := evm.BuildPermitMessage(evm.PermitMessageParams{
		Domain: evm.TokenDomain{
			Name:              "USD Coin",
			Version:           "2",
			ChainID:           big.NewInt(84532),
			VerifyingContract: common.HexToAddress(testToken),
			Decimals:          6,
		},
		Owner:    common.HexToAddress(testOwner),
		Spender:  common.HexToAddress(testSpender),
		Value:    big.NewInt(1500000),
		Nonce:    big.NewInt(0),
		Deadline: big.NewInt(1900000000),
	})
	digest, err := expected.Hash()
	require.NoError(t, err)
	assert.Equal(t, evm.BytesToHex(digest), parsed.Digest)
}

func TestMessageCommand_BulkDerivesValue(t *testing.T) {
	out, err := runApp(t, "message",
		"--token", testToken, "--chain-id", "84532",
		"--name", "USD Coin", "--version", "2", "--decimals", "6", "--nonce", "0",
		"--owner", testOwner, "--spender", testSpender,
		"--transfer", testAlice+"=0.6", "--transfer", testBob+"=0.39",
		"--fee", "0.01", "--deadline", "1900000000",
	)
	require.NoError(t, err)

	var parsed messageOutput
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, evm.PrimaryTypeBulkPermit, parsed.TypedData.PrimaryType)
	assert.Equal(t, "1000000", parsed.TypedData.Message["value"])
	transfers, ok := parsed.TypedData.Message["transfers"].([]interface{})
	require.True(t, ok)
	assert.Len(t, transfers, 2)
}

func TestMessageCommand_Errors(t *testing.T) {
	domainFlags := []string{
		"message", "--token", testToken, "--chain-id", "84532",
		"--name", "USD Coin", "--version", "2", "--decimals", "6", "--nonce", "0",
		"--owner", testOwner, "--spender", testSpender,
	}
	withDomain := func(extra ...string) []string {
		return append(append([]string{}, domainFlags...), extra...)
	}

	t.Run("too many fractional digits", func(t *testing.T) {
		_, err := runApp(t, withDomain("--value", "1.0000001")...)
		assert.Error(t, err)
	})

	t.Run("value is required for single permits", func(t *testing.T) {
		_, err := runApp(t, withDomain()...)
		assert.Error(t, err)
	})

	t.Run("transfer must be address=amount", func(t *testing.T) {
		_, err := runApp(t, withDomain("--transfer", "alice=1")...)
		assert.Error(t, err)
	})

	t.Run("domain flags are required without an RPC", func(t *testing.T) {
		_, err := runApp(t, "message",
			"--token", testToken, "--chain-id", "84532",
			"--owner", testOwner, "--spender", testSpender,
			"--value", "1.5",
		)
		require.Error(t, err)
		for _, flag := range []string{"--name", "--version", "--decimals", "--nonce"} {
			assert.Contains(t, err.Error(), flag)
		}
		assert.NotContains(t, err.Error(), "--chain-id")
	})
}

func TestMessageCommand_ResolvesDomainFromLedger(t *testing.T) {
	owner := common.HexToAddress(testOwner)

	t.Run("domain and nonce come from the token", func(t *testing.T) {
		token := ledger.New(ledger.WithDomain("Bridged USDC", "7"), ledger.WithChainID(8453), ledger.WithDecimals(18))
		token.SetNonce(owner, big.NewInt(5))
		withLedger(t, token)

		out, err := runApp(t, "message",
			"--rpc-url", "http://rpc.invalid", "--token", testToken,
			"--owner", testOwner, "--spender", testSpender,
			"--value", "1.5", "--deadline", "1900000000",
		)
		require.NoError(t, err)

		var parsed messageOutput
		require.NoError(t, json.Unmarshal([]byte(out), &parsed))
		assert.Equal(t, "1500000000000000000", parsed.TypedData.Message["value"])
		assert.Equal(t, "5", parsed.TypedData.Message["nonce"])

		expected := evm.BuildPermitMessage(evm.PermitMessageParams{
			Domain:   token.Domain(),
			Owner:    owner,
			Spender:  common.HexToAddress(testSpender),
			Value:    big.NewInt(0).Mul(big.NewInt(15), big.NewInt(100000000000000000)),
			Nonce:    big.NewInt(5),
			Deadline: big.NewInt(1900000000),
		})
		digest, err := expected.Hash()
		require.NoError(t, err)
		assert.Equal(t, evm.BytesToHex(digest), parsed.Digest)
	})

	t.Run("explicit flags override the token", func(t *testing.T) {
		token := ledger.New()
		token.SetNonce(owner, big.NewInt(5))
		withLedger(t, token)

		out, err := runApp(t, "message",
			"--rpc-url", "http://rpc.invalid", "--token", testToken,
			"--owner", testOwner, "--spender", testSpender,
			"--name", "USDC", "--nonce", "9",
			"--value", "1.5", "--deadline", "1900000000",
		)
		require.NoError(t, err)

		domain := token.Domain()
		domain.Name = "USDC"
		expected := evm.BuildPermitMessage(evm.PermitMessageParams{
			Domain:   domain,
			Owner:    owner,
			Spender:  common.HexToAddress(testSpender),
			Value:    big.NewInt(1500000),
			Nonce:    big.NewInt(9),
			Deadline: big.NewInt(1900000000),
		})
		digest, err := expected.Hash()
		require.NoError(t, err)

		var parsed messageOutput
		require.NoError(t, json.Unmarshal([]byte(out), &parsed))
		assert.Equal(t, evm.BytesToHex(digest), parsed.Digest)
	})

	t.Run("missing name is not defaulted", func(t *testing.T) {
		withLedger(t, ledger.New(ledger.WithoutName()))

		_, err := runApp(t, "message",
			"--rpc-url", "http://rpc.invalid", "--token", testToken,
			"--owner", testOwner, "--spender", testSpender, "--value", "1.5",
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--name")
	})

	t.Run("chain id must match the RPC", func(t *testing.T) {
		withLedger(t, ledger.New(ledger.WithChainID(8453)))

		_, err := runApp(t, "message",
			"--rpc-url", "http://rpc.invalid", "--token", testToken, "--chain-id", "1",
			"--owner", testOwner, "--spender", testSpender, "--value", "1.5",
		)
		assert.Error(t, err)
	})
}

func TestFingerprintCommand(t *testing.T) {
	signer, err := evmsigners.GenerateClientSigner()
	require.NoError(t, err)
	sig, err := signer.SignPermit(context.Background(), evm.BuildPermitMessage(evm.PermitMessageParams{
		Domain:   evm.TokenDomain{Name: "USD Coin", Version: "2", ChainID: big.NewInt(84532), VerifyingContract: common.HexToAddress(testToken)},
		Owner:    signer.Address(),
		Spender:  common.HexToAddress(testSpender),
		Value:    big.NewInt(1000000),
		Nonce:    big.NewInt(0),
		Deadline: big.NewInt(1900000000),
	}))
	require.NoError(t, err)

	req := &permitrelay.PermitRequest{
		Owner:     signer.Address(),
		Spender:   common.HexToAddress(testSpender),
		Value:     big.NewInt(1000000),
		Deadline:  big.NewInt(1900000000),
		Signature: sig,
	}

	t.Run("signature mode", func(t *testing.T) {
		expected, err := evm.ComputeFingerprint(req, evm.FingerprintModeSignature, nil)
		require.NoError(t, err)

		out, err := runApp(t, "fingerprint",
			"--owner", signer.Address().Hex(), "--spender", testSpender,
			"--value", "1000000", "--deadline", "1900000000",
			"--signature", sig.Hex(),
		)
		require.NoError(t, err)
		assert.Equal(t, expected.Hex(), strings.TrimSpace(out))
	})

	t.Run("nonce mode", func(t *testing.T) {
		expected, err := evm.ComputeFingerprint(req, evm.FingerprintModeNonce, big.NewInt(3))
		require.NoError(t, err)

		out, err := runApp(t, "fingerprint",
			"--owner", signer.Address().Hex(), "--spender", testSpender,
			"--value", "1000000", "--deadline", "1900000000",
			"--signature", sig.Hex(), "--mode", "nonce", "--nonce", "3",
		)
		require.NoError(t, err)
		assert.Equal(t, expected.Hex(), strings.TrimSpace(out))
	})

	t.Run("nonce mode requires a nonce", func(t *testing.T) {
		_, err := runApp(t, "fingerprint",
			"--owner", signer.Address().Hex(), "--spender", testSpender,
			"--value", "1000000", "--deadline", "1900000000",
			"--signature", sig.Hex(), "--mode", "nonce",
		)
		assert.Error(t, err)
	})
}
