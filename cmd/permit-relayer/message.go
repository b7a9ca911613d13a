package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
	"github.com/coinbase/permitrelay/pkg/config"
	"github.com/coinbase/permitrelay/pkg/logger"
	"github.com/coinbase/permitrelay/pkg/tokenmetadata"
	evmsigners "github.com/coinbase/permitrelay/signers/evm"
)

func messageCommand() *cli.Command {
	return &cli.Command{
		Name:  "message",
		Usage: "Build the EIP-712 typed message a holder must sign",
		Description: `Amounts are decimal token amounts (e.g. 1.5) converted with the token's decimals.
Repeat --transfer to build a bulk permit; the value then defaults to the sum
of the transfers plus --fee.

With --rpc-url the token's name, version, decimals, chain ID and the owner's
nonce are read from the chain; the matching flags override them. Without it
every one of those flags is required.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rpc-url", Aliases: []string{"rpc"}, Usage: "RPC endpoint used to read the token domain", EnvVars: []string{config.EnvRPCURL}},
			&cli.StringFlag{Name: "token-address", Aliases: []string{"token"}, Required: true},
			&cli.Int64Flag{Name: "chain-id"},
			&cli.StringFlag{Name: "name", Usage: "token EIP-712 name"},
			&cli.StringFlag{Name: "version", Usage: "token EIP-712 version"},
			&cli.IntFlag{Name: "decimals"},
			&cli.StringFlag{Name: "owner", Required: true},
			&cli.StringFlag{Name: "spender", Required: true, Usage: "relayer contract"},
			&cli.StringFlag{Name: "value", Usage: "total decimal amount authorized"},
			&cli.StringFlag{Name: "fee", Value: "0", Usage: "decimal fee, used to derive a bulk value"},
			&cli.StringFlag{Name: "nonce", Usage: "holder's current permit nonce"},
			&cli.Int64Flag{Name: "deadline", Usage: "unix seconds (default: one hour from now)"},
			&cli.StringSliceFlag{Name: "transfer", Usage: "bulk leg as address=amount"},
		},
		Action: runMessage,
	}
}

// dialLedger connects a read-only ledger for token
var dialLedger = func(ctx context.Context, rpcURL string, token, spender common.Address, l *zap.Logger) (permitrelay.Ledger, func(), error) {
	backend, err := evmsigners.NewReadOnlyBackend(ctx, rpcURL, l)
	if err != nil {
		return nil, nil, err
	}
	return evm.NewContractLedger(backend, token, spender), backend.Close, nil
}

func runMessage(c *cli.Context) error {
	for _, name := range []string{"token-address", "owner", "spender"} {
		if !evm.IsValidAddress(c.String(name)) {
			return fmt.Errorf("invalid --%s %q", name, c.String(name))
		}
	}
	token := common.HexToAddress(c.String("token-address"))
	owner := common.HexToAddress(c.String("owner"))
	spender := common.HexToAddress(c.String("spender"))

	var ledger permitrelay.Ledger
	if rpcURL := c.String("rpc-url"); rpcURL != "" {
		l, err := logger.NewLogger(&logger.LoggerConfig{})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer func() { _ = l.Sync() }()

		var closeLedger func()
		ledger, closeLedger, err = dialLedger(c.Context, rpcURL, token, spender, l)
		if err != nil {
			return fmt.Errorf("failed to connect to the token: %w", err)
		}
		defer closeLedger()
	}

	domain, nonce, err := resolveMessageDomain(c, ledger, token, owner)
	if err != nil {
		return err
	}

	deadline := big.NewInt(c.Int64("deadline"))
	if deadline.Sign() == 0 {
		deadline = big.NewInt(time.Now().Add(time.Hour).Unix())
	}

	transfers, err := parseTransfers(c.StringSlice("transfer"), domain.Decimals)
	if err != nil {
		return err
	}

	value, err := messageValue(c.String("value"), c.String("fee"), transfers, domain.Decimals)
	if err != nil {
		return err
	}

	var msg evm.TypedMessage
	if len(transfers) == 0 {
		msg = evm.BuildPermitMessage(evm.PermitMessageParams{
			Domain: domain, Owner: owner, Spender: spender,
			Value: value, Nonce: nonce, Deadline: deadline,
		})
	} else {
		msg = evm.BuildBulkPermitMessage(evm.BulkPermitMessageParams{
			Domain: domain, Owner: owner, Spender: spender,
			Value: value, Nonce: nonce, Deadline: deadline, Transfers: transfers,
		})
	}

	digest, err := msg.Hash()
	if err != nil {
		return fmt.Errorf("failed to hash typed data: %w", err)
	}

	out, err := json.MarshalIndent(struct {
		TypedData evm.TypedMessage `json:"typedData"`
		Digest    string           `json:"digest"`
	}{msg, evm.BytesToHex(digest)}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(out))
	return err
}

// resolveMessageDomain returns the token domain and the owner's nonce.
// Values come from ledger when it is set, with explicit flags taking
// precedence; without a ledger every value must be given as a flag. Nothing
// falls back to a default, since a wrong domain yields a signature the token
// rejects.
func resolveMessageDomain(c *cli.Context, ledger permitrelay.Ledger, token, owner common.Address) (evm.TokenDomain, *big.Int, error) {
	if ledger == nil {
		var missing []string
		for _, name := range []string{"chain-id", "name", "version", "decimals", "nonce"} {
			if !c.IsSet(name) {
				missing = append(missing, "--"+name)
			}
		}
		if len(missing) > 0 {
			return evm.TokenDomain{}, nil, fmt.Errorf("without --rpc-url these flags are required: %s", strings.Join(missing, ", "))
		}

		nonce, err := evm.ParseUint256(c.String("nonce"))
		if err != nil {
			return evm.TokenDomain{}, nil, fmt.Errorf("invalid --nonce: %w", err)
		}
		decimals, err := checkDecimals(c.Int("decimals"))
		if err != nil {
			return evm.TokenDomain{}, nil, err
		}
		return evm.TokenDomain{
			Name:              c.String("name"),
			Version:           c.String("version"),
			ChainID:           big.NewInt(c.Int64("chain-id")),
			VerifyingContract: token,
			Decimals:          decimals,
		}, nonce, nil
	}

	metadata, err := tokenmetadata.NewResolver(ledger, tokenmetadata.Config{TTL: -1}).GetMetadata(c.Context)
	if err != nil {
		return evm.TokenDomain{}, nil, fmt.Errorf("failed to read token metadata: %w", err)
	}
	domain := metadata.Domain()

	if c.IsSet("chain-id") && big.NewInt(c.Int64("chain-id")).Cmp(domain.ChainID) != 0 {
		return evm.TokenDomain{}, nil, fmt.Errorf("--chain-id %d does not match the RPC chain %s", c.Int64("chain-id"), domain.ChainID)
	}
	switch {
	case c.IsSet("name"):
		domain.Name = c.String("name")
	case metadata.NameFallback:
		return evm.TokenDomain{}, nil, fmt.Errorf("token %s does not expose name(); pass --name", token.Hex())
	}
	switch {
	case c.IsSet("version"):
		domain.Version = c.String("version")
	case metadata.VersionFallback:
		return evm.TokenDomain{}, nil, fmt.Errorf("token %s does not expose version(); pass --version", token.Hex())
	}
	if c.IsSet("decimals") {
		if domain.Decimals, err = checkDecimals(c.Int("decimals")); err != nil {
			return evm.TokenDomain{}, nil, err
		}
	}

	var nonce *big.Int
	if c.IsSet("nonce") {
		nonce, err = evm.ParseUint256(c.String("nonce"))
		if err != nil {
			return evm.TokenDomain{}, nil, fmt.Errorf("invalid --nonce: %w", err)
		}
	} else {
		nonce, err = ledger.Nonces(c.Context, owner)
		if err != nil {
			return evm.TokenDomain{}, nil, fmt.Errorf("failed to read the owner's nonce: %w", err)
		}
	}
	return domain, nonce, nil
}

func checkDecimals(decimals int) (int, error) {
	if decimals < 0 || decimals > 77 {
		return 0, fmt.Errorf("invalid --decimals %d", decimals)
	}
	return decimals, nil
}

// parseTransfers parses address=amount pairs into bulk transfers
func parseTransfers(raw []string, decimals int) ([]evm.Transfer, error) {
	transfers := make([]evm.Transfer, 0, len(raw))
	for _, leg := range raw {
		addr, amount, ok := strings.Cut(leg, "=")
		if !ok || !evm.IsValidAddress(addr) {
			return nil, fmt.Errorf("invalid --transfer %q, want address=amount", leg)
		}
		smallest, err := evm.ToSmallestUnit(amount, decimals)
		if err != nil {
			return nil, fmt.Errorf("invalid --transfer amount %q: %w", amount, err)
		}
		transfers = append(transfers, evm.Transfer{To: common.HexToAddress(addr), Amount: smallest})
	}
	return transfers, nil
}

// messageValue returns the explicit value, or for bulk permits the sum of
// the transfers plus the fee
func messageValue(value, fee string, transfers []evm.Transfer, decimals int) (*big.Int, error) {
	if value != "" {
		v, err := evm.ToSmallestUnit(value, decimals)
		if err != nil {
			return nil, fmt.Errorf("invalid --value: %w", err)
		}
		return v, nil
	}
	if len(transfers) == 0 {
		return nil, fmt.Errorf("--value is required for a single permit")
	}

	total, err := evm.ToSmallestUnit(fee, decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid --fee: %w", err)
	}
	for _, t := range transfers {
		total.Add(total, t.Amount)
	}
	return total, nil
}
