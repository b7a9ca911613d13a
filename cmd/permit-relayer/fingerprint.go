package main

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
)

func fingerprintCommand() *cli.Command {
	return &cli.Command{
		Name:  "fingerprint",
		Usage: "Compute the replay registry key of a signed permit",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Required: true},
			&cli.StringFlag{Name: "spender", Required: true},
			&cli.StringFlag{Name: "value", Required: true, Usage: "smallest units"},
			&cli.StringFlag{Name: "deadline", Required: true, Usage: "unix seconds"},
			&cli.StringFlag{Name: "signature", Required: true, Usage: "65-byte hex signature"},
			&cli.StringFlag{Name: "mode", Value: "signature", Usage: "signature or nonce"},
			&cli.StringFlag{Name: "nonce", Usage: "holder nonce, required in nonce mode"},
		},
		Action: runFingerprint,
	}
}

func runFingerprint(c *cli.Context) error {
	mode, err := evm.ParseFingerprintMode(c.String("mode"))
	if err != nil {
		return err
	}
	for _, name := range []string{"owner", "spender"} {
		if !evm.IsValidAddress(c.String(name)) {
			return fmt.Errorf("invalid --%s %q", name, c.String(name))
		}
	}

	value, err := evm.ParseUint256(c.String("value"))
	if err != nil {
		return fmt.Errorf("invalid --value: %w", err)
	}
	deadline, err := evm.ParseUint256(c.String("deadline"))
	if err != nil {
		return fmt.Errorf("invalid --deadline: %w", err)
	}
	sig, err := evm.ParseSignatureHex(c.String("signature"))
	if err != nil {
		return err
	}

	req := &permitrelay.PermitRequest{
		Owner:     common.HexToAddress(c.String("owner")),
		Spender:   common.HexToAddress(c.String("spender")),
		Value:     value,
		Deadline:  deadline,
		Signature: sig,
	}

	var nonce *big.Int
	if mode == evm.FingerprintModeNonce {
		if c.String("nonce") == "" {
			return fmt.Errorf("--nonce is required in nonce mode")
		}
		if nonce, err = evm.ParseUint256(c.String("nonce")); err != nil {
			return fmt.Errorf("invalid --nonce: %w", err)
		}
	}

	fp, err := evm.ComputeFingerprint(req, mode, nonce)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, fp.Hex())
	return err
}
