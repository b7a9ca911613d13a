package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	permitrelay "github.com/coinbase/permitrelay"
	relayevm "github.com/coinbase/permitrelay/mechanisms/evm"
)

// ClientSigner signs permits on behalf of a token holder using an ECDSA private key.
// The relayer never holds this key; it is used by wallets, tools and tests.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded private key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//
// Returns:
//
//	ClientSigner ready to sign permit messages
//	Error if private key is invalid
//
// Example:
//
//	signer, err := evm.NewClientSignerFromPrivateKey("0x1234...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sig, err := signer.SignPermit(ctx, relayevm.BuildPermitMessage(params))
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewClientSigner(privateKey), nil
}

// NewClientSigner wraps an existing private key
func NewClientSigner(privateKey *ecdsa.PrivateKey) *ClientSigner {
	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// GenerateClientSigner creates a signer with a fresh random key
func GenerateClientSigner() (*ClientSigner, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewClientSigner(privateKey), nil
}

// Address returns the Ethereum address of the signer.
func (s *ClientSigner) Address() common.Address {
	return s.address
}

// SignTypedData signs an EIP-712 typed message.
//
// Returns the 65-byte signature (r, s, v) with v in {27, 28}.
func (s *ClientSigner) SignTypedData(ctx context.Context, msg relayevm.TypedMessage) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := msg.Hash()
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 → 27/28)
	signature[64] += 27

	return signature, nil
}

// SignPermit signs msg and returns the decoded signature triple
func (s *ClientSigner) SignPermit(ctx context.Context, msg relayevm.TypedMessage) (permitrelay.Signature, error) {
	raw, err := s.SignTypedData(ctx, msg)
	if err != nil {
		return permitrelay.Signature{}, err
	}
	return relayevm.SplitSignature(raw)
}
