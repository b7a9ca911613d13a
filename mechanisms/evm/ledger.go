package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	permitrelay "github.com/coinbase/permitrelay"
)

// ContractLedger implements permitrelay.Ledger against an EIP-2612 token and
// a relayer contract exposing permitAndTransfer / permitAndBulkTransfer.
type ContractLedger struct {
	backend ContractBackend
	token   common.Address
	relayer common.Address
}

// NewContractLedger creates a ledger for token whose permits are consumed by relayer
func NewContractLedger(backend ContractBackend, token, relayer common.Address) *ContractLedger {
	return &ContractLedger{
		backend: backend,
		token:   token,
		relayer: relayer,
	}
}

// Token returns the token address (the EIP-712 verifying contract)
func (l *ContractLedger) Token() common.Address {
	return l.token
}

// Relayer returns the relayer contract address (the permit spender)
func (l *ContractLedger) Relayer() common.Address {
	return l.relayer
}

func (l *ContractLedger) ChainID(ctx context.Context) (*big.Int, error) {
	return l.backend.GetChainID(ctx)
}

func (l *ContractLedger) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	result, err := l.backend.ReadContract(ctx, l.token, TokenABI, FunctionBalanceOf, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", result)
	}
	return balance, nil
}

func (l *ContractLedger) Decimals(ctx context.Context) (uint8, error) {
	result, err := l.backend.ReadContract(ctx, l.token, TokenABI, FunctionDecimals)
	if err != nil {
		return 0, fmt.Errorf("failed to read decimals: %w", err)
	}
	decimals, ok := result.(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals result type %T", result)
	}
	return decimals, nil
}

func (l *ContractLedger) Nonces(ctx context.Context, owner common.Address) (*big.Int, error) {
	result, err := l.backend.ReadContract(ctx, l.token, TokenABI, FunctionNonces, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	nonce, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected nonces result type %T", result)
	}
	return nonce, nil
}

func (l *ContractLedger) Name(ctx context.Context) (string, error) {
	return l.readOptionalString(ctx, FunctionName)
}

func (l *ContractLedger) Version(ctx context.Context) (string, error) {
	return l.readOptionalString(ctx, FunctionVersion)
}

func (l *ContractLedger) readOptionalString(ctx context.Context, fn string) (string, error) {
	result, err := l.backend.ReadContract(ctx, l.token, TokenABI, fn)
	if err != nil {
		if isUnsupportedCall(err) {
			return "", permitrelay.ErrNotSupported
		}
		return "", fmt.Errorf("failed to read %s: %w", fn, err)
	}
	s, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s result type %T", fn, result)
	}
	return s, nil
}

// SimulatePermit performs an eth_call of the relayer entry point from the relayer's execution address
func (l *ContractLedger) SimulatePermit(ctx context.Context, call *permitrelay.PermitCall) error {
	fn, args, err := relayerCallArgs(call)
	if err != nil {
		return permitrelay.NewTransportFailure(err)
	}
	if err := l.backend.SimulateContract(ctx, l.relayer, RelayerABI, fn, args...); err != nil {
		return ClassifyLedgerError(err)
	}
	return nil
}

// PermitAndTransfer submits the relayer call and waits for its receipt
func (l *ContractLedger) PermitAndTransfer(ctx context.Context, call *permitrelay.PermitCall) (string, error) {
	fn, args, err := relayerCallArgs(call)
	if err != nil {
		return "", permitrelay.NewTransportFailure(err)
	}

	txHash, err := l.backend.WriteContract(ctx, l.relayer, RelayerABI, fn, args...)
	if err != nil {
		return "", ClassifyLedgerError(err)
	}

	receipt, err := l.backend.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return txHash, permitrelay.NewTransportFailure(fmt.Errorf("failed to get receipt for %s: %w", txHash, err))
	}
	if receipt.Status != TxStatusSuccess {
		return txHash, permitrelay.NewTransportFailure(fmt.Errorf("transaction %s reverted", txHash))
	}
	return txHash, nil
}

func relayerCallArgs(call *permitrelay.PermitCall) (string, []interface{}, error) {
	if call == nil {
		return "", nil, errors.New("nil permit call")
	}
	fee := call.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	base := []interface{}{
		call.Owner,
		call.Spender,
		call.Value,
		call.Deadline,
		call.Signature.V,
		call.Signature.R,
		call.Signature.S,
	}

	switch call.Kind {
	case permitrelay.KindSingle:
		if len(call.Recipients) != 1 {
			return "", nil, fmt.Errorf("single transfer needs exactly one recipient, got %d", len(call.Recipients))
		}
		args := append(base, call.Recipients[0].Recipient, call.FeeBeneficiary, fee)
		return FunctionPermitAndTransfer, args, nil
	case permitrelay.KindBulk:
		recipients := make([]common.Address, len(call.Recipients))
		amounts := make([]*big.Int, len(call.Recipients))
		for i, leg := range call.Recipients {
			recipients[i] = leg.Recipient
			amounts[i] = leg.Amount
		}
		args := append(base, recipients, amounts, call.FeeBeneficiary, fee)
		return FunctionPermitAndBulkTransfer, args, nil
	}
	return "", nil, fmt.Errorf("unsupported request kind %q", call.Kind)
}

var signatureRevertMarkers = []string{
	"ERC2612InvalidSigner",
	"ERC2612ExpiredSignature",
	"ECDSAInvalidSignature",
	"InvalidSignature",
	"invalid signature",
	"INVALID_SIGNER",
	"permit failed",
}

// ClassifyLedgerError extracts the failure kind from a contract revert.
// Reverts mentioning the permit signature are SignatureRejected; everything
// else is a TransportFailure.
func ClassifyLedgerError(err error) *permitrelay.LedgerError {
	var le *permitrelay.LedgerError
	if errors.As(err, &le) {
		return le
	}
	msg := err.Error()
	for _, marker := range signatureRevertMarkers {
		if strings.Contains(msg, marker) {
			return permitrelay.NewSignatureRejected(err)
		}
	}
	return permitrelay.NewTransportFailure(err)
}

// isUnsupportedCall reports whether err means the token lacks the called
// method: no code at the address, or a call that returned no data to unpack.
// Reverts are real failures and are not treated as a missing method.
func isUnsupportedCall(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no contract code") ||
		strings.Contains(msg, "attempting to unmarshal an empty string") ||
		strings.Contains(msg, "attempting to unmarshall an empty string")
}
