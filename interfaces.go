package permitrelay

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotSupported is returned by optional Ledger methods the token does not implement.
var ErrNotSupported = errors.New("not supported by token")

// Ledger is the value-transfer ledger sitting behind the relayer.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Token returns the verifying contract address used in the EIP-712 domain
	Token() common.Address

	// ChainID returns the chain ID used in the EIP-712 domain
	ChainID(ctx context.Context) (*big.Int, error)

	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Decimals(ctx context.Context) (uint8, error)
	Nonces(ctx context.Context, owner common.Address) (*big.Int, error)

	// Name returns the token name, or ErrNotSupported
	Name(ctx context.Context) (string, error)
	// Version returns the EIP-712 domain version, or ErrNotSupported
	Version(ctx context.Context) (string, error)

	// SimulatePermit dry-runs the native permit primitive without moving value.
	// Failures are reported as *LedgerError.
	SimulatePermit(ctx context.Context, call *PermitCall) error

	// PermitAndTransfer consumes the permit and applies every movement
	// atomically, blocking until the ledger has finalized the operation.
	// Returns the transaction reference. Failures are reported as *LedgerError.
	PermitAndTransfer(ctx context.Context, call *PermitCall) (string, error)
}

// PermitValidator consumes permits in the replay registry
type PermitValidator interface {
	Validate(ctx context.Context, req Request) (*ValidatedPermit, error)
	ComputeFingerprint(ctx context.Context, req Request) (Fingerprint, error)
	IsPermitUsed(ctx context.Context, fp Fingerprint) (bool, error)
}

// TransferExecutor moves value for an already validated permit
type TransferExecutor interface {
	Execute(ctx context.Context, permit *ValidatedPermit) (*TransferResult, error)
}

// EventSink receives completion events. Errors are logged and otherwise ignored.
type EventSink interface {
	OnTransferCompleted(ctx context.Context, event CompletionEvent) error
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ctx context.Context, event CompletionEvent) error

func (f EventSinkFunc) OnTransferCompleted(ctx context.Context, event CompletionEvent) error {
	return f(ctx, event)
}
