package transfer

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/extensions/replay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
	"github.com/coinbase/permitrelay/mechanisms/evm/permit"
)

// Executor moves value for validated permits through the ledger's atomic
// permit-and-transfer primitive. It submits one call at a time under a
// single relayer identity and only observes the replay registry.
type Executor struct {
	ledger         permitrelay.Ledger
	registry       replay.Reader
	feeBeneficiary common.Address

	sinks  []permitrelay.EventSink
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	// serializes submissions from the relayer identity
	mu sync.Mutex
}

// NewExecutor creates an executor paying fees to feeBeneficiary
func NewExecutor(ledger permitrelay.Ledger, registry replay.Reader, feeBeneficiary common.Address, opts ...Option) *Executor {
	e := &Executor{
		ledger:         ledger,
		registry:       registry,
		feeBeneficiary: feeBeneficiary,
		logger:         zap.NewNop(),
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FeeBeneficiary returns the address fees are paid to
func (e *Executor) FeeBeneficiary() common.Address {
	return e.feeBeneficiary
}

// Execute submits the movement plan of a validated permit as one atomic
// ledger call. The permit's fingerprint must match its request and be
// confirmed as validated in the registry.
func (e *Executor) Execute(ctx context.Context, validated *permitrelay.ValidatedPermit) (*permitrelay.TransferResult, error) {
	if validated == nil || validated.Request == nil {
		return nil, permitrelay.NewRelayError(permitrelay.ErrCodePermitNotValidated, "missing validated permit")
	}
	req := validated.Request

	if err := e.checkConsumed(ctx, validated); err != nil {
		return nil, err
	}

	// The bulk cap belongs to validation; here only the amounts are re-checked.
	if err := permit.CheckRequest(req, math.MaxInt); err != nil {
		return nil, err
	}

	call, err := permitrelay.NewPermitCall(req, e.feeBeneficiary)
	if err != nil {
		return nil, err
	}
	value := permitrelay.RequestValue(req)
	fee := permitrelay.RequestFee(req)
	paidOut := new(big.Int).Sub(value, fee)

	e.mu.Lock()
	txRef, err := e.submit(ctx, call, value)
	e.mu.Unlock()
	if err != nil {
		e.logger.Sugar().Errorw("Transfer failed",
			"owner", req.PermitOwner().Hex(),
			"fingerprint", validated.Fingerprint.Hex(),
			"code", permitrelay.ErrorCode(err),
			"error", err,
		)
		return nil, err
	}

	result := &permitrelay.TransferResult{
		TxReference:    txRef,
		Status:         permitrelay.TransferStatusConfirmed,
		Fingerprint:    validated.Fingerprint,
		Owner:          req.PermitOwner(),
		RecipientCount: permitrelay.RecipientCount(req),
		TotalPaidOut:   paidOut,
		Fee:            new(big.Int).Set(fee),
	}

	e.emit(ctx, permitrelay.CompletionEvent{
		ID:             e.newID(),
		Owner:          result.Owner,
		RecipientCount: result.RecipientCount,
		TotalPaidOut:   new(big.Int).Set(paidOut),
		Fee:            new(big.Int).Set(fee),
		TxReference:    txRef,
		Fingerprint:    validated.Fingerprint,
		Timestamp:      e.now(),
	})
	return result, nil
}

func (e *Executor) checkConsumed(ctx context.Context, validated *permitrelay.ValidatedPermit) error {
	mode := evm.FingerprintModeSignature
	if validated.Nonce != nil {
		mode = evm.FingerprintModeNonce
	}
	fp, err := evm.ComputeFingerprint(validated.Request, mode, validated.Nonce)
	if err != nil || fp != validated.Fingerprint {
		return permitrelay.NewRelayError(permitrelay.ErrCodePermitNotValidated, "fingerprint does not match the request")
	}

	ok, err := e.registry.IsValidated(ctx, fp)
	if err != nil {
		return err
	}
	if !ok {
		return permitrelay.NewRelayError(permitrelay.ErrCodePermitNotValidated, "permit has not passed validation")
	}
	return nil
}

// submit must be called with e.mu held
func (e *Executor) submit(ctx context.Context, call *permitrelay.PermitCall, value *big.Int) (string, error) {
	balance, err := e.ledger.BalanceOf(ctx, call.Owner)
	if err != nil {
		e.logger.Sugar().Warnw("Ledger call failed", "op", "balanceOf", "owner", call.Owner.Hex(), "error", err)
		return "", permitrelay.TranslateLedgerError(permitrelay.NewTransportFailure(err))
	}
	if balance.Cmp(value) < 0 {
		return "", permitrelay.Errorf(permitrelay.ErrCodeInsufficientBalance,
			"balance %s is below the permitted value %s", balance, value)
	}

	if err := ctx.Err(); err != nil {
		return "", permitrelay.NewRelayError(permitrelay.ErrCodeAborted, fmt.Sprintf("not submitted: %v", err))
	}

	txRef, err := e.ledger.PermitAndTransfer(ctx, call)
	if err != nil {
		e.logger.Sugar().Warnw("Ledger call failed",
			"op", "permitAndTransfer",
			"owner", call.Owner.Hex(),
			"txReference", txRef,
			"error", err,
		)
		relayErr := permitrelay.TranslateLedgerError(err)
		if txRef != "" {
			relayErr.Details = map[string]interface{}{"txReference": txRef}
		}
		return "", relayErr
	}

	e.logger.Sugar().Infow("Permit transfer submitted",
		"kind", call.Kind,
		"owner", call.Owner.Hex(),
		"movements", len(call.Movements),
		"txReference", txRef,
	)
	return txRef, nil
}

func (e *Executor) emit(ctx context.Context, event permitrelay.CompletionEvent) {
	for _, sink := range e.sinks {
		if err := sink.OnTransferCompleted(ctx, event); err != nil {
			e.logger.Sugar().Warnw("Completion sink failed", "id", event.ID, "error", err)
		}
	}
}

var _ permitrelay.TransferExecutor = (*Executor)(nil)
