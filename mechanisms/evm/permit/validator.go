package permit

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/extensions/replay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
)

// Validator decides whether a permit request may proceed and consumes its
// fingerprint in the replay registry.
//
// Checks run in a fixed order and the first failure wins:
//
//  1. null owner, spender or recipient, or a spender other than the
//     configured one (InvalidRecipient)
//  2. zero value or recipient amount (ZeroAmount)
//  3. fee >= value, or a broken bulk sum law (InvalidFeeAmount)
//  4. deadline in the past (PermitExpired)
//  5. fingerprint already consumed (PermitAlreadyUsed); the mark happens here
//  6. holder balance below value (InsufficientBalance)
//  7. dry run of the ledger's permit primitive (InvalidPermitSignature)
//
// Failures in steps 1-4 never touch the registry. Failures in steps 6-7
// leave the fingerprint consumed unless the rollback policy releases it.
// Only a permit that passes step 7 is confirmed as validated, which is what
// an executor checks before submitting.
type Validator struct {
	ledger   permitrelay.Ledger
	registry *replay.Registry

	mode           evm.FingerprintMode
	rollback       RollbackPolicy
	spender        *common.Address
	feeBeneficiary common.Address
	maxRecipients  int
	now            func() time.Time
	logger         *zap.Logger
}

// NewValidator creates a validator bound to ledger and registry
func NewValidator(ledger permitrelay.Ledger, registry *replay.Registry, opts ...Option) *Validator {
	v := &Validator{
		ledger:        ledger,
		registry:      registry,
		mode:          evm.FingerprintModeSignature,
		rollback:      RetainOnFailure,
		maxRecipients: permitrelay.DefaultMaxBulkRecipients,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Mode returns the fingerprint mode
func (v *Validator) Mode() evm.FingerprintMode {
	return v.mode
}

// Validate runs every check and, on success, returns the consumed permit.
func (v *Validator) Validate(ctx context.Context, req permitrelay.Request) (*permitrelay.ValidatedPermit, error) {
	if err := CheckRequest(req, v.maxRecipients); err != nil {
		v.logRejected(req, err)
		return nil, err
	}
	if err := v.checkSpender(req); err != nil {
		v.logRejected(req, err)
		return nil, err
	}

	now := v.now()
	if err := checkDeadline(requestDeadline(req), now); err != nil {
		v.logRejected(req, err)
		return nil, err
	}

	var nonce *big.Int
	if v.mode == evm.FingerprintModeNonce {
		var err error
		nonce, err = v.ledger.Nonces(ctx, req.PermitOwner())
		if err != nil {
			v.logLedgerFailure(req, "nonces", err)
			return nil, permitrelay.TranslateLedgerError(permitrelay.NewTransportFailure(err))
		}
		if hint := requestNonce(req); hint != nil && hint.Cmp(nonce) != 0 {
			err := permitrelay.Errorf(permitrelay.ErrCodeInvalidPermitSignature,
				"permit signed over nonce %s but the holder's nonce is %s", hint, nonce)
			v.logRejected(req, err)
			return nil, err
		}
	}

	fp, err := evm.ComputeFingerprint(req, v.mode, nonce)
	if err != nil {
		return nil, permitrelay.NewRelayError(permitrelay.ErrCodeInvalidFeeAmount, err.Error())
	}

	// From here on the fingerprint is consumed.
	if err := v.registry.CheckAndMark(ctx, fp); err != nil {
		return nil, err
	}

	value := permitrelay.RequestValue(req)
	balance, err := v.ledger.BalanceOf(ctx, req.PermitOwner())
	if err != nil {
		v.logLedgerFailure(req, "balanceOf", err)
		v.releaseAfterFailure(ctx, fp)
		return nil, permitrelay.TranslateLedgerError(permitrelay.NewTransportFailure(err))
	}
	if balance.Cmp(value) < 0 {
		err := permitrelay.Errorf(permitrelay.ErrCodeInsufficientBalance,
			"balance %s is below the permitted value %s", balance, value)
		v.logRejected(req, err)
		return nil, err
	}

	call, err := permitrelay.NewPermitCall(req, v.feeBeneficiary)
	if err != nil {
		v.releaseAfterFailure(ctx, fp)
		return nil, err
	}
	if err := v.ledger.SimulatePermit(ctx, call); err != nil {
		v.logLedgerFailure(req, "simulatePermit", err)
		v.releaseAfterFailure(ctx, fp)
		relayErr := permitrelay.TranslateLedgerError(err)
		v.logRejected(req, relayErr)
		return nil, relayErr
	}

	if err := v.registry.Confirm(ctx, fp); err != nil {
		v.releaseAfterFailure(ctx, fp)
		return nil, err
	}

	v.logger.Sugar().Infow("Permit validated",
		"kind", req.Kind(),
		"owner", req.PermitOwner().Hex(),
		"recipients", permitrelay.RecipientCount(req),
		"fingerprint", fp.Hex(),
	)

	return &permitrelay.ValidatedPermit{
		Request:     req,
		Fingerprint: fp,
		Nonce:       nonce,
		ValidatedAt: now,
	}, nil
}

// ComputeFingerprint derives the fingerprint Validate would consume for req.
// In nonce mode the request's nonce is used when present, otherwise the
// holder's current counter is read from the ledger.
func (v *Validator) ComputeFingerprint(ctx context.Context, req permitrelay.Request) (permitrelay.Fingerprint, error) {
	var nonce *big.Int
	if v.mode == evm.FingerprintModeNonce {
		nonce = requestNonce(req)
		if nonce == nil {
			var err error
			nonce, err = v.ledger.Nonces(ctx, req.PermitOwner())
			if err != nil {
				return permitrelay.Fingerprint{}, fmt.Errorf("failed to read holder nonce: %w", err)
			}
		}
	}
	return evm.ComputeFingerprint(req, v.mode, nonce)
}

// IsPermitUsed reports whether fp has been consumed
func (v *Validator) IsPermitUsed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	return v.registry.IsUsed(ctx, fp)
}

func (v *Validator) releaseAfterFailure(ctx context.Context, fp permitrelay.Fingerprint) {
	if v.rollback != ReleaseOnFailure {
		return
	}
	if err := v.registry.Release(ctx, fp); err != nil {
		v.logger.Sugar().Warnw("Failed to release fingerprint", "fingerprint", fp.Hex(), "error", err)
	}
}

// checkSpender rejects permits granted to anyone but the configured spender
func (v *Validator) checkSpender(req permitrelay.Request) error {
	if v.spender == nil {
		return nil
	}
	var spender common.Address
	switch r := req.(type) {
	case *permitrelay.PermitRequest:
		spender = r.Spender
	case *permitrelay.BulkPermitRequest:
		spender = r.Spender
	}
	if spender != *v.spender {
		return permitrelay.Errorf(permitrelay.ErrCodeInvalidRecipient,
			"spender %s is not the relayer %s", spender.Hex(), v.spender.Hex())
	}
	return nil
}

// logLedgerFailure keeps the raw ledger error in the logs; callers only see
// the translated code.
func (v *Validator) logLedgerFailure(req permitrelay.Request, op string, err error) {
	v.logger.Sugar().Warnw("Ledger call failed",
		"op", op,
		"owner", req.PermitOwner().Hex(),
		"error", err,
	)
}

func (v *Validator) logRejected(req permitrelay.Request, err error) {
	if req == nil {
		return
	}
	v.logger.Sugar().Infow("Permit rejected",
		"kind", req.Kind(),
		"owner", req.PermitOwner().Hex(),
		"code", permitrelay.ErrorCode(err),
		"reason", err.Error(),
	)
}

func checkDeadline(deadline *big.Int, now time.Time) error {
	if deadline == nil || deadline.Sign() < 0 || !evm.FitsUint256(deadline) {
		return permitrelay.NewRelayError(permitrelay.ErrCodePermitExpired, "invalid deadline")
	}
	if big.NewInt(now.Unix()).Cmp(deadline) > 0 {
		return permitrelay.Errorf(permitrelay.ErrCodePermitExpired, "permit expired at %s", deadline)
	}
	return nil
}

func requestDeadline(req permitrelay.Request) *big.Int {
	switch r := req.(type) {
	case *permitrelay.PermitRequest:
		return r.Deadline
	case *permitrelay.BulkPermitRequest:
		return r.Deadline
	}
	return nil
}

func requestNonce(req permitrelay.Request) *big.Int {
	switch r := req.(type) {
	case *permitrelay.PermitRequest:
		return r.Nonce
	case *permitrelay.BulkPermitRequest:
		return r.Nonce
	}
	return nil
}

var _ permitrelay.PermitValidator = (*Validator)(nil)
