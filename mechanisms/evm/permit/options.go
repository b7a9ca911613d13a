package permit

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/coinbase/permitrelay/mechanisms/evm"
)

// RollbackPolicy decides what happens to a consumed fingerprint when
// validation fails after it was marked.
type RollbackPolicy int

const (
	// RetainOnFailure keeps the fingerprint consumed whatever happens next.
	// A permit rejected by the ledger stays burned.
	RetainOnFailure RollbackPolicy = iota
	// ReleaseOnFailure releases the fingerprint when the ledger rejects the
	// signature or cannot be reached. InsufficientBalance never releases.
	ReleaseOnFailure
)

func (p RollbackPolicy) String() string {
	switch p {
	case ReleaseOnFailure:
		return "release"
	default:
		return "retain"
	}
}

// ParseRollbackPolicy parses "retain" or "release"
func ParseRollbackPolicy(s string) (RollbackPolicy, bool) {
	switch s {
	case "", "retain":
		return RetainOnFailure, true
	case "release":
		return ReleaseOnFailure, true
	}
	return RetainOnFailure, false
}

// Option configures a Validator.
type Option func(*Validator)

// WithMode sets the fingerprint mode.
//
// Default: evm.FingerprintModeSignature
func WithMode(mode evm.FingerprintMode) Option {
	return func(v *Validator) {
		v.mode = mode
	}
}

// WithRollbackPolicy sets the rollback policy.
//
// Default: RetainOnFailure
func WithRollbackPolicy(policy RollbackPolicy) Option {
	return func(v *Validator) {
		v.rollback = policy
	}
}

// WithSpender requires every permit to name addr as its spender.
//
// Default: any non-zero spender
func WithSpender(addr common.Address) Option {
	return func(v *Validator) {
		v.spender = &addr
	}
}

// WithFeeBeneficiary sets the fee beneficiary used when dry-running the
// ledger's permit primitive. It must match the executor's.
func WithFeeBeneficiary(addr common.Address) Option {
	return func(v *Validator) {
		v.feeBeneficiary = addr
	}
}

// WithMaxRecipients caps bulk recipient lists.
//
// Default: permitrelay.DefaultMaxBulkRecipients
func WithMaxRecipients(n int) Option {
	return func(v *Validator) {
		v.maxRecipients = n
	}
}

// WithClock sets the clock used for deadline checks.
//
// Default: time.Now
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// WithLogger sets the logger.
//
// Default: zap.NewNop()
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}
