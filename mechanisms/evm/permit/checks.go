package permit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
)

// CheckRequest runs the stateless checks in order: recipients, zero
// amounts, then the fee and sum law. It touches neither the ledger nor the
// registry.
func CheckRequest(req permitrelay.Request, maxRecipients int) error {
	switch r := req.(type) {
	case *permitrelay.PermitRequest:
		return checkSingle(r)
	case *permitrelay.BulkPermitRequest:
		return checkBulk(r, maxRecipients)
	case nil:
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidRecipient, "missing request")
	}
	return permitrelay.Errorf(permitrelay.ErrCodeInvalidRecipient, "unsupported request type %T", req)
}

func checkSingle(r *permitrelay.PermitRequest) error {
	if r == nil {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidRecipient, "missing request")
	}
	if evm.IsNullAddress(r.Owner) {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidRecipient, "owner is the zero address")
	}
	if evm.IsNullAddress(r.Spender) {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidRecipient, "spender is the zero address")
	}
	if evm.IsNullAddress(r.Recipient) {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidRecipient, "recipient is the zero address")
	}

	if r.Value == nil || r.Value.Sign() == 0 {
		return permitrelay.NewRelayError(permitrelay.ErrCodeZeroAmount, "value is zero")
	}

	if !evm.FitsUint256(r.Value) {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidFeeAmount, "value out of range")
	}
	fee := r.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	if !evm.FitsUint256(fee) {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidFeeAmount, "fee out of range")
	}
	if fee.Cmp(r.Value) >= 0 {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidFeeAmount, "fee must be less than value")
	}
	return nil
}

func checkBulk(r *permitrelay.BulkPermitRequest, maxRecipients int) error {
	if r == nil {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidRecipient, "missing request")
	}
	if len(r.Recipients) > maxRecipients {
		return permitrelay.Errorf(permitrelay.ErrCodeBatchTooLarge,
			"%d recipients exceeds the limit of %d", len(r.Recipients), maxRecipients)
	}
	if len(r.Recipients) == 0 {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidRecipient, "recipient list is empty")
	}

	if evm.IsNullAddress(r.Owner) {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidRecipient, "owner is the zero address")
	}
	if evm.IsNullAddress(r.Spender) {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidRecipient, "spender is the zero address")
	}
	for i, leg := range r.Recipients {
		if leg.Recipient == (common.Address{}) {
			return permitrelay.Errorf(permitrelay.ErrCodeInvalidRecipient, "recipient %d is the zero address", i)
		}
	}

	if r.Value == nil || r.Value.Sign() == 0 {
		return permitrelay.NewRelayError(permitrelay.ErrCodeZeroAmount, "value is zero")
	}
	for i, leg := range r.Recipients {
		if leg.Amount == nil || leg.Amount.Sign() == 0 {
			return permitrelay.Errorf(permitrelay.ErrCodeZeroAmount, "amount for recipient %d is zero", i)
		}
	}

	if err := CheckSumLaw(r.Value, r.Fee, r.Recipients); err != nil {
		return err
	}
	return nil
}

// CheckSumLaw verifies value == sum(amounts) + fee exactly in uint256
// arithmetic. Any operand or partial sum outside uint256 fails the law.
func CheckSumLaw(value, fee *big.Int, legs []permitrelay.RecipientAmount) error {
	if !evm.FitsUint256(value) {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidFeeAmount, "value out of range")
	}
	total, _ := uint256.FromBig(value)

	sum := new(uint256.Int)
	if fee != nil {
		if !evm.FitsUint256(fee) {
			return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidFeeAmount, "fee out of range")
		}
		f, _ := uint256.FromBig(fee)
		sum.Set(f)
	}
	if sum.Cmp(total) >= 0 {
		return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidFeeAmount, "fee must be less than value")
	}

	for i, leg := range legs {
		if !evm.FitsUint256(leg.Amount) {
			return permitrelay.Errorf(permitrelay.ErrCodeInvalidFeeAmount, "amount for recipient %d out of range", i)
		}
		amount, _ := uint256.FromBig(leg.Amount)
		if _, carry := sum.AddOverflow(sum, amount); carry {
			return permitrelay.NewRelayError(permitrelay.ErrCodeInvalidFeeAmount, "recipient amounts overflow")
		}
	}

	if !sum.Eq(total) {
		return permitrelay.Errorf(permitrelay.ErrCodeInvalidFeeAmount,
			"recipient amounts plus fee (%s) do not equal value (%s)", sum.Dec(), total.Dec())
	}
	return nil
}
