package permitrelay

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RequestValue returns the total value authorized by req
func RequestValue(req Request) *big.Int {
	switch r := req.(type) {
	case *PermitRequest:
		return r.Value
	case *BulkPermitRequest:
		return r.Value
	}
	return nil
}

// RequestFee returns the fee carved out of req, treating nil as zero
func RequestFee(req Request) *big.Int {
	var fee *big.Int
	switch r := req.(type) {
	case *PermitRequest:
		fee = r.Fee
	case *BulkPermitRequest:
		fee = r.Fee
	}
	if fee == nil {
		return new(big.Int)
	}
	return fee
}

// RecipientCount returns how many recipients (excluding the fee beneficiary) req pays
func RecipientCount(req Request) int {
	switch r := req.(type) {
	case *PermitRequest:
		return 1
	case *BulkPermitRequest:
		return len(r.Recipients)
	}
	return 0
}

// PlanMovements returns the ordered movements for req: the fee first when
// non-zero, then the recipient (single) or each recipient in list order (bulk).
func PlanMovements(req Request, feeBeneficiary common.Address) ([]Movement, error) {
	fee := RequestFee(req)
	var movements []Movement
	if fee.Sign() > 0 {
		movements = append(movements, Movement{To: feeBeneficiary, Amount: new(big.Int).Set(fee)})
	}

	switch r := req.(type) {
	case *PermitRequest:
		if r.Value == nil {
			return nil, fmt.Errorf("permit request has no value")
		}
		movements = append(movements, Movement{
			To:     r.Recipient,
			Amount: new(big.Int).Sub(r.Value, fee),
		})
	case *BulkPermitRequest:
		for _, leg := range r.Recipients {
			movements = append(movements, Movement{To: leg.Recipient, Amount: new(big.Int).Set(leg.Amount)})
		}
	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
	return movements, nil
}

// NewPermitCall assembles the ledger call for a validated request
func NewPermitCall(req Request, feeBeneficiary common.Address) (*PermitCall, error) {
	movements, err := PlanMovements(req, feeBeneficiary)
	if err != nil {
		return nil, err
	}

	call := &PermitCall{
		Kind:           req.Kind(),
		FeeBeneficiary: feeBeneficiary,
		Fee:            RequestFee(req),
		Movements:      movements,
	}
	switch r := req.(type) {
	case *PermitRequest:
		call.Owner = r.Owner
		call.Spender = r.Spender
		call.Value = r.Value
		call.Deadline = r.Deadline
		call.Signature = r.Signature
		call.Recipients = []RecipientAmount{{Recipient: r.Recipient, Amount: new(big.Int).Sub(r.Value, call.Fee)}}
	case *BulkPermitRequest:
		call.Owner = r.Owner
		call.Spender = r.Spender
		call.Value = r.Value
		call.Deadline = r.Deadline
		call.Signature = r.Signature
		call.Recipients = r.Recipients
	}
	return call, nil
}
