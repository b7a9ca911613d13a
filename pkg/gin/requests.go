package gin

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
)

type recipientBody struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// transferBody is the wire shape of both request kinds. Recipient is set for
// single transfers, Recipients for bulk ones.
type transferBody struct {
	Owner      string          `json:"owner"`
	Spender    string          `json:"spender"`
	Recipient  string          `json:"recipient,omitempty"`
	Recipients []recipientBody `json:"recipients,omitempty"`
	Value      string          `json:"value"`
	Deadline   string          `json:"deadline"`
	Signature  string          `json:"signature"`
	Fee        string          `json:"fee,omitempty"`
	Nonce      string          `json:"nonce,omitempty"`
}

type transferResponse struct {
	TxReference    string `json:"txReference"`
	Status         string `json:"status"`
	Fingerprint    string `json:"fingerprint"`
	Owner          string `json:"owner"`
	RecipientCount int    `json:"recipientCount"`
	TotalPaidOut   string `json:"totalPaidOut"`
	Fee            string `json:"fee"`
}

type errorResponse struct {
	Error *permitrelay.RelayError `json:"error"`
}

func newTransferResponse(result *permitrelay.TransferResult) transferResponse {
	return transferResponse{
		TxReference:    result.TxReference,
		Status:         string(result.Status),
		Fingerprint:    result.Fingerprint.Hex(),
		Owner:          result.Owner.Hex(),
		RecipientCount: result.RecipientCount,
		TotalPaidOut:   result.TotalPaidOut.String(),
		Fee:            result.Fee.String(),
	}
}

func (b *transferBody) toSingle() (*permitrelay.PermitRequest, error) {
	req := &permitrelay.PermitRequest{
		Owner:     common.HexToAddress(b.Owner),
		Spender:   common.HexToAddress(b.Spender),
		Recipient: common.HexToAddress(b.Recipient),
	}
	var err error
	if req.Value, req.Deadline, req.Fee, req.Nonce, err = b.amounts(); err != nil {
		return nil, err
	}
	if req.Signature, err = evm.ParseSignatureHex(b.Signature); err != nil {
		return nil, err
	}
	return req, nil
}

func (b *transferBody) toBulk() (*permitrelay.BulkPermitRequest, error) {
	req := &permitrelay.BulkPermitRequest{
		Owner:      common.HexToAddress(b.Owner),
		Spender:    common.HexToAddress(b.Spender),
		Recipients: make([]permitrelay.RecipientAmount, len(b.Recipients)),
	}
	for i, r := range b.Recipients {
		amount, err := parseAmount(r.Amount, "recipient amount")
		if err != nil {
			return nil, err
		}
		req.Recipients[i] = permitrelay.RecipientAmount{Recipient: common.HexToAddress(r.To), Amount: amount}
	}
	var err error
	if req.Value, req.Deadline, req.Fee, req.Nonce, err = b.amounts(); err != nil {
		return nil, err
	}
	if req.Signature, err = evm.ParseSignatureHex(b.Signature); err != nil {
		return nil, err
	}
	return req, nil
}

func (b *transferBody) toRequest() (permitrelay.Request, error) {
	if b.Recipients != nil {
		return b.toBulk()
	}
	return b.toSingle()
}

func (b *transferBody) amounts() (value, deadline, fee, nonce *big.Int, err error) {
	if value, err = parseAmount(b.Value, "value"); err != nil {
		return
	}
	if deadline, err = parseAmount(b.Deadline, "deadline"); err != nil {
		return
	}
	if b.Fee != "" {
		if fee, err = parseAmount(b.Fee, "fee"); err != nil {
			return
		}
	}
	if b.Nonce != "" {
		if nonce, err = parseAmount(b.Nonce, "nonce"); err != nil {
			return
		}
	}
	return
}

func parseAmount(s, name string) (*big.Int, error) {
	v, err := evm.ParseUint256(s)
	if err != nil {
		return nil, permitrelay.Errorf(permitrelay.ErrCodeMalformedAmount, "invalid %s", name)
	}
	return v, nil
}
