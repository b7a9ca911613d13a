package evm

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// HashTypedData hashes EIP-712 typed data according to the specification
//
// The hash is computed as: keccak256("\x19\x01" + domainSeparator + structHash)
//
// Args:
//
//	domain: The EIP-712 domain separator parameters
//	types: The type definitions for the structured data
//	primaryType: The name of the primary type being hashed
//	message: The message data to hash
//
// Returns:
//
//	32-byte hash suitable for signing or verification
//	error if hashing fails
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := toAPITypedData(domain, types, primaryType, message)

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	// Create EIP-712 digest: 0x19 0x01 <domainSeparator> <dataHash>
	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

func toAPITypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) apitypes.TypedData {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}
	return typedData
}

// PermitMessageParams are the inputs to BuildPermitMessage.
// Domain must be resolved from the deployed token, never assumed.
type PermitMessageParams struct {
	Domain   TokenDomain
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Nonce    *big.Int
	Deadline *big.Int
}

// BulkPermitMessageParams are the inputs to BuildBulkPermitMessage
type BulkPermitMessageParams struct {
	Domain    TokenDomain
	Owner     common.Address
	Spender   common.Address
	Value     *big.Int
	Nonce     *big.Int
	Deadline  *big.Int
	Transfers []Transfer
}

// BuildPermitMessage builds the EIP-2612 Permit typed message.
// It is a pure function: identical params always produce identical messages.
func BuildPermitMessage(p PermitMessageParams) TypedMessage {
	return TypedMessage{
		Domain:      domainOf(p.Domain),
		Types:       PermitTypes,
		PrimaryType: PrimaryTypePermit,
		Message: PermitMessage{
			Owner:    p.Owner,
			Spender:  p.Spender,
			Value:    copyInt(p.Value),
			Nonce:    copyInt(p.Nonce),
			Deadline: copyInt(p.Deadline),
		},
	}
}

// BuildBulkPermitMessage builds the BulkPermit typed message, which binds
// the ordered recipient-amount list into the signature.
func BuildBulkPermitMessage(p BulkPermitMessageParams) TypedMessage {
	transfers := make([]Transfer, len(p.Transfers))
	for i, t := range p.Transfers {
		transfers[i] = Transfer{To: t.To, Amount: copyInt(t.Amount)}
	}
	return TypedMessage{
		Domain:      domainOf(p.Domain),
		Types:       BulkPermitTypes,
		PrimaryType: PrimaryTypeBulkPermit,
		Message: PermitMessage{
			Owner:     p.Owner,
			Spender:   p.Spender,
			Value:     copyInt(p.Value),
			Nonce:     copyInt(p.Nonce),
			Deadline:  copyInt(p.Deadline),
			Transfers: transfers,
		},
	}
}

// MessageMap returns the message in the shape apitypes expects
func (m TypedMessage) MessageMap() map[string]interface{} {
	msg := map[string]interface{}{
		"owner":    m.Message.Owner.Hex(),
		"spender":  m.Message.Spender.Hex(),
		"value":    intOrZero(m.Message.Value),
		"nonce":    intOrZero(m.Message.Nonce),
		"deadline": intOrZero(m.Message.Deadline),
	}
	if m.PrimaryType == PrimaryTypeBulkPermit {
		transfers := make([]interface{}, len(m.Message.Transfers))
		for i, t := range m.Message.Transfers {
			transfers[i] = map[string]interface{}{
				"to":     t.To.Hex(),
				"amount": intOrZero(t.Amount),
			}
		}
		msg["transfers"] = transfers
	}
	return msg
}

// Hash returns the EIP-712 digest the holder signs
func (m TypedMessage) Hash() ([]byte, error) {
	return HashTypedData(m.Domain, m.Types, m.PrimaryType, m.MessageMap())
}

// MarshalJSON renders the eth_signTypedData_v4 payload, with integers as decimal strings.
func (m TypedMessage) MarshalJSON() ([]byte, error) {
	msg := m.MessageMap()
	for _, key := range []string{"value", "nonce", "deadline"} {
		msg[key] = msg[key].(*big.Int).String()
	}
	if transfers, ok := msg["transfers"].([]interface{}); ok {
		for _, t := range transfers {
			leg := t.(map[string]interface{})
			leg["amount"] = leg["amount"].(*big.Int).String()
		}
	}

	chainID := "0"
	if m.Domain.ChainID != nil {
		chainID = m.Domain.ChainID.String()
	}
	return json.Marshal(map[string]interface{}{
		"types":       m.Types,
		"primaryType": m.PrimaryType,
		"domain": map[string]interface{}{
			"name":              m.Domain.Name,
			"version":           m.Domain.Version,
			"chainId":           chainID,
			"verifyingContract": m.Domain.VerifyingContract,
		},
		"message": msg,
	})
}

func domainOf(d TokenDomain) TypedDataDomain {
	return TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           copyInt(d.ChainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func intOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
