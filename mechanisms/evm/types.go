package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TypedDataDomain represents the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Transfer is one recipient leg inside a BulkPermit message
type Transfer struct {
	To     common.Address
	Amount *big.Int
}

// PermitMessage is the message record a holder signs.
// Transfers is only set for the BulkPermit primary type.
type PermitMessage struct {
	Owner     common.Address
	Spender   common.Address
	Value     *big.Int
	Nonce     *big.Int
	Deadline  *big.Int
	Transfers []Transfer
}

// TypedMessage is the complete structure handed to a wallet for signing
type TypedMessage struct {
	Domain      TypedDataDomain
	Types       map[string][]TypedDataField
	PrimaryType string
	Message     PermitMessage
}

// TokenDomain is the token-specific part of the EIP-712 domain.
// Name and Version must come from the deployed token.
type TokenDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
	Decimals          int
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// ContractBackend is the RPC surface the on-chain ledger needs.
// signers/evm provides an ethclient-backed implementation.
type ContractBackend interface {
	// Address returns the relayer's execution address
	Address() common.Address

	// ReadContract performs an eth_call and returns the unpacked outputs
	ReadContract(ctx context.Context, address common.Address, abi []byte, functionName string, args ...interface{}) (interface{}, error)

	// SimulateContract performs an eth_call of a state-changing function from the relayer address
	SimulateContract(ctx context.Context, address common.Address, abi []byte, functionName string, args ...interface{}) error

	// WriteContract signs and sends a transaction, returning its hash
	WriteContract(ctx context.Context, address common.Address, abi []byte, functionName string, args ...interface{}) (string, error)

	// WaitForTransactionReceipt waits for a transaction to be mined
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// GetChainID returns the chain ID of the connected network
	GetChainID(ctx context.Context) (*big.Int, error)
}
