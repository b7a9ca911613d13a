package evm

const (
	// Default token decimals for USDC-style tokens
	DefaultDecimals = 6

	// Domain fallbacks used only when the token does not expose name() / version()
	DefaultTokenName    = "Token"
	DefaultTokenVersion = "1"

	// SignatureLength is the r || s || v encoding length
	SignatureLength = 65

	// EIP-712 primary types
	PrimaryTypePermit     = "Permit"
	PrimaryTypeBulkPermit = "BulkPermit"

	// Token function names
	FunctionBalanceOf = "balanceOf"
	FunctionDecimals  = "decimals"
	FunctionNonces    = "nonces"
	FunctionName      = "name"
	FunctionVersion   = "version"

	// Relayer contract function names
	FunctionPermitAndTransfer     = "permitAndTransfer"
	FunctionPermitAndBulkTransfer = "permitAndBulkTransfer"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0
)

var (
	// EIP712DomainTypes is the domain used by EIP-2612 tokens
	EIP712DomainTypes = []TypedDataField{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	// PermitTypes is the standard EIP-2612 Permit struct.
	// Field order MUST match the token's PERMIT_TYPEHASH.
	PermitTypes = map[string][]TypedDataField{
		"EIP712Domain": EIP712DomainTypes,
		PrimaryTypePermit: {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}

	// BulkPermitTypes binds the recipient-amount list into the signed message.
	BulkPermitTypes = map[string][]TypedDataField{
		"EIP712Domain": EIP712DomainTypes,
		PrimaryTypeBulkPermit: {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
			{Name: "transfers", Type: "Transfer[]"},
		},
		"Transfer": {
			{Name: "to", Type: "address"},
			{Name: "amount", Type: "uint256"},
		},
	}

	// TokenABI covers the ERC-20 / EIP-2612 reads the relayer performs
	TokenABI = []byte(`[
		{
			"inputs": [{"name": "account", "type": "address"}],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "decimals",
			"outputs": [{"name": "", "type": "uint8"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "owner", "type": "address"}],
			"name": "nonces",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "name",
			"outputs": [{"name": "", "type": "string"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "version",
			"outputs": [{"name": "", "type": "string"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// RelayerABI is the relayer contract's atomic permit-and-transfer entry points
	RelayerABI = []byte(`[
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "deadline", "type": "uint256"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"},
				{"name": "recipient", "type": "address"},
				{"name": "feeBeneficiary", "type": "address"},
				{"name": "feeAmount", "type": "uint256"}
			],
			"name": "permitAndTransfer",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "deadline", "type": "uint256"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"},
				{"name": "recipients", "type": "address[]"},
				{"name": "amounts", "type": "uint256[]"},
				{"name": "feeBeneficiary", "type": "address"},
				{"name": "feeAmount", "type": "uint256"}
			],
			"name": "permitAndBulkTransfer",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)
)
