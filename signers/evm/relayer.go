package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	relayevm "github.com/coinbase/permitrelay/mechanisms/evm"
)

var _ relayevm.ContractBackend = (*RelayerSigner)(nil)

// fallbackGasTipCap is used when the node does not support eth_maxPriorityFeePerGas
var fallbackGasTipCap = big.NewInt(1000000)

// RelayerSigner implements relayevm.ContractBackend over ethclient using the
// relayer's execution key. It pays gas for every permit it submits.
type RelayerSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	client     *ethclient.Client
	chainID    *big.Int
	logger     *zap.Logger
}

// NewRelayerSigner dials rpcURL and creates a backend signing with privateKeyHex
func NewRelayerSigner(ctx context.Context, privateKeyHex string, rpcURL string, logger *zap.Logger) (*RelayerSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		// the key never appears in the error
		return nil, errors.New("failed to parse relayer private key")
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to RPC")
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get chain ID")
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &RelayerSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		client:     client,
		chainID:    chainID,
		logger:     logger,
	}, nil
}

// NewReadOnlyBackend dials rpcURL without a key. It serves reads and
// simulations; WriteContract always fails.
func NewReadOnlyBackend(ctx context.Context, rpcURL string, logger *zap.Logger) (*RelayerSigner, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to RPC")
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to get chain ID")
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &RelayerSigner{
		client:  client,
		chainID: chainID,
		logger:  logger,
	}, nil
}

// Address returns the relayer's execution address
func (s *RelayerSigner) Address() common.Address {
	return s.address
}

// GetChainID returns the chain ID read at dial time
func (s *RelayerSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.chainID), nil
}

// Close closes the RPC connection
func (s *RelayerSigner) Close() {
	s.client.Close()
}

// ReadContract performs an eth_call and unpacks the outputs.
// A single output is returned bare; multiple outputs are returned as []interface{}.
func (s *RelayerSigner) ReadContract(
	ctx context.Context,
	contractAddress common.Address,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	contractABI, data, err := packCall(abiBytes, functionName, args...)
	if err != nil {
		return nil, err
	}

	result, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &contractAddress, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "contract call %s failed", functionName)
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s result", functionName)
	}

	if len(outputs) == 0 {
		return nil, nil
	}
	if len(outputs) == 1 {
		return outputs[0], nil
	}
	return outputs, nil
}

// SimulateContract executes the call from the relayer address without broadcasting it
func (s *RelayerSigner) SimulateContract(
	ctx context.Context,
	contractAddress common.Address,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) error {
	_, data, err := packCall(abiBytes, functionName, args...)
	if err != nil {
		return err
	}

	_, err = s.client.CallContract(ctx, ethereum.CallMsg{
		From: s.address,
		To:   &contractAddress,
		Data: data,
	}, nil)
	if err != nil {
		return errors.Wrapf(err, "simulation of %s failed", functionName)
	}
	return nil
}

// WriteContract signs and broadcasts an EIP-1559 transaction, returning its hash
func (s *RelayerSigner) WriteContract(
	ctx context.Context,
	contractAddress common.Address,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	if s.privateKey == nil {
		return "", errors.New("read-only backend cannot submit transactions")
	}

	_, data, err := packCall(abiBytes, functionName, args...)
	if err != nil {
		return "", err
	}

	gasTipCap, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		s.logger.Sugar().Warnw("cannot get gasTipCap, using fallback", "error", err)
		gasTipCap = fallbackGasTipCap
	}

	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to get latest block header")
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	// basefee * 2 + tip
	gasFeeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), gasTipCap)

	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.address,
		To:        &contractAddress,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Data:      data,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to estimate gas for %s", functionName)
	}
	gasLimit += gasLimit / 5

	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", errors.Wrapf(err, "failed to get nonce")
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &contractAddress,
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", errors.Wrapf(err, "failed to sign transaction")
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", errors.Wrapf(err, "failed to send transaction")
	}

	s.logger.Sugar().Infow("transaction sent",
		"function", functionName,
		"to", contractAddress.Hex(),
		"txHash", signedTx.Hash().Hex(),
		"nonce", nonce,
		"gasLimit", gasLimit,
	)
	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt blocks until the transaction is mined or ctx is done
func (s *RelayerSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*relayevm.TransactionReceipt, error) {
	receipt, err := bind.WaitMinedHash(ctx, s.client, common.HexToHash(txHash))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to wait for transaction %s", txHash)
	}

	return &relayevm.TransactionReceipt{
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
		TxHash:      receipt.TxHash.Hex(),
	}, nil
}

func packCall(abiBytes []byte, functionName string, args ...interface{}) (abi.ABI, []byte, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return abi.ABI{}, nil, errors.Wrapf(err, "failed to parse ABI")
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return abi.ABI{}, nil, errors.Wrapf(err, "failed to pack %s call", functionName)
	}
	return contractABI, data, nil
}
