package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	relayevm "github.com/gasless-relayer/relay/go/mechanisms/evm"
)

// KeySigner implements relayevm.ForwarderSigner using an ECDSA private key.
// Signatures are deterministic (RFC 6979) for a given key and payload.
type KeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

var _ relayevm.ForwarderSigner = (*KeySigner)(nil)

// NewSignerFromPrivateKey creates a signer from a hex-encoded private key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//
// Returns:
//
//	ForwarderSigner ready for use with relayevm.NewRequestBuilder()
//	Error if private key is invalid
//
// Example:
//
//	signer, err := evm.NewSignerFromPrivateKey("0x1234...")
//	if err != nil {
//	    log.Crit("Bad key", "err", err)
//	}
//	builder := relayevm.NewRequestBuilder(signer, chain)
func NewSignerFromPrivateKey(privateKeyHex string) (*KeySigner, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &KeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the Ethereum address of the signer.
func (s *KeySigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs EIP-712 typed data and returns a 65-byte r,s,v
// signature with v in {27, 28}.
func (s *KeySigner) SignTypedData(
	ctx context.Context,
	domain relayevm.TypedDataDomain,
	types map[string][]relayevm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := relayevm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 → 27/28)
	signature[64] += 27

	return signature, nil
}

// ============================================================================
// Chain client
// ============================================================================

// ChainClient implements relayevm.ChainReader over a JSON-RPC node.
type ChainClient struct {
	eth *ethclient.Client
}

var _ relayevm.ChainReader = (*ChainClient)(nil)

// NewChainClient wraps an existing ethclient.
func NewChainClient(eth *ethclient.Client) *ChainClient {
	return &ChainClient{eth: eth}
}

// DialChainClient connects to the node at rpcURL.
func DialChainClient(ctx context.Context, rpcURL string) (*ChainClient, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return &ChainClient{eth: eth}, nil
}

// ChainID returns the chain id reported by the node.
func (c *ChainClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// Close closes the underlying RPC connection.
func (c *ChainClient) Close() {
	c.eth.Close()
}

// ReadContract reads data from a smart contract.
//
// A single output is returned as is; several outputs are returned as
// []interface{} in ABI order.
func (c *ChainClient) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	addr := common.HexToAddress(contractAddress)
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		return outputs, nil
	}
}

// EstimateGas asks the node to estimate call.
func (c *ChainClient) EstimateGas(ctx context.Context, call relayevm.CallRequest) (uint64, error) {
	to := common.HexToAddress(call.To)
	msg := ethereum.CallMsg{
		From:  common.HexToAddress(call.From),
		To:    &to,
		Data:  call.Data,
		Value: call.Value,
	}
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("eth_estimateGas failed: %w", err)
	}
	return gas, nil
}
