package evm

import (
	"context"
	"math/big"
)

// ForwarderSigner is the signing capability of the request sender.
// Implementations must sign deterministically (RFC 6979 ECDSA over the
// EIP-712 digest) and return a 65-byte r,s,v signature with v in {27, 28}.
type ForwarderSigner interface {
	// Address returns the sender address (hex)
	Address() string

	// SignTypedData signs EIP-712 typed data
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// ContractReader executes read-only contract calls against the forwarder.
type ContractReader interface {
	// ReadContract reads data from a smart contract
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// GasEstimator asks a node to estimate the gas of a simulated call.
type GasEstimator interface {
	EstimateGas(ctx context.Context, call CallRequest) (uint64, error)
}

// ChainReader bundles the chain capabilities the request builder needs.
type ChainReader interface {
	ContractReader
	GasEstimator
}

// CallRequest is a call to simulate. Addresses are hex strings.
type CallRequest struct {
	From  string
	To    string
	Data  []byte
	Value *big.Int
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
