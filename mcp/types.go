package mcp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Tool names
const (
	ToolPrepareRelayRequest = "prepare_relay_request"
	ToolSubmitRelayRequest  = "submit_relay_request"
)

// Defaults fills tool arguments the caller leaves out.
type Defaults struct {
	Forwarder     common.Address
	ForwarderName string
	ChainID       *big.Int
	AccessKey     string
}

// PrepareArgs are the arguments of prepare_relay_request. Value is a
// decimal string so amounts above 2^53 survive JSON.
type PrepareArgs struct {
	To            string `json:"to"`
	Value         string `json:"value,omitempty"`
	Data          string `json:"data,omitempty"`
	Forwarder     string `json:"forwarder,omitempty"`
	ForwarderName string `json:"forwarder_name,omitempty"`
	ChainID       uint64 `json:"chain_id,omitempty"`
	AccessKey     string `json:"access_key,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
}

// SubmitResult is the structured result of submit_relay_request.
type SubmitResult struct {
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id"`
	Body       string `json:"body"`
}

// Input schemas advertised with the tools.
var (
	prepareInputSchema = []byte(`{
	"type": "object",
	"properties": {
		"to": {"type": "string", "description": "Target contract address"},
		"value": {"type": "string", "description": "Wei to forward, decimal"},
		"data": {"type": "string", "description": "Call data, 0x-hex"},
		"forwarder": {"type": "string", "description": "Trusted forwarder address"},
		"forwarder_name": {"type": "string", "description": "Forwarder EIP-712 domain name"},
		"chain_id": {"type": "integer"},
		"access_key": {"type": "string"},
		"nonce": {"type": "string", "description": "Explicit forwarder nonce, decimal"}
	},
	"required": ["to"]
}`)

	submitInputSchema = []byte(`{
	"type": "object",
	"properties": {
		"chain_id": {"type": "integer"},
		"from": {"type": "string"},
		"to": {"type": "string"},
		"value": {"type": "integer"},
		"gas": {"type": "integer"},
		"deadline": {"type": "integer"},
		"data": {"type": "string"},
		"nonce": {"type": "integer"},
		"signature": {"type": "string"},
		"access_key": {"type": "string"}
	},
	"required": ["chain_id", "from", "to", "value", "gas", "deadline", "data", "nonce", "signature", "access_key"]
}`)
)
