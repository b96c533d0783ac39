package evm

import (
	"time"
)

const (
	// PrimaryTypeForwardRequest is the EIP-712 primary type signed for relaying
	PrimaryTypeForwardRequest = "ForwardRequest"

	// TypeEIP712Domain is the reserved EIP-712 domain type name
	TypeEIP712Domain = "EIP712Domain"

	// StaticDomainVersion is the version used for statically configured forwarder domains
	StaticDomainVersion = "1"

	// DefaultDeadlineWindow is how far in the future a prepared request expires
	DefaultDeadlineWindow = 20 * time.Minute

	// Forwarder function names
	FunctionNonces       = "nonces"
	FunctionEIP712Domain = "eip712Domain"

	// AddressLength is the size of the sender suffix appended by ERC-2771 forwarders
	AddressLength = 20

	// SignatureLength is the size of an r,s,v ECDSA signature
	SignatureLength = 65
)

// ForwarderNoncesABI is the nonces(address) view of an ERC-2771 forwarder
var ForwarderNoncesABI = []byte(`[
	{
		"inputs": [{"internalType": "address", "name": "owner", "type": "address"}],
		"name": "nonces",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// EIP5267DomainABI is the eip712Domain() introspection view (EIP-5267)
var EIP5267DomainABI = []byte(`[
	{
		"inputs": [],
		"name": "eip712Domain",
		"outputs": [
			{"internalType": "bytes1", "name": "fields", "type": "bytes1"},
			{"internalType": "string", "name": "name", "type": "string"},
			{"internalType": "string", "name": "version", "type": "string"},
			{"internalType": "uint256", "name": "chainId", "type": "uint256"},
			{"internalType": "address", "name": "verifyingContract", "type": "address"},
			{"internalType": "bytes32", "name": "salt", "type": "bytes32"},
			{"internalType": "uint256[]", "name": "extensions", "type": "uint256[]"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`)
