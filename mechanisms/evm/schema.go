package evm

// eip712Types is the process-wide table of EIP-712 struct layouts. Field
// order is part of every type hash and must match the verifying contracts.
// It is never mutated; callers receive copies through TypesFor.
var eip712Types = map[string][]TypedDataField{
	TypeEIP712Domain: {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
		{Name: "salt", Type: "bytes32"},
	},
	"Permit": {
		{Name: "owner", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	"Ballot": {
		{Name: "proposalId", Type: "uint256"},
		{Name: "support", Type: "uint8"},
		{Name: "voter", Type: "address"},
		{Name: "nonce", Type: "uint256"},
	},
	"ExtendedBallot": {
		{Name: "proposalId", Type: "uint256"},
		{Name: "support", Type: "uint8"},
		{Name: "voter", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "reason", Type: "string"},
		{Name: "params", Type: "bytes"},
	},
	"OverrideBallot": {
		{Name: "proposalId", Type: "uint256"},
		{Name: "support", Type: "uint8"},
		{Name: "voter", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "reason", Type: "string"},
	},
	"Delegation": {
		{Name: "delegatee", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
	},
	PrimaryTypeForwardRequest: {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "gas", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint48"},
		{Name: "data", Type: "bytes"},
	},
}

// StructFields returns a copy of the registered layout for name.
func StructFields(name string) ([]TypedDataField, bool) {
	fields, ok := eip712Types[name]
	if !ok {
		return nil, false
	}
	return append([]TypedDataField(nil), fields...), true
}

// RegisteredTypes returns the names of every registered struct.
func RegisteredTypes() []string {
	names := make([]string, 0, len(eip712Types))
	for name := range eip712Types {
		names = append(names, name)
	}
	return names
}

// GetForwardRequestEIP712Types returns the type set signed for a relay
// request under domain: the domain type restricted to the fields present in
// domain, plus ForwardRequest.
func GetForwardRequestEIP712Types(domain TypedDataDomain) map[string][]TypedDataField {
	forward, _ := StructFields(PrimaryTypeForwardRequest)
	return map[string][]TypedDataField{
		TypeEIP712Domain:          DomainTypeFor(domain),
		PrimaryTypeForwardRequest: forward,
	}
}
