package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	relay "github.com/gasless-relayer/relay/go"
)

// HashTypedData returns the EIP-712 digest of the typed data
//
// The hash is computed as: keccak256("\x19\x01" + domainSeparator + structHash).
// The EIP712Domain entry of types, if any, is replaced by DomainTypeFor(domain)
// so the separator always covers exactly the fields present in domain.
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

	// Hash the struct data
	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	// Hash the domain
	domainSeparator, err := typedData.HashStruct(TypeEIP712Domain, domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	// Create EIP-712 digest: 0x19 0x01 <domainSeparator> <dataHash>
	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	digest := crypto.Keccak256(rawData)

	return digest, nil
}

// HashDomain returns the EIP-712 domain separator of domain.
func HashDomain(domain TypedDataDomain) ([]byte, error) {
	typedData := toAPITypedData(domain, nil, TypeEIP712Domain, nil)
	separator, err := typedData.HashStruct(TypeEIP712Domain, domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	return separator, nil
}

// ForwardRequestMessage builds the ForwardRequest message of req.
func ForwardRequestMessage(req relay.UnsignedRequest) map[string]interface{} {
	return map[string]interface{}{
		"from":     req.From.Hex(),
		"to":       req.To.Hex(),
		"value":    bigOrZero(req.Value),
		"gas":      bigOrZero(req.Gas),
		"nonce":    bigOrZero(req.Nonce),
		"deadline": bigOrZero(req.Deadline),
		"data":     hexutil.Bytes(nonNil(req.Data)),
	}
}

// HashForwardRequest returns the EIP-712 digest a forwarder verifies for req
// under domain.
func HashForwardRequest(domain TypedDataDomain, req relay.UnsignedRequest) ([]byte, error) {
	return HashTypedData(
		domain,
		GetForwardRequestEIP712Types(domain),
		PrimaryTypeForwardRequest,
		ForwardRequestMessage(req),
	)
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
		Domain:      apiDomain(domain),
		Message:     message,
	}

	// Convert field types
	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	domainFields := DomainTypeFor(domain)
	domainType := make([]apitypes.Type, len(domainFields))
	for i, field := range domainFields {
		domainType[i] = apitypes.Type{Name: field.Name, Type: field.Type}
	}
	typedData.Types[TypeEIP712Domain] = domainType

	return typedData
}

// apiDomain converts the present fields of domain. The encoder rejects a
// domain with none of them set.
func apiDomain(domain TypedDataDomain) apitypes.TypedDataDomain {
	var out apitypes.TypedDataDomain
	if domain.Has(DomainFieldName) {
		out.Name = domain.Name
	}
	if domain.Has(DomainFieldVersion) {
		out.Version = domain.Version
	}
	if domain.Has(DomainFieldChainID) {
		out.ChainId = (*math.HexOrDecimal256)(bigOrZero(domain.ChainID))
	}
	if domain.Has(DomainFieldVerifyingContract) {
		out.VerifyingContract = common.HexToAddress(domain.VerifyingContract).Hex()
	}
	if domain.Has(DomainFieldSalt) {
		out.Salt = hexutil.Encode(domain.Salt[:])
	}
	return out
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
