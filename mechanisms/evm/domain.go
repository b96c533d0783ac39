package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	relay "github.com/gasless-relayer/relay/go"
)

// DomainFields is the EIP-5267 fields bitmask. Bit i marks the i-th field of
// the canonical EIP712Domain order as present.
type DomainFields uint8

const (
	DomainFieldName DomainFields = 1 << iota
	DomainFieldVersion
	DomainFieldChainID
	DomainFieldVerifyingContract
	DomainFieldSalt

	// knownDomainFields covers every field this package can encode; any other
	// bit is a future extension and is rejected.
	knownDomainFields = DomainFieldName | DomainFieldVersion | DomainFieldChainID | DomainFieldVerifyingContract | DomainFieldSalt

	// StaticDomainFields is the field set of a statically configured domain
	StaticDomainFields = DomainFieldName | DomainFieldVersion | DomainFieldChainID | DomainFieldVerifyingContract
)

// TypedDataDomain represents the EIP-712 domain separator as a sparse record:
// a field takes part in the separator only if its bit is set in Fields.
type TypedDataDomain struct {
	Fields            DomainFields
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
	Salt              [32]byte
}

// Has reports whether every field in f is present.
func (d TypedDataDomain) Has(f DomainFields) bool {
	return d.Fields&f == f
}

// Map returns the present fields keyed by their EIP-712 names, in the value
// forms accepted by go-ethereum's typed data encoder.
func (d TypedDataDomain) Map() map[string]interface{} {
	m := make(map[string]interface{}, 5)
	if d.Has(DomainFieldName) {
		m["name"] = d.Name
	}
	if d.Has(DomainFieldVersion) {
		m["version"] = d.Version
	}
	if d.Has(DomainFieldChainID) {
		chainID := new(big.Int)
		if d.ChainID != nil {
			chainID.Set(d.ChainID)
		}
		m["chainId"] = (*math.HexOrDecimal256)(chainID)
	}
	if d.Has(DomainFieldVerifyingContract) {
		m["verifyingContract"] = common.HexToAddress(d.VerifyingContract).Hex()
	}
	if d.Has(DomainFieldSalt) {
		m["salt"] = hexutil.Encode(d.Salt[:])
	}
	return m
}

// MarshalJSON encodes only the present fields.
func (d TypedDataDomain) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 5)
	for k, v := range d.Map() {
		out[k] = v
	}
	if d.Has(DomainFieldChainID) && d.ChainID != nil {
		out["chainId"] = d.ChainID.String()
	}
	return json.Marshal(out)
}

// copy returns d with its own ChainID.
func (d TypedDataDomain) copy() TypedDataDomain {
	if d.ChainID != nil {
		d.ChainID = new(big.Int).Set(d.ChainID)
	}
	return d
}

// DomainTypeFor returns the EIP712Domain type restricted to the fields
// present in domain, in canonical order. Signing must use this descriptor or
// the separator will not match the verifying contract.
func DomainTypeFor(domain TypedDataDomain) []TypedDataField {
	all := eip712Types[TypeEIP712Domain]
	fields := make([]TypedDataField, 0, len(all))
	for i, f := range all {
		if domain.Fields&(1<<uint(i)) != 0 {
			fields = append(fields, f)
		}
	}
	return fields
}

// ResolveStaticDomain builds a domain from caller supplied values with
// version "1" and no salt.
func ResolveStaticDomain(forwarderName string, chainID *big.Int, forwarder string) TypedDataDomain {
	var id *big.Int
	if chainID != nil {
		id = new(big.Int).Set(chainID)
	}
	return TypedDataDomain{
		Fields:            StaticDomainFields,
		Name:              forwarderName,
		Version:           StaticDomainVersion,
		ChainID:           id,
		VerifyingContract: NormalizeAddress(forwarder),
	}
}

// ResolveDynamicDomain introspects the forwarder's EIP-5267 domain.
//
// Fails with ErrUnsupportedDomainExtension when the contract declares
// extensions or field bits this package cannot encode. No partial domain is
// ever returned.
func ResolveDynamicDomain(ctx context.Context, reader ContractReader, forwarder string) (TypedDataDomain, error) {
	if reader == nil {
		return TypedDataDomain{}, relay.NewRelayError(relay.ErrCodeDomainResolutionFailed, "no contract reader configured", nil)
	}

	result, err := reader.ReadContract(ctx, NormalizeAddress(forwarder), EIP5267DomainABI, FunctionEIP712Domain)
	if err != nil {
		return TypedDataDomain{}, relay.NewRelayError(relay.ErrCodeDomainResolutionFailed, "failed to read eip712Domain", err)
	}

	outputs, ok := result.([]interface{})
	if !ok {
		return TypedDataDomain{}, relay.NewRelayError(relay.ErrCodeDomainResolutionFailed, fmt.Sprintf("unexpected eip712Domain result type: %T", result), nil)
	}

	return ParseEIP5267Domain(outputs)
}

// ParseEIP5267Domain decodes the unpacked outputs of eip712Domain():
// (bytes1 fields, string name, string version, uint256 chainId,
// address verifyingContract, bytes32 salt, uint256[] extensions).
func ParseEIP5267Domain(outputs []interface{}) (TypedDataDomain, error) {
	if len(outputs) != 7 {
		return TypedDataDomain{}, relay.NewRelayError(relay.ErrCodeDomainResolutionFailed, fmt.Sprintf("expected 7 eip712Domain outputs, got %d", len(outputs)), nil)
	}

	fieldsRaw, ok := outputs[0].([1]byte)
	if !ok {
		return TypedDataDomain{}, malformedDomain("fields", outputs[0])
	}
	name, ok := outputs[1].(string)
	if !ok {
		return TypedDataDomain{}, malformedDomain("name", outputs[1])
	}
	version, ok := outputs[2].(string)
	if !ok {
		return TypedDataDomain{}, malformedDomain("version", outputs[2])
	}
	chainID, ok := outputs[3].(*big.Int)
	if !ok {
		return TypedDataDomain{}, malformedDomain("chainId", outputs[3])
	}
	verifyingContract, ok := outputs[4].(common.Address)
	if !ok {
		return TypedDataDomain{}, malformedDomain("verifyingContract", outputs[4])
	}
	salt, ok := outputs[5].([32]byte)
	if !ok {
		return TypedDataDomain{}, malformedDomain("salt", outputs[5])
	}
	extensions, ok := outputs[6].([]*big.Int)
	if !ok {
		return TypedDataDomain{}, malformedDomain("extensions", outputs[6])
	}

	if len(extensions) > 0 {
		return TypedDataDomain{}, relay.NewRelayError(
			relay.ErrCodeUnsupportedDomainExtension,
			fmt.Sprintf("forwarder declares %d domain extensions", len(extensions)),
			nil,
		)
	}

	fields := DomainFields(fieldsRaw[0])
	if unknown := fields &^ knownDomainFields; unknown != 0 {
		return TypedDataDomain{}, relay.NewRelayError(
			relay.ErrCodeUnsupportedDomainExtension,
			fmt.Sprintf("unsupported domain field bits 0x%02x", uint8(unknown)),
			nil,
		)
	}

	domain := TypedDataDomain{Fields: fields}
	if domain.Has(DomainFieldName) {
		domain.Name = name
	}
	if domain.Has(DomainFieldVersion) {
		domain.Version = version
	}
	if domain.Has(DomainFieldChainID) {
		domain.ChainID = new(big.Int).Set(chainID)
	}
	if domain.Has(DomainFieldVerifyingContract) {
		domain.VerifyingContract = verifyingContract.Hex()
	}
	if domain.Has(DomainFieldSalt) {
		domain.Salt = salt
	}
	return domain, nil
}

func malformedDomain(field string, v interface{}) error {
	return relay.NewRelayError(relay.ErrCodeDomainResolutionFailed, fmt.Sprintf("malformed eip712Domain %s: %T", field, v), nil)
}

// ============================================================================
// Domain resolvers
// ============================================================================

// DomainResolver produces the EIP-712 domain of a forwarder.
type DomainResolver interface {
	ResolveDomain(ctx context.Context, forwarder string, forwarderName string, chainID *big.Int) (TypedDataDomain, error)
}

// StaticDomainResolver uses the caller supplied name and chain id.
type StaticDomainResolver struct{}

// ResolveDomain implements DomainResolver.
func (StaticDomainResolver) ResolveDomain(_ context.Context, forwarder string, forwarderName string, chainID *big.Int) (TypedDataDomain, error) {
	return ResolveStaticDomain(forwarderName, chainID, forwarder), nil
}

// DynamicDomainResolver introspects the forwarder contract. The caller
// supplied name is ignored; a declared chain id that differs from the
// expected one is an error.
type DynamicDomainResolver struct {
	Reader ContractReader
}

// ResolveDomain implements DomainResolver.
func (r DynamicDomainResolver) ResolveDomain(ctx context.Context, forwarder string, _ string, chainID *big.Int) (TypedDataDomain, error) {
	domain, err := ResolveDynamicDomain(ctx, r.Reader, forwarder)
	if err != nil {
		return TypedDataDomain{}, err
	}
	if chainID != nil && domain.Has(DomainFieldChainID) && domain.ChainID.Cmp(chainID) != 0 {
		return TypedDataDomain{}, relay.NewRelayError(
			relay.ErrCodeDomainResolutionFailed,
			fmt.Sprintf("forwarder domain chain id %s does not match %s", domain.ChainID, chainID),
			nil,
		)
	}
	return domain, nil
}

// CachedDomainResolver memoizes another resolver per (chain id, forwarder).
// Concurrent misses for the same key share one lookup. Failures are not cached.
type CachedDomainResolver struct {
	inner   DomainResolver
	cache   *lru.Cache[string, TypedDataDomain]
	group   singleflight.Group
	timeout time.Duration
}

// DefaultDomainLookupTimeout bounds a shared domain lookup
const DefaultDomainLookupTimeout = 30 * time.Second

// NewCachedDomainResolver wraps inner with an LRU of the given size.
func NewCachedDomainResolver(inner DomainResolver, size int) (*CachedDomainResolver, error) {
	cache, err := lru.New[string, TypedDataDomain](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create domain cache: %w", err)
	}
	return &CachedDomainResolver{inner: inner, cache: cache, timeout: DefaultDomainLookupTimeout}, nil
}

// ResolveDomain implements DomainResolver.
func (r *CachedDomainResolver) ResolveDomain(ctx context.Context, forwarder string, forwarderName string, chainID *big.Int) (TypedDataDomain, error) {
	key := domainCacheKey(forwarder, forwarderName, chainID)
	if domain, ok := r.cache.Get(key); ok {
		return domain.copy(), nil
	}

	// The shared lookup outlives any single caller; each caller only stops
	// waiting when its own ctx is done.
	ch := r.group.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		domain, err := r.inner.ResolveDomain(lookupCtx, forwarder, forwarderName, chainID)
		if err != nil {
			return nil, err
		}
		r.cache.Add(key, domain.copy())
		return domain, nil
	})

	select {
	case <-ctx.Done():
		return TypedDataDomain{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return TypedDataDomain{}, res.Err
		}
		return res.Val.(TypedDataDomain).copy(), nil
	}
}

// Purge drops every cached domain.
func (r *CachedDomainResolver) Purge() {
	r.cache.Purge()
}

func domainCacheKey(forwarder, name string, chainID *big.Int) string {
	id := "?"
	if chainID != nil {
		id = chainID.String()
	}
	return id + "/" + strings.ToLower(forwarder) + "/" + name
}
