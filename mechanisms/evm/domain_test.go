package evm

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	relay "github.com/gasless-relayer/relay/go"
)

const (
	testForwarder     = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testForwarderName = "ERC2771Forwarder"
)

func eip5267Outputs(fields byte, extensions []*big.Int) []interface{} {
	return []interface{}{
		[1]byte{fields},
		testForwarderName,
		"1",
		big.NewInt(31337),
		common.HexToAddress(testForwarder),
		[32]byte{},
		extensions,
	}
}

type domainReader struct {
	outputs []interface{}
	err     error
	calls   atomic.Int32
}

func (r *domainReader) ReadContract(_ context.Context, _ string, _ []byte, fn string, _ ...interface{}) (interface{}, error) {
	r.calls.Add(1)
	if fn != FunctionEIP712Domain {
		return nil, errors.New("unexpected function " + fn)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.outputs, nil
}

// manualSeparator encodes name, version, chainId, verifyingContract by hand.
func manualSeparator(name, version string, chainID *big.Int, contract common.Address) []byte {
	typeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	enc := append([]byte{}, typeHash...)
	enc = append(enc, crypto.Keccak256([]byte(name))...)
	enc = append(enc, crypto.Keccak256([]byte(version))...)
	enc = append(enc, math.U256Bytes(new(big.Int).Set(chainID))...)
	enc = append(enc, common.LeftPadBytes(contract.Bytes(), 32)...)
	return crypto.Keccak256(enc)
}

func TestStaticDomainSeparator(t *testing.T) {
	domain := ResolveStaticDomain(testForwarderName, big.NewInt(31337), testForwarder)

	got, err := HashDomain(domain)
	if err != nil {
		t.Fatalf("HashDomain: %v", err)
	}
	want := manualSeparator(testForwarderName, "1", big.NewInt(31337), common.HexToAddress(testForwarder))
	if !bytes.Equal(got, want) {
		t.Fatalf("separator mismatch:\n got %x\nwant %x", got, want)
	}
}

func TestParseEIP5267Domain_AllStaticFields(t *testing.T) {
	domain, err := ParseEIP5267Domain(eip5267Outputs(0x0f, []*big.Int{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	static := ResolveStaticDomain(testForwarderName, big.NewInt(31337), testForwarder)
	a, _ := HashDomain(domain)
	b, _ := HashDomain(static)
	if !bytes.Equal(a, b) {
		t.Fatalf("dynamic and static separators differ")
	}
}

func TestParseEIP5267Domain_MasksAbsentFields(t *testing.T) {
	// name, version, verifyingContract; chainId bit unset
	domain, err := ParseEIP5267Domain(eip5267Outputs(0x0b, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain.ChainID != nil {
		t.Fatalf("chain id should be absent, got %s", domain.ChainID)
	}
	if _, ok := domain.Map()["chainId"]; ok {
		t.Fatalf("chainId must not appear in the domain map")
	}

	fields := DomainTypeFor(domain)
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	if len(names) != 3 || names[0] != "name" || names[1] != "version" || names[2] != "verifyingContract" {
		t.Fatalf("unexpected domain fields %v", names)
	}

	masked, err := HashDomain(domain)
	if err != nil {
		t.Fatalf("HashDomain: %v", err)
	}
	full, _ := HashDomain(ResolveStaticDomain(testForwarderName, big.NewInt(31337), testForwarder))
	if bytes.Equal(masked, full) {
		t.Fatalf("masked separator must differ from the full one")
	}
}

func TestParseEIP5267Domain_Salt(t *testing.T) {
	outputs := eip5267Outputs(0x1f, nil)
	outputs[5] = [32]byte{1, 2, 3}

	domain, err := ParseEIP5267Domain(outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !domain.Has(DomainFieldSalt) || domain.Salt[0] != 1 {
		t.Fatalf("salt not decoded: %+v", domain)
	}
	if _, err := HashDomain(domain); err != nil {
		t.Fatalf("HashDomain with salt: %v", err)
	}
}

func TestParseEIP5267Domain_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		outputs []interface{}
		want    error
	}{
		{"extensions", eip5267Outputs(0x0f, []*big.Int{big.NewInt(1)}), relay.ErrUnsupportedDomainExtension},
		{"unknown field bit", eip5267Outputs(0x2f, nil), relay.ErrUnsupportedDomainExtension},
		{"short output", eip5267Outputs(0x0f, nil)[:6], relay.ErrDomainResolutionFailed},
		{"malformed name", func() []interface{} {
			o := eip5267Outputs(0x0f, nil)
			o[1] = 42
			return o
		}(), relay.ErrDomainResolutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEIP5267Domain(tt.outputs)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDynamicDomainResolver(t *testing.T) {
	ctx := context.Background()

	reader := &domainReader{outputs: eip5267Outputs(0x0f, nil)}
	domain, err := DynamicDomainResolver{Reader: reader}.ResolveDomain(ctx, testForwarder, "ignored", big.NewInt(31337))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain.Name != testForwarderName {
		t.Fatalf("expected the contract's name, got %q", domain.Name)
	}

	_, err = DynamicDomainResolver{Reader: reader}.ResolveDomain(ctx, testForwarder, "", big.NewInt(1))
	if !errors.Is(err, relay.ErrDomainResolutionFailed) {
		t.Fatalf("expected chain id mismatch error, got %v", err)
	}

	failing := &domainReader{err: errors.New("execution reverted")}
	_, err = DynamicDomainResolver{Reader: failing}.ResolveDomain(ctx, testForwarder, "", big.NewInt(31337))
	if !errors.Is(err, relay.ErrDomainResolutionFailed) {
		t.Fatalf("expected ErrDomainResolutionFailed, got %v", err)
	}
}

func TestCachedDomainResolver(t *testing.T) {
	ctx := context.Background()
	reader := &domainReader{outputs: eip5267Outputs(0x0f, nil)}

	cached, err := NewCachedDomainResolver(DynamicDomainResolver{Reader: reader}, 4)
	if err != nil {
		t.Fatalf("NewCachedDomainResolver: %v", err)
	}

	first, err := cached.ResolveDomain(ctx, testForwarder, "", big.NewInt(31337))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first.ChainID.SetInt64(1)

	second, err := cached.ResolveDomain(ctx, testForwarder, "", big.NewInt(31337))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ChainID.Int64() != 31337 {
		t.Fatalf("cached domain was mutated through a returned copy")
	}
	if n := reader.calls.Load(); n != 1 {
		t.Fatalf("expected 1 contract read, got %d", n)
	}

	cached.Purge()
	if _, err := cached.ResolveDomain(ctx, testForwarder, "", big.NewInt(31337)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := reader.calls.Load(); n != 2 {
		t.Fatalf("expected a fresh read after purge, got %d reads", n)
	}
}

func TestCachedDomainResolver_FailuresNotCached(t *testing.T) {
	ctx := context.Background()
	reader := &domainReader{outputs: eip5267Outputs(0x0f, []*big.Int{big.NewInt(7)})}

	cached, err := NewCachedDomainResolver(DynamicDomainResolver{Reader: reader}, 4)
	if err != nil {
		t.Fatalf("NewCachedDomainResolver: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := cached.ResolveDomain(ctx, testForwarder, "", big.NewInt(31337)); !errors.Is(err, relay.ErrUnsupportedDomainExtension) {
			t.Fatalf("expected ErrUnsupportedDomainExtension, got %v", err)
		}
	}
	if n := reader.calls.Load(); n != 2 {
		t.Fatalf("expected failures to be retried, got %d reads", n)
	}
}

func TestHashForwardRequest_SparseDomains(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	noChainID, err := ParseEIP5267Domain(eip5267Outputs(0x0b, nil))
	if err != nil {
		t.Fatalf("ParseEIP5267Domain: %v", err)
	}
	saltOnly := TypedDataDomain{Fields: DomainFieldSalt, Salt: [32]byte{0xaa, 0xbb}}

	tests := []struct {
		name   string
		domain TypedDataDomain
	}{
		{"chain id unset", noChainID},
		{"salt only", saltOnly},
	}

	full, err := HashDomain(ResolveStaticDomain(testForwarderName, big.NewInt(31337), testForwarder))
	if err != nil {
		t.Fatalf("HashDomain: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &relay.SignedRequest{
				UnsignedRequest: relay.UnsignedRequest{
					From:     from,
					To:       common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
					Value:    big.NewInt(0),
					Data:     common.FromHex("0x3e6fec04"),
					Gas:      big.NewInt(29_544),
					Deadline: big.NewInt(1_700_001_200),
					Nonce:    big.NewInt(3),
				},
				ChainID: big.NewInt(31337),
			}

			digest, err := HashForwardRequest(tt.domain, req.UnsignedRequest)
			if err != nil {
				t.Fatalf("HashForwardRequest: %v", err)
			}
			req.Signature, err = crypto.Sign(digest, key)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if err := VerifyForwardRequest(tt.domain, req); err != nil {
				t.Fatalf("VerifyForwardRequest: %v", err)
			}

			separator, err := HashDomain(tt.domain)
			if err != nil {
				t.Fatalf("HashDomain: %v", err)
			}
			if bytes.Equal(separator, full) {
				t.Fatalf("sparse separator must differ from the full one")
			}
		})
	}
}

func TestHashDomain_SaltOnly(t *testing.T) {
	salt := [32]byte{0xaa, 0xbb}
	got, err := HashDomain(TypedDataDomain{Fields: DomainFieldSalt, Salt: salt})
	if err != nil {
		t.Fatalf("HashDomain: %v", err)
	}

	typeHash := crypto.Keccak256([]byte("EIP712Domain(bytes32 salt)"))
	want := crypto.Keccak256(append(typeHash, salt[:]...))
	if !bytes.Equal(got, want) {
		t.Fatalf("separator mismatch:\n got %x\nwant %x", got, want)
	}
}

// blockingReader holds eip712Domain() until release is closed.
type blockingReader struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (r *blockingReader) ReadContract(ctx context.Context, _ string, _ []byte, _ string, _ ...interface{}) (interface{}, error) {
	if r.calls.Add(1) == 1 {
		close(r.started)
	}
	select {
	case <-r.release:
		return eip5267Outputs(0x0f, nil), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCachedDomainResolver_CallerCancelDoesNotFailOthers(t *testing.T) {
	reader := &blockingReader{started: make(chan struct{}), release: make(chan struct{})}
	cached, err := NewCachedDomainResolver(DynamicDomainResolver{Reader: reader}, 4)
	if err != nil {
		t.Fatalf("NewCachedDomainResolver: %v", err)
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cached.ResolveDomain(ctxA, testForwarder, "", big.NewInt(31337))
		errA <- err
	}()
	<-reader.started

	type result struct {
		domain TypedDataDomain
		err    error
	}
	resB := make(chan result, 1)
	go func() {
		d, err := cached.ResolveDomain(context.Background(), testForwarder, "", big.NewInt(31337))
		resB <- result{d, err}
	}()

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to see context.Canceled, got %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	close(reader.release)

	b := <-resB
	if b.err != nil {
		t.Fatalf("live caller failed: %v", b.err)
	}
	if b.domain.Name != testForwarderName {
		t.Fatalf("unexpected domain %+v", b.domain)
	}

	reads := reader.calls.Load()
	if _, err := cached.ResolveDomain(context.Background(), testForwarder, "", big.NewInt(31337)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := reader.calls.Load(); n != reads {
		t.Fatalf("expected the resolved domain to be cached, got %d reads", n)
	}
}
