package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	relay "github.com/gasless-relayer/relay/go"
	"github.com/gasless-relayer/relay/go/metrics"
)

// ============================================================================
// Request Builder
// ============================================================================

// RequestBuilder prepares signed forward requests for one sender.
//
// Preparation is a strict sequence: nonce, gas, deadline, domain, signature.
// A failing step stops preparation and no partial request is returned.
type RequestBuilder struct {
	signer    ForwarderSigner
	chain     ChainReader
	resolver  DomainResolver
	encoding  CallDataEncoding
	sequencer *relay.NonceSequencer
	window    time.Duration
	now       func() time.Time
	hooks     *relay.PrepareHooks
	metrics   metrics.Metricer
	log       log.Logger
}

// BuilderOption configures a RequestBuilder
type BuilderOption func(*RequestBuilder)

// WithDomainResolver sets how the forwarder domain is obtained
func WithDomainResolver(resolver DomainResolver) BuilderOption {
	return func(b *RequestBuilder) {
		b.resolver = resolver
	}
}

// WithDynamicDomain reads the domain from the forwarder (EIP-5267) through
// the builder's chain reader, caching up to cacheSize domains.
func WithDynamicDomain(cacheSize int) BuilderOption {
	return func(b *RequestBuilder) {
		var inner DomainResolver = DynamicDomainResolver{Reader: b.chain}
		if cacheSize > 0 {
			if cached, err := NewCachedDomainResolver(inner, cacheSize); err == nil {
				inner = cached
			}
		}
		b.resolver = inner
	}
}

// WithCallDataEncoding sets the sender encoding used for gas estimation
func WithCallDataEncoding(encoding CallDataEncoding) BuilderOption {
	return func(b *RequestBuilder) {
		b.encoding = encoding
	}
}

// WithNonceSequencer coordinates nonce acquisition across concurrent preparations
func WithNonceSequencer(seq *relay.NonceSequencer) BuilderOption {
	return func(b *RequestBuilder) {
		b.sequencer = seq
	}
}

// WithDeadlineWindow sets how long a prepared request stays valid
func WithDeadlineWindow(window time.Duration) BuilderOption {
	return func(b *RequestBuilder) {
		b.window = window
	}
}

// WithClock sets the time source used for deadlines
func WithClock(now func() time.Time) BuilderOption {
	return func(b *RequestBuilder) {
		b.now = now
	}
}

// WithHooks registers preparation lifecycle hooks
func WithHooks(hooks *relay.PrepareHooks) BuilderOption {
	return func(b *RequestBuilder) {
		b.hooks = hooks
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m metrics.Metricer) BuilderOption {
	return func(b *RequestBuilder) {
		b.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(l log.Logger) BuilderOption {
	return func(b *RequestBuilder) {
		b.log = l
	}
}

// NewRequestBuilder creates a builder signing with signer and reading chain
// state through chain.
//
// Args:
//
//	signer: The sender's EIP-712 signing capability
//	chain: Contract reads (nonces, eip712Domain) and gas estimation
//	opts: Optional configuration
//
// Returns:
//
//	A RequestBuilder using the static domain and ERC-2771 call data by default
func NewRequestBuilder(signer ForwarderSigner, chain ChainReader, opts ...BuilderOption) *RequestBuilder {
	b := &RequestBuilder{
		signer:   signer,
		chain:    chain,
		resolver: StaticDomainResolver{},
		encoding: AppendSenderEncoding{},
		window:   DefaultDeadlineWindow,
		now:      time.Now,
		metrics:  metrics.NoopMetrics,
		log:      log.Root(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PrepareParams describes the call a sender wants relayed
type PrepareParams struct {
	To            common.Address
	Value         *big.Int
	Data          []byte
	Forwarder     common.Address
	ForwarderName string
	ChainID       *big.Int
	AccessKey     string

	// Nonce overrides the forwarder nonce when set
	Nonce *big.Int
}

func (p PrepareParams) validate() error {
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		return relay.NewRelayError(relay.ErrCodeInvalidRequest, "chain id must be positive", nil)
	}
	if !p.ChainID.IsUint64() {
		return relay.NewRelayError(relay.ErrCodeInvalidRequest, "chain id out of range", nil)
	}
	if p.Forwarder == (common.Address{}) {
		return relay.NewRelayError(relay.ErrCodeInvalidRequest, "forwarder address is required", nil)
	}
	if p.To == (common.Address{}) {
		return relay.NewRelayError(relay.ErrCodeInvalidRequest, "target address is required", nil)
	}
	if p.Value != nil && p.Value.Sign() < 0 {
		return relay.NewRelayError(relay.ErrCodeInvalidRequest, "value must not be negative", nil)
	}
	if p.Nonce != nil && p.Nonce.Sign() < 0 {
		return relay.NewRelayError(relay.ErrCodeInvalidRequest, "nonce must not be negative", nil)
	}
	return nil
}

// Sender returns the address requests are signed for
func (b *RequestBuilder) Sender() (common.Address, error) {
	addr := b.signer.Address()
	if !common.IsHexAddress(addr) {
		return common.Address{}, relay.NewRelayError(relay.ErrCodeSigningFailed, fmt.Sprintf("signer returned invalid address %q", addr), nil)
	}
	return common.HexToAddress(addr), nil
}

// FetchNonce reads nonces(sender) from the forwarder.
func (b *RequestBuilder) FetchNonce(ctx context.Context, forwarder, sender common.Address) (*big.Int, error) {
	result, err := b.chain.ReadContract(ctx, forwarder.Hex(), ForwarderNoncesABI, FunctionNonces, sender)
	if err != nil {
		return nil, relay.NewRelayError(relay.ErrCodeNonceFetchFailed, "failed to read forwarder nonce", err)
	}
	nonce, ok := result.(*big.Int)
	if !ok || nonce == nil {
		return nil, relay.NewRelayError(relay.ErrCodeNonceFetchFailed, fmt.Sprintf("unexpected nonce result type: %T", result), nil)
	}
	return new(big.Int).Set(nonce), nil
}

// PrepareRequest builds and signs a forward request.
//
// Without a nonce sequencer, concurrent calls for the same sender read the
// same on-chain nonce and produce colliding requests; only one of them can
// execute. Use WithNonceSequencer or PrepareBatch to coordinate.
func (b *RequestBuilder) PrepareRequest(ctx context.Context, p PrepareParams) (*relay.SignedRequest, error) {
	start := b.now()
	if err := p.validate(); err != nil {
		b.metrics.RecordPrepareFailure(relay.ErrorCode(err))
		return nil, err
	}
	sender, err := b.Sender()
	if err != nil {
		b.metrics.RecordPrepareFailure(relay.ErrorCode(err))
		return nil, err
	}

	pc := b.prepareContext(ctx, p, sender, start)
	if err := b.hooks.RunBefore(pc); err != nil {
		return nil, b.fail(pc, err)
	}

	var reservation *relay.Reservation
	nonce := p.Nonce
	if nonce == nil {
		nonce, reservation, err = b.acquireNonce(ctx, p, sender)
		if err != nil {
			return nil, b.fail(pc, err)
		}
	}

	req, err := b.sign(ctx, p, sender, nonce)
	if err != nil {
		if reservation != nil {
			reservation.Release()
		}
		return nil, b.fail(pc, err)
	}
	if reservation != nil {
		reservation.Commit()
	}

	b.succeed(pc, req)
	return req, nil
}

// PrepareBatch prepares every entry for the builder's sender and groups them
// into one batch submission.
//
// Entries without an explicit nonce that share a chain and forwarder get
// consecutive nonces from one coordinated acquisition. Gas estimation and
// signing then run concurrently. Any failure aborts the whole batch and
// releases the reserved nonces.
func (b *RequestBuilder) PrepareBatch(ctx context.Context, params []PrepareParams, refundReceiver common.Address) (*relay.BatchSubmission, error) {
	if len(params) == 0 {
		return nil, relay.NewRelayError(relay.ErrCodeInvalidRequest, "batch is empty", nil)
	}
	start := b.now()
	for i, p := range params {
		if err := p.validate(); err != nil {
			b.metrics.RecordPrepareFailure(relay.ErrorCode(err))
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
	}
	sender, err := b.Sender()
	if err != nil {
		b.metrics.RecordPrepareFailure(relay.ErrorCode(err))
		return nil, err
	}

	contexts := make([]relay.PrepareContext, len(params))
	for i, p := range params {
		contexts[i] = b.prepareContext(ctx, p, sender, start)
		if err := b.hooks.RunBefore(contexts[i]); err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, b.fail(contexts[i], err))
		}
	}

	nonces, reservations, err := b.assignBatchNonces(ctx, params, sender)
	if err != nil {
		for _, pc := range contexts {
			b.hooks.RunFailure(relay.PrepareFailureContext{PrepareContext: pc, Error: err, Duration: b.now().Sub(start)})
		}
		b.metrics.RecordPrepareFailure(relay.ErrorCode(err))
		return nil, err
	}
	releaseAll := func() {
		for _, r := range reservations {
			r.Release()
		}
	}

	signed := make([]*relay.SignedRequest, len(params))
	g, gctx := errgroup.WithContext(ctx)
	for i := range params {
		g.Go(func() error {
			req, err := b.sign(gctx, params[i], sender, nonces[i])
			if err != nil {
				return fmt.Errorf("batch entry %d: %w", i, err)
			}
			signed[i] = req
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		releaseAll()
		for _, pc := range contexts {
			b.hooks.RunFailure(relay.PrepareFailureContext{PrepareContext: pc, Error: err, Duration: b.now().Sub(start)})
		}
		b.metrics.RecordPrepareFailure(relay.ErrorCode(err))
		b.log.Warn("Batch preparation failed", "sender", sender, "entries", len(params), "err", err)
		return nil, err
	}
	for _, r := range reservations {
		r.Commit()
	}

	batch := &relay.BatchSubmission{
		Requests:       make([]relay.SignedRequest, len(signed)),
		RefundReceiver: refundReceiver,
	}
	for i, req := range signed {
		batch.Requests[i] = *req
		b.succeed(contexts[i], req)
	}
	return batch, nil
}

// assignBatchNonces resolves one nonce per entry. Explicit nonces are kept;
// the rest are numbered from a single acquisition per (chain, forwarder).
// Two entries ending up with the same nonce fail the batch.
func (b *RequestBuilder) assignBatchNonces(ctx context.Context, params []PrepareParams, sender common.Address) ([]*big.Int, []*relay.Reservation, error) {
	nonces := make([]*big.Int, len(params))
	groups := make(map[relay.NonceKey][]int)
	var order []relay.NonceKey
	for i, p := range params {
		if p.Nonce != nil {
			nonces[i] = new(big.Int).Set(p.Nonce)
			continue
		}
		key := relay.NonceKey{ChainID: p.ChainID.Uint64(), Forwarder: p.Forwarder, Sender: sender}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var reservations []*relay.Reservation
	for _, key := range order {
		idx := groups[key]
		forwarder := key.Forwarder
		fetch := func(ctx context.Context) (*big.Int, error) {
			return b.FetchNonce(ctx, forwarder, sender)
		}

		var base *big.Int
		if b.sequencer != nil {
			r, err := b.sequencer.ReserveRange(ctx, key, len(idx), fetch)
			if err != nil {
				for _, prev := range reservations {
					prev.Release()
				}
				return nil, nil, asNonceError(err)
			}
			reservations = append(reservations, r)
			base = r.First()
		} else {
			n, err := fetch(ctx)
			if err != nil {
				return nil, nil, err
			}
			base = n
		}
		for j, i := range idx {
			nonces[i] = new(big.Int).Add(base, big.NewInt(int64(j)))
		}
	}

	// The forwarder accepts each (sender, nonce) once, so an explicit nonce
	// may not land on another entry's nonce.
	type claim struct {
		key   relay.NonceKey
		nonce string
	}
	claimed := make(map[claim]int, len(params))
	for i, p := range params {
		c := claim{
			key:   relay.NonceKey{ChainID: p.ChainID.Uint64(), Forwarder: p.Forwarder, Sender: sender},
			nonce: nonces[i].String(),
		}
		if j, ok := claimed[c]; ok {
			for _, r := range reservations {
				r.Release()
			}
			return nil, nil, relay.NewRelayError(
				relay.ErrCodeInvalidRequest,
				fmt.Sprintf("batch entries %d and %d share nonce %s", j, i, c.nonce),
				nil,
			).WithDetails(map[string]interface{}{"nonce": c.nonce})
		}
		claimed[c] = i
	}
	return nonces, reservations, nil
}

func (b *RequestBuilder) acquireNonce(ctx context.Context, p PrepareParams, sender common.Address) (*big.Int, *relay.Reservation, error) {
	if b.sequencer == nil {
		nonce, err := b.FetchNonce(ctx, p.Forwarder, sender)
		return nonce, nil, err
	}
	key := relay.NonceKey{ChainID: p.ChainID.Uint64(), Forwarder: p.Forwarder, Sender: sender}
	r, err := b.sequencer.Reserve(ctx, key, func(ctx context.Context) (*big.Int, error) {
		return b.FetchNonce(ctx, p.Forwarder, sender)
	})
	if err != nil {
		return nil, nil, asNonceError(err)
	}
	return r.First(), r, nil
}

// sign runs the steps after the nonce: gas, deadline, domain, signature.
func (b *RequestBuilder) sign(ctx context.Context, p PrepareParams, sender common.Address, nonce *big.Int) (*relay.SignedRequest, error) {
	gas, err := EstimateForwardedGas(ctx, b.chain, b.encoding, ForwardedCall{
		From:      sender,
		To:        p.To,
		Value:     p.Value,
		Data:      p.Data,
		Forwarder: p.Forwarder,
	})
	if err != nil {
		return nil, err
	}

	deadline := big.NewInt(b.now().Add(b.window).Unix())

	domain, err := b.resolver.ResolveDomain(ctx, p.Forwarder.Hex(), p.ForwarderName, p.ChainID)
	if err != nil {
		var re *relay.RelayError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, relay.NewRelayError(relay.ErrCodeDomainResolutionFailed, "failed to resolve forwarder domain", err)
	}

	unsigned := relay.UnsignedRequest{
		From:     sender,
		To:       p.To,
		Value:    bigOrZero(p.Value),
		Data:     common.CopyBytes(nonNil(p.Data)),
		Gas:      gas,
		Deadline: deadline,
		Nonce:    new(big.Int).Set(nonce),
	}

	signature, err := b.signer.SignTypedData(
		ctx,
		domain,
		GetForwardRequestEIP712Types(domain),
		PrimaryTypeForwardRequest,
		ForwardRequestMessage(unsigned),
	)
	if err != nil {
		return nil, relay.NewRelayError(relay.ErrCodeSigningFailed, "failed to sign forward request", err)
	}
	if len(signature) != SignatureLength {
		return nil, relay.NewRelayError(relay.ErrCodeSigningFailed, fmt.Sprintf("invalid signature length: %d", len(signature)), nil)
	}

	return &relay.SignedRequest{
		UnsignedRequest: unsigned,
		ChainID:         new(big.Int).Set(p.ChainID),
		Signature:       common.CopyBytes(signature),
		AccessKey:       p.AccessKey,
	}, nil
}

func (b *RequestBuilder) prepareContext(ctx context.Context, p PrepareParams, sender common.Address, start time.Time) relay.PrepareContext {
	return relay.PrepareContext{
		Ctx:       ctx,
		Sender:    sender,
		To:        p.To,
		Value:     p.Value,
		Data:      p.Data,
		Forwarder: p.Forwarder,
		ChainID:   p.ChainID,
		Timestamp: start,
	}
}

func (b *RequestBuilder) fail(pc relay.PrepareContext, err error) error {
	d := b.now().Sub(pc.Timestamp)
	b.hooks.RunFailure(relay.PrepareFailureContext{PrepareContext: pc, Error: err, Duration: d})
	b.metrics.RecordPrepareFailure(relay.ErrorCode(err))
	b.log.Warn("Request preparation failed", "sender", pc.Sender, "to", pc.To, "forwarder", pc.Forwarder, "code", relay.ErrorCode(err), "err", err)
	return err
}

func (b *RequestBuilder) succeed(pc relay.PrepareContext, req *relay.SignedRequest) {
	d := b.now().Sub(pc.Timestamp)
	for _, err := range b.hooks.RunAfter(relay.PrepareResultContext{PrepareContext: pc, Result: req, Duration: d}) {
		b.log.Warn("After-prepare hook failed", "sender", pc.Sender, "err", err)
	}
	b.metrics.RecordPrepared(d)
	b.log.Debug("Prepared forward request", "sender", req.From, "to", req.To, "nonce", req.Nonce, "gas", req.Gas, "deadline", req.Deadline)
}

func asNonceError(err error) error {
	var re *relay.RelayError
	if errors.As(err, &re) {
		return err
	}
	return relay.NewRelayError(relay.ErrCodeNonceFetchFailed, "failed to reserve nonce", err)
}
