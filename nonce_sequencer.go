package relay

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NonceFetcher reads the current forwarder nonce for a sender.
type NonceFetcher func(ctx context.Context) (*big.Int, error)

// NonceKey identifies one nonce stream: a sender on one forwarder of one chain.
type NonceKey struct {
	ChainID   uint64
	Forwarder common.Address
	Sender    common.Address
}

func (k NonceKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.ChainID, k.Forwarder.Hex(), k.Sender.Hex())
}

// NonceSequencer serializes nonce acquisition per sender so that requests
// prepared concurrently for the same sender never share a nonce.
//
// A reservation starts from max(on-chain nonce, next local nonce). Senders
// that stay idle for longer than the TTL are forgotten so the local counter
// re-syncs with the chain, which matters once reserved nonces are abandoned
// without being released.
type NonceSequencer struct {
	mu      sync.Mutex
	senders map[NonceKey]*senderSlot
	ttl     time.Duration
	now     func() time.Time
}

type senderSlot struct {
	// lock is held for the whole fetch-and-reserve step of one caller
	lock     chan struct{}
	refs     int
	next     *big.Int
	lastUsed time.Time
}

// NewNonceSequencer creates a sequencer whose idle sender state expires after ttl.
func NewNonceSequencer(ttl time.Duration) *NonceSequencer {
	return &NonceSequencer{
		senders: make(map[NonceKey]*senderSlot),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Reservation is a block of consecutive nonces handed out by Reserve or ReserveRange.
type Reservation struct {
	seq   *NonceSequencer
	key   NonceKey
	first *big.Int
	count int64
	once  sync.Once
}

// First returns the first reserved nonce.
func (r *Reservation) First() *big.Int {
	return new(big.Int).Set(r.first)
}

// Nonce returns the i-th reserved nonce.
func (r *Reservation) Nonce(i int) *big.Int {
	return new(big.Int).Add(r.first, big.NewInt(int64(i)))
}

// Len returns the number of reserved nonces.
func (r *Reservation) Len() int {
	return int(r.count)
}

// Commit keeps the reservation. Committing or releasing twice is a no-op.
func (r *Reservation) Commit() {
	r.once.Do(func() {})
}

// Release returns the nonces to the sequencer if nothing was reserved after
// them. Otherwise the gap is left in place and closes when the sender state
// expires.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.seq.release(r.key, r.first, r.count)
	})
}

// Reserve reserves the next nonce for key.
func (s *NonceSequencer) Reserve(ctx context.Context, key NonceKey, fetch NonceFetcher) (*Reservation, error) {
	return s.ReserveRange(ctx, key, 1, fetch)
}

// ReserveRange reserves n consecutive nonces for key. fetch is called
// while the key is locked, so concurrent callers for one sender run one at
// a time.
func (s *NonceSequencer) ReserveRange(ctx context.Context, key NonceKey, n int, fetch NonceFetcher) (*Reservation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid nonce count: %d", n)
	}

	slot := s.acquire(key)
	defer s.unref(slot)

	select {
	case slot.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-slot.lock }()

	onChain, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if onChain == nil || onChain.Sign() < 0 {
		return nil, fmt.Errorf("invalid on-chain nonce: %v", onChain)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := new(big.Int).Set(onChain)
	if slot.next != nil && slot.next.Cmp(first) > 0 {
		first.Set(slot.next)
	}
	slot.next = new(big.Int).Add(first, big.NewInt(int64(n)))
	slot.lastUsed = s.now()

	s.cleanupExpiredLocked()

	return &Reservation{
		seq:   s,
		key:   key,
		first: first,
		count: int64(n),
	}, nil
}

// Peek returns the next local nonce for key, or nil if the key is unknown.
func (s *NonceSequencer) Peek(key NonceKey) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.senders[key]
	if !ok || slot.next == nil {
		return nil
	}
	return new(big.Int).Set(slot.next)
}

// Forget drops local state for key, forcing the next reservation to
// start from the on-chain nonce.
func (s *NonceSequencer) Forget(key NonceKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.senders, key)
}

func (s *NonceSequencer) acquire(key NonceKey) *senderSlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.senders[key]
	if !ok {
		slot = &senderSlot{lock: make(chan struct{}, 1)}
		s.senders[key] = slot
	}
	slot.refs++
	slot.lastUsed = s.now()
	return slot
}

func (s *NonceSequencer) unref(slot *senderSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot.refs--
}

func (s *NonceSequencer) release(key NonceKey, first *big.Int, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.senders[key]
	if !ok || slot.next == nil {
		return
	}
	end := new(big.Int).Add(first, big.NewInt(count))
	if slot.next.Cmp(end) == 0 {
		slot.next = new(big.Int).Set(first)
	}
}

// cleanupExpiredLocked removes idle senders. Must be called with mu held.
func (s *NonceSequencer) cleanupExpiredLocked() {
	if s.ttl <= 0 {
		return
	}
	now := s.now()
	for key, slot := range s.senders {
		if slot.refs == 0 && now.Sub(slot.lastUsed) > s.ttl {
			delete(s.senders, key)
		}
	}
}
