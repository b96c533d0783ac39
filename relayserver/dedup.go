package relayserver

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	relay "github.com/gasless-relayer/relay/go"
)

// SubmissionState is the result of checking the submission store.
type SubmissionState int

const (
	// SubmissionNew means no recorded result and no in-flight check.
	SubmissionNew SubmissionState = iota
	// SubmissionAccepted means the request was already accepted.
	SubmissionAccepted
	// SubmissionInFlight means another handler is checking the same request.
	SubmissionInFlight
)

// SubmissionStore deduplicates signed requests so that a client retrying
// after an unknown outcome gets the original status back.
// Implementations must be safe for concurrent use.
type SubmissionStore interface {
	// CheckAndMark atomically checks the store and marks key in-flight if
	// it is new.
	//
	// Returns:
	//   - SubmissionAccepted + status + nil: return the recorded status
	//   - SubmissionInFlight + nil + done: wait on done with WaitForResult
	//   - SubmissionNew + nil + done: the caller owns key and must call
	//     Complete or Fail with done
	CheckAndMark(key string) (SubmissionState, *relay.RequestStatus, chan struct{})

	// WaitForResult waits for an in-flight check to finish. A nil status
	// means it failed and the caller should check again.
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*relay.RequestStatus, error)

	// Complete records status for key and wakes waiters.
	Complete(key string, status *relay.RequestStatus, done chan struct{})

	// Fail drops the in-flight marker without recording anything.
	Fail(key string, done chan struct{})
}

// SubmissionKey identifies a signed request by every field the forwarder
// executes plus the signature.
func SubmissionKey(req *relay.SignedRequest) string {
	word := func(v *big.Int) []byte {
		if v == nil {
			return make([]byte, 32)
		}
		return common.LeftPadBytes(v.Bytes(), 32)
	}
	return crypto.Keccak256Hash(
		word(req.ChainID),
		req.From.Bytes(),
		req.To.Bytes(),
		word(req.Value),
		word(req.Gas),
		word(req.Nonce),
		word(req.Deadline),
		crypto.Keccak256(req.Data),
		req.Signature,
	).Hex()
}

// InMemoryStore is a SubmissionStore for a single relay instance.
// Accepted results expire after the TTL; expired entries are removed lazily.
type InMemoryStore struct {
	mu       sync.Mutex
	results  map[string]*relay.RequestStatus
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

var _ SubmissionStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates a store keeping accepted results for ttl.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		results:  make(map[string]*relay.RequestStatus),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
		now:      time.Now,
	}
}

// CheckAndMark implements SubmissionStore.
func (s *InMemoryStore) CheckAndMark(key string) (SubmissionState, *relay.RequestStatus, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.expiry[key]; ok {
		if s.now().Before(expiry) {
			if result, ok := s.results[key]; ok {
				return SubmissionAccepted, result, nil
			}
		}
		delete(s.results, key)
		delete(s.expiry, key)
	}

	if done, ok := s.inFlight[key]; ok {
		return SubmissionInFlight, nil, done
	}

	done := make(chan struct{})
	s.inFlight[key] = done
	return SubmissionNew, nil, done
}

// WaitForResult implements SubmissionStore.
func (s *InMemoryStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*relay.RequestStatus, error) {
	select {
	case <-done:
		return s.get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *InMemoryStore) get(key string) *relay.RequestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.expiry[key]
	if !ok {
		return nil
	}
	if s.now().After(expiry) {
		delete(s.results, key)
		delete(s.expiry, key)
		return nil
	}
	return s.results[key]
}

// Complete implements SubmissionStore.
func (s *InMemoryStore) Complete(key string, status *relay.RequestStatus, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[key] = status
	s.expiry[key] = s.now().Add(s.ttl)
	delete(s.inFlight, key)
	close(done)

	s.cleanupExpiredLocked()
}

// Fail implements SubmissionStore.
func (s *InMemoryStore) Fail(key string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
	close(done)
}

// cleanupExpiredLocked removes expired entries. Must be called with mu held.
func (s *InMemoryStore) cleanupExpiredLocked() {
	now := s.now()
	for key, expiry := range s.expiry {
		if now.After(expiry) {
			delete(s.results, key)
			delete(s.expiry, key)
		}
	}
}
