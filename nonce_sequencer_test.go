package relay

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var testKey = NonceKey{
	ChainID:   31337,
	Forwarder: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	Sender:    common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
}

func chainNonce(n int64) NonceFetcher {
	return func(context.Context) (*big.Int, error) {
		return big.NewInt(n), nil
	}
}

func TestNonceSequencer_Reserve_Sequential(t *testing.T) {
	seq := NewNonceSequencer(5 * time.Minute)
	ctx := context.Background()

	r1, err := seq.Reserve(ctx, testKey, chainNonce(5))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	r1.Commit()

	// Chain has not caught up yet; local counter wins
	r2, err := seq.Reserve(ctx, testKey, chainNonce(5))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	r2.Commit()

	if r1.First().Int64() != 5 || r2.First().Int64() != 6 {
		t.Errorf("Expected nonces 5 and 6, got %s and %s", r1.First(), r2.First())
	}
	if next := seq.Peek(testKey); next == nil || next.Int64() != 7 {
		t.Errorf("Expected next nonce 7, got %v", next)
	}
}

func TestNonceSequencer_Reserve_ChainAhead(t *testing.T) {
	seq := NewNonceSequencer(5 * time.Minute)
	ctx := context.Background()

	r, _ := seq.Reserve(ctx, testKey, chainNonce(1))
	r.Commit()

	r, err := seq.Reserve(ctx, testKey, chainNonce(10))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r.First().Int64() != 10 {
		t.Errorf("Expected on-chain nonce 10 to win, got %s", r.First())
	}
}

func TestNonceSequencer_Release(t *testing.T) {
	seq := NewNonceSequencer(5 * time.Minute)
	ctx := context.Background()

	r, _ := seq.Reserve(ctx, testKey, chainNonce(3))
	r.Release()

	r2, _ := seq.Reserve(ctx, testKey, chainNonce(3))
	if r2.First().Int64() != 3 {
		t.Errorf("Expected released nonce 3 to be reused, got %s", r2.First())
	}

	// Releasing a reservation that is no longer the latest leaves the gap
	r3, _ := seq.Reserve(ctx, testKey, chainNonce(3))
	r2.Release()
	if r3.First().Int64() != 4 {
		t.Fatalf("Expected nonce 4, got %s", r3.First())
	}
	if next := seq.Peek(testKey); next.Int64() != 5 {
		t.Errorf("Expected next nonce to stay 5, got %s", next)
	}

	// Second release is a no-op
	r3.Release()
	r3.Release()
	if next := seq.Peek(testKey); next.Int64() != 4 {
		t.Errorf("Expected next nonce 4 after release, got %s", next)
	}
}

func TestNonceSequencer_ReserveRange(t *testing.T) {
	seq := NewNonceSequencer(5 * time.Minute)

	r, err := seq.ReserveRange(context.Background(), testKey, 3, chainNonce(7))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r.Len() != 3 {
		t.Errorf("Expected 3 nonces, got %d", r.Len())
	}
	for i := 0; i < 3; i++ {
		if got := r.Nonce(i).Int64(); got != int64(7+i) {
			t.Errorf("Expected nonce %d at %d, got %d", 7+i, i, got)
		}
	}

	if _, err := seq.ReserveRange(context.Background(), testKey, 0, chainNonce(7)); err == nil {
		t.Error("Expected error for empty range")
	}
}

func TestNonceSequencer_KeysAreIndependent(t *testing.T) {
	seq := NewNonceSequencer(5 * time.Minute)
	ctx := context.Background()
	other := testKey
	other.Forwarder = common.HexToAddress("0x0000000000000000000000000000000000000001")

	r1, _ := seq.Reserve(ctx, testKey, chainNonce(0))
	r2, _ := seq.Reserve(ctx, other, chainNonce(0))
	if r1.First().Sign() != 0 || r2.First().Sign() != 0 {
		t.Errorf("Expected both forwarders to start at 0, got %s and %s", r1.First(), r2.First())
	}
}

func TestNonceSequencer_Concurrent(t *testing.T) {
	seq := NewNonceSequencer(5 * time.Minute)
	const workers = 25

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := seq.Reserve(context.Background(), testKey, chainNonce(0))
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			r.Commit()
			mu.Lock()
			defer mu.Unlock()
			n := r.First().Int64()
			if seen[n] {
				t.Errorf("Nonce %d handed out twice", n)
			}
			seen[n] = true
		}()
	}
	wg.Wait()

	for i := int64(0); i < workers; i++ {
		if !seen[i] {
			t.Errorf("Expected nonce %d to be reserved", i)
		}
	}
}

func TestNonceSequencer_FetchError(t *testing.T) {
	seq := NewNonceSequencer(5 * time.Minute)
	boom := errors.New("rpc down")

	_, err := seq.Reserve(context.Background(), testKey, func(context.Context) (*big.Int, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected fetch error, got %v", err)
	}
	if next := seq.Peek(testKey); next != nil {
		t.Errorf("Expected no local state after failed fetch, got %s", next)
	}
}

func TestNonceSequencer_ContextCancelledWhileWaiting(t *testing.T) {
	seq := NewNonceSequencer(5 * time.Minute)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	go func() {
		_, _ = seq.Reserve(context.Background(), testKey, func(context.Context) (*big.Int, error) {
			close(entered)
			<-unblock
			return big.NewInt(0), nil
		})
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := seq.Reserve(ctx, testKey, chainNonce(0))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	close(unblock)
}

func TestNonceSequencer_Expiry(t *testing.T) {
	seq := NewNonceSequencer(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	seq.now = func() time.Time { return now }
	ctx := context.Background()

	r, _ := seq.Reserve(ctx, testKey, chainNonce(4))
	r.Commit()

	// An abandoned reservation leaves the counter ahead of the chain
	now = now.Add(2 * time.Minute)
	other := testKey
	other.Sender = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	r2, _ := seq.Reserve(ctx, other, chainNonce(0))
	r2.Commit()

	if next := seq.Peek(testKey); next != nil {
		t.Errorf("Expected idle sender to be forgotten, got %s", next)
	}
	r3, _ := seq.Reserve(ctx, testKey, chainNonce(4))
	if r3.First().Int64() != 4 {
		t.Errorf("Expected re-sync with chain nonce 4, got %s", r3.First())
	}
}
