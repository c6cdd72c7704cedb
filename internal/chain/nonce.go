package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PendingNonceSource is the one RPC call the sequencer needs.
type PendingNonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceSequencer hands out transaction nonces for a single signing key. All
// clients sharing the key share one sequencer, so no two in-flight
// transactions can race for the same nonce.
type NonceSequencer struct {
	mu     sync.Mutex
	next   uint64
	primed bool
}

func NewNonceSequencer() *NonceSequencer {
	return &NonceSequencer{}
}

// Reserve returns the next nonce and advances the counter. The first call
// primes the counter from the node's pending nonce.
func (s *NonceSequencer) Reserve(ctx context.Context, src PendingNonceSource, account common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		pending, err := src.PendingNonceAt(ctx, account)
		if err != nil {
			return nil, err
		}
		s.next = pending
		s.primed = true
	}

	nonce := s.next
	s.next++
	return new(big.Int).SetUint64(nonce), nil
}

// Invalidate forces the next Reserve to re-prime from the node. Called after
// a submission error, when the local counter may be ahead of the chain.
func (s *NonceSequencer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primed = false
}
