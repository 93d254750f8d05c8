package registry

import (
	"context"
	"sync"
)

// nonceManager hands out account nonces. Concurrent processors submit
// transactions from the same account, so a nonce is never handed out twice
// while the node's pending count lags behind.
type nonceManager struct {
	mu    sync.Mutex
	next  uint64
	valid bool
	fetch func(ctx context.Context) (uint64, error)
}

func newNonceManager(fetch func(ctx context.Context) (uint64, error)) *nonceManager {
	return &nonceManager{fetch: fetch}
}

// Next returns max(pending nonce, last handed out + 1).
func (n *nonceManager) Next(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	pending, err := n.fetch(ctx)
	if err != nil {
		return 0, err
	}
	if !n.valid || pending > n.next {
		n.next = pending
	}
	nonce := n.next
	n.next++
	n.valid = true
	return nonce, nil
}

// Reset forgets local state after a transaction failed to broadcast, so the
// next call resynchronizes with the node.
func (n *nonceManager) Reset() {
	n.mu.Lock()
	n.valid = false
	n.mu.Unlock()
}
