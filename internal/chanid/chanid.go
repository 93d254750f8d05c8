package chanid

import (
	"context"
	"errors"
	"fmt"

	"github.com/plenny-labs/dlsp/internal/ledger"
)

var (
	// ErrResolutionPending means the funding transaction is not confirmed
	// yet. Callers retry on a later cycle.
	ErrResolutionPending = errors.New("chanid: funding transaction not confirmed")
	// ErrNotFound means the ledger cannot locate the funding transaction.
	ErrNotFound = errors.New("chanid: funding transaction not found")
)

// Compose packs a confirmed position into a channel id:
// height in the top 24 bits, tx position in the next 24, output in the low 16.
func Compose(height, position uint64, output uint32) uint64 {
	return (height << 40) | (position << 16) | uint64(output)
}

// Decompose is the inverse of Compose.
func Decompose(id uint64) (height, position uint64, output uint32) {
	return id >> 40, (id >> 16) & 0xFFFFFF, uint32(id & 0xFFFF)
}

// Resolver looks up a funding transaction's confirming block and position.
type Resolver struct {
	ledger ledger.Client
}

// NewResolver creates a resolver backed by the given ledger.
func NewResolver(l ledger.Client) *Resolver {
	return &Resolver{ledger: l}
}

// Resolve returns the channel id for ref. Resolving against an unchanged
// ledger always yields the same id.
func (r *Resolver) Resolve(ctx context.Context, ref FundingRef) (uint64, error) {
	tx, err := r.ledger.Transaction(ctx, ref.TxID)
	if errors.Is(err, ledger.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, ref.TxID)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup funding tx: %w", err)
	}
	if !tx.Confirmed() {
		return 0, ErrResolutionPending
	}

	blk, err := r.ledger.Block(ctx, tx.BlockHash)
	if errors.Is(err, ledger.ErrNotFound) {
		// Reorged out between the two lookups.
		return 0, ErrResolutionPending
	}
	if err != nil {
		return 0, fmt.Errorf("lookup block %s: %w", tx.BlockHash, err)
	}
	if blk.Confirmations <= 0 {
		return 0, ErrResolutionPending
	}

	for pos, id := range blk.TxIDs {
		if id == ref.TxID {
			return Compose(uint64(blk.Height), uint64(pos), ref.Index), nil
		}
	}
	return 0, fmt.Errorf("%w: %s not in block %s", ErrNotFound, ref.TxID, blk.Hash)
}
