package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/plenny-labs/dlsp/internal/metrics"
	"github.com/plenny-labs/dlsp/internal/registry"
)

// Relay rejections. None of them reach the chain.
var (
	ErrWrongMaker      = errors.New("coordinator: order names a different maker account")
	ErrNotMaker        = errors.New("coordinator: account is not a liquidity maker")
	ErrNodeKeyMismatch = errors.New("coordinator: registered node key does not match lightning node")
)

// RelayCapacityRequest submits a taker's signed capacity order on-chain on
// the taker's behalf. The order must name this account as maker, the
// account must be a registered maker, and the node registered for it must
// be the lightning node this coordinator drives.
func (c *Coordinator) RelayCapacityRequest(ctx context.Context, o registry.CapacityOrder) (common.Hash, error) {
	log := c.logger.With().
		Str("owner", o.Owner.Hex()).
		Int64("capacity", o.Capacity).
		Logger()

	if o.MakerAddress != c.account {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrWrongMaker, o.MakerAddress.Hex())
	}

	makerIndex, err := c.registry.MakerIndex(ctx, c.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("maker index: %w", err)
	}
	if makerIndex == 0 {
		return common.Hash{}, ErrNotMaker
	}

	registered, err := c.registry.MakerNodePubkey(ctx, makerIndex)
	if err != nil {
		return common.Hash{}, fmt.Errorf("maker node: %w", err)
	}
	own, err := c.lnd.IdentityPubkey(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("lightning identity: %w", err)
	}
	if registered != own {
		return common.Hash{}, fmt.Errorf("%w: registered %q, node %q", ErrNodeKeyMismatch, registered, own)
	}

	nonce, err := c.registry.Nonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	log.Debug().Uint64("nonce", nonce).Msg("Relaying capacity request")

	tx, err := c.registry.RequestLightningCapacity(ctx, nonce, o)
	if err != nil {
		metrics.Submissions.WithLabelValues("order", "failed").Inc()
		return common.Hash{}, fmt.Errorf("request lightning capacity: %w", err)
	}
	metrics.Submissions.WithLabelValues("order", "ok").Inc()
	log.Info().Str("tx", tx.Hex()).Msg("Capacity request relayed")
	return tx, nil
}
