package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/plenny-labs/dlsp/internal/chanid"
	"github.com/plenny-labs/dlsp/internal/lightning"
	"github.com/plenny-labs/dlsp/internal/metrics"
)

// ScanCapacityRequests adds every pending capacity request addressed to this
// node's account and removes the rest.
func (c *Coordinator) ScanCapacityRequests(ctx context.Context) error {
	count, err := c.registry.CapacityRequestsCount(ctx)
	if err != nil {
		return fmt.Errorf("capacity requests count: %w", err)
	}
	for idx := uint64(1); idx <= count; idx++ {
		req, err := c.registry.CapacityRequest(ctx, idx)
		if err != nil {
			return fmt.Errorf("capacity request %d: %w", idx, err)
		}
		if req.MakerAddress == c.account && req.Pending() {
			if c.Capacity.Add(idx) {
				c.transition(TaskCapacity, idx, StateDiscovered)
			}
		} else {
			c.Capacity.Remove(idx)
		}
	}
	c.logger.Info().Uints64("indexes", c.Capacity.Snapshot()).Msg("Pending capacity requests")
	return nil
}

// ProcessCapacityRequest opens the requested channel and reports its
// funding reference on-chain. The reference is persisted before the
// on-chain call, so a restart resumes at the confirmation step instead of
// opening a second channel. A call for an index already in progress
// returns Retry without doing anything.
func (c *Coordinator) ProcessCapacityRequest(ctx context.Context, idx uint64) Outcome {
	if !c.claim(TaskCapacity, idx) {
		return Retry
	}
	defer c.release(TaskCapacity, idx)

	out, err := c.processCapacity(ctx, idx)
	if err != nil {
		c.logger.Warn().Err(err).Uint64("index", idx).Msg("Capacity request failed")
	}
	return c.finish(TaskCapacity, c.Capacity, idx, out)
}

func (c *Coordinator) processCapacity(ctx context.Context, idx uint64) (Outcome, error) {
	log := c.logger.With().Str("task", TaskCapacity).Uint64("index", idx).Logger()

	req, err := c.registry.CapacityRequest(ctx, idx)
	if err != nil {
		return Retry, fmt.Errorf("load capacity request: %w", err)
	}
	if !req.Pending() || req.MakerAddress != c.account {
		log.Debug().Uint64("status", req.Status).Msg("Capacity request no longer pending for this maker")
		if err := c.records.DeleteCapacityPoint(idx); err != nil {
			log.Warn().Err(err).Msg("Failed to clear channel point")
		}
		return Dropped, nil
	}

	ref, saved, err := c.records.CapacityPoint(idx)
	if err != nil {
		return Retry, err
	}
	if saved {
		log.Info().Str("funding", ref.String()).Msg("Resuming with saved channel point")
		return c.confirmCapacity(ctx, idx, ref)
	}

	c.transition(TaskCapacity, idx, StateOpening)
	pubkey, host := lightning.ParseNodeURL(req.NodeURL)
	if host != "" {
		if err := c.lnd.ConnectPeer(ctx, pubkey, host); err != nil {
			return Retry, err
		}
	}

	events, err := c.lnd.OpenChannel(ctx, pubkey, req.Capacity)
	if err != nil {
		return Retry, err
	}
	for ev := range events {
		switch {
		case ev.Err != nil:
			return Retry, ev.Err
		case ev.Pending != nil:
			if err := c.records.SaveCapacityPoint(idx, *ev.Pending); err != nil {
				return Retry, err
			}
			log.Info().Str("funding", ev.Pending.String()).Msg("Channel point saved")
			return c.confirmCapacity(ctx, idx, *ev.Pending)
		}
	}
	if err := ctx.Err(); err != nil {
		return Retry, err
	}
	return Retry, errors.New("open channel ended without a funding transaction")
}

func (c *Coordinator) confirmCapacity(ctx context.Context, idx uint64, ref chanid.FundingRef) (Outcome, error) {
	c.transition(TaskCapacity, idx, StateConfirming)

	nonce, err := c.registry.Nonce(ctx)
	if err != nil {
		return Retry, err
	}
	tx, err := c.registry.OpenChannelRequested(ctx, nonce, idx, ref.String())
	if err != nil {
		metrics.Submissions.WithLabelValues("capacity", "failed").Inc()
		return Retry, fmt.Errorf("open channel requested: %w", err)
	}
	metrics.Submissions.WithLabelValues("capacity", "ok").Inc()

	if err := c.records.DeleteCapacityPoint(idx); err != nil {
		c.logger.Warn().Err(err).Uint64("index", idx).Msg("Failed to clear channel point")
	}
	c.logger.Info().
		Uint64("index", idx).
		Str("funding", ref.String()).
		Str("tx", tx.Hex()).
		Msg("Capacity request fulfilled")
	return Committed, nil
}
