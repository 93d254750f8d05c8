package coordinator

import (
	"context"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/plenny-labs/dlsp/internal/chanid"
	"github.com/plenny-labs/dlsp/internal/registry"
)

// CloseProfitlessChannels asks the channel node to close every open channel
// this maker funded whose remaining channel and capacity rewards are both
// exhausted. It does nothing unless auto-closing is enabled. Close failures
// are logged per channel.
func (c *Coordinator) CloseProfitlessChannels(ctx context.Context) error {
	if !c.cfg.AutoCloseChannels {
		return nil
	}
	c.logger.Info().Msg("Attempt to close profitless channels")

	var (
		requests []*registry.CapacityRequest
		channels []*registry.Channel
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		requests, err = c.allCapacityRequests(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		channels, err = c.allChannels(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		c.logger.Error().Err(err).Msg("Profitless channel scan failed")
		return err
	}

	byPoint := make(map[string]*registry.CapacityRequest, len(requests))
	for _, r := range requests {
		if r.ChannelPoint != "" {
			byPoint[r.ChannelPoint] = r
		}
	}

	for _, ch := range channels {
		req, ok := byPoint[ch.ChannelPoint]
		if !ok || req.MakerAddress != c.account || ch.Status != registry.StatusOpen {
			continue
		}
		if !profitless(ch.RewardAmount, req.PlennyReward) {
			continue
		}
		ref, err := chanid.ParseFundingRef(ch.ChannelPoint)
		if err != nil {
			c.logger.Warn().Err(err).Uint64("index", ch.Index).Msg("Bad channel point")
			continue
		}
		if err := c.lnd.CloseChannel(ctx, ref); err != nil {
			c.logger.Warn().Err(err).Str("funding", ref.String()).Msg("Channel closing attempt failed")
			continue
		}
		c.logger.Info().Uint64("index", ch.Index).Str("funding", ref.String()).Msg("Attempted channel closing")
	}
	return nil
}

func profitless(channelReward, capacityReward *big.Int) bool {
	sum := new(big.Int)
	if channelReward != nil {
		sum.Add(sum, channelReward)
	}
	if capacityReward != nil {
		sum.Add(sum, capacityReward)
	}
	return sum.Sign() == 0
}

func (c *Coordinator) allChannels(ctx context.Context) ([]*registry.Channel, error) {
	count, err := c.registry.ChannelsCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("channels count: %w", err)
	}
	out := make([]*registry.Channel, 0, count)
	for idx := uint64(1); idx <= count; idx++ {
		ch, err := c.registry.Channel(ctx, idx)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", idx, err)
		}
		out = append(out, ch)
	}
	return out, nil
}

func (c *Coordinator) allCapacityRequests(ctx context.Context) ([]*registry.CapacityRequest, error) {
	count, err := c.registry.CapacityRequestsCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("capacity requests count: %w", err)
	}
	out := make([]*registry.CapacityRequest, 0, count)
	for idx := uint64(1); idx <= count; idx++ {
		r, err := c.registry.CapacityRequest(ctx, idx)
		if err != nil {
			return nil, fmt.Errorf("capacity request %d: %w", idx, err)
		}
		out = append(out, r)
	}
	return out, nil
}
