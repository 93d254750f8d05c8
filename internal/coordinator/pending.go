package coordinator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/plenny-labs/dlsp/internal/chanid"
	"github.com/plenny-labs/dlsp/internal/lightning"
	"github.com/plenny-labs/dlsp/internal/metrics"
	"github.com/plenny-labs/dlsp/internal/peerclient"
	"github.com/plenny-labs/dlsp/internal/quorum"
	"github.com/plenny-labs/dlsp/internal/registry"
	"github.com/plenny-labs/dlsp/pkg/crypto"
)

// expired reports whether a channel applied for at block applied can no
// longer be confirmed at block current.
func expired(current, applied, period uint64) bool {
	return current > applied && current-applied > period
}

// expiryWindow fetches the current L1 height and the expiry period.
func (c *Coordinator) expiryWindow(ctx context.Context) (current, period uint64, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = c.registry.L1BlockNumber(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		period, err = c.registry.ExpirePeriod(gctx)
		return err
	})
	return current, period, g.Wait()
}

// ScanPendingChannels adds every requested, unexpired channel this node has
// not answered and has not given up on, and removes every other index.
func (c *Coordinator) ScanPendingChannels(ctx context.Context) error {
	count, err := c.registry.ChannelsCount(ctx)
	if err != nil {
		return fmt.Errorf("channels count: %w", err)
	}
	current, period, err := c.expiryWindow(ctx)
	if err != nil {
		return fmt.Errorf("expiry window: %w", err)
	}

	for idx := uint64(1); idx <= count; idx++ {
		ch, err := c.registry.Channel(ctx, idx)
		if err != nil {
			return fmt.Errorf("channel %d: %w", idx, err)
		}
		eligible, err := c.pendingEligible(ctx, ch, current, period)
		if err != nil {
			return err
		}
		if eligible {
			if c.Pending.Add(idx) {
				c.transition(TaskPending, idx, StateDiscovered)
			}
		} else {
			c.Pending.Remove(idx)
		}
	}
	c.logger.Info().Uints64("indexes", c.Pending.Snapshot()).Msg("Pending channels")
	return nil
}

func (c *Coordinator) pendingEligible(ctx context.Context, ch *registry.Channel, current, period uint64) (bool, error) {
	if ch.Status != registry.StatusRequested || expired(current, ch.AppliedDate, period) {
		return false, nil
	}
	fails, err := c.records.Failures(ch.Index)
	if err != nil {
		return false, err
	}
	if fails >= c.cfg.FailedAttemptsLimit {
		return false, nil
	}
	answered, err := c.registry.OpenAnswered(ctx, ch.Index, c.account)
	if err != nil {
		return false, fmt.Errorf("open answered %d: %w", ch.Index, err)
	}
	return !answered, nil
}

// ProcessPendingChannel runs one verification and quorum pass for a
// requested channel. Unexpected errors are counted against the index; once
// the count reaches the limit the index is dropped.
func (c *Coordinator) ProcessPendingChannel(ctx context.Context, idx uint64) Outcome {
	if !c.claim(TaskPending, idx) {
		return Retry
	}
	defer c.release(TaskPending, idx)

	out, err := c.processPending(ctx, idx)
	if err == nil {
		return c.finish(TaskPending, c.Pending, idx, out)
	}

	n, cerr := c.records.IncFailures(idx)
	if cerr != nil {
		c.logger.Error().Err(cerr).Uint64("index", idx).Msg("Failed to record failure")
	}
	ev := c.logger.Warn()
	if lightning.IsEdgeUnknown(err) {
		ev = c.logger.Debug()
	}
	ev.Err(err).Uint64("index", idx).Int("failures", n).Msg("Pending channel failed")

	if n >= c.cfg.FailedAttemptsLimit {
		c.logger.Warn().
			Uint64("index", idx).
			Int("failures", n).
			Msg("Retry budget exhausted, dropping pending channel")
		return c.finish(TaskPending, c.Pending, idx, Dropped)
	}
	return c.finish(TaskPending, c.Pending, idx, Retry)
}

func (c *Coordinator) processPending(ctx context.Context, idx uint64) (Outcome, error) {
	log := c.logger.With().Str("task", TaskPending).Uint64("index", idx).Logger()
	c.transition(TaskPending, idx, StateVerifying)

	answered, err := c.registry.OpenAnswered(ctx, idx, c.account)
	if err != nil {
		return Retry, fmt.Errorf("open answered: %w", err)
	}
	if answered {
		log.Debug().Msg("Already answered")
		return Dropped, nil
	}

	var (
		ch              *registry.Channel
		current, period uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ch, err = c.registry.Channel(gctx, idx)
		return err
	})
	g.Go(func() error {
		var err error
		current, period, err = c.expiryWindow(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Retry, fmt.Errorf("load channel: %w", err)
	}

	switch {
	case ch.Status == registry.StatusOpen:
		log.Debug().Msg("Channel already opened")
		return Dropped, nil
	case ch.Status != registry.StatusRequested:
		log.Debug().Stringer("status", ch.Status).Msg("Channel no longer pending")
		return Dropped, nil
	case expired(current, ch.AppliedDate, period):
		log.Info().
			Uint64("applied", ch.AppliedDate).
			Uint64("current", current).
			Uint64("period", period).
			Msg("Channel expired")
		return Dropped, nil
	}

	fails, err := c.records.Failures(idx)
	if err != nil {
		return Retry, err
	}
	if fails >= c.cfg.FailedAttemptsLimit {
		return Dropped, nil
	}

	ref, err := chanid.ParseFundingRef(ch.ChannelPoint)
	if err != nil {
		return Retry, err
	}
	channelID, err := c.resolver.Resolve(ctx, ref)
	if errors.Is(err, chanid.ErrResolutionPending) {
		log.Debug().Str("funding", ref.String()).Msg("Funding transaction not confirmed yet")
		return Retry, nil
	}
	if err != nil {
		return Retry, fmt.Errorf("resolve channel id: %w", err)
	}
	height, position, _ := chanid.Decompose(channelID)
	log.Debug().
		Uint64("channel_id", channelID).
		Uint64("height", height).
		Uint64("position", position).
		Msg("Channel id resolved")

	info, err := c.lnd.ChannelInfo(ctx, channelID)
	if errors.Is(err, lightning.ErrChannelUnknown) {
		log.Debug().Uint64("channel_id", channelID).Msg("No such channel info found yet")
		return Retry, nil
	}
	if err != nil {
		return Retry, fmt.Errorf("channel info: %w", err)
	}

	validators, minQuorum, err := c.electorate(ctx)
	if err != nil {
		return Retry, err
	}
	if len(validators) == 0 {
		log.Warn().Msg("There are no elected validators yet")
		return Retry, nil
	}

	c.transition(TaskPending, idx, StateAwaitingQuorum)
	req := quorum.Request{
		Key:     quorum.OpeningKey(channelID),
		Payload: peerclient.SignChannelOpeningRequest{ChannelIndex: idx, ChannelID: channelID},
	}
	if c.cfg.VerifySignatures {
		req.Digest = crypto.OpeningDigest(idx, info.Capacity, channelID, info.Node1Pub, info.Node2Pub)
	}
	bundle, err := c.quorum.Collect(ctx, req, validators, minQuorum)
	if err != nil {
		return Retry, err
	}
	if !quorum.IsReached(bundle, minQuorum) {
		log.Info().Int("have", len(bundle)).Int("need", minQuorum).Msg("Quorum not reached yet")
		return Retry, nil
	}

	sigs, err := quorum.Canonicalize(bundle)
	if err != nil {
		return Retry, err
	}
	nonce, err := c.registry.Nonce(ctx)
	if err != nil {
		return Retry, err
	}
	log.Info().
		Uint64("channel_id", channelID).
		Uint64("nonce", nonce).
		Int("signatures", len(sigs)).
		Msg("Confirm channel opening")
	tx, err := c.registry.ExecChannelOpening(ctx, nonce, registry.OpeningCommit{
		ChannelIndex: idx,
		Capacity:     info.Capacity,
		ChannelID:    channelID,
		Node1Pub:     info.Node1Pub,
		Node2Pub:     info.Node2Pub,
		Signatures:   sigs,
	})
	if err != nil {
		metrics.Submissions.WithLabelValues("opening", "failed").Inc()
		return Retry, fmt.Errorf("exec channel opening: %w", err)
	}
	metrics.Submissions.WithLabelValues("opening", "ok").Inc()
	log.Info().Str("tx", tx.Hex()).Msg("Channel opening committed")
	return Committed, nil
}
