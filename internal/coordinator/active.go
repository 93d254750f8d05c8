package coordinator

import (
	"context"
	"fmt"

	"github.com/plenny-labs/dlsp/internal/chanid"
	"github.com/plenny-labs/dlsp/internal/lightning"
	"github.com/plenny-labs/dlsp/internal/metrics"
	"github.com/plenny-labs/dlsp/internal/peerclient"
	"github.com/plenny-labs/dlsp/internal/quorum"
	"github.com/plenny-labs/dlsp/internal/registry"
	"github.com/plenny-labs/dlsp/pkg/crypto"
)

// ScanActiveChannels adds every open channel and removes closed ones.
func (c *Coordinator) ScanActiveChannels(ctx context.Context) error {
	count, err := c.registry.ChannelsCount(ctx)
	if err != nil {
		return fmt.Errorf("channels count: %w", err)
	}
	for idx := uint64(1); idx <= count; idx++ {
		ch, err := c.registry.Channel(ctx, idx)
		if err != nil {
			return fmt.Errorf("channel %d: %w", idx, err)
		}
		switch ch.Status {
		case registry.StatusOpen:
			if c.Active.Add(idx) {
				c.transition(TaskActive, idx, StateDiscovered)
			}
		case registry.StatusClosed:
			c.Active.Remove(idx)
		}
	}
	c.logger.Info().Uints64("indexes", c.Active.Snapshot()).Msg("Active channels")
	return nil
}

// ProcessActiveChannel checks whether an open channel's funding output has
// been spent and, if so, drives the closing quorum. Errors are logged and
// the index stays in the set.
func (c *Coordinator) ProcessActiveChannel(ctx context.Context, idx uint64) Outcome {
	if !c.claim(TaskActive, idx) {
		return Retry
	}
	defer c.release(TaskActive, idx)

	out, err := c.processActive(ctx, idx)
	if err != nil {
		ev := c.logger.Warn()
		if lightning.IsEdgeUnknown(err) {
			ev = c.logger.Debug()
		}
		ev.Err(err).Uint64("index", idx).Msg("Active channel failed")
	}
	return c.finish(TaskActive, c.Active, idx, out)
}

func (c *Coordinator) processActive(ctx context.Context, idx uint64) (Outcome, error) {
	log := c.logger.With().Str("task", TaskActive).Uint64("index", idx).Logger()
	c.transition(TaskActive, idx, StateVerifying)

	answered, err := c.registry.CloseAnswered(ctx, idx, c.account)
	if err != nil {
		return Retry, fmt.Errorf("close answered: %w", err)
	}
	if answered {
		log.Debug().Msg("Already answered")
		return Dropped, nil
	}

	ch, err := c.registry.Channel(ctx, idx)
	if err != nil {
		return Retry, fmt.Errorf("load channel: %w", err)
	}
	switch ch.Status {
	case registry.StatusClosed:
		log.Debug().Msg("Channel already closed")
		return Dropped, nil
	case registry.StatusRequested:
		// Not confirmed open yet; the opening confirmation event re-adds it.
		return Retry, nil
	}

	ref, err := chanid.ParseFundingRef(ch.ChannelPoint)
	if err != nil {
		return Retry, err
	}
	if _, err := c.ledger.Transaction(ctx, ref.TxID); err != nil {
		return Retry, fmt.Errorf("funding tx: %w", err)
	}
	out, err := c.ledger.UnspentOutput(ctx, ref.TxID, ref.Index)
	if err != nil {
		return Retry, fmt.Errorf("funding output: %w", err)
	}
	if out != nil {
		return Retry, nil
	}

	log.Info().Str("funding", ref.String()).Msg("Funding output spent, channel closed")
	return c.commitClosing(ctx, idx, ref.TxID)
}

// commitClosing collects closing signatures and, on quorum, submits the
// closing. The closing transaction is identified by the funding txid.
func (c *Coordinator) commitClosing(ctx context.Context, idx uint64, closingTxID string) (Outcome, error) {
	log := c.logger.With().Str("task", TaskActive).Uint64("index", idx).Logger()

	validators, minQuorum, err := c.electorate(ctx)
	if err != nil {
		return Retry, err
	}
	if len(validators) == 0 {
		log.Warn().Msg("There are no elected validators yet")
		return Retry, nil
	}

	c.transition(TaskActive, idx, StateAwaitingQuorum)
	req := quorum.Request{
		Key:     quorum.ClosingKey(idx),
		Payload: peerclient.SignChannelClosingRequest{ChannelIndex: idx, ClosingTxID: closingTxID},
	}
	if c.cfg.VerifySignatures {
		req.Digest = crypto.ClosingDigest(idx, closingTxID)
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
	tx, err := c.registry.ExecChannelClosing(ctx, nonce, registry.ClosingCommit{
		ChannelIndex: idx,
		ClosingTxID:  closingTxID,
		Signatures:   sigs,
	})
	if err != nil {
		metrics.Submissions.WithLabelValues("closing", "failed").Inc()
		return Retry, fmt.Errorf("exec channel closing: %w", err)
	}
	metrics.Submissions.WithLabelValues("closing", "ok").Inc()
	log.Info().Str("tx", tx.Hex()).Uint64("nonce", nonce).Msg("Channel closing committed")
	return Committed, nil
}
