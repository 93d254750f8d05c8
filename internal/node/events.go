package node

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/plenny-labs/dlsp/internal/registry"
)

// runEventLoop feeds registry events to the coordinator and restarts the
// role tasks when membership changes. A failed subscription is re-opened
// after resubscribeDelay.
func (n *Node) runEventLoop() {
	account := n.registry.Account()
	for {
		events, errs, err := n.events.Subscribe(n.ctx)
		if err != nil {
			n.logger.Warn().Err(err).Msg("Event subscription failed")
		} else {
			n.logger.Info().Msg("Subscribed to registry events")
			n.consume(events, errs, account)
		}

		select {
		case <-n.ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (n *Node) consume(events <-chan registry.Event, errs <-chan error, account common.Address) {
	for {
		select {
		case <-n.ctx.Done():
			return
		case err := <-errs:
			n.logger.Warn().Err(err).Msg("Event subscription dropped")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.logger.Debug().Stringer("event", ev.Kind).Uint64("block", ev.BlockNumber).Msg("Registry event")
			n.coord.Route(ev)
			if restartNeeded(ev, account) {
				n.logger.Info().Stringer("event", ev.Kind).Msg("Roles may have changed, restarting tasks")
				if err := n.Restart(n.ctx); err != nil {
					n.logger.Error().Err(err).Msg("Restart failed")
				}
			}
		}
	}
}
