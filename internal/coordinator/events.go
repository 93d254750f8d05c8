package coordinator

import (
	"github.com/plenny-labs/dlsp/internal/registry"
)

// Route feeds a registry event into the matching work set. Capacity events
// are only taken when they address this node's account. Index 0 never names
// a record and is ignored.
func (c *Coordinator) Route(ev registry.Event) {
	switch ev.Kind {
	case registry.ChannelOpeningPending, registry.ChannelOpeningCommit, registry.ChannelOpeningVerify:
		if ev.ChannelIndex == 0 {
			return
		}
		if c.Pending.Add(ev.ChannelIndex) {
			c.logger.Debug().Stringer("event", ev.Kind).Uint64("index", ev.ChannelIndex).Msg("Pending channel event")
		}
	case registry.ChannelOpeningConfirmed, registry.ChannelClosingCommit, registry.ChannelClosingVerify:
		if ev.ChannelIndex == 0 {
			return
		}
		if c.Active.Add(ev.ChannelIndex) {
			c.logger.Debug().Stringer("event", ev.Kind).Uint64("index", ev.ChannelIndex).Msg("Active channel event")
		}
	case registry.CapacityRequestPending:
		if ev.CapacityIndex != 0 && ev.Account == c.account && c.Capacity.Add(ev.CapacityIndex) {
			c.logger.Info().Uint64("index", ev.CapacityIndex).Msg("New capacity request received")
		}
	}
}
