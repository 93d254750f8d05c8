// Package lightning talks to the payment-channel node (lnd) backing this
// coordinator.
package lightning

import (
	"context"
	"errors"
	"strings"

	"github.com/plenny-labs/dlsp/internal/chanid"
)

// ErrChannelUnknown is returned by ChannelInfo when the node has no edge for
// the channel id yet.
var ErrChannelUnknown = errors.New("lightning: channel edge unknown")

// ChannelInfo is the graph edge the node reports for a channel id.
type ChannelInfo struct {
	ChannelID uint64
	ChanPoint string
	Capacity  int64
	Node1Pub  string
	Node2Pub  string
}

// OpenEvent is one update from an in-flight channel open. Exactly one field
// is meaningful per event.
type OpenEvent struct {
	Pending *chanid.FundingRef // funding transaction broadcast
	Open    bool               // channel reached the open state
	Err     error              // stream failed, no further events follow
}

// Balance is the on-chain wallet balance in satoshis.
type Balance struct {
	Total       int64
	Confirmed   int64
	Unconfirmed int64
}

// Client is the channel-node capability set used by the coordinator.
type Client interface {
	IdentityPubkey(ctx context.Context) (string, error)
	// ChannelInfo returns ErrChannelUnknown when the node has no edge yet.
	ChannelInfo(ctx context.Context, channelID uint64) (*ChannelInfo, error)
	// OpenChannel starts a channel open towards peer. The returned channel
	// is closed after a terminal event or when ctx is done.
	OpenChannel(ctx context.Context, peerPubkey string, capacitySats int64) (<-chan OpenEvent, error)
	CloseChannel(ctx context.Context, ref chanid.FundingRef) error
	// ConnectPeer is a no-op when the peer is already connected.
	ConnectPeer(ctx context.Context, pubkey, host string) error
	WalletBalance(ctx context.Context) (*Balance, error)
	// UnlockWallet succeeds when the wallet is already unlocked.
	UnlockWallet(ctx context.Context, password []byte) error
}

// IsEdgeUnknown reports whether err means the node does not know the
// channel edge yet. These are expected while the funding transaction
// propagates.
func IsEdgeUnknown(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChannelUnknown) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "edge not found") || strings.Contains(msg, "zombie")
}

// ParseNodeURL splits "pubkey@host:port" into its parts. A bare pubkey
// yields an empty host.
func ParseNodeURL(url string) (pubkey, host string) {
	pubkey, host, _ = strings.Cut(strings.TrimSpace(url), "@")
	return pubkey, host
}
