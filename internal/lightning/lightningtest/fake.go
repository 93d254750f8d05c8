// Package lightningtest provides an in-memory lightning.Client for tests.
package lightningtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plenny-labs/dlsp/internal/chanid"
	"github.com/plenny-labs/dlsp/internal/lightning"
)

// OpenCall records one OpenChannel invocation.
type OpenCall struct {
	Peer     string
	Capacity int64
}

// Fake is a scriptable channel node.
type Fake struct {
	mu sync.Mutex

	Pubkey   string
	channels map[uint64]*lightning.ChannelInfo

	// OpenEvents are emitted, in order, by every OpenChannel call.
	OpenEvents []lightning.OpenEvent
	// OpenDelay postpones the first OpenChannel event.
	OpenDelay time.Duration
	// OpenErr fails OpenChannel before any event is produced.
	OpenErr error
	// InfoErr, when set, is returned by ChannelInfo.
	InfoErr error
	// ConnectErr, when set, is returned by ConnectPeer.
	ConnectErr error

	Opens     []OpenCall
	Closes    []chanid.FundingRef
	Connects  []string
	InfoCalls int
	Unlocked  bool
}

// New returns a node with the given identity key.
func New(pubkey string) *Fake {
	return &Fake{Pubkey: pubkey, channels: make(map[uint64]*lightning.ChannelInfo)}
}

// AddChannel makes an edge visible to ChannelInfo.
func (f *Fake) AddChannel(info lightning.ChannelInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := info
	f.channels[info.ChannelID] = &cp
}

// OpenCount returns how many times OpenChannel was called.
func (f *Fake) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Opens)
}

// CloseCount returns how many times CloseChannel was called.
func (f *Fake) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Closes)
}

// IdentityPubkey implements lightning.Client.
func (f *Fake) IdentityPubkey(context.Context) (string, error) {
	return f.Pubkey, nil
}

// ChannelInfo implements lightning.Client.
func (f *Fake) ChannelInfo(_ context.Context, id uint64) (*lightning.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InfoCalls++
	if f.InfoErr != nil {
		return nil, f.InfoErr
	}
	info, ok := f.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", lightning.ErrChannelUnknown, id)
	}
	cp := *info
	return &cp, nil
}

// OpenChannel implements lightning.Client.
func (f *Fake) OpenChannel(_ context.Context, peer string, capacity int64) (<-chan lightning.OpenEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opens = append(f.Opens, OpenCall{Peer: peer, Capacity: capacity})
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	ch := make(chan lightning.OpenEvent, len(f.OpenEvents))
	events := append([]lightning.OpenEvent(nil), f.OpenEvents...)
	if f.OpenDelay <= 0 {
		for _, ev := range events {
			ch <- ev
		}
		close(ch)
		return ch, nil
	}
	go func(delay time.Duration) {
		time.Sleep(delay)
		for _, ev := range events {
			ch <- ev
		}
		close(ch)
	}(f.OpenDelay)
	return ch, nil
}

// CloseChannel implements lightning.Client.
func (f *Fake) CloseChannel(_ context.Context, ref chanid.FundingRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closes = append(f.Closes, ref)
	return nil
}

// ConnectPeer implements lightning.Client.
func (f *Fake) ConnectPeer(_ context.Context, pubkey, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connects = append(f.Connects, pubkey+"@"+host)
	return f.ConnectErr
}

// WalletBalance implements lightning.Client.
func (f *Fake) WalletBalance(context.Context) (*lightning.Balance, error) {
	return &lightning.Balance{Total: 1_000_000, Confirmed: 1_000_000}, nil
}

// UnlockWallet implements lightning.Client.
func (f *Fake) UnlockWallet(context.Context, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unlocked = true
	return nil
}
