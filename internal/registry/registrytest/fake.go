// Package registrytest provides an in-memory registry.Registry and
// registry.EventSource for tests.
package registrytest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/plenny-labs/dlsp/internal/registry"
)

// Request records an OpenChannelRequested call.
type Request struct {
	CapacityIndex uint64
	ChannelPoint  string
	Nonce         uint64
}

// Fake is a scriptable registry. Zero-value fields behave like an empty
// chain; populate them before handing the fake to the code under test.
type Fake struct {
	mu sync.Mutex

	account common.Address

	channels   map[uint64]*registry.Channel
	capacity   map[uint64]*registry.CapacityRequest
	openAns    map[uint64]map[common.Address]bool
	closeAns   map[uint64]map[common.Address]bool
	serviceURL map[common.Address]string
	oracles    map[common.Address]bool
	makers     map[common.Address]uint64 // maker record index
	makerNodes map[uint64]string
	makerSeq   uint64

	BlockNumber   uint64
	Expire        uint64
	Quorum        int
	ElectionBlock uint64
	Elected       []common.Address

	// Errors injected into the matching calls.
	ReadErr    error
	OpenErr    error
	CloseErr   error
	RequestErr error
	OrderErr   error

	nonce    uint64
	Openings []registry.OpeningCommit
	Closings []registry.ClosingCommit
	Requests []Request
	Orders   []registry.CapacityOrder
	Nonces   []uint64
}

// New returns an empty registry owned by account.
func New(account common.Address) *Fake {
	return &Fake{
		account:    account,
		channels:   make(map[uint64]*registry.Channel),
		capacity:   make(map[uint64]*registry.CapacityRequest),
		openAns:    make(map[uint64]map[common.Address]bool),
		closeAns:   make(map[uint64]map[common.Address]bool),
		serviceURL: make(map[common.Address]string),
		oracles:    make(map[common.Address]bool),
		makers:     make(map[common.Address]uint64),
		makerNodes: make(map[uint64]string),
		Quorum:     1,
	}
}

// SetChannel stores a channel record.
func (f *Fake) SetChannel(c registry.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := c
	f.channels[c.Index] = &cp
}

// SetCapacityRequest stores a capacity request.
func (f *Fake) SetCapacityRequest(r registry.CapacityRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := r
	f.capacity[r.Index] = &cp
}

// SetServiceURL registers a validator's signing endpoint base URL.
func (f *Fake) SetServiceURL(addr common.Address, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serviceURL[addr] = url
}

// SetElected replaces the elected validator set.
func (f *Fake) SetElected(addrs ...common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Elected = append([]common.Address(nil), addrs...)
}

// SetOracle marks addr as a registered oracle validator.
func (f *Fake) SetOracle(addr common.Address, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oracles[addr] = ok
}

// SetMaker registers or removes addr as a liquidity maker. New makers get
// the next record index.
func (f *Fake) SetMaker(addr common.Address, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !ok {
		delete(f.makers, addr)
		return
	}
	if _, exists := f.makers[addr]; !exists {
		f.makerSeq++
		f.makers[addr] = f.makerSeq
	}
}

// SetMakerNode sets the lightning identity key registered for maker addr.
// addr must already be a maker.
func (f *Fake) SetMakerNode(addr common.Address, pubkey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makerNodes[f.makers[addr]] = pubkey
}

// OrderCount returns the number of RequestLightningCapacity submissions.
func (f *Fake) OrderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Orders)
}

// MarkOpenAnswered records that validator answered the opening of index.
func (f *Fake) MarkOpenAnswered(index uint64, validator common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mark(f.openAns, index, validator)
}

// MarkCloseAnswered records that validator answered the closing of index.
func (f *Fake) MarkCloseAnswered(index uint64, validator common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mark(f.closeAns, index, validator)
}

// OpeningCount returns the number of submitted openings.
func (f *Fake) OpeningCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Openings)
}

// ClosingCount returns the number of submitted closings.
func (f *Fake) ClosingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Closings)
}

// RequestCount returns the number of OpenChannelRequested submissions.
func (f *Fake) RequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}

func mark(m map[uint64]map[common.Address]bool, index uint64, addr common.Address) {
	if m[index] == nil {
		m[index] = make(map[common.Address]bool)
	}
	m[index][addr] = true
}

// Account implements registry.Registry.
func (f *Fake) Account() common.Address { return f.account }

// ChannelsCount implements registry.Registry.
func (f *Fake) ChannelsCount(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return 0, f.ReadErr
	}
	var n uint64
	for idx := range f.channels {
		if idx > n {
			n = idx
		}
	}
	return n, nil
}

// Channel implements registry.Registry.
func (f *Fake) Channel(_ context.Context, index uint64) (*registry.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	c, ok := f.channels[index]
	if !ok {
		return &registry.Channel{Index: index}, nil
	}
	cp := *c
	return &cp, nil
}

// CapacityRequestsCount implements registry.Registry.
func (f *Fake) CapacityRequestsCount(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return 0, f.ReadErr
	}
	var n uint64
	for idx := range f.capacity {
		if idx > n {
			n = idx
		}
	}
	return n, nil
}

// CapacityRequest implements registry.Registry.
func (f *Fake) CapacityRequest(_ context.Context, index uint64) (*registry.CapacityRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	r, ok := f.capacity[index]
	if !ok {
		return nil, fmt.Errorf("capacity request %d: not found", index)
	}
	cp := *r
	return &cp, nil
}

// ExpirePeriod implements registry.Registry.
func (f *Fake) ExpirePeriod(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Expire, f.ReadErr
}

// L1BlockNumber implements registry.Registry.
func (f *Fake) L1BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BlockNumber, f.ReadErr
}

// MinQuorum implements registry.Registry.
func (f *Fake) MinQuorum(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Quorum, f.ReadErr
}

// OpenAnswered implements registry.Registry.
func (f *Fake) OpenAnswered(_ context.Context, index uint64, v common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openAns[index][v], f.ReadErr
}

// CloseAnswered implements registry.Registry.
func (f *Fake) CloseAnswered(_ context.Context, index uint64, v common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeAns[index][v], f.ReadErr
}

// LatestElectionBlock implements registry.Registry.
func (f *Fake) LatestElectionBlock(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ElectionBlock, f.ReadErr
}

// ElectedValidators implements registry.Registry.
func (f *Fake) ElectedValidators(context.Context, uint64) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	return append([]common.Address(nil), f.Elected...), nil
}

// IsElectedValidator implements registry.Registry.
func (f *Fake) IsElectedValidator(_ context.Context, _ uint64, addr common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.Elected {
		if v == addr {
			return true, f.ReadErr
		}
	}
	return false, f.ReadErr
}

// IsOracleValidator implements registry.Registry.
func (f *Fake) IsOracleValidator(_ context.Context, addr common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.oracles[addr], f.ReadErr
}

// IsMaker implements registry.Registry.
func (f *Fake) IsMaker(_ context.Context, addr common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.makers[addr] > 0, f.ReadErr
}

// MakerIndex implements registry.Registry.
func (f *Fake) MakerIndex(_ context.Context, addr common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.makers[addr], f.ReadErr
}

// MakerNodePubkey implements registry.Registry.
func (f *Fake) MakerNodePubkey(_ context.Context, makerIndex uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.makerNodes[makerIndex], f.ReadErr
}

// RequestLightningCapacity implements registry.Registry.
func (f *Fake) RequestLightningCapacity(_ context.Context, nonce uint64, o registry.CapacityOrder) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OrderErr != nil {
		return common.Hash{}, f.OrderErr
	}
	f.Orders = append(f.Orders, o)
	f.Nonces = append(f.Nonces, nonce)
	return common.BigToHash(new(big.Int).SetUint64(nonce + 1)), nil
}

// ValidatorServiceURL implements registry.Registry.
func (f *Fake) ValidatorServiceURL(_ context.Context, addr common.Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url, ok := f.serviceURL[addr]
	if !ok {
		return "", fmt.Errorf("validator %s: no service url", addr.Hex())
	}
	return url, nil
}

// Nonce implements registry.Registry.
func (f *Fake) Nonce(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.nonce
	f.nonce++
	return n, nil
}

// ExecChannelOpening implements registry.Registry. A successful call marks
// the account as having answered.
func (f *Fake) ExecChannelOpening(_ context.Context, nonce uint64, c registry.OpeningCommit) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return common.Hash{}, f.OpenErr
	}
	f.Openings = append(f.Openings, c)
	f.Nonces = append(f.Nonces, nonce)
	mark(f.openAns, c.ChannelIndex, f.account)
	return common.BigToHash(new(big.Int).SetUint64(nonce + 1)), nil
}

// ExecChannelClosing implements registry.Registry.
func (f *Fake) ExecChannelClosing(_ context.Context, nonce uint64, c registry.ClosingCommit) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CloseErr != nil {
		return common.Hash{}, f.CloseErr
	}
	f.Closings = append(f.Closings, c)
	f.Nonces = append(f.Nonces, nonce)
	mark(f.closeAns, c.ChannelIndex, f.account)
	return common.BigToHash(new(big.Int).SetUint64(nonce + 1)), nil
}

// OpenChannelRequested implements registry.Registry. A successful call
// marks the request fulfilled.
func (f *Fake) OpenChannelRequested(_ context.Context, nonce uint64, index uint64, point string) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RequestErr != nil {
		return common.Hash{}, f.RequestErr
	}
	f.Requests = append(f.Requests, Request{CapacityIndex: index, ChannelPoint: point, Nonce: nonce})
	f.Nonces = append(f.Nonces, nonce)
	if r, ok := f.capacity[index]; ok {
		r.Status = 1
		r.ChannelPoint = point
	}
	return common.BigToHash(new(big.Int).SetUint64(nonce + 1)), nil
}

// Events is a manually driven registry.EventSource.
type Events struct {
	C    chan registry.Event
	Errs chan error
}

// NewEvents returns an event source with a buffered channel.
func NewEvents() *Events {
	return &Events{C: make(chan registry.Event, 16), Errs: make(chan error, 1)}
}

// Subscribe implements registry.EventSource.
func (e *Events) Subscribe(context.Context) (<-chan registry.Event, <-chan error, error) {
	return e.C, e.Errs, nil
}
