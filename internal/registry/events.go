package registry

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	klog "github.com/plenny-labs/dlsp/internal/log"
)

// EventKind identifies a registry notification.
type EventKind int

const (
	ChannelOpeningPending EventKind = iota + 1
	ChannelOpeningCommit
	ChannelOpeningVerify
	ChannelOpeningConfirmed
	ChannelClosingCommit
	ChannelClosingVerify
	CapacityRequestPending
	NewValidators
	MakerAdded
	MakerRemoved
)

var kindNames = map[EventKind]string{
	ChannelOpeningPending:   "LightningChannelOpeningPending",
	ChannelOpeningCommit:    "ChannelOpeningCommit",
	ChannelOpeningVerify:    "ChannelOpeningVerify",
	ChannelOpeningConfirmed: "LightningChannelOpeningConfirmed",
	ChannelClosingCommit:    "ChannelClosingCommit",
	ChannelClosingVerify:    "ChannelClosingVerify",
	CapacityRequestPending:  "CapacityRequestPending",
	NewValidators:           "NewValidators",
	MakerAdded:              "MakerAdded",
	MakerRemoved:            "MakerRemoved",
}

func (k EventKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a decoded registry notification. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind          EventKind
	ChannelIndex  uint64
	CapacityIndex uint64
	Account       common.Address // maker for capacity and maker events
	Created       bool
	NewValidators []common.Address
	BlockNumber   uint64
}

// EventSource delivers registry notifications. The event channel is closed
// when ctx is done or the subscription fails; a failure is reported on the
// error channel first.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan Event, <-chan error, error)
}

// LogFilterer opens a push subscription for contract logs.
// *ethclient.Client over a websocket satisfies it.
type LogFilterer interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

type eventDef struct {
	kind     EventKind
	contract *abi.ABI
	event    abi.Event
}

// LogSubscriber implements EventSource over contract logs.
type LogSubscriber struct {
	client    LogFilterer
	addresses []common.Address
	defs      map[common.Hash]eventDef
	logger    zerolog.Logger
}

// DialEvents connects a websocket client for event subscriptions.
func DialEvents(ctx context.Context, wsURL string, contracts Addresses) (*LogSubscriber, error) {
	c, err := ethclient.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("dial registry ws: %w", err)
	}
	return NewLogSubscriber(c, contracts), nil
}

// NewLogSubscriber creates an event source for the given contracts.
func NewLogSubscriber(client LogFilterer, contracts Addresses) *LogSubscriber {
	s := &LogSubscriber{
		client: client,
		addresses: []common.Address{
			contracts.Coordinator, contracts.OracleValidator, contracts.Ocean, contracts.ValidatorElection,
		},
		defs:   make(map[common.Hash]eventDef),
		logger: klog.Registry,
	}
	add := func(kind EventKind, a *abi.ABI) {
		ev := a.Events[kind.String()]
		s.defs[ev.ID] = eventDef{kind: kind, contract: a, event: ev}
	}
	add(ChannelOpeningPending, &CoordinatorABI)
	add(ChannelOpeningConfirmed, &CoordinatorABI)
	add(ChannelOpeningCommit, &OracleValidatorABI)
	add(ChannelOpeningVerify, &OracleValidatorABI)
	add(ChannelClosingCommit, &OracleValidatorABI)
	add(ChannelClosingVerify, &OracleValidatorABI)
	add(CapacityRequestPending, &OceanABI)
	add(MakerAdded, &OceanABI)
	add(MakerRemoved, &OceanABI)
	add(NewValidators, &ValidatorElectionABI)
	return s
}

// Subscribe implements EventSource.
func (s *LogSubscriber) Subscribe(ctx context.Context) (<-chan Event, <-chan error, error) {
	topics := make([]common.Hash, 0, len(s.defs))
	for id := range s.defs {
		topics = append(topics, id)
	}
	logs := make(chan types.Log, 64)
	sub, err := s.client.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: s.addresses,
		Topics:    [][]common.Hash{topics},
	}, logs)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe registry logs: %w", err)
	}

	events := make(chan Event, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					errs <- err
				}
				return
			case l := <-logs:
				if l.Removed {
					continue
				}
				ev, err := s.Decode(l)
				if err != nil {
					s.logger.Warn().Err(err).Str("tx", l.TxHash.Hex()).Msg("Undecodable registry log")
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, errs, nil
}

// Decode turns a contract log into an Event.
func (s *LogSubscriber) Decode(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return Event{}, fmt.Errorf("log without topics")
	}
	def, ok := s.defs[l.Topics[0]]
	if !ok {
		return Event{}, fmt.Errorf("unknown event %s", l.Topics[0].Hex())
	}

	fields := make(map[string]interface{})
	var indexed abi.Arguments
	for _, arg := range def.event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return Event{}, fmt.Errorf("parse %s topics: %w", def.kind, err)
	}
	if len(l.Data) > 0 {
		if err := def.event.Inputs.UnpackIntoMap(fields, l.Data); err != nil {
			return Event{}, fmt.Errorf("unpack %s: %w", def.kind, err)
		}
	}

	ev := Event{Kind: def.kind, BlockNumber: l.BlockNumber}
	var err error
	switch def.kind {
	case ChannelOpeningPending, ChannelOpeningConfirmed, ChannelOpeningCommit,
		ChannelOpeningVerify, ChannelClosingCommit, ChannelClosingVerify:
		if ev.ChannelIndex, err = indexField(fields, "channelIndex"); err != nil {
			return Event{}, fmt.Errorf("%s: %w", def.kind, err)
		}
	case CapacityRequestPending:
		if ev.CapacityIndex, err = indexField(fields, "capacityRequestIndex"); err != nil {
			return Event{}, fmt.Errorf("%s: %w", def.kind, err)
		}
		ev.Account, _ = fields["makerAddress"].(common.Address)
	case MakerAdded:
		ev.Account, _ = fields["account"].(common.Address)
		ev.Created, _ = fields["created"].(bool)
	case MakerRemoved:
		ev.Account, _ = fields["account"].(common.Address)
	case NewValidators:
		ev.NewValidators, _ = fields["newValidators"].([]common.Address)
	}
	return ev, nil
}

// indexField reads a record index. Indexes start at 1, so zero is invalid.
func indexField(fields map[string]interface{}, name string) (uint64, error) {
	v, ok := fields[name].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s missing", name)
	}
	if v.Sign() <= 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%s %s out of range", name, v)
	}
	return v.Uint64(), nil
}
