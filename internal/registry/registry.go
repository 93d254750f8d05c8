// Package registry reads and transitions channel-lifecycle state held by the
// on-chain contracts, and streams the events they emit.
package registry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChannelStatus is the lifecycle state of a channel record.
type ChannelStatus uint8

const (
	StatusRequested ChannelStatus = 0
	StatusOpen      ChannelStatus = 1
	StatusClosed    ChannelStatus = 2
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusRequested:
		return "requested"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is a channel record. Indexes start at 1.
type Channel struct {
	Index         uint64
	Status        ChannelStatus
	ChannelPoint  string // txid:outputIndex
	AppliedDate   uint64 // L1 block number
	ConfirmedDate uint64
	RewardAmount  *big.Int
}

// CapacityRequest is a liquidity request addressed to a maker.
type CapacityRequest struct {
	Index        uint64
	Status       uint64 // 0 pending, >= 1 fulfilled
	MakerAddress common.Address
	Capacity     int64
	NodeURL      string
	ChannelPoint string
	PlennyReward *big.Int
}

// Pending reports whether the request still waits for a channel.
func (r *CapacityRequest) Pending() bool {
	return r.Status == 0
}

// OpeningCommit is the argument set of an execute-channel-opening call.
type OpeningCommit struct {
	ChannelIndex uint64
	Capacity     int64
	ChannelID    uint64
	Node1Pub     string
	Node2Pub     string
	Signatures   [][]byte
}

// ClosingCommit is the argument set of an execute-channel-closing call.
type ClosingCommit struct {
	ChannelIndex uint64
	ClosingTxID  string
	Signatures   [][]byte
}

// CapacityOrder is a taker's signed capacity request, submitted on the
// taker's behalf by the maker it names.
type CapacityOrder struct {
	NodeURL      string
	Capacity     int64
	MakerAddress common.Address
	Owner        common.Address
	OwnerNonce   *big.Int // taker's replay nonce, covered by Signature
	Signature    []byte
}

// Registry is the on-chain capability set used by the coordinator. Write
// calls take an explicit nonce obtained from Nonce and return once the
// transaction is mined.
type Registry interface {
	// Account is the address this node signs transactions with.
	Account() common.Address

	ChannelsCount(ctx context.Context) (uint64, error)
	Channel(ctx context.Context, index uint64) (*Channel, error)
	CapacityRequestsCount(ctx context.Context) (uint64, error)
	CapacityRequest(ctx context.Context, index uint64) (*CapacityRequest, error)

	// ExpirePeriod is the number of L1 blocks after which a requested
	// channel may no longer be confirmed.
	ExpirePeriod(ctx context.Context) (uint64, error)
	L1BlockNumber(ctx context.Context) (uint64, error)
	MinQuorum(ctx context.Context) (int, error)

	OpenAnswered(ctx context.Context, channelIndex uint64, validator common.Address) (bool, error)
	CloseAnswered(ctx context.Context, channelIndex uint64, validator common.Address) (bool, error)

	LatestElectionBlock(ctx context.Context) (uint64, error)
	ElectedValidators(ctx context.Context, electionBlock uint64) ([]common.Address, error)
	IsElectedValidator(ctx context.Context, electionBlock uint64, addr common.Address) (bool, error)
	IsOracleValidator(ctx context.Context, addr common.Address) (bool, error)
	IsMaker(ctx context.Context, addr common.Address) (bool, error)
	// MakerIndex returns the maker record index of addr, 0 if it is not a maker.
	MakerIndex(ctx context.Context, addr common.Address) (uint64, error)
	// MakerNodePubkey returns the identity key of the lightning node
	// registered for the maker record at makerIndex.
	MakerNodePubkey(ctx context.Context, makerIndex uint64) (string, error)
	ValidatorServiceURL(ctx context.Context, addr common.Address) (string, error)

	Nonce(ctx context.Context) (uint64, error)
	ExecChannelOpening(ctx context.Context, nonce uint64, c OpeningCommit) (common.Hash, error)
	ExecChannelClosing(ctx context.Context, nonce uint64, c ClosingCommit) (common.Hash, error)
	OpenChannelRequested(ctx context.Context, nonce uint64, capacityIndex uint64, channelPoint string) (common.Hash, error)
	RequestLightningCapacity(ctx context.Context, nonce uint64, o CapacityOrder) (common.Hash, error)
}
