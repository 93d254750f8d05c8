// Package ledger reads transactions, blocks and unspent outputs from the
// base-layer bitcoin node.
package ledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the node has no record of a transaction or
// block.
var ErrNotFound = errors.New("ledger: not found")

// Transaction is the subset of a verbose raw transaction the coordinator
// needs.
type Transaction struct {
	TxID          string
	BlockHash     string // empty while unconfirmed
	Confirmations uint64
}

// Confirmed reports whether the transaction is included in a block.
func (t *Transaction) Confirmed() bool {
	return t.BlockHash != ""
}

// Block is a block header plus its ordered transaction ids.
type Block struct {
	Hash          string
	Height        int64
	Confirmations int64
	TxIDs         []string
}

// Output is an unspent transaction output.
type Output struct {
	BestBlock     string
	Confirmations int64
	Value         float64
	Coinbase      bool
}

// Info summarizes the node's view of the chain.
type Info struct {
	Chain         string
	Blocks        int32
	BestBlockHash string
}

// Client is the ledger capability set used by the coordinator.
type Client interface {
	// Transaction looks up a transaction by id. Returns ErrNotFound when the
	// node does not know it.
	Transaction(ctx context.Context, txid string) (*Transaction, error)
	// Block looks up a block by hash.
	Block(ctx context.Context, hash string) (*Block, error)
	// UnspentOutput returns the output if it is unspent, or (nil, nil) if it
	// has been spent or never existed.
	UnspentOutput(ctx context.Context, txid string, index uint32) (*Output, error)
	// BlockchainInfo is used for health checks.
	BlockchainInfo(ctx context.Context) (*Info, error)
}
