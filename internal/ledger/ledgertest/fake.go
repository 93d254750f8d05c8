// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/plenny-labs/dlsp/internal/ledger"
)

// Fake is a mutable in-memory ledger.
type Fake struct {
	mu      sync.Mutex
	txs     map[string]*ledger.Transaction
	blocks  map[string]*ledger.Block
	unspent map[string]*ledger.Output

	// Err, when set, is returned from every call.
	Err error
	// Calls counts calls per method name.
	Calls map[string]int
}

// New returns an empty ledger.
func New() *Fake {
	return &Fake{
		txs:     make(map[string]*ledger.Transaction),
		blocks:  make(map[string]*ledger.Block),
		unspent: make(map[string]*ledger.Output),
		Calls:   make(map[string]int),
	}
}

// AddMempoolTx registers an unconfirmed transaction.
func (f *Fake) AddMempoolTx(txid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[txid] = &ledger.Transaction{TxID: txid}
}

// AddBlock registers a confirmed block and marks its transactions confirmed.
func (f *Fake) AddBlock(hash string, height int64, confirmations int64, txids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[hash] = &ledger.Block{
		Hash:          hash,
		Height:        height,
		Confirmations: confirmations,
		TxIDs:         append([]string(nil), txids...),
	}
	for _, id := range txids {
		f.txs[id] = &ledger.Transaction{TxID: id, BlockHash: hash, Confirmations: uint64(confirmations)}
	}
}

// SetUnspent marks an output as unspent.
func (f *Fake) SetUnspent(txid string, index uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unspent[outKey(txid, index)] = &ledger.Output{Confirmations: 1, Value: 0.01}
}

// Spend removes an output from the unspent set.
func (f *Fake) Spend(txid string, index uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.unspent, outKey(txid, index))
}

// Transaction implements ledger.Client.
func (f *Fake) Transaction(_ context.Context, txid string) (*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Transaction"]++
	if f.Err != nil {
		return nil, f.Err
	}
	tx, ok := f.txs[txid]
	if !ok {
		return nil, fmt.Errorf("getrawtransaction %s: %w", txid, ledger.ErrNotFound)
	}
	cp := *tx
	return &cp, nil
}

// Block implements ledger.Client.
func (f *Fake) Block(_ context.Context, hash string) (*ledger.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Block"]++
	if f.Err != nil {
		return nil, f.Err
	}
	b, ok := f.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("getblock %s: %w", hash, ledger.ErrNotFound)
	}
	cp := *b
	cp.TxIDs = append([]string(nil), b.TxIDs...)
	return &cp, nil
}

// UnspentOutput implements ledger.Client.
func (f *Fake) UnspentOutput(_ context.Context, txid string, index uint32) (*ledger.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["UnspentOutput"]++
	if f.Err != nil {
		return nil, f.Err
	}
	out, ok := f.unspent[outKey(txid, index)]
	if !ok {
		return nil, nil
	}
	cp := *out
	return &cp, nil
}

// BlockchainInfo implements ledger.Client.
func (f *Fake) BlockchainInfo(context.Context) (*ledger.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return &ledger.Info{Chain: "regtest", Blocks: int32(len(f.blocks))}, nil
}

func outKey(txid string, index uint32) string {
	return fmt.Sprintf("%s:%d", txid, index)
}
