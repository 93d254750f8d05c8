package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/rs/zerolog"

	klog "github.com/plenny-labs/dlsp/internal/log"
)

// RPCConfig holds bitcoind JSON-RPC connection settings.
type RPCConfig struct {
	Host       string // host:port
	User       string
	Pass       string
	DisableTLS bool
}

// RPCClient implements Client over bitcoind's JSON-RPC interface.
type RPCClient struct {
	rpc    *rpcclient.Client
	logger zerolog.Logger
}

// NewRPCClient creates a client in HTTP POST mode. No request is made until
// the first call.
func NewRPCClient(cfg RPCConfig) (*RPCClient, error) {
	conn := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}
	c, err := rpcclient.New(conn, nil)
	if err != nil {
		return nil, fmt.Errorf("create bitcoind client: %w", err)
	}
	return &RPCClient{rpc: c, logger: klog.Ledger}, nil
}

// Transaction implements Client.
func (c *RPCClient) Transaction(ctx context.Context, txid string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("parse txid %q: %w", txid, err)
	}

	res, err := c.rpc.GetRawTransactionVerbose(hash)
	if err != nil {
		return nil, mapError(fmt.Sprintf("getrawtransaction %s", txid), err)
	}
	return &Transaction{
		TxID:          res.Txid,
		BlockHash:     res.BlockHash,
		Confirmations: res.Confirmations,
	}, nil
}

// Block implements Client.
func (c *RPCClient) Block(ctx context.Context, hash string) (*Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return nil, fmt.Errorf("parse block hash %q: %w", hash, err)
	}

	res, err := c.rpc.GetBlockVerbose(h)
	if err != nil {
		return nil, mapError(fmt.Sprintf("getblock %s", hash), err)
	}
	return &Block{
		Hash:          res.Hash,
		Height:        res.Height,
		Confirmations: res.Confirmations,
		TxIDs:         res.Tx,
	}, nil
}

// UnspentOutput implements Client.
func (c *RPCClient) UnspentOutput(ctx context.Context, txid string, index uint32) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("parse txid %q: %w", txid, err)
	}

	res, err := c.rpc.GetTxOut(hash, index, false)
	if err != nil {
		return nil, mapError(fmt.Sprintf("gettxout %s:%d", txid, index), err)
	}
	if res == nil {
		c.logger.Debug().Str("txid", txid).Uint32("index", index).Msg("Output spent or unknown")
		return nil, nil
	}
	return &Output{
		BestBlock:     res.BestBlock,
		Confirmations: res.Confirmations,
		Value:         res.Value,
		Coinbase:      res.Coinbase,
	}, nil
}

// BlockchainInfo implements Client.
func (c *RPCClient) BlockchainInfo(ctx context.Context) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := c.rpc.GetBlockChainInfo()
	if err != nil {
		return nil, mapError("getblockchaininfo", err)
	}
	return &Info{
		Chain:         res.Chain,
		Blocks:        res.Blocks,
		BestBlockHash: res.BestBlockHash,
	}, nil
}

// Close shuts down the underlying client.
func (c *RPCClient) Close() {
	c.rpc.Shutdown()
}

// mapError turns bitcoind's "no information available" code into ErrNotFound.
func mapError(op string, err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, rpcErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}
