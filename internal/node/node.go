// Package node wires the coordinator to its collaborators and supervises
// the periodic tasks for the roles this account currently holds.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/plenny-labs/dlsp/config"
	"github.com/plenny-labs/dlsp/internal/coordinator"
	"github.com/plenny-labs/dlsp/internal/ledger"
	"github.com/plenny-labs/dlsp/internal/lightning"
	klog "github.com/plenny-labs/dlsp/internal/log"
	"github.com/plenny-labs/dlsp/internal/metrics"
	"github.com/plenny-labs/dlsp/internal/peerclient"
	"github.com/plenny-labs/dlsp/internal/registry"
	"github.com/plenny-labs/dlsp/internal/storage"
	"github.com/plenny-labs/dlsp/pkg/crypto"
)

// resubscribeDelay is the pause before re-opening a failed event
// subscription.
var resubscribeDelay = 10 * time.Second

// Options are the supervisor settings taken from configuration.
type Options struct {
	Intervals         map[string]time.Duration // keyed by coordinator task name
	AutoCloseChannels bool
	UnlockWallet      bool
	WalletPassword    []byte
	MetricsAddr       string
}

// Deps are the components a Node supervises.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Registry    registry.Registry
	Events      registry.EventSource // nil disables event subscriptions
	Lightning   lightning.Client
	Ledger      ledger.Client
	// Closers are released on Stop, in order.
	Closers []io.Closer
}

// Node is a running coordinator instance.
type Node struct {
	opts   Options
	logger zerolog.Logger

	coord    *coordinator.Coordinator
	registry registry.Registry
	events   registry.EventSource
	lnd      lightning.Client
	ledger   ledger.Client
	closers  []io.Closer

	metricsSrv *http.Server

	mu    sync.Mutex
	tasks map[string]*task
	roles Roles

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a Node from configuration. It performs all
// setup steps (logger, storage, key, registry, ledger, lightning) but does
// NOT start any task. Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		if err := os.MkdirAll(cfg.LogsDir(), 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(cfg.LogsDir(), "dlsp.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.Node

	var closers []io.Closer
	fail := func(err error) (*Node, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
		return nil, err
	}

	// ── 2. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.StoreDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.StoreDir(), err)
	}
	closers = append(closers, db)
	logger.Info().Str("path", cfg.StoreDir()).Msg("Database opened")

	// ── 3. Account key ──────────────────────────────────────────────
	key, err := crypto.LoadKey(cfg.Registry.Key)
	if err != nil {
		return fail(fmt.Errorf("load account key: %w", err))
	}
	logger.Info().Str("account", crypto.Address(key).Hex()).Msg("Account key loaded")

	// ── 4. Registry ─────────────────────────────────────────────────
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	contracts := registry.Addresses{
		Coordinator:       common.HexToAddress(cfg.Registry.Coordinator),
		OracleValidator:   common.HexToAddress(cfg.Registry.OracleValidator),
		Ocean:             common.HexToAddress(cfg.Registry.Ocean),
		ValidatorElection: common.HexToAddress(cfg.Registry.ValidatorElection),
		DappFactory:       common.HexToAddress(cfg.Registry.DappFactory),
	}
	reg, err := registry.Dial(ctx, cfg.Registry.RPC, cfg.Registry.L1RPC, key, registry.Config{
		ChainID:   big.NewInt(cfg.Registry.ChainID),
		Contracts: contracts,
		Retry: registry.RetryConfig{
			MaxRetries: cfg.Retry.MaxRetries,
			Interval:   cfg.Retry.Interval,
			Jitter:     cfg.Retry.Jitter,
		},
		ReceiptTimeout: cfg.Registry.ReceiptTimeout,
	})
	if err != nil {
		return fail(err)
	}

	var events registry.EventSource
	if cfg.Registry.WS != "" {
		sub, err := registry.DialEvents(ctx, cfg.Registry.WS, contracts)
		if err != nil {
			return fail(err)
		}
		events = sub
	} else {
		logger.Warn().Msg("No registry websocket configured, relying on periodic scans")
	}

	// ── 5. Ledger ───────────────────────────────────────────────────
	ledg, err := ledger.NewRPCClient(ledger.RPCConfig{
		Host:       cfg.Ledger.Host,
		User:       cfg.Ledger.User,
		Pass:       cfg.Ledger.Pass,
		DisableTLS: cfg.Ledger.DisableTLS,
	})
	if err != nil {
		return fail(fmt.Errorf("connect bitcoind: %w", err))
	}
	closers = append(closers, closerFunc(func() error { ledg.Close(); return nil }))

	// ── 6. Lightning ────────────────────────────────────────────────
	lnd, err := lightning.NewGRPCClient(lightning.GRPCConfig{
		Host:         cfg.LND.Host,
		TLSCertPath:  crypto.ExpandHome(cfg.LND.TLSCertPath),
		MacaroonPath: crypto.ExpandHome(cfg.LND.MacaroonPath),
		MacaroonHex:  cfg.LND.MacaroonHex,
		TargetConf:   cfg.LND.TargetConf,
	})
	if err != nil {
		return fail(fmt.Errorf("connect lnd: %w", err))
	}
	closers = append(closers, lnd)

	// ── 7. Coordinator ──────────────────────────────────────────────
	coord := coordinator.New(coordinator.Config{
		FailedAttemptsLimit: cfg.Coordinator.FailedAttemptsLimit,
		BaseDelay:           cfg.Coordinator.BaseDelay,
		ProcessingDelay:     cfg.Coordinator.ProcessingDelay,
		ItemTimeout:         cfg.Coordinator.ItemTimeout,
		AutoCloseChannels:   cfg.Coordinator.AutoCloseChannels,
		VerifySignatures:    cfg.Coordinator.VerifySignatures,
	}, coordinator.Deps{
		Registry:  reg,
		Ledger:    ledg,
		Lightning: lnd,
		DB:        db,
		Peers:     peerclient.New(cfg.Coordinator.PeerTimeout),
		Key:       key,
	})

	opts := Options{
		Intervals: map[string]time.Duration{
			coordinator.TaskPending:    cfg.Coordinator.PendingInterval,
			coordinator.TaskCapacity:   cfg.Coordinator.CapacityInterval,
			coordinator.TaskActive:     cfg.Coordinator.ActiveInterval,
			coordinator.TaskProfitless: cfg.Coordinator.ProfitlessInterval,
		},
		AutoCloseChannels: cfg.Coordinator.AutoCloseChannels,
		UnlockWallet:      cfg.LND.UnlockWallet,
		WalletPassword:    []byte(cfg.LND.WalletPassword),
		MetricsAddr:       cfg.Metrics.Addr,
	}
	return NewWithDeps(opts, Deps{
		Coordinator: coord,
		Registry:    reg,
		Events:      events,
		Lightning:   lnd,
		Ledger:      ledg,
		Closers:     closers,
	}), nil
}

// NewWithDeps creates a Node around already constructed components.
func NewWithDeps(opts Options, d Deps) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		opts:     opts,
		logger:   klog.Node,
		coord:    d.Coordinator,
		registry: d.Registry,
		events:   d.Events,
		lnd:      d.Lightning,
		ledger:   d.Ledger,
		closers:  d.Closers,
		ctx:      ctx,
		cancel:   cancel,
	}
	n.tasks = map[string]*task{
		coordinator.TaskPending:    n.newTask(coordinator.TaskPending, d.Coordinator.RunPendingCycle),
		coordinator.TaskActive:     n.newTask(coordinator.TaskActive, d.Coordinator.RunActiveCycle),
		coordinator.TaskCapacity:   n.newTask(coordinator.TaskCapacity, d.Coordinator.RunCapacityCycle),
		coordinator.TaskProfitless: n.newTask(coordinator.TaskProfitless, d.Coordinator.CloseProfitlessChannels),
	}
	return n
}

// Start checks the collaborators, evaluates this account's roles and
// starts the matching tasks and the event loop.
func (n *Node) Start() error {
	if err := n.checkHealth(n.ctx); err != nil {
		return err
	}

	if n.opts.MetricsAddr != "" {
		n.startMetrics()
	}

	if err := n.Restart(n.ctx); err != nil {
		return fmt.Errorf("evaluate roles: %w", err)
	}

	if n.events != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runEventLoop()
		}()
	}

	roles := n.Roles()
	n.logger.Info().
		Str("account", n.registry.Account().Hex()).
		Bool("validator", roles.Validator).
		Bool("maker", roles.Maker).
		Msg("Node started successfully")
	return nil
}

// Stop cancels all tasks and in-flight work and releases resources.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n.metricsSrv.Shutdown(ctx)
		cancel()
	}
	for _, c := range n.closers {
		if err := c.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Close failed")
		}
	}
	n.logger.Info().Msg("Goodbye!")
}

// Account is the address this node transacts with.
func (n *Node) Account() common.Address { return n.registry.Account() }

// RelayCapacityRequest submits a taker's signed capacity order with this
// node's maker account. The node need not be started.
func (n *Node) RelayCapacityRequest(ctx context.Context, o registry.CapacityOrder) (common.Hash, error) {
	return n.coord.RelayCapacityRequest(ctx, o)
}

// checkHealth unlocks the lnd wallet when configured and verifies that the
// bitcoin and lightning nodes answer.
func (n *Node) checkHealth(ctx context.Context) error {
	if n.opts.UnlockWallet {
		if len(n.opts.WalletPassword) == 0 {
			return errors.New("lnd wallet unlock requested without a password")
		}
		if err := n.lnd.UnlockWallet(ctx, n.opts.WalletPassword); err != nil {
			return fmt.Errorf("unlock lnd wallet: %w", err)
		}
		n.logger.Info().Msg("Lightning wallet unlocked")
	}

	info, err := n.ledger.BlockchainInfo(ctx)
	if err != nil {
		return fmt.Errorf("bitcoind health check: %w", err)
	}
	n.logger.Info().Str("chain", info.Chain).Int32("blocks", info.Blocks).Msg("Bitcoin node reachable")

	pubkey, err := n.lnd.IdentityPubkey(ctx)
	if err != nil {
		return fmt.Errorf("lnd health check: %w", err)
	}
	bal, err := n.lnd.WalletBalance(ctx)
	if err != nil {
		return fmt.Errorf("lnd wallet balance: %w", err)
	}
	n.logger.Info().
		Str("pubkey", pubkey).
		Int64("confirmed", bal.Confirmed).
		Int64("unconfirmed", bal.Unconfirmed).
		Msg("Lightning node reachable")
	return nil
}

func (n *Node) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	n.metricsSrv = &http.Server{
		Addr:              n.opts.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := n.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error().Err(err).Str("addr", n.opts.MetricsAddr).Msg("Metrics server failed")
		}
	}()
	n.logger.Info().Str("addr", n.opts.MetricsAddr).Msg("Metrics server started")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
