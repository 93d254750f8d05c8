// Package coordinator drives channel-lifecycle work items from discovery on
// the registry through verification, signature quorum and on-chain commit.
package coordinator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/plenny-labs/dlsp/internal/chanid"
	"github.com/plenny-labs/dlsp/internal/ledger"
	"github.com/plenny-labs/dlsp/internal/lightning"
	klog "github.com/plenny-labs/dlsp/internal/log"
	"github.com/plenny-labs/dlsp/internal/metrics"
	"github.com/plenny-labs/dlsp/internal/peerclient"
	"github.com/plenny-labs/dlsp/internal/quorum"
	"github.com/plenny-labs/dlsp/internal/registry"
	"github.com/plenny-labs/dlsp/internal/storage"
	"github.com/plenny-labs/dlsp/internal/worklist"
)

// Task names used in logs and metrics.
const (
	TaskPending    = "pending"
	TaskActive     = "active"
	TaskCapacity   = "capacity"
	TaskProfitless = "profitless"
)

// Keyspaces within the shared store.
var (
	bundlePrefix = []byte("sig/")
	recordPrefix = []byte("state/")
)

// Config holds processing parameters.
type Config struct {
	// FailedAttemptsLimit is the number of counted failures after which a
	// pending channel is no longer retried automatically.
	FailedAttemptsLimit int
	// BaseDelay and ProcessingDelay stagger item launches within a cycle:
	// item i starts after BaseDelay + i*ProcessingDelay.
	BaseDelay       time.Duration
	ProcessingDelay time.Duration
	// ItemTimeout bounds a single item's processing.
	ItemTimeout time.Duration
	// AutoCloseChannels enables closing of profitless channels.
	AutoCloseChannels bool
	// VerifySignatures requires peer signatures to recover to the
	// validator they were requested from.
	VerifySignatures bool
}

// DefaultConfig returns the default processing parameters.
func DefaultConfig() Config {
	return Config{
		FailedAttemptsLimit: 3,
		BaseDelay:           time.Second,
		ProcessingDelay:     time.Second,
		ItemTimeout:         5 * time.Minute,
		VerifySignatures:    true,
	}
}

// Deps are the collaborators a Coordinator works against.
type Deps struct {
	Registry  registry.Registry
	Ledger    ledger.Client
	Lightning lightning.Client
	DB        storage.DB
	Peers     peerclient.Requester
	// Key, when set, signs this node's own contribution locally.
	Key *ecdsa.PrivateKey
}

// Outcome is the result of processing one item once.
type Outcome int

const (
	// Retry leaves the item in its work set for the next cycle.
	Retry Outcome = iota
	// Committed means the on-chain transition was submitted and mined.
	Committed
	// Dropped means the item needs no further work from this node.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Retry:
		return "retry"
	case Committed:
		return "committed"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// State is a step of an item's processing, logged as it advances.
type State string

const (
	StateDiscovered     State = "discovered"
	StateVerifying      State = "verifying"
	StateAwaitingQuorum State = "awaiting_quorum"
	StateOpening        State = "opening"
	StateConfirming     State = "confirming"
	StateCommitted      State = "committed"
	StateDropped        State = "dropped"
)

// Coordinator owns the three work sets and processes their items.
type Coordinator struct {
	cfg      Config
	registry registry.Registry
	ledger   ledger.Client
	lnd      lightning.Client
	resolver *chanid.Resolver
	quorum   *quorum.Collector
	records  *records
	account  common.Address

	Pending  *worklist.Set
	Active   *worklist.Set
	Capacity *worklist.Set

	// Items being processed, keyed by task and index.
	mu       sync.Mutex
	inflight map[itemKey]struct{}

	logger zerolog.Logger
}

type itemKey struct {
	task  string
	index uint64
}

// New creates a coordinator.
func New(cfg Config, d Deps) *Coordinator {
	if cfg.FailedAttemptsLimit <= 0 {
		cfg.FailedAttemptsLimit = 3
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 5 * time.Minute
	}
	return &Coordinator{
		cfg:      cfg,
		registry: d.Registry,
		ledger:   d.Ledger,
		lnd:      d.Lightning,
		resolver: chanid.NewResolver(d.Ledger),
		quorum:   quorum.NewCollector(quorum.NewStore(storage.NewPrefixDB(d.DB, bundlePrefix)), d.Peers, d.Registry, d.Key),
		records:  &records{db: storage.NewPrefixDB(d.DB, recordPrefix)},
		account:  d.Registry.Account(),
		Pending:  worklist.New(TaskPending),
		Active:   worklist.New(TaskActive),
		Capacity: worklist.New(TaskCapacity),
		inflight: make(map[itemKey]struct{}),
		logger:   klog.Coordinator,
	}
}

// Config returns the processing parameters in effect.
func (c *Coordinator) Config() Config { return c.cfg }

// Failures returns the recorded failure count for a pending channel.
func (c *Coordinator) Failures(channelIndex uint64) (int, error) {
	return c.records.Failures(channelIndex)
}

// claim marks an item as being processed. It returns false if another
// caller already holds it; otherwise the caller must release it.
func (c *Coordinator) claim(task string, idx uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := itemKey{task, idx}
	if _, busy := c.inflight[k]; busy {
		c.logger.Debug().Str("task", task).Uint64("index", idx).Msg("Item already in progress, skipping")
		return false
	}
	c.inflight[k] = struct{}{}
	return true
}

func (c *Coordinator) release(task string, idx uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, itemKey{task, idx})
}

func (c *Coordinator) transition(task string, idx uint64, s State) {
	c.logger.Debug().Str("task", task).Uint64("index", idx).Str("state", string(s)).Msg("State")
}

func (c *Coordinator) finish(task string, set *worklist.Set, idx uint64, o Outcome) Outcome {
	switch o {
	case Committed:
		set.Remove(idx)
		c.transition(task, idx, StateCommitted)
	case Dropped:
		set.Remove(idx)
		c.transition(task, idx, StateDropped)
	}
	metrics.Outcomes.WithLabelValues(task, o.String()).Inc()
	return o
}

// electorate returns the current elected validators and quorum threshold.
func (c *Coordinator) electorate(ctx context.Context) ([]common.Address, int, error) {
	block, err := c.registry.LatestElectionBlock(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("latest election block: %w", err)
	}
	validators, err := c.registry.ElectedValidators(ctx, block)
	if err != nil {
		return nil, 0, fmt.Errorf("elected validators: %w", err)
	}
	q, err := c.registry.MinQuorum(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("min quorum: %w", err)
	}
	return validators, q, nil
}

// RunPendingCycle reconciles the pending-channel set and processes it.
func (c *Coordinator) RunPendingCycle(ctx context.Context) error {
	return c.runCycle(ctx, TaskPending, c.ScanPendingChannels, c.Pending, c.ProcessPendingChannel)
}

// RunActiveCycle reconciles the active-channel set and processes it.
func (c *Coordinator) RunActiveCycle(ctx context.Context) error {
	return c.runCycle(ctx, TaskActive, c.ScanActiveChannels, c.Active, c.ProcessActiveChannel)
}

// RunCapacityCycle reconciles the capacity-request set and processes it.
func (c *Coordinator) RunCapacityCycle(ctx context.Context) error {
	return c.runCycle(ctx, TaskCapacity, c.ScanCapacityRequests, c.Capacity, c.ProcessCapacityRequest)
}

// runCycle scans, then launches every item with a staggered delay and its
// own timeout, and waits for all of them. An item's failure never affects
// its siblings.
func (c *Coordinator) runCycle(
	ctx context.Context,
	task string,
	scan func(context.Context) error,
	set *worklist.Set,
	process func(context.Context, uint64) Outcome,
) error {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
	}()

	if err := scan(ctx); err != nil {
		c.logger.Error().Err(err).Str("task", task).Msg("Scan failed")
		return fmt.Errorf("scan %s: %w", task, err)
	}

	items := set.Snapshot()
	c.logger.Info().Str("task", task).Uints64("indexes", items).Msg("Processing work set")

	var wg sync.WaitGroup
	for i, idx := range items {
		delay := c.cfg.BaseDelay + time.Duration(i)*c.cfg.ProcessingDelay
		wg.Add(1)
		go func(idx uint64, delay time.Duration) {
			defer wg.Done()

			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}

			itemCtx, cancel := context.WithTimeout(ctx, c.cfg.ItemTimeout)
			defer cancel()
			process(itemCtx, idx)
		}(idx, delay)
	}
	wg.Wait()

	c.logger.Info().
		Str("task", task).
		Int("remaining", set.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("Cycle done")
	return nil
}
