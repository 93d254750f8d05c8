package node

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/plenny-labs/dlsp/internal/coordinator"
	"github.com/plenny-labs/dlsp/internal/registry"
)

// Roles are the duties this account currently holds on the registry.
type Roles struct {
	ElectionBlock uint64
	Validator     bool // registered oracle validator elected in the latest election
	Maker         bool
}

// EvaluateRoles queries the registry for this account's roles.
func (n *Node) EvaluateRoles(ctx context.Context) (Roles, error) {
	account := n.registry.Account()
	var (
		r       Roles
		oracle  bool
		elected bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		block, err := n.registry.LatestElectionBlock(gctx)
		if err != nil {
			return fmt.Errorf("latest election block: %w", err)
		}
		r.ElectionBlock = block
		elected, err = n.registry.IsElectedValidator(gctx, block, account)
		if err != nil {
			return fmt.Errorf("elected validator: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		oracle, err = n.registry.IsOracleValidator(gctx, account)
		if err != nil {
			return fmt.Errorf("oracle validator: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		r.Maker, err = n.registry.IsMaker(gctx, account)
		if err != nil {
			return fmt.Errorf("maker: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Roles{}, err
	}
	r.Validator = oracle && elected
	return r, nil
}

// Restart stops every task, re-evaluates roles and starts the tasks those
// roles call for.
func (n *Node) Restart(ctx context.Context) error {
	n.stopAllTasks()

	roles, err := n.EvaluateRoles(ctx)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.roles = roles
	n.mu.Unlock()

	n.logger.Info().
		Uint64("election_block", roles.ElectionBlock).
		Bool("validator", roles.Validator).
		Bool("maker", roles.Maker).
		Msg("Roles evaluated")

	if roles.Validator {
		n.startTask(coordinator.TaskPending)
		n.startTask(coordinator.TaskActive)
	} else {
		n.logger.Info().Msg("Not an elected validator, skipping channel verification")
	}
	if roles.Maker {
		n.startTask(coordinator.TaskCapacity)
		if n.opts.AutoCloseChannels {
			n.startTask(coordinator.TaskProfitless)
		}
	} else {
		n.logger.Info().Msg("Not a liquidity maker, skipping capacity requests")
	}
	return nil
}

// Roles returns the roles found by the last evaluation.
func (n *Node) Roles() Roles {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.roles
}

// restartNeeded reports whether ev changes this account's roles.
func restartNeeded(ev registry.Event, account common.Address) bool {
	switch ev.Kind {
	case registry.NewValidators:
		return len(ev.NewValidators) > 0
	case registry.MakerAdded:
		return ev.Account == account && ev.Created
	case registry.MakerRemoved:
		return ev.Account == account
	}
	return false
}
