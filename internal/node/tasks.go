package node

import (
	"context"
	"time"
)

// task is a named periodic job. While started it runs once immediately and
// then on every tick. At most one run of a task exists at a time, across
// stop/start: a restarted loop waits for the previous loop's run to finish.
type task struct {
	name   string
	run    func(context.Context) error
	cancel context.CancelFunc // nil while stopped
	slot   chan struct{}      // holds a token while a run is in progress
}

func (n *Node) newTask(name string, run func(context.Context) error) *task {
	return &task{name: name, run: run, slot: make(chan struct{}, 1)}
}

// startTask starts the named task unless it is already running.
func (n *Node) startTask(name string) {
	n.mu.Lock()
	t := n.tasks[name]
	if t == nil || t.cancel != nil {
		n.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(n.ctx)
	t.cancel = cancel
	n.mu.Unlock()

	interval := n.opts.Intervals[name]
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	n.logger.Info().Str("task", name).Dur("interval", interval).Msg("Task started")

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runTask(loopCtx, t, interval)
	}()
}

// stopTask stops scheduling the named task. A run already in progress
// finishes; its items keep the node-wide context.
func (n *Node) stopTask(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := n.tasks[name]
	if t == nil || t.cancel == nil {
		return
	}
	t.cancel()
	t.cancel = nil
	n.logger.Info().Str("task", name).Msg("Task stopped")
}

func (n *Node) stopAllTasks() {
	for name := range n.tasks {
		n.stopTask(name)
	}
}

// Running reports whether the named task is scheduled.
func (n *Node) Running(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := n.tasks[name]
	return t != nil && t.cancel != nil
}

func (n *Node) runTask(loopCtx context.Context, t *task, interval time.Duration) {
	exec := func() {
		select {
		case t.slot <- struct{}{}:
		default:
			n.logger.Debug().Str("task", t.name).Msg("Previous run still in progress, waiting")
			select {
			case t.slot <- struct{}{}:
			case <-loopCtx.Done():
				return
			}
		}
		defer func() { <-t.slot }()

		// A loop stopped while it waited does not run.
		if loopCtx.Err() != nil {
			return
		}
		if err := t.run(n.ctx); err != nil {
			n.logger.Error().Err(err).Str("task", t.name).Msg("Task run failed")
		}
	}

	exec()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			exec()
		}
	}
}
