package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentherd/bus"
	"github.com/hupe1980/agentherd/core"
	"github.com/hupe1980/agentherd/engine"
	"github.com/hupe1980/agentherd/logging"
	"github.com/hupe1980/agentherd/runtime"
	"github.com/hupe1980/agentherd/tool"
)

// Options configure a Manager.
type Options struct {
	// Bus routes all agent messages. A fresh bus is created when nil.
	Bus *bus.Bus
	// Tools is the shared capability registry, nil for none.
	Tools *tool.Registry
	// Console receives PRINT output; nil discards it.
	Console core.Console
	// Config carries the tunable surface; zero fields take defaults.
	Config core.Config
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// entry pairs a runtime with its manager-side bookkeeping. children grows
// only and keeps terminated IDs for audit.
type entry struct {
	rt       *runtime.Runtime
	children []core.AgentID
}

// Manager coordinates the whole agent population. Safe for concurrent use;
// it is handed to every runtime as its Coordinator.
type Manager struct {
	bus     *bus.Bus
	eng     engine.Engine
	tools   *tool.Registry
	console core.Console
	cfg     core.Config
	logger  logging.Logger

	mu      sync.RWMutex
	agents  map[core.AgentID]*entry
	order   []core.AgentID // insertion order, for stable snapshots
	stopped bool

	nextID atomic.Uint64
	cycles atomic.Uint64

	runCtx context.Context
	cancel context.CancelFunc

	stopOnce sync.Once

	spawned    atomic.Int64
	terminated atomic.Int64
	started    time.Time

	summarizing atomic.Bool
}

// Interface compliance (compile-time assertion)
var _ runtime.Coordinator = (*Manager)(nil)

// New constructs a Manager around a Decision Engine.
func New(eng engine.Engine, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Config: core.DefaultConfig(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Bus == nil {
		opts.Bus = bus.New(func(o *bus.Options) { o.Logger = opts.Logger })
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		bus:     opts.Bus,
		eng:     eng,
		tools:   opts.Tools,
		console: opts.Console,
		cfg:     opts.Config.WithDefaults(),
		logger:  opts.Logger,
		agents:  make(map[core.AgentID]*entry),
		runCtx:  ctx,
		cancel:  cancel,
		started: time.Now(),
	}
}

// Bus exposes the message bus, e.g. for front-end history rendering.
func (m *Manager) Bus() *bus.Bus { return m.bus }

// Genesis spawns the root agent. It is an ordinary spawn with no parent.
func (m *Manager) Genesis(ctx context.Context, mission string) (core.AgentID, error) {
	return m.Spawn(ctx, mission, "")
}

// Spawn implements runtime.Coordinator. It allocates a fresh ID, inserts
// the registry entry, subscribes the mailbox, links the parent's child set
// and starts the runtime on its own goroutine, atomic with respect to
// concurrent spawns and registry reads.
func (m *Manager) Spawn(ctx context.Context, mission string, parent core.AgentID) (core.AgentID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := core.AgentID(fmt.Sprintf("agent-%d", m.nextID.Add(1)))

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return "", fmt.Errorf("spawn %q: manager stopped", mission)
	}
	if _, exists := m.agents[id]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("spawn %s: %w", id, core.ErrDuplicateAgentID)
	}
	mailbox, err := m.bus.Subscribe(id)
	if err != nil {
		m.mu.Unlock()
		// Allocator and bus disagree on liveness: a core invariant is broken.
		return "", fmt.Errorf("spawn %s: %w", id, err)
	}

	rt := runtime.New(runtime.Params{
		ID:          id,
		ParentID:    parent,
		Mission:     mission,
		Mailbox:     mailbox,
		Bus:         m.bus,
		Coordinator: m,
		Engine:      m.eng,
		Tools:       m.tools,
		Console:     m.console,
		Config:      m.cfg,
		Logger:      m.logger,
		OnCycle:     m.noteCycle,
		OnTerminate: func(core.AgentID) { m.terminated.Add(1) },
	})
	m.agents[id] = &entry{rt: rt}
	m.order = append(m.order, id)
	if parent != "" {
		if pe, ok := m.agents[parent]; ok {
			pe.children = append(pe.children, id)
		}
	}
	m.mu.Unlock()

	m.spawned.Add(1)
	m.logger.Info("agent spawned", "agent_id", string(id), "parent", string(parent), "mission", mission)

	go rt.Run(m.runCtx)
	return id, nil
}

// Agents implements runtime.Coordinator: a consistent point-in-time
// snapshot of every registered agent, in spawn order.
func (m *Manager) Agents() []core.AgentInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.AgentInfo, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.infoLocked(id))
	}
	return out
}

// Info returns the snapshot of a single agent.
func (m *Manager) Info(id core.AgentID) (core.AgentInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.agents[id]; !ok {
		return core.AgentInfo{}, false
	}
	return m.infoLocked(id), true
}

func (m *Manager) infoLocked(id core.AgentID) core.AgentInfo {
	e := m.agents[id]
	children := make([]core.AgentID, len(e.children))
	copy(children, e.children)
	return core.AgentInfo{
		ID:       id,
		ParentID: e.rt.ParentID(),
		Mission:  e.rt.Mission(),
		State:    e.rt.State(),
		Children: children,
		Summary:  e.rt.WorkingMemory(),
	}
}

// Terminate force-terminates one agent. Unknown IDs and repeated calls are
// no-ops.
func (m *Manager) Terminate(id core.AgentID, reason string) {
	m.mu.RLock()
	e, ok := m.agents[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	e.rt.Terminate(reason)
}

// Stats returns population counters.
func (m *Manager) Stats() core.Stats {
	return core.Stats{
		Spawned:    int(m.spawned.Load()),
		Terminated: int(m.terminated.Load()),
		Started:    m.started,
	}
}

// Tree returns the parent/child forest, roots first in spawn order.
func (m *Manager) Tree() []*core.TreeNode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var roots []*core.TreeNode
	for _, id := range m.order {
		if m.agents[id].rt.ParentID() == "" {
			roots = append(roots, m.subtreeLocked(id))
		}
	}
	return roots
}

func (m *Manager) subtreeLocked(id core.AgentID) *core.TreeNode {
	node := &core.TreeNode{Info: m.infoLocked(id)}
	for _, child := range m.agents[id].children {
		if _, ok := m.agents[child]; ok {
			node.Children = append(node.Children, m.subtreeLocked(child))
		}
	}
	return node
}

// WaitForConvergence polls the registry until every agent is quiescent for
// ConvergenceDebounce consecutive polls: terminal, or suspended with an
// empty mailbox and no in-flight decision. It returns (false,
// core.ErrConvergenceTimeout) when the deadline elapses first.
func (m *Manager) WaitForConvergence(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.ConvergencePoll)
	defer ticker.Stop()

	streak := 0
	for {
		if m.quiescent() {
			streak++
			if streak >= m.cfg.ConvergenceDebounce {
				m.logger.Info("population converged", "agents", int(m.spawned.Load()))
				return true, nil
			}
		} else {
			streak = 0
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, fmt.Errorf("after %s: %w", timeout, core.ErrConvergenceTimeout)
		case <-ticker.C:
		}
	}
}

func (m *Manager) quiescent() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if !m.agents[id].rt.Idle() {
			return false
		}
	}
	return true
}

// Stop cancels the process-wide run context, which every runtime observes
// at its next suspension point, then waits up to the grace period for the
// loops to finish. Stragglers are force-marked Terminated and their
// mailboxes destroyed. Stop is idempotent.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		entries := make([]*entry, 0, len(m.order))
		for _, id := range m.order {
			entries = append(entries, m.agents[id])
		}
		m.mu.Unlock()

		m.logger.Info("stopping population", "agents", len(entries))
		m.cancel()

		graceCtx, cancel := context.WithTimeout(ctx, m.cfg.GracePeriod)
		defer cancel()

		g := new(errgroup.Group)
		for _, e := range entries {
			e := e
			g.Go(func() error {
				select {
				case <-e.rt.Done():
				case <-graceCtx.Done():
					m.logger.Warn("force terminating straggler", "agent_id", string(e.rt.ID()), "state", e.rt.State().String())
					e.rt.Terminate("forced shutdown")
				}
				return nil
			})
		}
		_ = g.Wait()

		stats := m.Stats()
		m.logger.Info("population stopped", "spawned", stats.Spawned, "terminated", stats.Terminated)
	})
	return nil
}
