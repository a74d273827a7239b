// Package agentherd provides a high-level façade over the agent population
// primitives (message bus, runtimes, manager) enabling rapid construction of
// self-organizing agent herds. Most applications interact with this package
// by:
//  1. Creating a Herd via New() around a Decision Engine
//  2. Seeding the population with a genesis mission (Genesis)
//  3. Waiting for the population to settle (WaitForConvergence)
//  4. Shutting everything down (Stop)
//
// The façade delegates coordination to manager.Manager while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a structured logger
// and tune core.Config.
package agentherd

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentherd/bus"
	"github.com/hupe1980/agentherd/core"
	"github.com/hupe1980/agentherd/engine"
	"github.com/hupe1980/agentherd/logging"
	"github.com/hupe1980/agentherd/manager"
	"github.com/hupe1980/agentherd/tool"
)

// Options configures the Herd instance.
type Options struct {
	// Config carries the tunable surface; zero fields take defaults.
	Config core.Config

	// Tools is the shared capability registry exposed to every agent via the
	// TOOL action. Nil disables the capability.
	Tools *tool.Registry

	// Console receives PRINT output. Defaults to stdout.
	Console core.Console

	// Bus overrides the message bus (defaults to a fresh in-memory bus).
	Bus *bus.Bus

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Herd is the high-level façade aggregating the manager, bus and engine.
type Herd struct {
	opts    Options
	manager *manager.Manager
}

// StdoutConsole prints agent output prefixed with the agent's ID.
func StdoutConsole() core.Console {
	return core.ConsoleFunc(func(from core.AgentID, text string) {
		fmt.Printf("[%s] %s\n", from, text)
	})
}

// New creates a new Herd around a Decision Engine with optional overrides.
func New(eng engine.Engine, optFns ...func(o *Options)) *Herd {
	opts := Options{
		Config:  core.DefaultConfig(),
		Console: StdoutConsole(),
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	m := manager.New(eng, func(o *manager.Options) {
		o.Bus = opts.Bus
		o.Tools = opts.Tools
		o.Console = opts.Console
		o.Config = opts.Config
		o.Logger = opts.Logger
	})

	return &Herd{opts: opts, manager: m}
}

// Genesis spawns the root agent with the given mission and returns its ID.
func (h *Herd) Genesis(ctx context.Context, mission string) (core.AgentID, error) {
	return h.manager.Genesis(ctx, mission)
}

// Spawn adds an agent to the population without a parent, alongside any
// existing roots.
func (h *Herd) Spawn(ctx context.Context, mission string) (core.AgentID, error) {
	return h.manager.Spawn(ctx, mission, "")
}

// WaitForConvergence blocks until the whole population is quiescent or the
// timeout elapses.
func (h *Herd) WaitForConvergence(ctx context.Context, timeout time.Duration) (bool, error) {
	return h.manager.WaitForConvergence(ctx, timeout)
}

// Run is a synchronous helper: it seeds the genesis agent, waits for
// convergence and stops the population. The returned infos are the final
// registry snapshot.
func (h *Herd) Run(ctx context.Context, mission string, timeout time.Duration) ([]core.AgentInfo, error) {
	if _, err := h.manager.Genesis(ctx, mission); err != nil {
		return nil, err
	}
	_, convErr := h.manager.WaitForConvergence(ctx, timeout)
	if err := h.manager.Stop(ctx); err != nil {
		return h.manager.Agents(), err
	}
	return h.manager.Agents(), convErr
}

// Stop gracefully shuts the population down.
func (h *Herd) Stop(ctx context.Context) error {
	return h.manager.Stop(ctx)
}

// Agents returns a point-in-time snapshot of the registry.
func (h *Herd) Agents() []core.AgentInfo { return h.manager.Agents() }

// Info returns the snapshot of a single agent.
func (h *Herd) Info(id core.AgentID) (core.AgentInfo, bool) { return h.manager.Info(id) }

// Terminate force-terminates one agent.
func (h *Herd) Terminate(id core.AgentID, reason string) { h.manager.Terminate(id, reason) }

// Stats returns population counters.
func (h *Herd) Stats() core.Stats { return h.manager.Stats() }

// Tree returns the parent/child forest.
func (h *Herd) Tree() []*core.TreeNode { return h.manager.Tree() }

// Bus exposes the underlying message bus, e.g. for history rendering.
func (h *Herd) Bus() *bus.Bus { return h.manager.Bus() }
