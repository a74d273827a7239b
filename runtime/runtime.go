package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentherd/action"
	"github.com/hupe1980/agentherd/bus"
	"github.com/hupe1980/agentherd/core"
	"github.com/hupe1980/agentherd/engine"
	"github.com/hupe1980/agentherd/logging"
	"github.com/hupe1980/agentherd/tool"
)

// Coordinator is the slice of the manager a runtime is allowed to see:
// spawning children and reading registry snapshots. Keeping it an interface
// breaks the runtime/manager dependency cycle and lets tests supply fakes.
type Coordinator interface {
	// Spawn atomically registers and starts a child agent, linking it to
	// parent, and returns the fresh ID.
	Spawn(ctx context.Context, mission string, parent core.AgentID) (core.AgentID, error)

	// Agents returns a point-in-time snapshot of the registry.
	Agents() []core.AgentInfo
}

// Params wires a Runtime. ID, Mission, Mailbox, Bus, Coordinator and Engine
// are required; everything else has a safe default.
type Params struct {
	ID       core.AgentID
	ParentID core.AgentID // empty for the genesis agent
	Mission  string

	Mailbox     *bus.Mailbox
	Bus         *bus.Bus
	Coordinator Coordinator
	Engine      engine.Engine

	Tools   *tool.Registry // nil means no TOOL capability
	Console core.Console   // nil discards PRINT output
	Config  core.Config
	Logger  logging.Logger

	// OnCycle is invoked once per completed decision cycle; the manager uses
	// it to drive the population-wide summarization cadence.
	OnCycle func()
	// OnTerminate is invoked exactly once when the runtime reaches a
	// terminal state.
	OnTerminate func(id core.AgentID)
}

// Runtime drives one agent. All exported methods are safe for concurrent
// use; the loop itself runs on a single goroutine started by the manager.
type Runtime struct {
	id       core.AgentID
	parentID core.AgentID
	mission  string

	mailbox *bus.Mailbox
	bus     *bus.Bus
	coord   Coordinator
	eng     engine.Engine
	tools   *tool.Registry
	console core.Console
	cfg     core.Config
	logger  logging.Logger

	onCycle     func()
	onTerminate func(core.AgentID)

	history *core.History

	memMu  sync.RWMutex
	memory string

	stateMu sync.Mutex
	state   core.State

	termOnce sync.Once
	done     chan struct{}

	inbox []core.Message // loop-goroutine private; full retention
}

// New constructs a Runtime in StateSpawning with its history seeded with the
// mission text.
func New(p Params) *Runtime {
	if p.Logger == nil {
		p.Logger = logging.NoOpLogger{}
	}
	if p.Console == nil {
		p.Console = core.ConsoleFunc(func(core.AgentID, string) {})
	}
	if p.OnCycle == nil {
		p.OnCycle = func() {}
	}
	if p.OnTerminate == nil {
		p.OnTerminate = func(core.AgentID) {}
	}
	r := &Runtime{
		id:          p.ID,
		parentID:    p.ParentID,
		mission:     p.Mission,
		mailbox:     p.Mailbox,
		bus:         p.Bus,
		coord:       p.Coordinator,
		eng:         p.Engine,
		tools:       p.Tools,
		console:     p.Console,
		cfg:         p.Config.WithDefaults(),
		logger:      p.Logger,
		onCycle:     p.OnCycle,
		onTerminate: p.OnTerminate,
		history:     core.NewHistory(),
		state:       core.StateSpawning,
		done:        make(chan struct{}),
	}
	r.history.Append(core.HistoryMission, p.Mission)
	return r
}

// ID returns the agent's unique identifier.
func (r *Runtime) ID() core.AgentID { return r.id }

// ParentID returns the spawning agent's ID, empty for the genesis agent.
func (r *Runtime) ParentID() core.AgentID { return r.parentID }

// Mission returns the immutable mission text.
func (r *Runtime) Mission() string { return r.mission }

// History returns the append-only history log.
func (r *Runtime) History() *core.History { return r.history }

// State returns the current lifecycle state.
func (r *Runtime) State() core.State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

// setState transitions unless already terminal; terminal states absorb.
func (r *Runtime) setState(s core.State) bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.state.Terminal() {
		return false
	}
	r.state = s
	return true
}

// WorkingMemory returns the current bounded summary snapshot.
func (r *Runtime) WorkingMemory() string {
	r.memMu.RLock()
	defer r.memMu.RUnlock()
	return r.memory
}

// SetWorkingMemory replaces the working-memory snapshot. Called by the
// manager's summarizer; the underlying history log is untouched.
func (r *Runtime) SetWorkingMemory(summary string) {
	r.memMu.Lock()
	defer r.memMu.Unlock()
	r.memory = summary
}

// Done is closed once the runtime loop has exited.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Idle reports whether the agent is quiescent for convergence purposes:
// terminal, or suspended/between cycles with an empty mailbox and no
// in-flight decision.
func (r *Runtime) Idle() bool {
	st := r.State()
	if st.Terminal() {
		return true
	}
	if st != core.StateRunning && st != core.StateWaiting {
		return false
	}
	return r.mailbox.Len() == 0
}

// Terminate moves the agent to StateTerminated, unsubscribes its mailbox and
// notifies the manager. Idempotent: repeated calls, including for an agent
// that already terminated itself, are no-ops.
func (r *Runtime) Terminate(reason string) {
	r.termOnce.Do(func() {
		r.stateMu.Lock()
		alreadyErrored := r.state == core.StateErrored
		r.state = core.StateTerminated
		r.stateMu.Unlock()
		if !alreadyErrored && reason != "" {
			r.history.Append(core.HistoryAction, fmt.Sprintf("[TERMINATE: %s]", reason))
		}
		r.bus.Unsubscribe(r.id)
		r.logger.Info("agent terminated", "agent_id", string(r.id), "reason", reason)
		r.onTerminate(r.id)
	})
}

// fail moves the agent to StateErrored and halts its loop. The mailbox is
// unsubscribed so later publishes to this agent are dropped and the sender
// notified, the same as for a terminated agent. The failure is isolated to
// this agent.
func (r *Runtime) fail(err error) {
	r.stateMu.Lock()
	if r.state.Terminal() {
		r.stateMu.Unlock()
		return
	}
	r.state = core.StateErrored
	r.stateMu.Unlock()
	r.history.Append(core.HistoryObservation, "decision engine unavailable: "+err.Error())
	r.bus.Unsubscribe(r.id)
	r.logger.Error("agent errored", "agent_id", string(r.id), "error", err.Error())
}

// Run executes the agent loop until termination, an absorbing error or
// context cancellation. It blocks; the manager runs it on its own goroutine.
func (r *Runtime) Run(ctx context.Context) {
	defer close(r.done)

	if !r.setState(core.StateRunning) {
		return
	}

	for {
		if ctx.Err() != nil {
			r.Terminate("system shutdown")
			return
		}
		if r.State().Terminal() {
			return
		}

		// Running: fold pending mailbox content into the inbox.
		r.setState(core.StateRunning)
		r.absorb(r.mailbox.Drain())
		batch := r.batch()

		// Deciding: consult the engine with bounded retries.
		if !r.setState(core.StateDeciding) {
			return
		}
		response, err := r.decide(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				r.Terminate("system shutdown")
				return
			}
			r.fail(err)
			return
		}
		r.history.Append(core.HistoryResponse, response)

		tokens, parseErrs := action.Parse(response)
		for _, perr := range parseErrs {
			r.logger.Warn("action token skipped", "agent_id", string(r.id), "error", perr.Error())
		}

		// Acting: execute tokens in the order returned.
		if !r.setState(core.StateActing) {
			return
		}
		if done := r.act(ctx, tokens); done {
			return
		}
		if len(tokens) == 0 {
			// Prose-only response: pause briefly instead of spinning on the
			// engine, resuming early when messages arrive.
			r.absorb(r.mailbox.Receive(ctx, r.cfg.ReceiveTimeout))
		}

		r.onCycle()
	}
}

// absorb records newly observed messages into the inbox and history.
func (r *Runtime) absorb(msgs []core.Message) {
	for _, msg := range msgs {
		r.inbox = append(r.inbox, msg)
		r.history.Append(core.HistoryMessage, fmt.Sprintf("[%s]: %s", msg.From, msg.Content))
	}
}

// batch returns the most recent message from each of the last BatchSenders
// distinct senders, in chronological order. Content is included in full.
// The scan walks the whole retained inbox, so when few senders are active a
// quiet sender's older message resurfaces in later batches; the distinct
// sender cap, not recency, bounds the batch.
func (r *Runtime) batch() []string {
	seen := make(map[core.AgentID]struct{}, r.cfg.BatchSenders)
	var picked []core.Message
	for i := len(r.inbox) - 1; i >= 0 && len(picked) < r.cfg.BatchSenders; i-- {
		msg := r.inbox[i]
		if _, ok := seen[msg.From]; ok {
			continue
		}
		seen[msg.From] = struct{}{}
		picked = append(picked, msg)
	}
	lines := make([]string, 0, len(picked))
	for i := len(picked) - 1; i >= 0; i-- {
		lines = append(lines, fmt.Sprintf("[%s]: %s", picked[i].From, picked[i].Content))
	}
	return lines
}

// decide calls the Decision Engine with bounded exponential backoff. The
// returned error is an *core.EngineError once the budget is exhausted.
func (r *Runtime) decide(ctx context.Context, batch []string) (string, error) {
	req := engine.Request{
		Instructions: r.instructions(),
		History:      r.history.Render(),
		Memory:       r.WorkingMemory(),
		Batch:        batch,
	}

	attempts := 1 + r.cfg.EngineRetries
	backoff := r.cfg.EngineBackoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.EngineTimeout)
		start := time.Now()
		response, err := r.eng.Complete(callCtx, req)
		cancel()
		if err == nil {
			r.logger.Debug("engine call ok", "agent_id", string(r.id), "attempt", attempt, "duration", time.Since(start).String())
			return response, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Warn("engine call failed", "agent_id", string(r.id), "attempt", attempt, "error", err.Error())
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", &core.EngineError{Attempts: attempts, Err: lastErr}
}

// act dispatches the extracted tokens. It reports true when the loop must
// exit (TERMINATE short-circuits; remaining tokens are discarded).
func (r *Runtime) act(ctx context.Context, tokens []action.Token) bool {
	for _, tok := range tokens {
		switch tok.Kind {
		case action.KindTerminate:
			reason := tok.Reason
			if reason == "" {
				reason = "task complete"
			}
			r.Terminate(reason)
			return true

		case action.KindSpawn:
			child, err := r.coord.Spawn(ctx, tok.Mission, r.id)
			if err != nil {
				r.logger.Warn("spawn failed", "agent_id", string(r.id), "error", err.Error())
				r.history.Append(core.HistoryObservation, "spawn failed: "+err.Error())
				continue
			}
			r.history.Append(core.HistoryAction, fmt.Sprintf("[SPAWN: %s] -> %s", tok.Mission, child))

		case action.KindBroadcast:
			r.bus.Publish(core.Message{From: r.id, To: core.Broadcast, Content: tok.Text})
			r.history.Append(core.HistoryAction, tok.Raw)

		case action.KindMessage:
			r.bus.Publish(core.Message{From: r.id, To: core.AgentID(tok.To), Content: tok.Text})
			r.history.Append(core.HistoryAction, tok.Raw)

		case action.KindWait:
			r.history.Append(core.HistoryAction, tok.Raw)
			if !r.wait(ctx, tok.Duration) {
				return true
			}

		case action.KindListAgents:
			r.history.Append(core.HistoryAction, tok.Raw)
			r.history.Append(core.HistoryObservation, renderRoster(r.coord.Agents()))

		case action.KindPrint:
			r.console.Print(r.id, tok.Text)
			r.history.Append(core.HistoryAction, tok.Raw)

		case action.KindTool:
			r.history.Append(core.HistoryAction, tok.Raw)
			r.runTool(ctx, tok.Name, tok.Args)
		}
	}
	return false
}

// wait suspends in StateWaiting on the mailbox, resuming early when messages
// arrive. Reports false when the loop must exit due to cancellation.
func (r *Runtime) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = r.cfg.WaitDefault
	}
	if d > r.cfg.WaitMax {
		d = r.cfg.WaitMax
	}
	if !r.setState(core.StateWaiting) {
		return false
	}
	msgs := r.mailbox.Receive(ctx, d)
	r.absorb(msgs)
	if ctx.Err() != nil {
		r.Terminate("system shutdown")
		return false
	}
	if !r.setState(core.StateActing) {
		return false
	}
	return true
}

func (r *Runtime) runTool(ctx context.Context, name, args string) {
	if r.tools == nil {
		r.history.Append(core.HistoryObservation, "tool "+name+": no tools registered")
		return
	}
	out, err := r.tools.Call(ctx, name, args)
	if err != nil {
		r.logger.Warn("tool call failed", "agent_id", string(r.id), "tool", name, "error", err.Error())
		r.history.Append(core.HistoryObservation, fmt.Sprintf("tool %s error: %v", name, err))
		return
	}
	r.history.Append(core.HistoryObservation, fmt.Sprintf("tool %s: %s", name, out))
}
