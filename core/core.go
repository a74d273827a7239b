package core

import (
	"time"
)

// AgentID uniquely identifies an agent for the lifetime of the process.
// IDs are allocated by the manager and never reused.
type AgentID string

// Broadcast is the reserved recipient addressing every live mailbox except
// the sender's own.
const Broadcast AgentID = "broadcast"

// System is the author of bus-generated notices (delivery failures,
// shutdown announcements). No mailbox is ever subscribed under this ID.
const System AgentID = "system"

// Message is an immutable record routed by the bus. Seq and Timestamp are
// assigned by the bus at publish time; Seq is monotonic per bus instance and
// establishes per-mailbox delivery order.
type Message struct {
	ID        string
	From      AgentID
	To        AgentID // specific agent ID or Broadcast
	Content   string
	Seq       uint64
	Timestamp time.Time
}

// State is the lifecycle state of an agent runtime.
type State int

const (
	// StateSpawning is the initial state: registry entry created, mailbox
	// subscribed, history seeded with the mission.
	StateSpawning State = iota
	// StateRunning accumulates pending mailbox content into a decision batch.
	StateRunning
	// StateDeciding is an in-flight Decision Engine call.
	StateDeciding
	// StateActing executes the extracted action tokens in order.
	StateActing
	// StateWaiting blocks on the mailbox with a bounded timeout; the sole
	// cooperative suspension point.
	StateWaiting
	// StateTerminated is terminal: mailbox unsubscribed, registry entry marked.
	StateTerminated
	// StateErrored is absorbing but non-fatal: the Decision Engine retry
	// budget was exhausted and this agent's loop halted.
	StateErrored
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateDeciding:
		return "deciding"
	case StateActing:
		return "acting"
	case StateWaiting:
		return "waiting"
	case StateTerminated:
		return "terminated"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the agent's loop.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateErrored
}

// AgentInfo is a point-in-time registry snapshot of a single agent. Children
// grows only; entries remain after a child terminates (audit / LIST_AGENTS).
type AgentInfo struct {
	ID       AgentID
	ParentID AgentID // empty for the genesis agent
	Mission  string
	State    State
	Children []AgentID
	Summary  string // current working-memory summary, manager-maintained
}

// Stats aggregates manager-level counters for the front end.
type Stats struct {
	Spawned    int
	Terminated int
	Started    time.Time
}

// TreeNode is one node of the hierarchical parent/child forest view.
type TreeNode struct {
	Info     AgentInfo
	Children []*TreeNode
}

// Config is the tunable surface consumed by the bus, runtime and manager.
// Zero values are replaced by the corresponding DefaultConfig values at
// construction time.
type Config struct {
	// BatchSenders caps a decision batch to the most recent messages from
	// this many distinct senders. Content is never truncated.
	BatchSenders int

	// SummarizeEvery triggers working-memory summarization once per this
	// many execution cycles across the whole population.
	SummarizeEvery int

	// ReceiveTimeout is the pause after a decision cycle that produced no
	// action tokens, keeping a prose-only response from spinning the engine.
	ReceiveTimeout time.Duration

	// WaitDefault is used for a WAIT token without a parseable duration.
	WaitDefault time.Duration

	// WaitMax clamps any requested WAIT duration.
	WaitMax time.Duration

	// EngineRetries is the number of Decision Engine retries after the
	// initial attempt before the runtime moves to StateErrored.
	EngineRetries int

	// EngineBackoff is the initial retry backoff, doubled per attempt.
	EngineBackoff time.Duration

	// EngineTimeout bounds a single Decision Engine call.
	EngineTimeout time.Duration

	// ConvergencePoll is the registry polling interval of WaitForConvergence.
	ConvergencePoll time.Duration

	// ConvergenceDebounce is the number of consecutive quiescent polls
	// required before convergence is declared.
	ConvergenceDebounce int

	// GracePeriod bounds how long Stop waits for runtimes to terminate
	// before force-marking stragglers.
	GracePeriod time.Duration

	// BusHistory bounds the bus-level global message history ring.
	BusHistory int
}

// DefaultConfig returns the baseline configuration. Values follow the
// reference behavior: batches of five distinct senders, summarization every
// five cycles, half-second receive polls.
func DefaultConfig() Config {
	return Config{
		BatchSenders:        5,
		SummarizeEvery:      5,
		ReceiveTimeout:      500 * time.Millisecond,
		WaitDefault:         2 * time.Second,
		WaitMax:             60 * time.Second,
		EngineRetries:       3,
		EngineBackoff:       500 * time.Millisecond,
		EngineTimeout:       60 * time.Second,
		ConvergencePoll:     250 * time.Millisecond,
		ConvergenceDebounce: 2,
		GracePeriod:         5 * time.Second,
		BusHistory:          1000,
	}
}

// WithDefaults returns a copy with zero fields filled from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BatchSenders <= 0 {
		c.BatchSenders = d.BatchSenders
	}
	if c.SummarizeEvery <= 0 {
		c.SummarizeEvery = d.SummarizeEvery
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = d.ReceiveTimeout
	}
	if c.WaitDefault <= 0 {
		c.WaitDefault = d.WaitDefault
	}
	if c.WaitMax <= 0 {
		c.WaitMax = d.WaitMax
	}
	if c.EngineRetries <= 0 {
		c.EngineRetries = d.EngineRetries
	}
	if c.EngineBackoff <= 0 {
		c.EngineBackoff = d.EngineBackoff
	}
	if c.EngineTimeout <= 0 {
		c.EngineTimeout = d.EngineTimeout
	}
	if c.ConvergencePoll <= 0 {
		c.ConvergencePoll = d.ConvergencePoll
	}
	if c.ConvergenceDebounce <= 0 {
		c.ConvergenceDebounce = d.ConvergenceDebounce
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.BusHistory <= 0 {
		c.BusHistory = d.BusHistory
	}
	return c
}

// Console receives PRINT output and debug traces for the external
// presentation layer. Implementations must be safe for concurrent use.
type Console interface {
	Print(from AgentID, text string)
}

// ConsoleFunc adapts a function to the Console interface.
type ConsoleFunc func(from AgentID, text string)

// Print implements Console.
func (f ConsoleFunc) Print(from AgentID, text string) { f(from, text) }
