// Package action implements the tokenizer for the bracketed action grammar
// emitted by the Decision Engine: `[KIND: payload]` with KIND one of SPAWN,
// BROADCAST, MESSAGE, WAIT, LIST_AGENTS, PRINT, TERMINATE or TOOL.
//
// The tokenizer is a small explicit scanner, deliberately decoupled from the
// engine so it can be unit tested on plain strings. Malformed tokens are
// reported as core.ParseError values and skipped; they never abort parsing.
package action

import (
	"time"
)

// Kind tags a parsed action token.
type Kind int

const (
	// KindSpawn creates a child agent with a mission.
	KindSpawn Kind = iota
	// KindBroadcast publishes to every other live mailbox.
	KindBroadcast
	// KindMessage publishes to one specific agent.
	KindMessage
	// KindWait suspends the agent for a bounded duration.
	KindWait
	// KindListAgents snapshots the registry into the agent's history.
	KindListAgents
	// KindPrint emits text to the console collaborator.
	KindPrint
	// KindTerminate ends the agent's loop.
	KindTerminate
	// KindTool invokes a registered tool.
	KindTool
)

// String returns the grammar spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "SPAWN"
	case KindBroadcast:
		return "BROADCAST"
	case KindMessage:
		return "MESSAGE"
	case KindWait:
		return "WAIT"
	case KindListAgents:
		return "LIST_AGENTS"
	case KindPrint:
		return "PRINT"
	case KindTerminate:
		return "TERMINATE"
	case KindTool:
		return "TOOL"
	default:
		return "UNKNOWN"
	}
}

// Token is one parsed instruction. Only the fields relevant to Kind are set.
// Tokens are ephemeral: consumed immediately by the runtime and retained only
// as a history log entry.
type Token struct {
	Kind Kind
	Raw  string // bracketed source text, for history and error reporting

	Mission  string        // SPAWN
	To       string        // MESSAGE recipient
	Text     string        // BROADCAST / MESSAGE / PRINT payload
	Duration time.Duration // WAIT; zero means "use configured default"
	Reason   string        // TERMINATE
	Name     string        // TOOL
	Args     string        // TOOL argument string
}
