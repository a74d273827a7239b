package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSubscriber is returned by the bus when an agent ID that
	// already owns a live mailbox is subscribed a second time. This indicates
	// an allocator or registry bug and is treated as fatal by the manager.
	ErrDuplicateSubscriber = errors.New("duplicate mailbox subscriber")

	// ErrMailboxClosed marks a publish that targeted a terminated or never
	// subscribed agent. The bus drops the message and logs this error; it is
	// never surfaced to the publishing caller.
	ErrMailboxClosed = errors.New("mailbox closed")

	// ErrDuplicateAgentID is returned by the manager when the ID allocator
	// hands out an ID that is already registered. Unreachable under correct
	// operation; callers should treat it as fatal.
	ErrDuplicateAgentID = errors.New("duplicate agent id")

	// ErrConvergenceTimeout is returned by Manager.WaitForConvergence when
	// the deadline elapses before global quiescence. Recoverable: retry with
	// a longer timeout or force Stop.
	ErrConvergenceTimeout = errors.New("convergence timeout")
)

// ParseError describes a malformed action token extracted from Decision
// Engine output. It is recovered locally: the offending token is skipped,
// logged and recorded, never propagated.
type ParseError struct {
	Token  string // raw token text as it appeared in the output
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed action token %q: %s", e.Token, e.Reason)
}

// EngineError wraps a Decision Engine failure after the retry budget is
// exhausted. The owning runtime moves to StateErrored; siblings and the
// manager are unaffected.
type EngineError struct {
	Attempts int
	Err      error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("decision engine failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
