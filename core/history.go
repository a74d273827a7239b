package core

import (
	"strings"
	"sync"
	"time"
)

// HistoryKind classifies an entry in an agent's history log.
type HistoryKind int

const (
	// HistoryMission seeds the log at spawn time.
	HistoryMission HistoryKind = iota
	// HistoryMessage records an observed inbound message.
	HistoryMessage
	// HistoryPrompt records a prompt sent to the Decision Engine.
	HistoryPrompt
	// HistoryResponse records raw Decision Engine output.
	HistoryResponse
	// HistoryAction records an executed action token.
	HistoryAction
	// HistoryObservation records registry snapshots and tool results. These
	// are observations, not messages: they never pass through the bus.
	HistoryObservation
)

// String returns the role label used when rendering a transcript.
func (k HistoryKind) String() string {
	switch k {
	case HistoryMission:
		return "mission"
	case HistoryMessage:
		return "message"
	case HistoryPrompt:
		return "prompt"
	case HistoryResponse:
		return "response"
	case HistoryAction:
		return "action"
	case HistoryObservation:
		return "observation"
	default:
		return "unknown"
	}
}

// HistoryEntry is one immutable record of an agent's history.
type HistoryEntry struct {
	Time time.Time
	Kind HistoryKind
	Text string
}

// History is the append-only ordered log of everything an agent observed and
// did. It is never truncated; bounded context is achieved by the manager's
// periodic summarization overwriting the separate working-memory snapshot.
// Safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	entries []HistoryEntry
}

// NewHistory returns an empty history log.
func NewHistory() *History { return &History{} }

// Append records an entry. Entries are immutable once appended.
func (h *History) Append(kind HistoryKind, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, HistoryEntry{Time: time.Now(), Kind: kind, Text: text})
}

// Entries returns a copy of the log in append order.
func (h *History) Entries() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Render returns a plain-text transcript of the full log, one entry per line
// prefixed with its kind. Used to build Decision Engine and summarizer input.
func (h *History) Render() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var b strings.Builder
	for _, e := range h.entries {
		b.WriteString(e.Kind.String())
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
