package engine

import (
	"context"
	"strings"
	"sync"
)

// Request captures the normalized decision input: fixed system instructions,
// the full rendered history, the current working-memory summary and the
// message batch for this cycle. Adapters map these onto their provider's
// message format.
type Request struct {
	Instructions string
	History      string
	Memory       string
	Batch        []string

	// Directive optionally overrides the closing question of the user turn.
	// The manager's summarizer uses it; runtimes leave it empty.
	Directive string
}

// UserPrompt renders history, memory and batch into the single user turn
// sent alongside the system instructions.
func (r Request) UserPrompt() string {
	var b strings.Builder
	if r.Memory != "" {
		b.WriteString("WORKING MEMORY:\n")
		b.WriteString(r.Memory)
		b.WriteString("\n\n")
	}
	if r.History != "" {
		b.WriteString("HISTORY:\n")
		b.WriteString(r.History)
		b.WriteString("\n")
	}
	if len(r.Batch) > 0 {
		b.WriteString("RECENT MESSAGES:\n")
		for _, line := range r.Batch {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	switch {
	case r.Directive != "":
		b.WriteString("\n" + r.Directive + "\n")
	case len(r.Batch) > 0:
		b.WriteString("\nBased on your mission and these messages, what should you do next?\n")
	default:
		b.WriteString("\nNo new messages. What is your next step toward your mission?\n")
	}
	return b.String()
}

// Info contains metadata about an engine implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Engine is the minimal interface a runtime needs to obtain a decision.
type Engine interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Info returns information about the engine implementation.
	Info() Info
}

// Mock is a lightweight in-memory Engine useful for tests and examples.
// Responses are served, in priority order, from a FIFO script, then from
// substring matches against the rendered prompt, then from the default
// response. Safe for concurrent use by multiple runtimes.
type Mock struct {
	mu         sync.Mutex
	info       Info
	script     []string
	matches    []mockMatch
	defaultTxt string
	failErr    error
	failLeft   int
	calls      int
	requests   []Request
}

type mockMatch struct {
	substr string
	resp   string
}

// NewMock constructs a Mock whose default response is a bare TERMINATE, so
// unscripted agents settle instead of spinning.
func NewMock() *Mock {
	return &Mock{
		info:       Info{Name: "mock", Provider: "mock"},
		defaultTxt: "[TERMINATE: nothing left to do]",
	}
}

// Enqueue appends scripted responses served one per call, before any match
// or default lookup.
func (m *Mock) Enqueue(resp ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, resp...)
}

// AddResponse registers a canned completion for any prompt containing substr.
func (m *Mock) AddResponse(substr, resp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches = append(m.matches, mockMatch{substr: substr, resp: resp})
}

// SetDefault replaces the fallback response.
func (m *Mock) SetDefault(resp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultTxt = resp
}

// FailNext makes the next n calls return err before normal serving resumes.
func (m *Mock) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLeft = n
	m.failErr = err
}

// Calls returns how many Complete invocations the mock has served.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every recorded request.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Complete implements Engine.
func (m *Mock) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)

	if m.failLeft > 0 {
		m.failLeft--
		return "", m.failErr
	}
	if len(m.script) > 0 {
		resp := m.script[0]
		m.script = m.script[1:]
		return resp, nil
	}
	prompt := req.Instructions + "\n" + req.UserPrompt()
	for _, mm := range m.matches {
		if strings.Contains(prompt, mm.substr) {
			return mm.resp, nil
		}
	}
	return m.defaultTxt, nil
}

// Info implements Engine.
func (m *Mock) Info() Info { return m.info }
