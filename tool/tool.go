// Package tool implements the capability registry agents consult when
// dispatching a TOOL action token. A tool is a named function from a raw
// argument string to a result string; its description is injected into the
// Decision Engine's system instructions so the engine knows when to use it.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a TOOL token names an unregistered tool.
var ErrNotFound = fmt.Errorf("tool not found")

// Tool is a capability an agent may invoke via the `[TOOL: name(args)]`
// grammar. Implementations must be safe for concurrent use: every agent in
// the population shares one registry.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case
	// recommended; it is what agents spell inside the token).
	Name() string

	// Description returns the human-readable description shown to the
	// Decision Engine.
	Description() string

	// Call executes the tool with the raw argument string from the token.
	// Argument conventions are the tool's own; the runtime passes the string
	// through untouched.
	Call(ctx context.Context, args string) (string, error)
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	name        string
	description string
	fn          func(ctx context.Context, args string) (string, error)
}

// NewFunc constructs a function-backed tool.
func NewFunc(name, description string, fn func(ctx context.Context, args string) (string, error)) *Func {
	return &Func{name: name, description: description, fn: fn}
}

// Name implements Tool.
func (f *Func) Name() string { return f.name }

// Description implements Tool.
func (f *Func) Description() string { return f.description }

// Call implements Tool.
func (f *Func) Call(ctx context.Context, args string) (string, error) { return f.fn(ctx, args) }

// Registry is a concurrency-safe lookup table of tools, consulted only at
// TOOL-token dispatch time.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Call invokes the named tool. Unknown names return ErrNotFound; the runtime
// records the error string in history rather than failing the agent.
func (r *Registry) Call(ctx context.Context, name, args string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return t.Call(ctx, args)
}

// Docs renders the registered tools, sorted by name, as the documentation
// block injected into system instructions. Empty when no tools exist.
func (r *Registry) Docs() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.tools) == 0 {
		return ""
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, r.tools[name].Description())
	}
	return b.String()
}
