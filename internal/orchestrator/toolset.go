// Package orchestrator runs the bounded multi-turn tool-calling loop.
//
// DESIGN: The loop is an explicit iterative state machine with an external
// turn counter, so termination is testable without any network I/O:
//
//	AWAITING_RESPONSE → TOOL_REQUESTED → TOOL_EXECUTED → AWAITING_RESPONSE → ... → COMPLETED
//
// The orchestrator owns no transport: each turn is submitted through a
// caller-supplied Submit function, which keeps this package independent of
// the adapter and transport layers.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/omnillm/omnillm/llmerr"
	"github.com/omnillm/omnillm/schema"
)

// ToolFunc is a locally registered callable the model may request. It is
// caller-owned, treated as synchronous and potentially blocking; the
// orchestrator never assumes it is cheap.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool binds a declaration to its callable.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Fn          ToolFunc
}

// Toolset maps tool names to callables. Read-mostly after startup; safe for
// concurrent use.
type Toolset struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolset creates an empty toolset.
func NewToolset() *Toolset {
	return &Toolset{tools: make(map[string]Tool)}
}

// Register adds a tool. Empty names, nil callables and duplicates are
// configuration mistakes and fail as such.
func (ts *Toolset) Register(tool Tool) error {
	if tool.Name == "" {
		return &llmerr.ConfigurationError{Reason: "tool name is empty"}
	}
	if tool.Fn == nil {
		return &llmerr.ConfigurationError{Reason: fmt.Sprintf("tool %q has no callable", tool.Name)}
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, exists := ts.tools[tool.Name]; exists {
		return &llmerr.ConfigurationError{Reason: fmt.Sprintf("tool %q already registered", tool.Name)}
	}
	ts.tools[tool.Name] = tool
	return nil
}

// Get fetches a tool by exact name.
func (ts *Toolset) Get(name string) (Tool, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	tool, ok := ts.tools[name]
	return tool, ok
}

// Declarations returns the canonical declarations for every registered tool.
func (ts *Toolset) Declarations() []schema.Tool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	decls := make([]schema.Tool, 0, len(ts.tools))
	for _, t := range ts.tools {
		decls = append(decls, schema.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return decls
}
