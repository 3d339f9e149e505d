// Package mock provides an in-memory test double for the MCP [mcp.Host] interface.
//
// [Host] records every method call for assertion in tests and exposes exported
// fields that control what the mock returns. It is safe for concurrent use via
// an internal [sync.Mutex].
//
// Typical usage:
//
//	h := &mock.Host{}
//	h.CatalogResult = []mcp.ToolDescriptor{{Name: "list_users", Server: "users"}}
//	h.DispatchResult = &mcp.ToolResult{Content: `["alice","bob"]`}
//
//	// inject h into the system under test …
//
//	if got := h.CallCount("Dispatch"); got != 1 {
//	    t.Errorf("expected 1 Dispatch call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/mcpchat/internal/mcp"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Host is a configurable test double for [mcp.Host].
// All exported *Err fields default to nil (success); all exported *Result
// fields default to nil / zero values.
type Host struct {
	mu sync.Mutex

	calls []Call

	// StartAllErr is returned by [Host.StartAll] when non-nil.
	StartAllErr error

	// CatalogResult is returned by [Host.Catalog]. Dispatch of a tool not in
	// CatalogResult fails with [mcp.ErrToolNotFound] unless DispatchFunc is set.
	CatalogResult []mcp.ToolDescriptor

	// CatalogErr is returned by [Host.Catalog] when non-nil.
	CatalogErr error

	// DispatchFunc, when non-nil, fully controls [Host.Dispatch].
	DispatchFunc func(ctx context.Context, tool string, args map[string]any) (*mcp.ToolResult, error)

	// DispatchResult is returned by [Host.Dispatch] for catalogued tools when
	// DispatchErr is nil. When nil, a result carrying only the tool name is
	// returned.
	DispatchResult *mcp.ToolResult

	// DispatchErr is returned by [Host.Dispatch] for catalogued tools when
	// non-nil.
	DispatchErr error

	// HealthResult is returned by [Host.Health].
	HealthResult []mcp.ToolHealth

	// ShutdownPanic makes [Host.ShutdownAll] panic after recording the call.
	ShutdownPanic bool
}

// Calls returns a copy of all recorded method invocations.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Call, len(h.calls))
	copy(out, h.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (h *Host) CallCount(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}

func (h *Host) record(method string, args ...any) {
	h.calls = append(h.calls, Call{Method: method, Args: args})
}

// StartAll implements [mcp.Host].
func (h *Host) StartAll(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("StartAll")
	return h.StartAllErr
}

// Catalog implements [mcp.Host].
func (h *Host) Catalog(_ context.Context) ([]mcp.ToolDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("Catalog")
	if h.CatalogErr != nil {
		return nil, h.CatalogErr
	}
	out := make([]mcp.ToolDescriptor, len(h.CatalogResult))
	copy(out, h.CatalogResult)
	return out, nil
}

// Dispatch implements [mcp.Host].
func (h *Host) Dispatch(ctx context.Context, tool string, args map[string]any) (*mcp.ToolResult, error) {
	h.mu.Lock()
	h.record("Dispatch", tool, args)
	fn := h.DispatchFunc
	h.mu.Unlock()
	if fn != nil {
		return fn(ctx, tool, args)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	known := false
	for _, d := range h.CatalogResult {
		if d.Name == tool {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("mock: dispatch %q: %w", tool, mcp.ErrToolNotFound)
	}
	if h.DispatchErr != nil {
		return nil, h.DispatchErr
	}
	if h.DispatchResult == nil {
		return &mcp.ToolResult{Tool: tool}, nil
	}
	// Return a copy so the caller cannot mutate the configured result.
	cp := *h.DispatchResult
	return &cp, nil
}

// Health implements [mcp.Host].
func (h *Host) Health() []mcp.ToolHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("Health")
	return append([]mcp.ToolHealth(nil), h.HealthResult...)
}

// ShutdownAll implements [mcp.Host].
func (h *Host) ShutdownAll() {
	h.mu.Lock()
	h.record("ShutdownAll")
	panicking := h.ShutdownPanic
	h.mu.Unlock()
	if panicking {
		panic("mock: shutdown panic")
	}
}

// Ensure Host satisfies the interface at compile time.
var _ mcp.Host = (*Host)(nil)
