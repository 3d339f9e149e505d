// Package mcp defines the interface for the Model Context Protocol (MCP) host
// used by the chat orchestrator.
//
// The host owns an ordered set of connections to MCP tool servers, maintains
// the aggregated tool catalogue that is rendered into the model's system
// prompt, and routes tool calls to the first server that advertises the
// requested tool.
//
// Lifecycle:
//
//  1. Call [Host.StartAll] once. Servers start strictly in configuration
//     order; the first failure tears down everything started so far.
//  2. Use [Host.Catalog] to enumerate the tools of every ready server.
//  3. Use [Host.Dispatch] to run tools on behalf of the model.
//  4. Call [Host.ShutdownAll] on every exit path. It never fails.
package mcp

import (
	"context"
	"time"
)

// ServerConfig describes how to launch a single MCP server over stdio.
type ServerConfig struct {
	// Name identifies the server in logs and errors. Must be unique within a
	// single [Host].
	Name string

	// Command is the executable to launch. Bare names of well-known launchers
	// (npx, uvx, node, python3, docker, …) are resolved against PATH.
	Command string

	// Args is passed to Command verbatim.
	Args []string

	// Env is overlaid on the parent process environment. When empty the child
	// inherits the environment unchanged.
	Env map[string]string
}

// RetryPolicy controls how often a failing tool call is attempted.
// The delay between attempts is fixed; there is no exponential growth.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Backoff is the pause between two consecutive attempts.
	Backoff time.Duration
}

// DefaultRetryPolicy is used when no policy is configured: two attempts with a
// one second pause in between.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 2, Backoff: time.Second}

// Host manages the tool-server connections of one chat session.
type Host interface {
	// StartAll starts every configured server in order and loads each
	// server's tool catalogue. On failure every server started so far is torn
	// down in reverse order before the error is returned.
	StartAll(ctx context.Context) error

	// Catalog returns the tools of every ready server, in server order.
	// Name collisions across servers are not de-duplicated.
	Catalog(ctx context.Context) ([]ToolDescriptor, error)

	// Dispatch calls the named tool on the first server advertising it.
	// Returns an error wrapping [ErrToolNotFound] when no server does, or a
	// [*ToolExecutionError] when every attempt failed.
	Dispatch(ctx context.Context, tool string, args map[string]any) (*ToolResult, error)

	// Health returns per-tool call statistics for every server.
	Health() []ToolHealth

	// ShutdownAll tears down every server in reverse order. Failures are
	// logged, never returned.
	ShutdownAll()
}
