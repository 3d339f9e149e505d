package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a server's launch command cannot be
	// resolved. It aborts the startup of the whole host.
	ErrConfiguration = errors.New("mcp: invalid server configuration")

	// ErrConnection wraps transport and handshake failures during startup.
	ErrConnection = errors.New("mcp: connection failed")

	// ErrNotInitialized is returned when an operation needs a ready
	// connection but the connection was never started or is already closed.
	ErrNotInitialized = errors.New("mcp: connection not initialized")

	// ErrToolNotFound is returned by dispatch when no server advertises the
	// requested tool.
	ErrToolNotFound = errors.New("mcp: tool not found")
)

// ToolExecutionError is returned when a tool call failed on every attempt.
// It unwraps to the error of the last attempt.
type ToolExecutionError struct {
	Tool     string
	Server   string
	Attempts int
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("mcp: tool %q on server %q failed after %d attempt(s): %v", e.Tool, e.Server, e.Attempts, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

func isNotFound(err error) bool {
	return errors.Is(err, ErrToolNotFound)
}
