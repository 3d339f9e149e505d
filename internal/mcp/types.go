package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a single server connection.
type State int

const (
	StateUnstarted State = iota
	StateStarting
	StateReady
	StateCleaning
	StateClosed
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateCleaning:
		return "cleaning"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParameterSpec describes one argument of a tool.
type ParameterSpec struct {
	Name        string
	Description string
	Required    bool
}

// ToolDescriptor describes one invocable tool as advertised by a server.
// Descriptors are values; they are never mutated after discovery.
type ToolDescriptor struct {
	// Name is unique within the catalogue of the server that produced it,
	// not globally.
	Name string

	// Title is an optional human-readable label.
	Title string

	// Description is free text shown to the model.
	Description string

	// Parameters is sorted by name.
	Parameters []ParameterSpec

	// Server is the name of the server that advertised the tool.
	Server string
}

// Format renders the descriptor as a catalogue entry for the system prompt.
func (d ToolDescriptor) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tool: %s\n", d.Name)
	if d.Title != "" {
		fmt.Fprintf(&sb, "User-readable title: %s\n", d.Title)
	}
	fmt.Fprintf(&sb, "Description: %s\n", d.Description)
	sb.WriteString("Arguments:\n")
	for _, p := range d.Parameters {
		desc := p.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&sb, "- %s: %s", p.Name, desc)
		if p.Required {
			sb.WriteString(" (required)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Progress is the optional progress report carried in a tool's structured
// result ("progress" and "total" fields).
type Progress struct {
	Done  float64
	Total float64
}

// Percent returns Done as a percentage of Total, or 0 when Total is not
// positive.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return p.Done / p.Total * 100
}

// ToolResult holds the output of a successful tool call.
type ToolResult struct {
	// Tool is the name of the tool that produced the result.
	Tool string

	// Server is the name of the server that ran the tool.
	Server string

	// Content is the concatenated text content of the result.
	Content string

	// Structured is the decoded structured content, if the server sent any.
	Structured any

	// IsError reports an application-level error signalled by the tool
	// itself (as opposed to a transport failure, which is a Go error).
	IsError bool

	// Progress is non-nil when the structured content reports progress.
	Progress *Progress

	// Duration is the wall-clock time of the successful attempt.
	Duration time.Duration
}

// Text returns the text content, or the structured content as JSON when
// the server sent no text.
func (r *ToolResult) Text() string {
	if r.Content != "" || r.Structured == nil {
		return r.Content
	}
	b, err := json.Marshal(r.Structured)
	if err != nil {
		return fmt.Sprintf("%v", r.Structured)
	}
	return string(b)
}

// Outcome is the result of dispatching one tool-invocation intent. Exactly one
// of Result and Err is set.
type Outcome struct {
	Tool   string
	Result *ToolResult
	Err    error
}

// Message renders the outcome as the system message fed back to the model.
func (o Outcome) Message() string {
	switch {
	case o.Err != nil && isNotFound(o.Err):
		return fmt.Sprintf("No server found with tool: %s", o.Tool)
	case o.Err != nil:
		return fmt.Sprintf("Error executing tool: %v", o.Err)
	case o.Result == nil:
		return fmt.Sprintf("Error executing tool: %s returned no result", o.Tool)
	case o.Result.IsError:
		return fmt.Sprintf("Tool reported an error: %s", o.Result.Text())
	default:
		return fmt.Sprintf("Tool execution result: %s", o.Result.Text())
	}
}

// ToolHealth captures the measured runtime behaviour of a single tool.
type ToolHealth struct {
	// Name is the tool name.
	Name string

	// Server is the server that hosts the tool.
	Server string

	// MeasuredP50Ms and MeasuredP99Ms are rolling-window latency percentiles.
	MeasuredP50Ms int64
	MeasuredP99Ms int64

	// CallCount is the number of attempts recorded since start.
	CallCount int

	// ErrorRate is the fraction of attempts in the window that failed (0.0–1.0).
	ErrorRate float64
}
