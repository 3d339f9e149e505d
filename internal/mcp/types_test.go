package mcp

import (
	"errors"
	"fmt"
	"testing"
)

func TestToolDescriptorFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		d    ToolDescriptor
		want string
	}{
		{
			name: "full",
			d: ToolDescriptor{
				Name:        "list_users",
				Title:       "List users",
				Description: "Lists registered users",
				Parameters: []ParameterSpec{
					{Name: "filter"},
					{Name: "limit", Description: "Max rows", Required: true},
				},
			},
			want: "Tool: list_users\n" +
				"User-readable title: List users\n" +
				"Description: Lists registered users\n" +
				"Arguments:\n" +
				"- filter: No description\n" +
				"- limit: Max rows (required)\n",
		},
		{
			name: "no title no params",
			d:    ToolDescriptor{Name: "ping", Description: "Pings"},
			want: "Tool: ping\nDescription: Pings\nArguments:\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.d.Format(); got != tc.want {
				t.Errorf("Format() =\n%q\nwant\n%q", got, tc.want)
			}
		})
	}
}

func TestOutcomeMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		o    Outcome
		want string
	}{
		{
			name: "success",
			o:    Outcome{Tool: "list_users", Result: &ToolResult{Content: `["alice"]`}},
			want: `Tool execution result: ["alice"]`,
		},
		{
			name: "not found",
			o:    Outcome{Tool: "nope", Err: fmt.Errorf("dispatch: %w", ErrToolNotFound)},
			want: "No server found with tool: nope",
		},
		{
			name: "execution failure",
			o: Outcome{Tool: "t", Err: &ToolExecutionError{
				Tool: "t", Server: "s", Attempts: 2, Err: errors.New("timeout"),
			}},
			want: `Error executing tool: mcp: tool "t" on server "s" failed after 2 attempt(s): timeout`,
		},
		{
			name: "tool reported error",
			o:    Outcome{Tool: "t", Result: &ToolResult{Content: "denied", IsError: true}},
			want: "Tool reported an error: denied",
		},
		{
			name: "structured only",
			o: Outcome{Tool: "count_users", Result: &ToolResult{
				Structured: map[string]any{"count": 2, "names": []string{"alice", "bob"}},
			}},
			want: `Tool execution result: {"count":2,"names":["alice","bob"]}`,
		},
		{
			name: "text wins over structured",
			o: Outcome{Tool: "t", Result: &ToolResult{
				Content:    "two users",
				Structured: map[string]any{"count": 2},
			}},
			want: "Tool execution result: two users",
		},
		{
			name: "structured error",
			o: Outcome{Tool: "t", Result: &ToolResult{
				Structured: map[string]any{"code": "forbidden"},
				IsError:    true,
			}},
			want: `Tool reported an error: {"code":"forbidden"}`,
		},
		{
			name: "empty outcome",
			o:    Outcome{Tool: "t"},
			want: "Error executing tool: t returned no result",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.o.Message(); got != tc.want {
				t.Errorf("Message() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestToolExecutionErrorUnwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("broken pipe")
	var err error = &ToolExecutionError{Tool: "t", Attempts: 1, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the cause")
	}
	var te *ToolExecutionError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &te) || te.Attempts != 1 {
		t.Error("errors.As did not recover *ToolExecutionError")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	want := map[State]string{
		StateUnstarted: "unstarted",
		StateStarting:  "starting",
		StateReady:     "ready",
		StateCleaning:  "cleaning",
		StateClosed:    "closed",
		StateFailed:    "failed",
		State(99):      "unknown",
	}
	for s, w := range want {
		if got := s.String(); got != w {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, w)
		}
	}
}

func TestProgressPercent(t *testing.T) {
	t.Parallel()
	if got := (Progress{Done: 1, Total: 4}).Percent(); got != 25 {
		t.Errorf("Percent = %v, want 25", got)
	}
	if got := (Progress{Done: 1}).Percent(); got != 0 {
		t.Errorf("Percent with zero total = %v, want 0", got)
	}
}
