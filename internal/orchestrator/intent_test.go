package orchestrator

import (
	"reflect"
	"testing"
)

func TestParseIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		want   Intent
		wantOK bool
	}{
		{
			name:   "plain tool call",
			text:   `{"tool": "list_users", "arguments": {}}`,
			want:   Intent{Tool: "list_users", Arguments: map[string]any{}},
			wantOK: true,
		},
		{
			name:   "surrounding whitespace",
			text:   "\n  {\"tool\": \"get_host\", \"arguments\": {\"host\": \"web-1\", \"limit\": 5}}  \n",
			want:   Intent{Tool: "get_host", Arguments: map[string]any{"host": "web-1", "limit": float64(5)}},
			wantOK: true,
		},
		{
			name:   "extra keys ignored",
			text:   `{"tool": "t", "arguments": {"a": [1, 2]}, "reason": "because"}`,
			want:   Intent{Tool: "t", Arguments: map[string]any{"a": []any{float64(1), float64(2)}}},
			wantOK: true,
		},
		{name: "natural language", text: "Hello! How can I help you today?"},
		{name: "empty", text: ""},
		{name: "missing arguments", text: `{"tool": "t"}`},
		{name: "missing tool", text: `{"arguments": {}}`},
		{name: "empty tool", text: `{"tool": "  ", "arguments": {}}`},
		{name: "tool not a string", text: `{"tool": 42, "arguments": {}}`},
		{name: "arguments null", text: `{"tool": "t", "arguments": null}`},
		{name: "arguments array", text: `{"tool": "t", "arguments": [1]}`},
		{name: "arguments string", text: `{"tool": "t", "arguments": "x=1"}`},
		{name: "trailing text", text: `{"tool": "t", "arguments": {}} and then some`},
		{name: "two objects", text: `{"tool": "t", "arguments": {}}{"tool": "u", "arguments": {}}`},
		{name: "json array", text: `[{"tool": "t", "arguments": {}}]`},
		{name: "truncated", text: `{"tool": "t", "arguments": {`},
		{name: "prose around json", text: `Sure: {"tool": "t", "arguments": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseIntent(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ParseIntent(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseIntent(%q) = %#v, want %#v", tt.text, got, tt.want)
			}
		})
	}
}
