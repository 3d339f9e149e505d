package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Intent is a tool invocation requested by the model. It only lives for the
// duration of one turn.
type Intent struct {
	Tool      string
	Arguments map[string]any
}

// intentWire is the payload the model is instructed to emit.
type intentWire struct {
	Tool      *string         `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// ParseIntent reports whether text is a tool invocation. The trimmed text
// must be a single JSON object with a non-empty string "tool" and an object
// "arguments". Other keys are ignored. Anything else is an ordinary reply and
// yields false.
func ParseIntent(text string) (Intent, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return Intent{}, false
	}

	dec := json.NewDecoder(strings.NewReader(text))
	var w intentWire
	if err := dec.Decode(&w); err != nil {
		return Intent{}, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Intent{}, false
	}
	if w.Tool == nil || strings.TrimSpace(*w.Tool) == "" {
		return Intent{}, false
	}

	raw := bytes.TrimSpace(w.Arguments)
	if len(raw) == 0 || raw[0] != '{' {
		return Intent{}, false
	}
	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return Intent{}, false
	}
	return Intent{Tool: *w.Tool, Arguments: args}, true
}
