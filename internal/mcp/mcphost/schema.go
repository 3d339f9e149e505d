package mcphost

import (
	"encoding/json"
	"slices"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/mcpchat/internal/mcp"
)

// toDescriptor converts an SDK tool into a descriptor owned by server.
// Parameters come from the input schema's properties, sorted by name.
func toDescriptor(t *mcpsdk.Tool, server string) mcp.ToolDescriptor {
	d := mcp.ToolDescriptor{
		Name:        t.Name,
		Title:       t.Title,
		Description: t.Description,
		Server:      server,
	}
	if d.Title == "" && t.Annotations != nil {
		d.Title = t.Annotations.Title
	}

	schema := schemaToMap(t.InputSchema)
	required := make(map[string]bool)
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, raw := range props {
		p := mcp.ParameterSpec{Name: name, Required: required[name]}
		if prop, ok := raw.(map[string]any); ok {
			p.Description, _ = prop["description"].(string)
		}
		d.Parameters = append(d.Parameters, p)
	}
	slices.SortFunc(d.Parameters, func(a, b mcp.ParameterSpec) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return d
}

// schemaToMap converts any schema value to a map[string]any. The client side
// of the SDK decodes schemas as maps already; other shapes take a JSON round
// trip. Unusable schemas yield an empty object schema.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}
