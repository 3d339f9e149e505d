package orchestrator

import (
	"strings"

	"github.com/MrWong99/mcpchat/internal/mcp"
)

// FormatCatalog renders every descriptor with [mcp.ToolDescriptor.Format],
// one entry after the other separated by a newline.
func FormatCatalog(tools []mcp.ToolDescriptor) string {
	entries := make([]string, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, t.Format())
	}
	return strings.Join(entries, "\n")
}

// BuildSystemPrompt returns the system message that introduces the tool
// catalogue and the invocation format to the model.
func BuildSystemPrompt(tools []mcp.ToolDescriptor) string {
	var sb strings.Builder

	sb.WriteString("You are a specialised assistant connected to the Model Context Protocol (MCP), ")
	sb.WriteString("with access to tools and resources that help with specific tasks.\n\n")

	// ── Catalogue ─────────────────────────────────────────────────────────────
	sb.WriteString("AVAILABLE TOOLS:\n")
	if len(tools) == 0 {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(FormatCatalog(tools))
	}
	sb.WriteString("\n")

	// ── Invocation format ─────────────────────────────────────────────────────
	sb.WriteString("USAGE:\n\n")
	sb.WriteString("1. To use a tool, reply with ONLY a JSON object in this format:\n")
	sb.WriteString("{\n")
	sb.WriteString("  \"tool\": \"tool_name\",\n")
	sb.WriteString("  \"arguments\": {\n")
	sb.WriteString("    \"param1\": \"value1\",\n")
	sb.WriteString("    \"param2\": \"value2\"\n")
	sb.WriteString("  }\n")
	sb.WriteString("}\n\n")
	sb.WriteString("2. The JSON must contain:\n")
	sb.WriteString("   - tool: the exact name of the tool\n")
	sb.WriteString("   - arguments: the parameters the tool requires\n\n")
	sb.WriteString("3. Tool results are sent back to you as a system message; use them to answer the user\n\n")
	sb.WriteString("4. Answer in natural language when no tool is needed\n\n")

	// ── Rules ─────────────────────────────────────────────────────────────────
	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Check the required parameters of each tool\n")
	sb.WriteString("- Only use the tools listed above\n")
	sb.WriteString("- Keep the exact JSON format when calling a tool\n")
	sb.WriteString("- Reply in natural language when not calling a tool")

	return sb.String()
}
