package prompt

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Bigsy/mcptap/internal/mcp"
)

var (
	nameStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Faint(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#F87171"})
)

// RenderTool formats one catalog entry for display: name, description, and
// its parameters with type and required marker.
func RenderTool(tool mcp.Tool) string {
	var b strings.Builder
	b.WriteString(nameStyle.Render(tool.Name))
	if tool.Description != "" {
		b.WriteString("  ")
		b.WriteString(mutedStyle.Render(tool.Description))
	}

	schema, err := ParseSchema(tool)
	if err != nil {
		b.WriteString("\n    ")
		b.WriteString(errStyle.Render(fmt.Sprintf("bad schema: %v", err)))
		return b.String()
	}

	for _, name := range schema.PropertyNames() {
		prop := schema.Properties[name]
		line := fmt.Sprintf("%s (%s)", name, prop.Type)
		if schema.IsRequired(name) {
			line += " required"
		}
		if prop.Description != "" {
			line += ": " + prop.Description
		}
		b.WriteString("\n    ")
		b.WriteString(mutedStyle.Render(line))
	}
	return b.String()
}

// RenderResult formats a tool call result. Text content is printed as-is,
// other content kinds are noted by type, and error results are styled.
func RenderResult(result *mcp.ToolResult) string {
	if result == nil {
		return ""
	}

	lines := make([]string, 0, len(result.Content))
	for _, block := range result.Content {
		switch {
		case block.Type == "text":
			lines = append(lines, block.Text)
		default:
			lines = append(lines, mutedStyle.Render(fmt.Sprintf("[%s content]", block.Type)))
		}
	}
	out := strings.Join(lines, "\n")

	if result.IsError {
		return errStyle.Render("tool error:") + "\n" + out
	}
	return out
}
