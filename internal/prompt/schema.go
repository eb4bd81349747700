// Package prompt turns a tool's declared input schema into an interactive
// form and renders call results for the terminal.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/charmbracelet/huh"

	"github.com/Bigsy/mcptap/internal/mcp"
)

// Property is one parameter in a tool's input schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// InputSchema is the subset of JSON Schema that tool declarations use: a flat
// mapping of property name to type/description plus a required list.
type InputSchema struct {
	Type       string              `json:"type,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// IsRequired reports whether the named property is in the required list.
func (s InputSchema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// PropertyNames returns the property names in stable sorted order.
func (s InputSchema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnsupportedTypeError is returned for schema property types the interactive
// prompt cannot collect. Only "string" is supported.
type UnsupportedTypeError struct {
	Property string
	Type     string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("property %q has unsupported type %q (only \"string\" is supported)", e.Property, e.Type)
}

// ParseSchema decodes a tool's opaque inputSchema value. Servers send it as
// arbitrary JSON, so it round-trips through encoding/json. A nil schema
// yields an empty InputSchema.
func ParseSchema(tool mcp.Tool) (InputSchema, error) {
	if tool.InputSchema == nil {
		return InputSchema{}, nil
	}
	data, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return InputSchema{}, fmt.Errorf("encode schema for %s: %w", tool.Name, err)
	}
	var schema InputSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return InputSchema{}, fmt.Errorf("decode schema for %s: %w", tool.Name, err)
	}
	return schema, nil
}

// EncodeArguments builds the JSON argument object from collected values.
func EncodeArguments(values map[string]string) (json.RawMessage, error) {
	if len(values) == 0 {
		return json.RawMessage(`{}`), nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	return data, nil
}

// CollectArguments prompts for each schema property of the tool and returns
// the argument object as JSON. Fails with UnsupportedTypeError before
// prompting if any property is not a string.
func CollectArguments(tool mcp.Tool) (json.RawMessage, error) {
	schema, err := ParseSchema(tool)
	if err != nil {
		return nil, err
	}

	names := schema.PropertyNames()
	if len(names) == 0 {
		return json.RawMessage(`{}`), nil
	}

	for _, name := range names {
		if prop := schema.Properties[name]; prop.Type != "string" {
			return nil, &UnsupportedTypeError{Property: name, Type: prop.Type}
		}
	}

	values := make([]string, len(names))
	fields := make([]huh.Field, 0, len(names))
	for i, name := range names {
		prop := schema.Properties[name]
		input := huh.NewInput().
			Title(name).
			Value(&values[i])
		if prop.Description != "" {
			input = input.Description(prop.Description)
		}
		if schema.IsRequired(name) {
			input = input.Validate(huh.ValidateNotEmpty())
		}
		fields = append(fields, input)
	}

	form := huh.NewForm(huh.NewGroup(fields...)).
		WithShowHelp(false).
		WithShowErrors(true)
	if err := form.Run(); err != nil {
		return nil, err
	}

	args := make(map[string]string, len(names))
	for i, name := range names {
		if values[i] == "" && !schema.IsRequired(name) {
			continue
		}
		args[name] = values[i]
	}
	return EncodeArguments(args)
}

// SelectTool prompts the user to pick a tool from the catalog. An empty name
// means the user chose to quit.
func SelectTool(tools []mcp.Tool) (string, error) {
	options := make([]huh.Option[string], 0, len(tools)+1)
	for _, t := range tools {
		label := t.Name
		if t.Description != "" {
			label = fmt.Sprintf("%s - %s", t.Name, t.Description)
		}
		options = append(options, huh.NewOption(label, t.Name))
	}
	options = append(options, huh.NewOption("quit", ""))

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Tool").
			Options(options...).
			Value(&choice),
	)).WithShowHelp(false)

	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}
