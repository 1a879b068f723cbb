package tools

import (
	"context"
)

// Kind says which side executes a tool.
type Kind string

const (
	// KindFrontend tools run in this process.
	KindFrontend Kind = "frontend"
	// KindBackend tools are resolved by the remote side; the coordinator skips them.
	KindBackend Kind = "backend"
)

// ExecuteFunc runs a tool with its parsed arguments
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool describes one callable tool. A frontend tool without Execute is left
// pending for an out-of-band result (for example a human approval).
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema advertised for the arguments
	Parameters map[string]any
	Execute    ExecuteFunc
	Disabled   bool
	Kind       Kind
}

// Definition is the schema of a tool as advertised to the model
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// JSONSchemaProperty represents a property in a JSON Schema
type JSONSchemaProperty struct {
	Type        string                        `json:"type"`
	Description string                        `json:"description,omitempty"`
	Properties  map[string]JSONSchemaProperty `json:"properties,omitempty"`
	Required    []string                      `json:"required,omitempty"`
	Items       *JSONSchemaProperty           `json:"items,omitempty"`
	Enum        []any                         `json:"enum,omitempty"`
	Default     any                           `json:"default,omitempty"`
}

// NewJSONSchema creates a basic JSON Schema structure
func NewJSONSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": make(map[string]any),
		"required":   []string{},
	}
}

// AddProperty adds a property to a JSON Schema
func AddProperty(schema map[string]any, name string, property JSONSchemaProperty) {
	if properties, ok := schema["properties"].(map[string]any); ok {
		properties[name] = property
	}
}

// AddRequired adds a required field to a JSON Schema
func AddRequired(schema map[string]any, field string) {
	if required, ok := schema["required"].([]string); ok {
		schema["required"] = append(required, field)
	}
}

// ToolError represents an error from tool execution
type ToolError struct {
	ToolName string
	Message  string
	Cause    error
}

func (e ToolError) Error() string {
	if e.Cause != nil {
		return e.ToolName + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.ToolName + ": " + e.Message
}

func (e ToolError) Unwrap() error {
	return e.Cause
}
