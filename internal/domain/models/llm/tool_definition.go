package llm

import (
	"fmt"
)

// FunctionDetails represents the function definition (OpenAI format)
type FunctionDetails struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolDefinition represents a tool definition as received from HTTP JSON.
//
// Supports two formats:
//  1. Minimal (built-in tool) - resolved to a full schema by name:
//     {"name": "web_search"}
//
//  2. Full OpenAI format (custom tool):
//     {
//       "type": "function",
//       "function": {
//         "name": "get_weather",
//         "description": "Get weather for a location",
//         "parameters": {"type": "object", "properties": {...}, "required": [...]}
//       }
//     }
type ToolDefinition struct {
	// Type should be "function" for OpenAI format (optional for minimal format)
	Type string `json:"type,omitempty"`

	// Name is the tool identifier (minimal format only).
	// For full format, use Function.Name instead.
	Name string `json:"name,omitempty"`

	// Function contains the full function definition (OpenAI format)
	Function *FunctionDetails `json:"function,omitempty"`
}

// ToolName returns the effective tool name regardless of format.
func (td *ToolDefinition) ToolName() string {
	if td.Function != nil {
		return td.Function.Name
	}
	return td.Name
}

// Validate checks the definition is usable in either format.
func (td *ToolDefinition) Validate() error {
	if td.Function != nil {
		if td.Function.Name == "" {
			return fmt.Errorf("function name is required")
		}
		if td.Function.Parameters == nil {
			return fmt.Errorf("function parameters are required")
		}
		return nil
	}

	if td.Name == "" {
		return fmt.Errorf("tool definition must have either 'function' or 'name' field")
	}
	if GetToolDefinitionByName(td.Name) == nil {
		return fmt.Errorf("unknown built-in tool: %s", td.Name)
	}
	return nil
}

// Resolve expands a minimal-format definition to its full built-in schema.
// Full-format definitions are returned as-is.
func (td *ToolDefinition) Resolve() (*ToolDefinition, error) {
	if td.Function != nil {
		return td, nil
	}
	full := GetToolDefinitionByName(td.Name)
	if full == nil {
		return nil, fmt.Errorf("unknown built-in tool: %s", td.Name)
	}
	return full, nil
}

// GetBuiltinToolDefinitions returns the schemas for the built-in dev tools.
func GetBuiltinToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		getEchoToolDefinition(),
		getClockToolDefinition(),
	}
}

// getEchoToolDefinition returns the schema for the 'echo' tool.
// Deterministic round-trip tool for exercising the tool loop in dev/test.
func getEchoToolDefinition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: &FunctionDetails{
			Name:        "echo",
			Description: "Echo the given text back verbatim. Useful for verifying tool round-trips.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{
						"type":        "string",
						"description": "The text to echo back.",
					},
				},
				"required": []string{"text"},
			},
		},
	}
}

// getClockToolDefinition returns the schema for the 'clock' tool.
func getClockToolDefinition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: &FunctionDetails{
			Name:        "clock",
			Description: "Get the current server time. Optionally format it with a Go reference layout.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"layout": map[string]interface{}{
						"type":        "string",
						"description": "Optional Go time layout (e.g. '2006-01-02 15:04:05'). Defaults to RFC 3339.",
					},
				},
				"required": []string{},
			},
		},
	}
}

// getWebSearchToolDefinition returns the schema for the 'web_search' tool.
// On providers with a native web search (Anthropic) this maps to the
// provider-side server tool; elsewhere it is sent as a plain function tool.
func getWebSearchToolDefinition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: &FunctionDetails{
			Name:        "web_search",
			Description: "Search the web for current information. Returns web pages with titles, URLs, and content snippets.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query. Be specific and use relevant keywords for best results.",
					},
					"max_results": map[string]interface{}{
						"type":        "integer",
						"description": "Optional: maximum number of results to return (default: 5, max: 10).",
						"minimum":     1,
						"maximum":     10,
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// GetToolDefinitionByName resolves minimal format {"name": "echo"} to a full
// schema. Returns nil if the name is not a recognized built-in.
func GetToolDefinitionByName(name string) *ToolDefinition {
	switch name {
	case "echo":
		def := getEchoToolDefinition()
		return &def
	case "clock":
		def := getClockToolDefinition()
		return &def
	case "web_search":
		def := getWebSearchToolDefinition()
		return &def
	default:
		return nil
	}
}
