package tools

import "strand/internal/service/llm/tools/external"

// RegisterBuiltinTools registers the built-in backend tools (echo, clock)
// with the provided registry.
//
// The built-ins carry no per-request state, so one registry created at
// startup is shared by every stream.
func RegisterBuiltinTools(registry *ToolRegistry) {
	registry.Register("echo", NewEchoTool())
	registry.Register("clock", NewClockTool())
}

// NewBuiltinRegistry builds a registry with the built-in tools registered.
func NewBuiltinRegistry() *ToolRegistry {
	registry := NewToolRegistry()
	RegisterBuiltinTools(registry)
	return registry
}

// RegisterWebSearchTool registers the web_search tool backed by the given
// search client. Registered separately from the built-ins because it needs
// an API key.
func RegisterWebSearchTool(registry *ToolRegistry, client external.SearchClient) {
	registry.Register("web_search", NewWebSearchTool(client, nil))
}
