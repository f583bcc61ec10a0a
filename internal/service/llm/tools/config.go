package tools

// ToolConfig centralizes configuration for tools with tunable limits.
type ToolConfig struct {
	// Web search tool configuration (external APIs)
	WebSearchDefaultLimit int // Default number of web search results
	WebSearchMaxLimit     int // Maximum allowed web search results
}

// DefaultToolConfig returns the default tool configuration.
func DefaultToolConfig() *ToolConfig {
	return &ToolConfig{
		WebSearchDefaultLimit: 5,
		WebSearchMaxLimit:     10,
	}
}
