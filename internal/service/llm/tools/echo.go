package tools

import (
	"context"
	"errors"
	"unicode/utf8"
)

// EchoTool implements the 'echo' tool: it returns its input verbatim.
// Deterministic by construction, which makes it the tool of choice for
// exercising the full tool round-trip in dev and test environments.
type EchoTool struct{}

// NewEchoTool creates a new EchoTool instance.
func NewEchoTool() *EchoTool {
	return &EchoTool{}
}

// Execute implements ToolExecutor interface.
// Input parameters:
//   - text (string, required): the text to echo back
//
// Returns: {text: "...", length: <rune count>}
func (t *EchoTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	text, ok := input["text"].(string)
	if !ok {
		return nil, errors.New("missing required parameter: text (string)")
	}

	return map[string]interface{}{
		"text":   text,
		"length": utf8.RuneCountInString(text),
	}, nil
}
