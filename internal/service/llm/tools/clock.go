package tools

import (
	"context"
	"time"
)

// ClockTool implements the 'clock' tool: it reports the current server time.
type ClockTool struct {
	// now is swappable for tests
	now func() time.Time
}

// NewClockTool creates a new ClockTool instance.
func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

// Execute implements ToolExecutor interface.
// Input parameters:
//   - layout (string, optional): Go reference layout; defaults to RFC 3339
//
// Returns: {time: "...", unix: <seconds>}
func (t *ClockTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	layout := time.RFC3339
	if l, ok := input["layout"].(string); ok && l != "" {
		layout = l
	}

	now := t.now().UTC()
	return map[string]interface{}{
		"time": now.Format(layout),
		"unix": now.Unix(),
	}, nil
}
