package llm

import (
	"encoding/json"
	"fmt"
)

// SSE event type constants
const (
	SSEEventTurnStart    = "turn_start"    // Turn streaming has begun
	SSEEventBlockStart   = "block_start"   // New block started
	SSEEventBlockDelta   = "block_delta"   // Incremental or complete block content
	SSEEventBlockStop    = "block_stop"    // Block finished
	SSEEventTurnComplete = "turn_complete" // Turn finished successfully
	SSEEventTurnError    = "turn_error"    // Turn encountered error
)

// Wire-level delta_type values carried by block_delta events. These are the
// client-facing enum; provider-level delta types (turn_block_delta.go) are
// mapped onto them at emission. Thinking text arrives as "text" because the
// block_start already identified the block as thinking.
const (
	SSEDeltaTypeText      = "text"
	SSEDeltaTypeSignature = "signature"
	SSEDeltaTypeJSON      = "json"
)

// TurnStartEvent signals that streaming has begun for a turn
type TurnStartEvent struct {
	TurnID string `json:"turn_id"`
	Model  string `json:"model"`
}

// BlockStartEvent signals that a new block has started.
// BlockIndex is always the turn-level sequence, never a provider index.
type BlockStartEvent struct {
	BlockIndex int     `json:"block_index"`
	BlockType  *string `json:"block_type,omitempty"`
}

// BlockDeltaEvent carries content for an open block. Exactly one of the
// delta fields is set, matching DeltaType. Text and signature deltas stream
// incrementally; json deltas always carry one complete, parseable payload.
type BlockDeltaEvent struct {
	BlockIndex     int     `json:"block_index"`
	DeltaType      string  `json:"delta_type"` // "text", "signature", "json"
	TextDelta      *string `json:"text_delta,omitempty"`
	SignatureDelta *string `json:"signature_delta,omitempty"`
	JSONDelta      *string `json:"json_delta,omitempty"`
}

// BlockStopEvent signals that a block has finished
type BlockStopEvent struct {
	BlockIndex int `json:"block_index"`
}

// TurnCompleteEvent signals that the turn has finished successfully
type TurnCompleteEvent struct {
	TurnID           string                 `json:"turn_id"`
	StopReason       string                 `json:"stop_reason"` // "end_turn", "max_tokens", "stop_sequence", "tool_use"
	InputTokens      int                    `json:"input_tokens,omitempty"`
	OutputTokens     int                    `json:"output_tokens,omitempty"`
	ResponseMetadata map[string]interface{} `json:"response_metadata,omitempty"`
}

// TurnErrorEvent signals that the turn encountered an error.
// IsCancelled distinguishes user cancellation from real failures so clients
// can skip the error toast.
type TurnErrorEvent struct {
	TurnID         string `json:"turn_id"`
	Error          string `json:"error"`
	IsCancelled    bool   `json:"is_cancelled,omitempty"`
	LastBlockIndex *int   `json:"last_block_index,omitempty"`
}

// FormatSSE formats an event for the wire:
//
//	event: event_name
//	data: {"field": "value"}
//	\n
func FormatSSE(eventType string, data interface{}) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal SSE event data: %w", err)
	}

	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData)), nil
}
