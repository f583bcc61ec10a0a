package llm

// Delta type constants for provider streaming events
const (
	DeltaTypeText      = "text_delta"       // Regular text content
	DeltaTypeThinking  = "thinking_delta"   // Thinking/reasoning text
	DeltaTypeSignature = "signature_delta"  // Thinking signature (Anthropic Extended Thinking)
	DeltaTypeInputJSON = "input_json_delta" // Incremental tool input JSON
)

// TurnBlockDelta is an incremental update to one in-flight block of a
// provider stream. Deltas are ephemeral: the executor forwards text and
// signature deltas to SSE clients immediately, accumulates JSON deltas until
// the block completes, and persists only complete TurnBlocks.
//
// BlockIndex is the PROVIDER's block index, always starting at 0 per stream.
// The executor remaps it to a turn-level sequence before anything reaches
// clients or the database.
//
// BlockType is set only on the first delta of a block (the block-start
// signal) and nil afterwards.
type TurnBlockDelta struct {
	BlockIndex int     `json:"block_index"`
	BlockType  *string `json:"block_type,omitempty"`

	// DeltaType is one of the DeltaType* constants; empty on pure
	// block-start deltas that carry no content.
	DeltaType string `json:"delta_type,omitempty"`

	// TextDelta holds incremental text (text and thinking blocks)
	TextDelta *string `json:"text_delta,omitempty"`

	// SignatureDelta holds incremental thinking-signature material
	SignatureDelta *string `json:"signature_delta,omitempty"`

	// JSONDelta holds incremental tool input JSON (tool_use blocks).
	// Partial JSON is unparseable, so these are never forwarded raw.
	JSONDelta *string `json:"json_delta,omitempty"`

	// Tool call identity, set on the block-start delta of tool_use blocks
	ToolCallID   *string `json:"tool_call_id,omitempty"`
	ToolCallName *string `json:"tool_call_name,omitempty"`
}

// IsBlockStart returns true if this delta signals the start of a new block
func (d *TurnBlockDelta) IsBlockStart() bool {
	return d.BlockType != nil
}

// IsTextDelta returns true if this delta carries text content
func (d *TurnBlockDelta) IsTextDelta() bool {
	return (d.DeltaType == DeltaTypeText || d.DeltaType == DeltaTypeThinking) && d.TextDelta != nil
}

// IsSignatureDelta returns true if this delta carries signature content
func (d *TurnBlockDelta) IsSignatureDelta() bool {
	return d.DeltaType == DeltaTypeSignature && d.SignatureDelta != nil
}

// IsJSONDelta returns true if this delta carries tool input JSON
func (d *TurnBlockDelta) IsJSONDelta() bool {
	return d.DeltaType == DeltaTypeInputJSON && d.JSONDelta != nil
}
