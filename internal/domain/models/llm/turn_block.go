package llm

import (
	"time"
)

// Block type constants
const (
	BlockTypeText             = "text"
	BlockTypeThinking         = "thinking"
	BlockTypeToolUse          = "tool_use"
	BlockTypeToolResult       = "tool_result"
	BlockTypeImage            = "image"
	BlockTypeReference        = "reference"
	BlockTypePartialReference = "partial_reference"
	BlockTypeWebSearchUse     = "web_search_use"
	BlockTypeWebSearchResult  = "web_search_result"
)

// Block status constants. "partial" marks text salvaged from an interrupted
// stream; it only ever appears on text blocks of error turns.
const (
	BlockStatusComplete = "complete"
	BlockStatusPartial  = "partial"
)

// Execution side values for tool_use content. Provider-side tools (e.g. a
// model's built-in web search) are executed upstream; backend-side tools are
// executed by this server between streams.
const (
	ExecutionSideProvider = "provider"
	ExecutionSideBackend  = "backend"
)

// TurnBlock is one unit of turn content, identified by (turn_id, sequence).
// Sequence is the turn-level index: it keeps counting across tool rounds, so
// a completed turn's blocks always form a contiguous 0..N-1 run.
//
// The content field stores block-type-specific structured data as JSONB:
//   - text: null (text in text_content field)
//   - thinking: {"signature": "..."} (optional, text in text_content)
//   - tool_use: {"tool_use_id": "...", "tool_name": "...", "input": {...}, "execution_side": "backend"}
//   - tool_result: {"tool_use_id": "...", "tool_name": "...", "is_error": false, "result": ...}
//   - image: {"url": "...", "mime_type": "...", "alt_text": "..."}
//   - reference: {"ref_id": "...", "ref_type": "...", "version_timestamp": ...}
//   - partial_reference: {"ref_id": "...", "selection_start": 0, "selection_end": 42}
//   - web_search_use: {"tool_use_id": "...", "tool_name": "web_search", "input": {"query": "..."}, "execution_side": "provider"}
//   - web_search_result: {"tool_use_id": "...", "results": [...]}
type TurnBlock struct {
	TurnID      string                 `json:"turn_id"`
	BlockType   string                 `json:"block_type"`
	Sequence    int                    `json:"sequence"`
	TextContent *string                `json:"text_content,omitempty"`
	Content     map[string]interface{} `json:"content,omitempty"`
	Status      string                 `json:"status"` // "complete" or "partial"
	CreatedAt   time.Time              `json:"created_at"`
}

// IsTextual returns true for block types whose payload lives in text_content.
func (tb *TurnBlock) IsTextual() bool {
	return tb.BlockType == BlockTypeText || tb.BlockType == BlockTypeThinking
}

// IsBackendSideTool returns true if this is a tool_use block that the backend
// must execute (as opposed to provider-executed tools like built-in web search).
func (tb *TurnBlock) IsBackendSideTool() bool {
	if tb.BlockType != BlockTypeToolUse {
		return false
	}
	if tb.Content == nil {
		return false
	}
	side, _ := tb.Content["execution_side"].(string)
	return side == ExecutionSideBackend
}

// ToolUseID extracts the tool_use_id from tool_use/tool_result content.
// Returns "" when absent.
func (tb *TurnBlock) ToolUseID() string {
	if tb.Content == nil {
		return ""
	}
	id, _ := tb.Content["tool_use_id"].(string)
	return id
}
