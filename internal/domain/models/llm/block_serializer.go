package llm

import (
	"encoding/json"

	"strand/internal/mstream"
)

// BlockSerializer converts persisted TurnBlocks back into the SSE event
// sequence a live stream would have produced for them.
type BlockSerializer struct{}

// NewBlockSerializer creates a new BlockSerializer instance
func NewBlockSerializer() *BlockSerializer {
	return &BlockSerializer{}
}

// BlockToSSEEvents converts a TurnBlock into block_start, block_delta (when
// the block has content), block_stop. Used by catchup to replay completed
// turns; blockIndex must be the block's turn-level sequence so replayed
// indices match what live subscribers saw.
//
// Textual content is replayed as one text delta carrying the full text;
// structured content as one json delta carrying the full content object.
func (s *BlockSerializer) BlockToSSEEvents(block *TurnBlock, blockIndex int) []mstream.Event {
	var events []mstream.Event

	blockStartData, _ := json.Marshal(BlockStartEvent{
		BlockIndex: blockIndex,
		BlockType:  &block.BlockType,
	})
	events = append(events, mstream.NewEvent(blockStartData).
		WithType(SSEEventBlockStart))

	// Text content (text, thinking blocks)
	if block.TextContent != nil && *block.TextContent != "" {
		blockDeltaData, _ := json.Marshal(BlockDeltaEvent{
			BlockIndex: blockIndex,
			DeltaType:  SSEDeltaTypeText,
			TextDelta:  block.TextContent,
		})
		events = append(events, mstream.NewEvent(blockDeltaData).
			WithType(SSEEventBlockDelta))
	}

	// Structured content (tool_use, tool_result, image, reference blocks)
	if block.Content != nil {
		contentJSON, _ := json.Marshal(block.Content)
		contentStr := string(contentJSON)
		blockDeltaData, _ := json.Marshal(BlockDeltaEvent{
			BlockIndex: blockIndex,
			DeltaType:  SSEDeltaTypeJSON,
			JSONDelta:  &contentStr,
		})
		events = append(events, mstream.NewEvent(blockDeltaData).
			WithType(SSEEventBlockDelta))
	}

	blockStopData, _ := json.Marshal(BlockStopEvent{
		BlockIndex: blockIndex,
	})
	events = append(events, mstream.NewEvent(blockStopData).
		WithType(SSEEventBlockStop))

	return events
}
