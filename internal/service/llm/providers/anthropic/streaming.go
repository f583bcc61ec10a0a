package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"strand/internal/domain/models/llm"
	domainllm "strand/internal/domain/services/llm"
)

// streamBufferSize keeps the producer ahead of the consumer without letting
// an abandoned stream pin much memory.
const streamBufferSize = 10

// StreamResponse generates a streaming response from Claude.
// Returns a channel that emits StreamEvent as deltas arrive from the API.
func (p *Provider) StreamResponse(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by Anthropic provider", req.Model)
	}

	apiParams, err := p.buildMessageParams(req)
	if err != nil {
		return nil, err
	}

	eventChan := make(chan domainllm.StreamEvent, streamBufferSize)

	go func() {
		defer close(eventChan)

		stream := p.client.Messages.NewStreaming(ctx, apiParams)
		defer stream.Close()

		translator := &streamTranslator{}

		for stream.Next() {
			events, err := translator.handle(stream.Current())
			if err != nil {
				emit(ctx, eventChan, domainllm.StreamEvent{Error: err})
				return
			}
			for _, event := range events {
				if !emit(ctx, eventChan, event) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			emit(ctx, eventChan, domainllm.StreamEvent{Error: fmt.Errorf("anthropic streaming error: %w", err)})
			return
		}
		if ctx.Err() != nil {
			return
		}

		emit(ctx, eventChan, domainllm.StreamEvent{Metadata: translator.metadata()})
	}()

	return eventChan, nil
}

// emit sends an event on the channel, giving up when ctx is cancelled so the
// producer goroutine never outlives an abandoned consumer.
func emit(ctx context.Context, ch chan<- domainllm.StreamEvent, event domainllm.StreamEvent) bool {
	select {
	case ch <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// streamTranslator folds raw Anthropic stream events into domain events. It
// feeds every event through the SDK's message accumulator so complete blocks
// (on content_block_stop) and final metadata (after message_stop) can be
// synthesized from accumulated state.
type streamTranslator struct {
	message anthropic.Message
}

func (t *streamTranslator) handle(event anthropic.MessageStreamEventUnion) ([]domainllm.StreamEvent, error) {
	if err := t.message.Accumulate(event); err != nil {
		return nil, fmt.Errorf("failed to accumulate message: %w", err)
	}

	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		delta, err := blockStartDelta(e)
		if err != nil {
			return nil, err
		}
		return []domainllm.StreamEvent{{Delta: delta}}, nil

	case anthropic.ContentBlockDeltaEvent:
		delta := contentDelta(e)
		if delta == nil {
			return nil, nil
		}
		return []domainllm.StreamEvent{{Delta: delta}}, nil

	case anthropic.ContentBlockStopEvent:
		index := int(e.Index)
		if index < 0 || index >= len(t.message.Content) {
			return nil, fmt.Errorf("content_block_stop for unknown block index %d", index)
		}
		block, err := completedBlock(t.message.Content[index], index)
		if err != nil {
			return nil, err
		}
		return []domainllm.StreamEvent{{Block: block}}, nil

	default:
		// message_start, message_delta and message_stop only feed the
		// accumulator; their payloads surface through metadata().
		return nil, nil
	}
}

// metadata builds the terminal metadata event from the accumulated message.
func (t *streamTranslator) metadata() *domainllm.StreamMetadata {
	metadata := &domainllm.StreamMetadata{
		Model:        string(t.message.Model),
		InputTokens:  int(t.message.Usage.InputTokens),
		OutputTokens: int(t.message.Usage.OutputTokens),
		StopReason:   string(t.message.StopReason),
	}

	responseMetadata := make(map[string]interface{})
	if t.message.StopSequence != "" {
		responseMetadata["stop_sequence"] = t.message.StopSequence
	}
	if t.message.Usage.CacheCreationInputTokens > 0 {
		responseMetadata["cache_creation_input_tokens"] = int(t.message.Usage.CacheCreationInputTokens)
	}
	if t.message.Usage.CacheReadInputTokens > 0 {
		responseMetadata["cache_read_input_tokens"] = int(t.message.Usage.CacheReadInputTokens)
	}
	metadata.ResponseMetadata = responseMetadata

	return metadata
}

// blockStartDelta maps a content_block_start event to a block-start delta.
func blockStartDelta(e anthropic.ContentBlockStartEvent) (*llm.TurnBlockDelta, error) {
	delta := &llm.TurnBlockDelta{BlockIndex: int(e.Index)}

	switch e.ContentBlock.Type {
	case "text":
		blockType := llm.BlockTypeText
		delta.BlockType = &blockType

	case "thinking", "redacted_thinking":
		blockType := llm.BlockTypeThinking
		delta.BlockType = &blockType

	case "tool_use":
		blockType := llm.BlockTypeToolUse
		delta.BlockType = &blockType
		setToolIdentity(delta, e.ContentBlock.ID, e.ContentBlock.Name)

	case "server_tool_use":
		// Claude's built-in web search runs upstream; the block is recorded
		// so clients and catchup see the full round.
		blockType := llm.BlockTypeWebSearchUse
		delta.BlockType = &blockType
		setToolIdentity(delta, e.ContentBlock.ID, e.ContentBlock.Name)

	case "web_search_tool_result":
		blockType := llm.BlockTypeWebSearchResult
		delta.BlockType = &blockType
		setToolIdentity(delta, e.ContentBlock.ToolUseID, "")

	default:
		return nil, fmt.Errorf("unsupported content block type '%s'", e.ContentBlock.Type)
	}

	return delta, nil
}

func setToolIdentity(delta *llm.TurnBlockDelta, id, name string) {
	if id != "" {
		delta.ToolCallID = &id
	}
	if name != "" {
		delta.ToolCallName = &name
	}
}

// contentDelta maps a content_block_delta event to a domain delta. Returns
// nil for delta types that are not forwarded (citations_delta).
func contentDelta(e anthropic.ContentBlockDeltaEvent) *llm.TurnBlockDelta {
	delta := &llm.TurnBlockDelta{BlockIndex: int(e.Index)}

	switch e.Delta.Type {
	case "text_delta":
		delta.DeltaType = llm.DeltaTypeText
		text := e.Delta.Text
		delta.TextDelta = &text

	case "thinking_delta":
		delta.DeltaType = llm.DeltaTypeThinking
		text := e.Delta.Thinking
		delta.TextDelta = &text

	case "signature_delta":
		delta.DeltaType = llm.DeltaTypeSignature
		signature := e.Delta.Signature
		delta.SignatureDelta = &signature

	case "input_json_delta":
		delta.DeltaType = llm.DeltaTypeInputJSON
		partial := e.Delta.PartialJSON
		delta.JSONDelta = &partial

	default:
		return nil
	}

	return delta
}

// completedBlock converts an accumulated content block into the domain block
// persisted for the turn. Index is the provider's block index; the stream
// executor remaps it to a turn-level sequence.
func completedBlock(block anthropic.ContentBlockUnion, index int) (*llm.TurnBlock, error) {
	switch block.Type {
	case "text":
		text := block.Text
		return &llm.TurnBlock{
			BlockType:   llm.BlockTypeText,
			Sequence:    index,
			TextContent: &text,
			Status:      llm.BlockStatusComplete,
		}, nil

	case "thinking":
		thinking := block.Thinking
		var content map[string]interface{}
		if block.Signature != "" {
			content = map[string]interface{}{"signature": block.Signature}
		}
		return &llm.TurnBlock{
			BlockType:   llm.BlockTypeThinking,
			Sequence:    index,
			TextContent: &thinking,
			Content:     content,
			Status:      llm.BlockStatusComplete,
		}, nil

	case "redacted_thinking":
		empty := ""
		return &llm.TurnBlock{
			BlockType:   llm.BlockTypeThinking,
			Sequence:    index,
			TextContent: &empty,
			Content:     map[string]interface{}{"redacted": block.Data},
			Status:      llm.BlockStatusComplete,
		}, nil

	case "tool_use":
		return toolUseBlock(block, index, llm.BlockTypeToolUse, llm.ExecutionSideBackend), nil

	case "server_tool_use":
		return toolUseBlock(block, index, llm.BlockTypeWebSearchUse, llm.ExecutionSideProvider), nil

	case "web_search_tool_result":
		return &llm.TurnBlock{
			BlockType: llm.BlockTypeWebSearchResult,
			Sequence:  index,
			Content:   webSearchResultContent(block),
			Status:    llm.BlockStatusComplete,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported content block type '%s'", block.Type)
	}
}

func toolUseBlock(block anthropic.ContentBlockUnion, index int, blockType, executionSide string) *llm.TurnBlock {
	return &llm.TurnBlock{
		BlockType: blockType,
		Sequence:  index,
		Content: map[string]interface{}{
			"tool_use_id":    block.ID,
			"tool_name":      block.Name,
			"input":          decodeToolInput(block.Input),
			"execution_side": executionSide,
		},
		Status: llm.BlockStatusComplete,
	}
}

// decodeToolInput parses accumulated tool input JSON. Unparseable input
// becomes an empty map; the tool round then fails with a visible error
// result instead of killing the stream.
func decodeToolInput(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var input map[string]interface{}
	if err := json.Unmarshal(raw, &input); err != nil || input == nil {
		return map[string]interface{}{}
	}
	return input
}

// webSearchResultContent extracts the search results (or the API error code)
// from a web_search_tool_result block. The content union is either a result
// array or an error object, so the raw JSON shape decides.
func webSearchResultContent(block anthropic.ContentBlockUnion) map[string]interface{} {
	content := map[string]interface{}{"tool_use_id": block.ToolUseID}

	raw := strings.TrimSpace(block.Content.RawJSON())
	if strings.HasPrefix(raw, "[") {
		var results []map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &results); err == nil {
			content["results"] = results
			return content
		}
	} else if raw != "" && raw != "null" {
		var apiErr struct {
			ErrorCode string `json:"error_code"`
		}
		if err := json.Unmarshal([]byte(raw), &apiErr); err == nil && apiErr.ErrorCode != "" {
			content["error"] = apiErr.ErrorCode
			return content
		}
	}

	content["error"] = "unrecognized web search result payload"
	return content
}
