package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"

	"strand/internal/domain/models/llm"
	domainllm "strand/internal/domain/services/llm"
)

// streamBufferSize keeps the producer ahead of the consumer without letting
// an abandoned stream pin much memory.
const streamBufferSize = 10

// StreamResponse generates a streaming response through OpenRouter.
// Returns a channel that emits StreamEvent as deltas arrive from the API.
func (p *Provider) StreamResponse(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model is required for OpenRouter provider")
	}

	chatParams, opts, err := p.buildChatParams(req)
	if err != nil {
		return nil, err
	}
	chatParams.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	eventChan := make(chan domainllm.StreamEvent, streamBufferSize)

	go func() {
		defer close(eventChan)

		stream := p.client.Chat.Completions.NewStreaming(ctx, chatParams, opts...)
		defer stream.Close()

		translator := newChunkTranslator()

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
			emit(ctx, eventChan, domainllm.StreamEvent{Error: fmt.Errorf("openrouter streaming error: %w", err)})
			return
		}
		if ctx.Err() != nil {
			return
		}

		for _, event := range translator.finalize() {
			if !emit(ctx, eventChan, event) {
				return
			}
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

// toolCallState accumulates one streamed tool call. Names and arguments
// arrive as fragments keyed by the chunk's tool call index.
type toolCallState struct {
	blockIndex int
	id         string
	name       strings.Builder
	args       strings.Builder
}

// chunkTranslator folds Chat Completions chunks into domain events.
//
// Chunks carry flat deltas with no block boundaries, so the translator
// synthesizes block indexes in order of first appearance (reasoning, text
// and each tool call get their own block) and emits the completed blocks
// when the choice reports a finish_reason.
type chunkTranslator struct {
	model        string
	responseID   string
	finishReason string

	promptTokens     int64
	completionTokens int64

	nextIndex int

	reasoningIndex int
	reasoning      strings.Builder

	textIndex int
	text      strings.Builder

	toolOrder []int64
	toolCalls map[int64]*toolCallState
	flushed   bool
}

func newChunkTranslator() *chunkTranslator {
	return &chunkTranslator{
		reasoningIndex: -1,
		textIndex:      -1,
		toolCalls:      make(map[int64]*toolCallState),
	}
}

func (t *chunkTranslator) allocateIndex() int {
	index := t.nextIndex
	t.nextIndex++
	return index
}

func (t *chunkTranslator) handle(chunk openai.ChatCompletionChunk) ([]domainllm.StreamEvent, error) {
	if err := chunkError(chunk); err != nil {
		return nil, err
	}

	if chunk.Model != "" {
		t.model = chunk.Model
	}
	if chunk.ID != "" {
		t.responseID = chunk.ID
	}
	if chunk.Usage.PromptTokens != 0 || chunk.Usage.CompletionTokens != 0 || chunk.Usage.TotalTokens != 0 {
		t.promptTokens = chunk.Usage.PromptTokens
		t.completionTokens = chunk.Usage.CompletionTokens
	}

	if len(chunk.Choices) == 0 {
		return nil, nil
	}
	choice := chunk.Choices[0]

	var events []domainllm.StreamEvent

	if reasoning := reasoningDelta(choice.Delta); reasoning != "" {
		if t.reasoningIndex == -1 {
			t.reasoningIndex = t.allocateIndex()
			blockType := llm.BlockTypeThinking
			events = append(events, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
				BlockIndex: t.reasoningIndex,
				BlockType:  &blockType,
			}})
		}
		t.reasoning.WriteString(reasoning)
		text := reasoning
		events = append(events, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
			BlockIndex: t.reasoningIndex,
			DeltaType:  llm.DeltaTypeThinking,
			TextDelta:  &text,
		}})
	}

	if choice.Delta.Content != "" {
		if t.textIndex == -1 {
			t.textIndex = t.allocateIndex()
			blockType := llm.BlockTypeText
			events = append(events, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
				BlockIndex: t.textIndex,
				BlockType:  &blockType,
			}})
		}
		t.text.WriteString(choice.Delta.Content)
		text := choice.Delta.Content
		events = append(events, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
			BlockIndex: t.textIndex,
			DeltaType:  llm.DeltaTypeText,
			TextDelta:  &text,
		}})
	}

	for _, call := range choice.Delta.ToolCalls {
		state, ok := t.toolCalls[call.Index]
		if !ok {
			state = &toolCallState{blockIndex: t.allocateIndex()}
			t.toolCalls[call.Index] = state
			t.toolOrder = append(t.toolOrder, call.Index)

			blockType := llm.BlockTypeToolUse
			start := &llm.TurnBlockDelta{
				BlockIndex: state.blockIndex,
				BlockType:  &blockType,
			}
			if call.ID != "" {
				id := call.ID
				start.ToolCallID = &id
			}
			if call.Function.Name != "" {
				name := call.Function.Name
				start.ToolCallName = &name
			}
			events = append(events, domainllm.StreamEvent{Delta: start})
		}

		if state.id == "" && call.ID != "" {
			state.id = call.ID
		}
		state.name.WriteString(call.Function.Name)

		if call.Function.Arguments != "" {
			state.args.WriteString(call.Function.Arguments)
			partial := call.Function.Arguments
			events = append(events, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
				BlockIndex: state.blockIndex,
				DeltaType:  llm.DeltaTypeInputJSON,
				JSONDelta:  &partial,
			}})
		}
	}

	if choice.FinishReason != "" {
		t.finishReason = string(choice.FinishReason)
		events = append(events, t.flush()...)
	}

	return events, nil
}

// flush emits every open block as a completed domain block, ordered by
// synthesized block index.
func (t *chunkTranslator) flush() []domainllm.StreamEvent {
	if t.flushed {
		return nil
	}
	t.flushed = true

	var blocks []*llm.TurnBlock

	if t.reasoningIndex != -1 {
		reasoning := t.reasoning.String()
		blocks = append(blocks, &llm.TurnBlock{
			BlockType:   llm.BlockTypeThinking,
			Sequence:    t.reasoningIndex,
			TextContent: &reasoning,
			Status:      llm.BlockStatusComplete,
		})
	}

	if t.textIndex != -1 {
		text := t.text.String()
		blocks = append(blocks, &llm.TurnBlock{
			BlockType:   llm.BlockTypeText,
			Sequence:    t.textIndex,
			TextContent: &text,
			Status:      llm.BlockStatusComplete,
		})
	}

	for _, index := range t.toolOrder {
		state := t.toolCalls[index]
		id := state.id
		if id == "" {
			// Some routed models omit call IDs; the tool round still needs
			// one to correlate its result.
			id = "call_" + uuid.NewString()
		}
		blocks = append(blocks, &llm.TurnBlock{
			BlockType: llm.BlockTypeToolUse,
			Sequence:  state.blockIndex,
			Content: map[string]interface{}{
				"tool_use_id":    id,
				"tool_name":      state.name.String(),
				"input":          decodeToolArguments(state.args.String()),
				"execution_side": llm.ExecutionSideBackend,
			},
			Status: llm.BlockStatusComplete,
		})
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Sequence < blocks[j].Sequence })

	events := make([]domainllm.StreamEvent, 0, len(blocks))
	for _, block := range blocks {
		events = append(events, domainllm.StreamEvent{Block: block})
	}
	return events
}

// finalize flushes any blocks still open when the stream ends without a
// finish_reason (some routed models drop it on disconnect).
func (t *chunkTranslator) finalize() []domainllm.StreamEvent {
	if t.nextIndex == 0 {
		return nil
	}
	return t.flush()
}

// metadata builds the terminal metadata event from accumulated chunk state.
func (t *chunkTranslator) metadata() *domainllm.StreamMetadata {
	metadata := &domainllm.StreamMetadata{
		Model:        t.model,
		InputTokens:  int(t.promptTokens),
		OutputTokens: int(t.completionTokens),
		StopReason:   mapFinishReason(t.finishReason),
	}

	responseMetadata := make(map[string]interface{})
	if t.responseID != "" {
		responseMetadata["response_id"] = t.responseID
	}
	if t.finishReason != "" {
		responseMetadata["finish_reason"] = t.finishReason
	}
	metadata.ResponseMetadata = responseMetadata

	return metadata
}

// mapFinishReason converts Chat Completions finish reasons to the stop
// reason vocabulary the rest of the system keys on.
func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return reason
	}
}

// reasoningDelta extracts OpenRouter's non-standard reasoning delta from a
// chunk. Absent or null for providers without reasoning traces.
func reasoningDelta(delta openai.ChatCompletionChunkChoiceDelta) string {
	field, ok := delta.JSON.ExtraFields["reasoning"]
	if !ok || !field.Valid() {
		return ""
	}
	var reasoning string
	if err := json.Unmarshal([]byte(field.Raw()), &reasoning); err != nil {
		return ""
	}
	return reasoning
}

// chunkError surfaces OpenRouter's mid-stream error payload, which arrives
// as an "error" object on an otherwise normal chunk.
func chunkError(chunk openai.ChatCompletionChunk) error {
	field, ok := chunk.JSON.ExtraFields["error"]
	if !ok || !field.Valid() {
		return nil
	}

	var apiErr struct {
		Message string      `json:"message"`
		Code    interface{} `json:"code"`
	}
	if err := json.Unmarshal([]byte(field.Raw()), &apiErr); err == nil && apiErr.Message != "" {
		if apiErr.Code != nil {
			return fmt.Errorf("openrouter API error (%v): %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("openrouter API error: %s", apiErr.Message)
	}
	return fmt.Errorf("openrouter API error: %s", field.Raw())
}

// decodeToolArguments parses accumulated tool call arguments. Unparseable
// input becomes an empty map; the tool round then fails with a visible
// error result instead of killing the stream.
func decodeToolArguments(raw string) map[string]interface{} {
	if raw == "" {
		return map[string]interface{}{}
	}
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &input); err != nil || input == nil {
		return map[string]interface{}{}
	}
	return input
}
