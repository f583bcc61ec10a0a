package lorem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"
	"github.com/google/uuid"

	"strand/internal/domain/models/llm"
	domainllm "strand/internal/domain/services/llm"
)

const (
	defaultMaxTokens = 4096
	streamBufferSize = 10
)

// Provider is a mock LLM provider that streams lorem ipsum text.
// Used for development and tests without real API keys. The model suffix
// selects a behavior:
//
//   - slow / fast / medium: words per second
//   - cutoff / small: overshoot the token budget and stop at max_tokens
//   - thinking: emit a thinking block before the text block
//   - tools: request an echo tool round before the final answer
//   - error: fail mid-stream after a couple of words
type Provider struct {
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider() *Provider {
	return &Provider{
		generator: loremgen.New(),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// SupportsModel returns true if the model name starts with "lorem-".
// Example models: "lorem-fast", "lorem-slow", "lorem-fast-tools"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

// streamDelay returns the delay between words based on the model name.
func streamDelay(model string) time.Duration {
	if strings.Contains(model, "slow") {
		return 500 * time.Millisecond // 2 words/second
	}
	if strings.Contains(model, "fast") {
		return 33 * time.Millisecond // 30 words/second
	}
	return 100 * time.Millisecond // default: 10 words/second
}

// isCutoffModel returns true if the model should simulate max_tokens cutoff.
func isCutoffModel(model string) bool {
	return strings.Contains(model, "cutoff") || strings.Contains(model, "small")
}

// StreamResponse generates a streaming lorem ipsum response shaped by the
// model name. Every block is followed by its completed TurnBlock, mirroring
// what the real providers emit.
func (p *Provider) StreamResponse(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by lorem provider", req.Model)
	}

	params := req.Params
	if params == nil {
		params = &llm.RequestParams{}
	}
	maxTokens := params.GetMaxTokens(defaultMaxTokens)
	thinking := params.ThinkingIsEnabled() || strings.Contains(req.Model, "thinking")
	delay := streamDelay(req.Model)

	eventChan := make(chan domainllm.StreamEvent, streamBufferSize)

	go func() {
		defer close(eventChan)

		if strings.Contains(req.Model, "error") {
			p.streamFailure(ctx, eventChan, delay)
			return
		}

		blockIndex := 0
		outputTokens := 0
		stopReason := "end_turn"

		if thinking {
			tokens, ok := p.streamThinkingBlock(ctx, eventChan, blockIndex, delay)
			if !ok {
				return
			}
			outputTokens += tokens
			blockIndex++
		}

		if strings.Contains(req.Model, "tools") && !hasToolResult(req.Messages) {
			// First round of the tool scenario: a short preamble, then an
			// echo call for the backend to execute.
			tokens, ok := p.streamTextBlock(ctx, eventChan, blockIndex, 8, false, delay)
			if !ok {
				return
			}
			outputTokens += tokens
			blockIndex++

			tokens, ok = p.streamToolUseBlock(ctx, eventChan, blockIndex)
			if !ok {
				return
			}
			outputTokens += tokens
			stopReason = "tool_use"
		} else {
			budget := maxTokens - outputTokens
			if budget < 1 {
				budget = 1
			}
			tokens, ok := p.streamTextBlock(ctx, eventChan, blockIndex, budget, isCutoffModel(req.Model), delay)
			if !ok {
				return
			}
			outputTokens += tokens
			if isCutoffModel(req.Model) && tokens >= budget {
				stopReason = "max_tokens"
			}
		}

		emit(ctx, eventChan, domainllm.StreamEvent{
			Metadata: &domainllm.StreamMetadata{
				Model:        req.Model,
				InputTokens:  estimateTokens(req.Messages),
				OutputTokens: outputTokens,
				StopReason:   stopReason,
				ResponseMetadata: map[string]interface{}{
					"mock":     true,
					"provider": "lorem",
				},
			},
		})
	}()

	return eventChan, nil
}

// streamThinkingBlock streams a short thinking block.
// Returns the word count and whether streaming should continue.
func (p *Provider) streamThinkingBlock(ctx context.Context, ch chan<- domainllm.StreamEvent, blockIndex int, delay time.Duration) (int, bool) {
	blockType := llm.BlockTypeThinking
	if !emit(ctx, ch, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
		BlockIndex: blockIndex,
		BlockType:  &blockType,
	}}) {
		return 0, false
	}

	words := strings.Fields(p.generator.Sentence(8, 12))
	var accumulated strings.Builder

	for _, word := range words {
		delta := word + " "
		accumulated.WriteString(delta)
		if !emit(ctx, ch, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
			BlockIndex: blockIndex,
			DeltaType:  llm.DeltaTypeThinking,
			TextDelta:  &delta,
		}}) {
			return 0, false
		}
		if !pause(ctx, delay) {
			return 0, false
		}
	}

	text := strings.TrimSpace(accumulated.String())
	if !emit(ctx, ch, domainllm.StreamEvent{Block: &llm.TurnBlock{
		BlockType:   llm.BlockTypeThinking,
		Sequence:    blockIndex,
		TextContent: &text,
		Status:      llm.BlockStatusComplete,
	}}) {
		return 0, false
	}

	return len(words), true
}

// streamTextBlock streams a text block of up to maxWords words. Cutoff
// models generate 50% extra so the budget is actually hit.
func (p *Provider) streamTextBlock(ctx context.Context, ch chan<- domainllm.StreamEvent, blockIndex, maxWords int, overshoot bool, delay time.Duration) (int, bool) {
	blockType := llm.BlockTypeText
	if !emit(ctx, ch, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
		BlockIndex: blockIndex,
		BlockType:  &blockType,
	}}) {
		return 0, false
	}

	targetWords := maxWords
	if overshoot {
		targetWords = maxWords + maxWords/2
	}
	words := strings.Fields(p.generateWords(targetWords))

	var accumulated strings.Builder
	sent := 0

	for _, word := range words {
		if sent >= maxWords {
			break
		}
		delta := word + " "
		accumulated.WriteString(delta)
		if !emit(ctx, ch, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
			BlockIndex: blockIndex,
			DeltaType:  llm.DeltaTypeText,
			TextDelta:  &delta,
		}}) {
			return sent, false
		}
		sent++
		if !pause(ctx, delay) {
			return sent, false
		}
	}

	text := strings.TrimSpace(accumulated.String())
	if !emit(ctx, ch, domainllm.StreamEvent{Block: &llm.TurnBlock{
		BlockType:   llm.BlockTypeText,
		Sequence:    blockIndex,
		TextContent: &text,
		Status:      llm.BlockStatusComplete,
	}}) {
		return sent, false
	}

	return sent, true
}

// streamToolUseBlock emits a deterministic echo tool call.
func (p *Provider) streamToolUseBlock(ctx context.Context, ch chan<- domainllm.StreamEvent, blockIndex int) (int, bool) {
	toolUseID := "toolu_" + uuid.NewString()
	toolName := "echo"
	echoText := p.generator.Sentence(3, 6)
	input := map[string]interface{}{"text": echoText}

	blockType := llm.BlockTypeToolUse
	if !emit(ctx, ch, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
		BlockIndex:   blockIndex,
		BlockType:    &blockType,
		ToolCallID:   &toolUseID,
		ToolCallName: &toolName,
	}}) {
		return 0, false
	}

	argsJSON, _ := json.Marshal(input)
	args := string(argsJSON)
	if !emit(ctx, ch, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
		BlockIndex: blockIndex,
		DeltaType:  llm.DeltaTypeInputJSON,
		JSONDelta:  &args,
	}}) {
		return 0, false
	}

	if !emit(ctx, ch, domainllm.StreamEvent{Block: &llm.TurnBlock{
		BlockType: llm.BlockTypeToolUse,
		Sequence:  blockIndex,
		Content: map[string]interface{}{
			"tool_use_id":    toolUseID,
			"tool_name":      toolName,
			"input":          input,
			"execution_side": llm.ExecutionSideBackend,
		},
		Status: llm.BlockStatusComplete,
	}}) {
		return 0, false
	}

	return len(strings.Fields(echoText)), true
}

// streamFailure streams two words and then a mid-stream error, exercising
// the error path without a real provider outage.
func (p *Provider) streamFailure(ctx context.Context, ch chan<- domainllm.StreamEvent, delay time.Duration) {
	blockType := llm.BlockTypeText
	if !emit(ctx, ch, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
		BlockIndex: 0,
		BlockType:  &blockType,
	}}) {
		return
	}

	words := strings.Fields(p.generator.Sentence(4, 6))
	if len(words) > 2 {
		words = words[:2]
	}
	for _, word := range words {
		delta := word + " "
		if !emit(ctx, ch, domainllm.StreamEvent{Delta: &llm.TurnBlockDelta{
			BlockIndex: 0,
			DeltaType:  llm.DeltaTypeText,
			TextDelta:  &delta,
		}}) {
			return
		}
		if !pause(ctx, delay) {
			return
		}
	}

	emit(ctx, ch, domainllm.StreamEvent{Error: fmt.Errorf("lorem provider simulated failure")})
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

// pause waits between words, bailing out on cancellation.
func pause(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// generateWords generates lorem ipsum text with approximately targetWords
// words, with a paragraph break every few sentences.
func (p *Provider) generateWords(targetWords int) string {
	var sb strings.Builder
	wordCount := 0
	sentences := 0

	for wordCount < targetWords {
		sentence := p.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")

		wordCount += len(strings.Fields(sentence))
		sentences++
		if sentences%4 == 0 {
			sb.WriteString("\n\n")
		}
	}

	return strings.TrimSpace(sb.String())
}

// hasToolResult reports whether the latest message carries a tool_result,
// meaning the tool scenario's first round already ran.
func hasToolResult(messages []llm.Message) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	for _, block := range last.Content {
		if block.BlockType == llm.BlockTypeToolResult {
			return true
		}
	}
	return false
}

// estimateTokens estimates the input token count using word count as a
// rough proxy.
func estimateTokens(messages []llm.Message) int {
	totalWords := 0
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.TextContent != nil {
				totalWords += len(strings.Fields(*block.TextContent))
			}
		}
	}
	return totalWords
}
