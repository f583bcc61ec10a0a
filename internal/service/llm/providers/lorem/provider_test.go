package lorem

import (
	"context"
	"strings"
	"testing"
	"time"

	"strand/internal/domain/models/llm"
	domainllm "strand/internal/domain/services/llm"
)

func strptr(s string) *string { return &s }

func intptr(i int) *int { return &i }

func userMessage(text string) llm.Message {
	return llm.Message{
		Role:    "user",
		Content: []*llm.TurnBlock{{BlockType: llm.BlockTypeText, TextContent: strptr(text)}},
	}
}

// collect drains the stream until the provider closes it.
func collect(t *testing.T, ch <-chan domainllm.StreamEvent) []domainllm.StreamEvent {
	t.Helper()
	var events []domainllm.StreamEvent
	timeout := time.After(10 * time.Second)
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			t.Fatal("timed out waiting for stream to finish")
		}
	}
}

func blocksOf(events []domainllm.StreamEvent) []*llm.TurnBlock {
	var blocks []*llm.TurnBlock
	for _, event := range events {
		if event.Block != nil {
			blocks = append(blocks, event.Block)
		}
	}
	return blocks
}

func metadataOf(events []domainllm.StreamEvent) *domainllm.StreamMetadata {
	for _, event := range events {
		if event.Metadata != nil {
			return event.Metadata
		}
	}
	return nil
}

func TestStreamResponse_TextStream(t *testing.T) {
	provider := NewProvider()

	ch, err := provider.StreamResponse(context.Background(), &domainllm.GenerateRequest{
		Messages: []llm.Message{userMessage("Tell me a story about the sea")},
		Model:    "lorem-fast",
		Params:   &llm.RequestParams{MaxTokens: intptr(5)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collect(t, ch)

	start := events[0].Delta
	if start == nil || !start.IsBlockStart() || *start.BlockType != llm.BlockTypeText {
		t.Fatalf("expected text block start first, got %+v", events[0])
	}

	blocks := blocksOf(events)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 completed block, got %d", len(blocks))
	}
	if blocks[0].TextContent == nil || len(strings.Fields(*blocks[0].TextContent)) != 5 {
		t.Errorf("expected 5 words of text, got %v", blocks[0].TextContent)
	}
	if blocks[0].Status != llm.BlockStatusComplete {
		t.Errorf("expected complete status, got %s", blocks[0].Status)
	}

	metadata := metadataOf(events)
	if metadata == nil {
		t.Fatal("expected terminal metadata event")
	}
	if events[len(events)-1].Metadata == nil {
		t.Error("expected metadata to be the last event")
	}
	if metadata.StopReason != "end_turn" {
		t.Errorf("unexpected stop reason: %s", metadata.StopReason)
	}
	if metadata.OutputTokens != 5 {
		t.Errorf("expected 5 output tokens, got %d", metadata.OutputTokens)
	}
	if metadata.InputTokens != 7 {
		t.Errorf("expected 7 input tokens, got %d", metadata.InputTokens)
	}
	if metadata.Model != "lorem-fast" {
		t.Errorf("unexpected model: %s", metadata.Model)
	}
}

func TestStreamResponse_Cutoff(t *testing.T) {
	provider := NewProvider()

	ch, err := provider.StreamResponse(context.Background(), &domainllm.GenerateRequest{
		Messages: []llm.Message{userMessage("hi")},
		Model:    "lorem-fast-cutoff",
		Params:   &llm.RequestParams{MaxTokens: intptr(4)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collect(t, ch)

	metadata := metadataOf(events)
	if metadata == nil {
		t.Fatal("expected terminal metadata event")
	}
	if metadata.StopReason != "max_tokens" {
		t.Errorf("expected max_tokens stop reason, got %s", metadata.StopReason)
	}
	if metadata.OutputTokens != 4 {
		t.Errorf("expected output capped at 4 tokens, got %d", metadata.OutputTokens)
	}
}

func TestStreamResponse_Thinking(t *testing.T) {
	provider := NewProvider()

	ch, err := provider.StreamResponse(context.Background(), &domainllm.GenerateRequest{
		Messages: []llm.Message{userMessage("hi")},
		Model:    "lorem-fast",
		Params: &llm.RequestParams{
			MaxTokens: intptr(3),
			Thinking:  &llm.ThinkingParams{Enabled: true},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collect(t, ch)

	start := events[0].Delta
	if start == nil || !start.IsBlockStart() || *start.BlockType != llm.BlockTypeThinking {
		t.Fatalf("expected thinking block start first, got %+v", events[0])
	}

	blocks := blocksOf(events)
	if len(blocks) != 2 {
		t.Fatalf("expected thinking + text blocks, got %d", len(blocks))
	}
	if blocks[0].BlockType != llm.BlockTypeThinking || blocks[0].Sequence != 0 {
		t.Errorf("unexpected first block: %+v", blocks[0])
	}
	if blocks[1].BlockType != llm.BlockTypeText || blocks[1].Sequence != 1 {
		t.Errorf("unexpected second block: %+v", blocks[1])
	}
}

func TestStreamResponse_ThinkingModelSuffix(t *testing.T) {
	provider := NewProvider()

	ch, err := provider.StreamResponse(context.Background(), &domainllm.GenerateRequest{
		Messages: []llm.Message{userMessage("hi")},
		Model:    "lorem-fast-thinking",
		Params:   &llm.RequestParams{MaxTokens: intptr(3)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blocks := blocksOf(collect(t, ch))
	if len(blocks) != 2 || blocks[0].BlockType != llm.BlockTypeThinking {
		t.Fatalf("expected thinking block from model suffix, got %+v", blocks)
	}
}

func TestStreamResponse_ToolRound(t *testing.T) {
	provider := NewProvider()

	t.Run("first round requests a tool call", func(t *testing.T) {
		ch, err := provider.StreamResponse(context.Background(), &domainllm.GenerateRequest{
			Messages: []llm.Message{userMessage("use your tools")},
			Model:    "lorem-fast-tools",
			Params:   &llm.RequestParams{MaxTokens: intptr(20)},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		events := collect(t, ch)
		blocks := blocksOf(events)
		if len(blocks) != 2 {
			t.Fatalf("expected text + tool_use blocks, got %d", len(blocks))
		}

		tool := blocks[1]
		if tool.BlockType != llm.BlockTypeToolUse {
			t.Fatalf("expected tool_use block, got %s", tool.BlockType)
		}
		if tool.Content["tool_name"] != "echo" {
			t.Errorf("expected echo tool, got %v", tool.Content["tool_name"])
		}
		id, _ := tool.Content["tool_use_id"].(string)
		if !strings.HasPrefix(id, "toolu_") {
			t.Errorf("unexpected tool_use_id: %q", id)
		}
		input, ok := tool.Content["input"].(map[string]interface{})
		if !ok || input["text"] == "" {
			t.Errorf("expected echo input text, got %v", tool.Content["input"])
		}
		if tool.Content["execution_side"] != llm.ExecutionSideBackend {
			t.Errorf("expected backend execution side, got %v", tool.Content["execution_side"])
		}

		metadata := metadataOf(events)
		if metadata == nil || metadata.StopReason != "tool_use" {
			t.Fatalf("expected tool_use stop reason, got %+v", metadata)
		}
	})

	t.Run("second round answers after the tool result", func(t *testing.T) {
		ch, err := provider.StreamResponse(context.Background(), &domainllm.GenerateRequest{
			Messages: []llm.Message{
				userMessage("use your tools"),
				{
					Role: "user",
					Content: []*llm.TurnBlock{{
						BlockType: llm.BlockTypeToolResult,
						Content: map[string]interface{}{
							"tool_use_id": "toolu_prev",
							"tool_name":   "echo",
							"result":      "done",
						},
					}},
				},
			},
			Model:  "lorem-fast-tools",
			Params: &llm.RequestParams{MaxTokens: intptr(5)},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		events := collect(t, ch)
		blocks := blocksOf(events)
		if len(blocks) != 1 || blocks[0].BlockType != llm.BlockTypeText {
			t.Fatalf("expected a single text block, got %+v", blocks)
		}

		metadata := metadataOf(events)
		if metadata == nil || metadata.StopReason != "end_turn" {
			t.Fatalf("expected end_turn after tool round, got %+v", metadata)
		}
	})
}

func TestStreamResponse_MidStreamError(t *testing.T) {
	provider := NewProvider()

	ch, err := provider.StreamResponse(context.Background(), &domainllm.GenerateRequest{
		Messages: []llm.Message{userMessage("hi")},
		Model:    "lorem-fast-error",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collect(t, ch)

	last := events[len(events)-1]
	if last.Error == nil {
		t.Fatalf("expected terminal error event, got %+v", last)
	}
	if metadataOf(events) != nil {
		t.Error("expected no metadata after mid-stream error")
	}
}

func TestStreamResponse_Cancellation(t *testing.T) {
	provider := NewProvider()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := provider.StreamResponse(ctx, &domainllm.GenerateRequest{
		Messages: []llm.Message{userMessage("hi")},
		Model:    "lorem-slow",
		Params:   &llm.RequestParams{MaxTokens: intptr(50)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	cancel()

	events := collect(t, ch)
	if metadataOf(events) != nil {
		t.Error("expected no metadata after cancellation")
	}
}

func TestStreamResponse_UnsupportedModel(t *testing.T) {
	provider := NewProvider()

	if _, err := provider.StreamResponse(context.Background(), &domainllm.GenerateRequest{
		Messages: []llm.Message{userMessage("hi")},
		Model:    "gpt-5",
	}); err == nil {
		t.Fatal("expected error for unsupported model")
	}
}

func TestProviderIdentity(t *testing.T) {
	provider := NewProvider()
	if provider.Name() != "lorem" {
		t.Errorf("unexpected name: %s", provider.Name())
	}
	if !provider.SupportsModel("lorem-fast") || provider.SupportsModel("claude-haiku-4-5-20251001") {
		t.Error("unexpected model support")
	}
}
