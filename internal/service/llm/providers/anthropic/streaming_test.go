package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"strand/internal/domain/models/llm"
	domainllm "strand/internal/domain/services/llm"
)

// streamEvent parses a wire-format SSE payload into an SDK event union, the
// same path real stream events take.
func streamEvent(t *testing.T, raw string) anthropic.MessageStreamEventUnion {
	t.Helper()
	var event anthropic.MessageStreamEventUnion
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatalf("failed to parse stream event fixture: %v", err)
	}
	return event
}

func runScript(t *testing.T, translator *streamTranslator, script []string) []domainllm.StreamEvent {
	t.Helper()
	var events []domainllm.StreamEvent
	for i, raw := range script {
		out, err := translator.handle(streamEvent(t, raw))
		if err != nil {
			t.Fatalf("event %d: unexpected error: %v", i, err)
		}
		events = append(events, out...)
	}
	return events
}

func TestStreamTranslator_TextStream(t *testing.T) {
	translator := &streamTranslator{}

	events := runScript(t, translator, []string{
		`{"type":"message_start","message":{"id":"msg_01","type":"message","role":"assistant","model":"claude-haiku-4-5-20251001","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"world"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	})

	// block start + two text deltas + completed block
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}

	start := events[0].Delta
	if start == nil || !start.IsBlockStart() {
		t.Fatalf("expected block-start delta, got %+v", events[0])
	}
	if *start.BlockType != llm.BlockTypeText || start.BlockIndex != 0 {
		t.Errorf("unexpected block start: %+v", start)
	}

	for i, want := range []string{"Hello ", "world"} {
		delta := events[i+1].Delta
		if delta == nil || !delta.IsTextDelta() {
			t.Fatalf("event %d: expected text delta, got %+v", i+1, events[i+1])
		}
		if *delta.TextDelta != want {
			t.Errorf("event %d: expected text %q, got %q", i+1, want, *delta.TextDelta)
		}
	}

	block := events[3].Block
	if block == nil {
		t.Fatalf("expected completed block, got %+v", events[3])
	}
	if block.BlockType != llm.BlockTypeText || block.Sequence != 0 {
		t.Errorf("unexpected block: %+v", block)
	}
	if block.TextContent == nil || *block.TextContent != "Hello world" {
		t.Errorf("expected accumulated text 'Hello world', got %v", block.TextContent)
	}
	if block.Status != llm.BlockStatusComplete {
		t.Errorf("expected complete status, got %s", block.Status)
	}

	metadata := translator.metadata()
	if metadata.Model != "claude-haiku-4-5-20251001" {
		t.Errorf("unexpected model: %s", metadata.Model)
	}
	if metadata.StopReason != "end_turn" {
		t.Errorf("unexpected stop reason: %s", metadata.StopReason)
	}
	if metadata.InputTokens != 12 || metadata.OutputTokens != 5 {
		t.Errorf("unexpected token counts: %d/%d", metadata.InputTokens, metadata.OutputTokens)
	}
}

func TestStreamTranslator_ToolUseStream(t *testing.T) {
	translator := &streamTranslator{}

	events := runScript(t, translator, []string{
		`{"type":"message_start","message":{"id":"msg_02","type":"message","role":"assistant","model":"claude-haiku-4-5-20251001","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":30,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_01","name":"echo","input":{}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"te"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"xt\":\"hi\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":9}}`,
		`{"type":"message_stop"}`,
	})

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}

	start := events[0].Delta
	if start == nil || !start.IsBlockStart() || *start.BlockType != llm.BlockTypeToolUse {
		t.Fatalf("expected tool_use block start, got %+v", events[0])
	}
	if start.ToolCallID == nil || *start.ToolCallID != "toolu_01" {
		t.Errorf("expected tool call id toolu_01, got %v", start.ToolCallID)
	}
	if start.ToolCallName == nil || *start.ToolCallName != "echo" {
		t.Errorf("expected tool call name echo, got %v", start.ToolCallName)
	}

	for i := 1; i <= 2; i++ {
		if delta := events[i].Delta; delta == nil || !delta.IsJSONDelta() {
			t.Fatalf("event %d: expected JSON delta, got %+v", i, events[i])
		}
	}

	block := events[3].Block
	if block == nil || block.BlockType != llm.BlockTypeToolUse {
		t.Fatalf("expected completed tool_use block, got %+v", events[3])
	}
	input, ok := block.Content["input"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected decoded input map, got %T", block.Content["input"])
	}
	if input["text"] != "hi" {
		t.Errorf("expected input.text 'hi', got %v", input["text"])
	}
	if block.Content["execution_side"] != llm.ExecutionSideBackend {
		t.Errorf("expected backend execution side, got %v", block.Content["execution_side"])
	}

	if translator.metadata().StopReason != "tool_use" {
		t.Errorf("expected tool_use stop reason, got %s", translator.metadata().StopReason)
	}
}

func TestStreamTranslator_ThinkingStream(t *testing.T) {
	translator := &streamTranslator{}

	events := runScript(t, translator, []string{
		`{"type":"message_start","message":{"id":"msg_03","type":"message","role":"assistant","model":"claude-haiku-4-5-20251001","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":8,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Considering."}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig_abc"}}`,
		`{"type":"content_block_stop","index":0}`,
	})

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}

	if delta := events[1].Delta; delta == nil || delta.DeltaType != llm.DeltaTypeThinking {
		t.Fatalf("expected thinking delta, got %+v", events[1])
	}
	if delta := events[2].Delta; delta == nil || !delta.IsSignatureDelta() {
		t.Fatalf("expected signature delta, got %+v", events[2])
	}

	block := events[3].Block
	if block == nil || block.BlockType != llm.BlockTypeThinking {
		t.Fatalf("expected thinking block, got %+v", events[3])
	}
	if block.TextContent == nil || *block.TextContent != "Considering." {
		t.Errorf("unexpected thinking text: %v", block.TextContent)
	}
	if block.Content["signature"] != "sig_abc" {
		t.Errorf("expected signature in content, got %v", block.Content)
	}
}

func TestStreamTranslator_UnknownBlockType(t *testing.T) {
	translator := &streamTranslator{}

	_, err := translator.handle(streamEvent(t,
		`{"type":"content_block_start","index":0,"content_block":{"type":"mystery_block"}}`))
	if err == nil {
		t.Fatal("expected error for unknown content block type")
	}
}

func TestContentDelta_SkipsCitations(t *testing.T) {
	event := streamEvent(t,
		`{"type":"content_block_delta","index":0,"delta":{"type":"citations_delta","citation":{}}}`)

	e, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
	if !ok {
		t.Fatalf("fixture did not parse as delta event")
	}
	if delta := contentDelta(e); delta != nil {
		t.Errorf("expected citations delta to be skipped, got %+v", delta)
	}
}
