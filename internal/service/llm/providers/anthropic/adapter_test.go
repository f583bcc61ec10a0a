package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"

	"strand/internal/domain/models/llm"
	domainllm "strand/internal/domain/services/llm"
)

func strptr(s string) *string { return &s }

func f64ptr(f float64) *float64 { return &f }

func intptr(i int) *int { return &i }

// wire marshals an SDK param to its request JSON so assertions run against
// what the API would actually receive.
func wire(t *testing.T, v interface{}) gjson.Result {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal param: %v", err)
	}
	return gjson.ParseBytes(data)
}

func TestConvertMessages(t *testing.T) {
	messages := []llm.Message{
		{
			Role: "user",
			Content: []*llm.TurnBlock{
				{BlockType: llm.BlockTypeText, TextContent: strptr("What time is it?")},
			},
		},
		{
			Role: "assistant",
			Content: []*llm.TurnBlock{
				{
					BlockType:   llm.BlockTypeThinking,
					TextContent: strptr("The user wants the time."),
					Content:     map[string]interface{}{"signature": "sig_123"},
				},
				{BlockType: llm.BlockTypeText, TextContent: strptr("Let me check.")},
				{
					BlockType: llm.BlockTypeToolUse,
					Content: map[string]interface{}{
						"tool_use_id": "toolu_01",
						"tool_name":   "clock",
						"input":       map[string]interface{}{},
					},
				},
			},
		},
		{
			Role: "user",
			Content: []*llm.TurnBlock{
				{
					BlockType: llm.BlockTypeToolResult,
					Content: map[string]interface{}{
						"tool_use_id": "toolu_01",
						"tool_name":   "clock",
						"is_error":    false,
						"result":      "2025-06-15T10:30:00Z",
					},
				},
			},
		},
	}

	converted, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(converted))
	}

	first := wire(t, converted[0])
	if first.Get("role").String() != "user" {
		t.Errorf("expected user role, got %s", first.Get("role").String())
	}
	if first.Get("content.0.type").String() != "text" {
		t.Errorf("expected text block, got %s", first.Get("content.0").Raw)
	}
	if first.Get("content.0.text").String() != "What time is it?" {
		t.Errorf("unexpected text: %s", first.Get("content.0.text").String())
	}

	second := wire(t, converted[1])
	if second.Get("role").String() != "assistant" {
		t.Errorf("expected assistant role, got %s", second.Get("role").String())
	}
	if second.Get("content.0.type").String() != "thinking" {
		t.Errorf("expected thinking block first, got %s", second.Get("content.0").Raw)
	}
	if second.Get("content.0.signature").String() != "sig_123" {
		t.Errorf("expected replayed signature, got %s", second.Get("content.0").Raw)
	}
	if second.Get("content.2.type").String() != "tool_use" {
		t.Errorf("expected tool_use block, got %s", second.Get("content.2").Raw)
	}
	if second.Get("content.2.id").String() != "toolu_01" || second.Get("content.2.name").String() != "clock" {
		t.Errorf("unexpected tool_use identity: %s", second.Get("content.2").Raw)
	}

	third := wire(t, converted[2])
	if third.Get("content.0.type").String() != "tool_result" {
		t.Errorf("expected tool_result block, got %s", third.Get("content.0").Raw)
	}
	if third.Get("content.0.tool_use_id").String() != "toolu_01" {
		t.Errorf("unexpected tool_use_id: %s", third.Get("content.0").Raw)
	}
	if third.Get("content.0.content.0.text").String() != "2025-06-15T10:30:00Z" {
		t.Errorf("unexpected tool result payload: %s", third.Get("content.0").Raw)
	}
}

func TestConvertMessages_SkipsAndErrors(t *testing.T) {
	t.Run("unsigned thinking is dropped", func(t *testing.T) {
		converted, err := convertMessages([]llm.Message{{
			Role: "assistant",
			Content: []*llm.TurnBlock{
				{BlockType: llm.BlockTypeThinking, TextContent: strptr("no signature yet")},
				{BlockType: llm.BlockTypeText, TextContent: strptr("Answer.")},
			},
		}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		msg := wire(t, converted[0])
		if n := msg.Get("content.#").Int(); n != 1 {
			t.Fatalf("expected 1 surviving block, got %d", n)
		}
		if msg.Get("content.0.type").String() != "text" {
			t.Errorf("expected text block to survive, got %s", msg.Get("content.0").Raw)
		}
	})

	t.Run("web search blocks are dropped", func(t *testing.T) {
		converted, err := convertMessages([]llm.Message{{
			Role: "assistant",
			Content: []*llm.TurnBlock{
				{BlockType: llm.BlockTypeWebSearchUse, Content: map[string]interface{}{"tool_use_id": "srvtoolu_01"}},
				{BlockType: llm.BlockTypeWebSearchResult, Content: map[string]interface{}{"tool_use_id": "srvtoolu_01"}},
				{BlockType: llm.BlockTypeText, TextContent: strptr("Based on the results...")},
			},
		}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n := wire(t, converted[0]).Get("content.#").Int(); n != 1 {
			t.Errorf("expected only the text block, got %d blocks", n)
		}
	})

	t.Run("message with no convertible blocks is skipped", func(t *testing.T) {
		converted, err := convertMessages([]llm.Message{
			{Role: "assistant", Content: []*llm.TurnBlock{
				{BlockType: llm.BlockTypeImage, Content: map[string]interface{}{}},
			}},
			{Role: "user", Content: []*llm.TurnBlock{
				{BlockType: llm.BlockTypeText, TextContent: strptr("hi")},
			}},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(converted) != 1 {
			t.Fatalf("expected empty message to be skipped, got %d messages", len(converted))
		}
	})

	t.Run("unsupported role", func(t *testing.T) {
		_, err := convertMessages([]llm.Message{{
			Role:    "system",
			Content: []*llm.TurnBlock{{BlockType: llm.BlockTypeText, TextContent: strptr("x")}},
		}})
		if err == nil {
			t.Fatal("expected error for unsupported role")
		}
	})

	t.Run("text block without content", func(t *testing.T) {
		_, err := convertMessages([]llm.Message{{
			Role:    "user",
			Content: []*llm.TurnBlock{{BlockType: llm.BlockTypeText}},
		}})
		if err == nil {
			t.Fatal("expected error for text block with nil content")
		}
	})
}

func TestToolResultText(t *testing.T) {
	tests := []struct {
		name    string
		content map[string]interface{}
		isError bool
		want    string
	}{
		{
			name:    "string result verbatim",
			content: map[string]interface{}{"result": "plain output"},
			want:    "plain output",
		},
		{
			name:    "structured result as JSON",
			content: map[string]interface{}{"result": map[string]interface{}{"text": "hi", "length": 2}},
			want:    `{"length":2,"text":"hi"}`,
		},
		{
			name:    "nil result",
			content: map[string]interface{}{},
			want:    "",
		},
		{
			name:    "error message",
			content: map[string]interface{}{"error": "tool not found: bogus"},
			isError: true,
			want:    "tool not found: bogus",
		},
		{
			name:    "error without message",
			content: map[string]interface{}{},
			isError: true,
			want:    "tool execution failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolResultText(tt.content, tt.isError); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestConvertBlock_RedactedThinking(t *testing.T) {
	block, err := convertBlock(&llm.TurnBlock{
		BlockType:   llm.BlockTypeThinking,
		TextContent: strptr(""),
		Content:     map[string]interface{}{"redacted": "EncodedOpaquePayload=="},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := wire(t, block)
	if res.Get("type").String() != "redacted_thinking" {
		t.Fatalf("expected redacted_thinking, got %s", res.Raw)
	}
	if res.Get("data").String() != "EncodedOpaquePayload==" {
		t.Errorf("unexpected data: %s", res.Raw)
	}
}

func TestConvertTools(t *testing.T) {
	tools, err := convertTools([]llm.ToolDefinition{
		{Name: "echo"},
		{Name: "web_search"},
		{
			Type: "function",
			Function: &llm.FunctionDetails{
				Name:        "get_weather",
				Description: "Get weather for a location",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"location": map[string]interface{}{"type": "string"},
					},
					"required": []string{"location"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}

	echo := wire(t, tools[0])
	if echo.Get("name").String() != "echo" {
		t.Errorf("unexpected tool name: %s", echo.Raw)
	}
	if echo.Get("input_schema.properties.text.type").String() != "string" {
		t.Errorf("expected resolved echo schema, got %s", echo.Get("input_schema").Raw)
	}
	if !echo.Get("description").Exists() {
		t.Errorf("expected description on built-in tool, got %s", echo.Raw)
	}

	search := wire(t, tools[1])
	if search.Get("type").String() != "web_search_20250305" {
		t.Errorf("expected native web search tool, got %s", search.Raw)
	}
	if search.Get("max_uses").Int() != webSearchMaxUses {
		t.Errorf("unexpected max_uses: %s", search.Raw)
	}

	custom := wire(t, tools[2])
	if custom.Get("name").String() != "get_weather" {
		t.Errorf("unexpected custom tool name: %s", custom.Raw)
	}
	if custom.Get("input_schema.properties.location.type").String() != "string" {
		t.Errorf("expected custom schema passthrough, got %s", custom.Get("input_schema").Raw)
	}
}

func TestConvertTools_UnknownBuiltin(t *testing.T) {
	if _, err := convertTools([]llm.ToolDefinition{{Name: "bogus"}}); err == nil {
		t.Fatal("expected error for unknown built-in tool")
	}
}

func TestBuildMessageParams(t *testing.T) {
	provider := &Provider{}

	t.Run("defaults", func(t *testing.T) {
		params, err := provider.buildMessageParams(&domainllm.GenerateRequest{
			Messages: []llm.Message{{
				Role:    "user",
				Content: []*llm.TurnBlock{{BlockType: llm.BlockTypeText, TextContent: strptr("hi")}},
			}},
			Model: "claude-haiku-4-5-20251001",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		res := wire(t, params)
		if res.Get("model").String() != "claude-haiku-4-5-20251001" {
			t.Errorf("unexpected model: %s", res.Get("model").String())
		}
		if res.Get("max_tokens").Int() != DefaultMaxTokens {
			t.Errorf("expected default max_tokens, got %d", res.Get("max_tokens").Int())
		}
		if res.Get("thinking").Exists() {
			t.Errorf("thinking should be unset by default: %s", res.Get("thinking").Raw)
		}
	})

	t.Run("full params", func(t *testing.T) {
		params, err := provider.buildMessageParams(&domainllm.GenerateRequest{
			Messages: []llm.Message{{
				Role:    "user",
				Content: []*llm.TurnBlock{{BlockType: llm.BlockTypeText, TextContent: strptr("hi")}},
			}},
			Model: "claude-sonnet-4-5",
			Params: &llm.RequestParams{
				Temperature: f64ptr(0.7),
				TopP:        f64ptr(0.9),
				TopK:        intptr(40),
				MaxTokens:   intptr(1024),
				Stop:        []string{"END"},
				System:      strptr("You are terse."),
				Thinking:    &llm.ThinkingParams{Enabled: true, BudgetTokens: intptr(2048)},
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		res := wire(t, params)
		if res.Get("max_tokens").Int() != 1024 {
			t.Errorf("unexpected max_tokens: %d", res.Get("max_tokens").Int())
		}
		if res.Get("temperature").Float() != 0.7 || res.Get("top_p").Float() != 0.9 {
			t.Errorf("unexpected sampling params: %s", res.Raw)
		}
		if res.Get("top_k").Int() != 40 {
			t.Errorf("unexpected top_k: %d", res.Get("top_k").Int())
		}
		if res.Get("stop_sequences.0").String() != "END" {
			t.Errorf("unexpected stop sequences: %s", res.Get("stop_sequences").Raw)
		}
		if res.Get("system.0.text").String() != "You are terse." {
			t.Errorf("unexpected system prompt: %s", res.Get("system").Raw)
		}
		if res.Get("thinking.type").String() != "enabled" || res.Get("thinking.budget_tokens").Int() != 2048 {
			t.Errorf("unexpected thinking config: %s", res.Get("thinking").Raw)
		}
	})
}

func TestProviderIdentity(t *testing.T) {
	provider, err := NewProvider("test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Name() != "anthropic" {
		t.Errorf("unexpected name: %s", provider.Name())
	}
	if !provider.SupportsModel("claude-haiku-4-5-20251001") {
		t.Error("expected claude models to be supported")
	}
	if provider.SupportsModel("gpt-5") {
		t.Error("expected non-claude models to be rejected")
	}

	if _, err := NewProvider(""); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
