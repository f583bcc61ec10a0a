package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"strand/internal/domain/models/llm"
)

// webSearchMaxUses caps the server-side searches Claude may run per request.
const webSearchMaxUses = 5

// convertMessages converts domain messages to Anthropic SDK format.
//
// Reference and image blocks never reach this layer (the message builder
// resolves them), and provider-side web search rounds are not replayed
// upstream. Messages whose blocks all convert to nothing are skipped.
func convertMessages(messages []llm.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for i, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))

		for _, block := range msg.Content {
			converted, err := convertBlock(block)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			if converted != nil {
				blocks = append(blocks, *converted)
			}
		}

		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case "user":
			result = append(result, anthropic.NewUserMessage(blocks...))
		case "assistant":
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("message %d: unsupported role '%s'", i, msg.Role)
		}
	}

	return result, nil
}

// convertBlock maps one turn block to an Anthropic content block param.
// Returns (nil, nil) for block types that are intentionally not sent.
func convertBlock(block *llm.TurnBlock) (*anthropic.ContentBlockParamUnion, error) {
	switch block.BlockType {
	case llm.BlockTypeText:
		if block.TextContent == nil {
			return nil, fmt.Errorf("text block missing text_content")
		}
		u := anthropic.NewTextBlock(*block.TextContent)
		return &u, nil

	case llm.BlockTypeThinking:
		if redacted, ok := block.Content["redacted"].(string); ok && redacted != "" {
			u := anthropic.NewRedactedThinkingBlock(redacted)
			return &u, nil
		}
		// The API only accepts replayed thinking together with its signature.
		signature, _ := block.Content["signature"].(string)
		if signature == "" || block.TextContent == nil {
			return nil, nil
		}
		u := anthropic.NewThinkingBlock(signature, *block.TextContent)
		return &u, nil

	case llm.BlockTypeToolUse:
		id, _ := block.Content["tool_use_id"].(string)
		name, _ := block.Content["tool_name"].(string)
		if id == "" || name == "" {
			return nil, fmt.Errorf("tool_use block missing tool_use_id or tool_name")
		}
		input, _ := block.Content["input"].(map[string]interface{})
		if input == nil {
			input = map[string]interface{}{}
		}
		u := anthropic.NewToolUseBlock(id, input, name)
		return &u, nil

	case llm.BlockTypeToolResult:
		id, _ := block.Content["tool_use_id"].(string)
		if id == "" {
			return nil, fmt.Errorf("tool_result block missing tool_use_id")
		}
		isError, _ := block.Content["is_error"].(bool)
		u := anthropic.NewToolResultBlock(id, toolResultText(block.Content, isError), isError)
		return &u, nil

	case llm.BlockTypeImage, llm.BlockTypeReference, llm.BlockTypePartialReference,
		llm.BlockTypeWebSearchUse, llm.BlockTypeWebSearchResult:
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported block type '%s'", block.BlockType)
	}
}

// toolResultText renders a tool_result payload as the string the API expects.
func toolResultText(content map[string]interface{}, isError bool) string {
	if isError {
		if msg, ok := content["error"].(string); ok {
			return msg
		}
		return "tool execution failed"
	}

	switch result := content["result"].(type) {
	case nil:
		return ""
	case string:
		return result
	default:
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Sprintf("%v", result)
		}
		return string(data)
	}
}

// convertTools maps tool definitions to Anthropic tool params. The built-in
// web_search definition becomes Claude's server-side search tool; everything
// else is sent as a plain function tool.
func convertTools(defs []llm.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))

	for i := range defs {
		def, err := defs[i].Resolve()
		if err != nil {
			return nil, fmt.Errorf("tools[%d]: %w", i, err)
		}

		if def.ToolName() == "web_search" {
			tools = append(tools, anthropic.ToolUnionParam{
				OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{
					MaxUses: anthropic.Int(webSearchMaxUses),
				},
			})
			continue
		}

		fn := def.Function
		schema := anthropic.ToolInputSchemaParam{}
		if fn.Parameters != nil {
			// The JSON schema map carries type/properties/required verbatim.
			schema.ExtraFields = fn.Parameters
		}

		tool := anthropic.ToolUnionParamOfTool(schema, fn.Name)
		if fn.Description != "" && tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(fn.Description)
		}
		tools = append(tools, tool)
	}

	return tools, nil
}
