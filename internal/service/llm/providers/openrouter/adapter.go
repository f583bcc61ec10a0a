package openrouter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"

	"strand/internal/domain/models/llm"
)

// convertMessages converts domain messages to Chat Completions format.
//
// The Messages API has no content blocks: assistant text collapses into one
// content string, tool calls move to the tool_calls array, and tool_result
// blocks become standalone tool-role messages. Thinking and provider-side
// web search blocks are not replayed.
func convertMessages(messages []llm.Message, system *string) ([]openai.ChatCompletionMessageParamUnion, error) {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)

	if system != nil && *system != "" {
		result = append(result, openai.SystemMessage(*system))
	}

	for i, msg := range messages {
		switch msg.Role {
		case "user":
			converted, err := convertUserMessage(msg)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			result = append(result, converted...)

		case "assistant":
			converted, err := convertAssistantMessage(msg)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			result = append(result, converted...)

		default:
			return nil, fmt.Errorf("message %d: unsupported role '%s'", i, msg.Role)
		}
	}

	return result, nil
}

// convertUserMessage splits a user message into tool-role messages (one per
// tool_result block, which the API requires to directly follow the assistant
// tool call) and a user message carrying the remaining text.
func convertUserMessage(msg llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	var texts []string
	var result []openai.ChatCompletionMessageParamUnion

	for _, block := range msg.Content {
		switch block.BlockType {
		case llm.BlockTypeText:
			if block.TextContent == nil {
				return nil, fmt.Errorf("text block missing text_content")
			}
			texts = append(texts, *block.TextContent)

		case llm.BlockTypeToolResult:
			id, _ := block.Content["tool_use_id"].(string)
			if id == "" {
				return nil, fmt.Errorf("tool_result block missing tool_use_id")
			}
			isError, _ := block.Content["is_error"].(bool)
			result = append(result, openai.ToolMessage(toolResultText(block.Content, isError), id))

		case llm.BlockTypeImage, llm.BlockTypeReference, llm.BlockTypePartialReference:
			// resolved upstream by the message builder

		default:
			return nil, fmt.Errorf("unsupported block type '%s' in user message", block.BlockType)
		}
	}

	if len(texts) > 0 {
		result = append(result, openai.UserMessage(strings.Join(texts, "\n\n")))
	}

	return result, nil
}

// convertAssistantMessage folds an assistant turn's blocks into a single
// assistant message with optional tool_calls.
func convertAssistantMessage(msg llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	var texts []string
	var toolCalls []openai.ChatCompletionMessageToolCallUnionParam

	for _, block := range msg.Content {
		switch block.BlockType {
		case llm.BlockTypeText:
			if block.TextContent == nil {
				return nil, fmt.Errorf("text block missing text_content")
			}
			texts = append(texts, *block.TextContent)

		case llm.BlockTypeToolUse:
			id, _ := block.Content["tool_use_id"].(string)
			name, _ := block.Content["tool_name"].(string)
			if id == "" || name == "" {
				return nil, fmt.Errorf("tool_use block missing tool_use_id or tool_name")
			}
			args := "{}"
			if input, ok := block.Content["input"].(map[string]interface{}); ok && len(input) > 0 {
				data, err := json.Marshal(input)
				if err != nil {
					return nil, fmt.Errorf("tool_use input for '%s' is not serializable: %w", name, err)
				}
				args = string(data)
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: id,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      name,
						Arguments: args,
					},
				},
			})

		case llm.BlockTypeThinking, llm.BlockTypeWebSearchUse, llm.BlockTypeWebSearchResult:
			// not replayed upstream

		default:
			return nil, fmt.Errorf("unsupported block type '%s' in assistant message", block.BlockType)
		}
	}

	if len(texts) == 0 && len(toolCalls) == 0 {
		return nil, nil
	}

	assistant := openai.ChatCompletionAssistantMessageParam{}
	if len(texts) > 0 {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(strings.Join(texts, "\n\n")),
		}
	}
	assistant.ToolCalls = toolCalls

	return []openai.ChatCompletionMessageParamUnion{{OfAssistant: &assistant}}, nil
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

// convertTools maps tool definitions to Chat Completions function tools.
// There is no native web search here, so every definition (web_search
// included) goes up as a plain function tool executed by the backend.
func convertTools(defs []llm.ToolDefinition) ([]openai.ChatCompletionToolUnionParam, error) {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))

	for i := range defs {
		def, err := defs[i].Resolve()
		if err != nil {
			return nil, fmt.Errorf("tools[%d]: %w", i, err)
		}

		fn := openai.FunctionDefinitionParam{
			Name:       def.Function.Name,
			Parameters: openai.FunctionParameters(def.Function.Parameters),
		}
		if def.Function.Description != "" {
			fn.Description = openai.String(def.Function.Description)
		}

		tools = append(tools, openai.ChatCompletionFunctionTool(fn))
	}

	return tools, nil
}
