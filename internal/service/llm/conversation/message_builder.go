package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"strand/internal/capabilities"
	"strand/internal/domain/models/llm"
)

// contextWarningThreshold is the context window usage (percent) above which a
// wrap-up note is appended to the conversation.
const contextWarningThreshold = 75.0

// MessageBuilderService converts conversation history (database turns) to LLM messages.
// This is a pure conversion service - data loading happens in the caller.
type MessageBuilderService struct {
	capabilityRegistry *capabilities.Registry
	logger             *slog.Logger
}

// NewMessageBuilderService creates a new MessageBuilderService
func NewMessageBuilderService(capabilityRegistry *capabilities.Registry, logger *slog.Logger) *MessageBuilderService {
	return &MessageBuilderService{
		capabilityRegistry: capabilityRegistry,
		logger:             logger,
	}
}

// BuildMessages converts a turn path (with blocks already loaded) to LLM messages
// suitable for provider requests. The path should be ordered from oldest to newest.
// The caller must load turn blocks before calling this method.
func (mb *MessageBuilderService) BuildMessages(ctx context.Context, path []llm.Turn) ([]llm.Message, error) {
	messages := make([]llm.Message, 0, len(path))

	for _, turn := range path {
		var role string
		switch turn.Role {
		case "user":
			role = "user"
		case "assistant":
			role = "assistant"
		default:
			return nil, fmt.Errorf("unsupported turn role: %s", turn.Role)
		}

		if len(turn.Blocks) == 0 {
			mb.logger.Warn("skipping turn with no content blocks", "turn_id", turn.ID)
			continue
		}

		// Dangling tool_use blocks (interrupted streams) get a synthetic
		// error tool_result so providers don't reject the replayed history.
		validBlocks := mb.sanitizeTurnBlocks(turn)
		if len(validBlocks) == 0 {
			mb.logger.Warn("skipping turn after filtering blocks", "turn_id", turn.ID)
			continue
		}

		contentPtrs := make([]*llm.TurnBlock, len(validBlocks))
		for i := range validBlocks {
			contentPtrs[i] = &validBlocks[i]
		}

		messages = append(messages, llm.Message{
			Role:    role,
			Content: contentPtrs,
		})
	}

	mb.injectTokenLimitWarningIfNeeded(path, &messages)

	return messages, nil
}

// injectTokenLimitWarningIfNeeded appends a user note when the last assistant
// turn reports usage above contextWarningThreshold of the model's window.
// TODO: Experiment with system prompt injection instead of a user message
func (mb *MessageBuilderService) injectTokenLimitWarningIfNeeded(path []llm.Turn, messages *[]llm.Message) {
	var lastAssistantTurn *llm.Turn
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Role == "assistant" {
			lastAssistantTurn = &path[i]
			break
		}
	}
	if lastAssistantTurn == nil {
		return
	}

	if lastAssistantTurn.InputTokens == nil || lastAssistantTurn.OutputTokens == nil {
		return
	}
	if lastAssistantTurn.Model == nil || *lastAssistantTurn.Model == "" {
		return
	}

	totalTokens := *lastAssistantTurn.InputTokens + *lastAssistantTurn.OutputTokens

	provider, ok := llm.GetProviderForModel(*lastAssistantTurn.Model)
	if !ok {
		if providerParam, found := lastAssistantTurn.RequestParams["provider"].(string); found && providerParam != "" {
			provider = providerParam
		} else {
			return
		}
	}

	modelCap, err := mb.capabilityRegistry.GetModelCapabilities(provider, *lastAssistantTurn.Model)
	if err != nil {
		// Model not in registry - skip the warning
		return
	}
	if modelCap.ContextWindow <= 0 {
		return
	}

	usagePercent := (float64(totalTokens) / float64(modelCap.ContextWindow)) * 100
	if usagePercent <= contextWarningThreshold {
		return
	}

	warningText := fmt.Sprintf("Note: You're approaching the context limit (%.1f%% used, %d/%d tokens). Consider wrapping up.", usagePercent, totalTokens, modelCap.ContextWindow)

	*messages = append(*messages, llm.Message{
		Role: "user",
		Content: []*llm.TurnBlock{{
			BlockType:   llm.BlockTypeText,
			TextContent: &warningText,
			Status:      llm.BlockStatusComplete,
		}},
	})

	mb.logger.Info("injected token limit warning",
		"usage_percent", usagePercent,
		"total_tokens", totalTokens,
		"context_limit", modelCap.ContextWindow,
	)
}

// sanitizeTurnBlocks handles dangling tool_use blocks in a turn.
// If a tool_use block has no corresponding tool_result (which can happen if
// the stream was interrupted), a synthetic error tool_result is injected to
// satisfy the providers' requirement that every tool_use has a result.
func (mb *MessageBuilderService) sanitizeTurnBlocks(turn llm.Turn) []llm.TurnBlock {
	var validBlocks []llm.TurnBlock

	for i, block := range turn.Blocks {
		if block.BlockType == llm.BlockTypeToolUse {
			thisToolUseID, _ := block.Content["tool_use_id"].(string)

			hasResult := false
			for j := i + 1; j < len(turn.Blocks); j++ {
				if turn.Blocks[j].BlockType == llm.BlockTypeToolResult {
					resultToolUseID, _ := turn.Blocks[j].Content["tool_use_id"].(string)
					if resultToolUseID == thisToolUseID {
						hasResult = true
						break
					}
				}
			}

			if !hasResult {
				mb.logger.Warn("injecting error tool_result for dangling tool_use block",
					"turn_id", turn.ID,
					"block_sequence", block.Sequence,
					"tool_name", block.Content["tool_name"])

				validBlocks = append(validBlocks, block)

				toolUseID, _ := block.Content["tool_use_id"].(string)
				toolName, _ := block.Content["tool_name"].(string)

				validBlocks = append(validBlocks, llm.TurnBlock{
					TurnID:    turn.ID,
					BlockType: llm.BlockTypeToolResult,
					Sequence:  block.Sequence + 1,
					Status:    llm.BlockStatusComplete,
					Content: map[string]interface{}{
						"tool_use_id": toolUseID,
						"tool_name":   toolName,
						"is_error":    true,
						"error":       "Tool execution was interrupted",
					},
				})
				continue
			}
		}
		validBlocks = append(validBlocks, block)
	}

	return validBlocks
}
