package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	llmModels "strand/internal/domain/models/llm"
	llmRepo "strand/internal/domain/repositories/llm"
	domainllm "strand/internal/domain/services/llm"
	"strand/internal/mstream"
	"strand/internal/service/llm/tools"
)

// StreamExecutor wraps mstream.Stream and manages LLM streaming for a turn.
// It runs the provider stream inside the mstream WorkFunc, persists complete
// blocks as they arrive, executes backend-side tools between streams, and
// keeps running continuation streams until the model stops asking for tools.
type StreamExecutor struct {
	stream        *mstream.Stream
	turnID        string
	model         string
	turnRepo      llmRepo.TurnWriter
	turnReader    llmRepo.TurnReader
	turnNavigator llmRepo.TurnNavigator
	provider      domainllm.LLMProvider
	logger        *slog.Logger
	req           *domainllm.GenerateRequest // Stored for WorkFunc to use

	messageBuilder domainllm.MessageBuilder

	// Tool execution support
	toolRegistry   *tools.ToolRegistry
	collectedTools []tools.ToolCall // backend-side tool_use blocks collected during streaming
	toolIteration  int              // completed tool rounds (0 = initial stream)
	maxToolRounds  int              // soft limit; hard limit is 2x
	limitReached   bool             // set once the final limited stream starts; no more tool collection

	// maxBlockSequence is the highest turn-level sequence persisted so far.
	// -1 until the first block lands, so the first stream starts at sequence 0.
	maxBlockSequence int

	// JSON delta accumulation. Partial tool-input JSON is unparseable, so
	// fragments are held here and one complete delta is sent when the block
	// completes. Keyed by the provider's block index.
	jsonAccumulator map[int]string

	// Text delta accumulation for partial block persistence on interruption.
	// Text deltas are forwarded immediately, but also kept here so an
	// interrupted stream can salvage what was generated.
	textAccumulator map[int]string
	blockTypes      map[int]string // provider block index -> block type
}

// NewStreamExecutor creates a new mstream-based executor for a turn.
// Accepts minimal interfaces: TurnWriter for writes, TurnReader for catchup
// and continuation loads, TurnNavigator for continuation path traversal.
func NewStreamExecutor(
	turnID string,
	model string,
	turnWriter llmRepo.TurnWriter,
	turnReader llmRepo.TurnReader,
	turnNavigator llmRepo.TurnNavigator,
	provider domainllm.LLMProvider,
	toolRegistry *tools.ToolRegistry,
	messageBuilder domainllm.MessageBuilder,
	logger *slog.Logger,
	maxToolRounds int,
	debugMode bool,
) *StreamExecutor {
	se := &StreamExecutor{
		turnID:           turnID,
		model:            model,
		turnRepo:         turnWriter,
		turnReader:       turnReader,
		turnNavigator:    turnNavigator,
		provider:         provider,
		logger:           logger,
		messageBuilder:   messageBuilder,
		toolRegistry:     toolRegistry,
		toolIteration:    0,
		maxToolRounds:    maxToolRounds,
		maxBlockSequence: -1,
		jsonAccumulator:  make(map[int]string),
		textAccumulator:  make(map[int]string),
		blockTypes:       make(map[int]string),
	}

	// Catchup replays the persisted prefix from the database for late joiners
	serializer := llmModels.NewBlockSerializer()
	catchupFunc := buildCatchupFunc(turnID, turnReader, serializer, logger)

	stream := mstream.NewStream(
		turnID,
		se.workFunc,
		mstream.WithCatchup(catchupFunc),
		mstream.WithEventIDs(debugMode), // Live event IDs only in DEBUG mode
	)
	se.stream = stream

	return se
}

// GetStream returns the underlying mstream.Stream
func (se *StreamExecutor) GetStream() *mstream.Stream {
	return se.stream
}

// Start begins streaming execution
func (se *StreamExecutor) Start(req *domainllm.GenerateRequest) {
	se.req = req
	se.stream.Start()
}

// workFunc is the mstream WorkFunc that performs the actual streaming
func (se *StreamExecutor) workFunc(ctx context.Context, send func(mstream.Event)) error {
	req := se.req
	if req == nil {
		return fmt.Errorf("generate request not set")
	}

	// Update turn status to "streaming".
	// NOTE: The turn stays "streaming" through all continuation rounds and is
	// only marked "complete" when handleCompletion sees a non-tool stop.
	if err := se.turnRepo.UpdateTurnStatus(ctx, se.turnID, "streaming", nil); err != nil {
		return fmt.Errorf("failed to update turn status: %w", err)
	}

	// NOTE: turn_start (event-0) is emitted by the catchup function, not here.
	// Live streaming starts with block events.

	streamChan, err := se.provider.StreamResponse(ctx, req)
	if err != nil {
		se.handleError(ctx, send, fmt.Errorf("failed to start provider streaming: %w", err))
		return err
	}

	// Delegate to the stream processor (reused by tool continuation)
	return se.processProviderStream(ctx, streamChan, send)
}

// processProviderStream processes streaming events from one provider stream.
// Called recursively for tool continuation streams.
func (se *StreamExecutor) processProviderStream(
	ctx context.Context,
	streamChan <-chan domainllm.StreamEvent,
	send func(mstream.Event),
) error {
	// Track where this stream starts for sequence remapping. The provider
	// always emits block indices from 0, but continuation streams must
	// continue after the tool_result blocks already persisted.
	// Initial stream: maxBlockSequence = -1, streamStartSequence = 0
	// Continuation: maxBlockSequence = 2, streamStartSequence = 3
	streamStartSequence := se.maxBlockSequence + 1

	// Current provider block index for delta events (-1 = no block started yet)
	currentBlockIndex := -1

	for {
		select {
		case <-ctx.Done():
			err := fmt.Errorf("streaming interrupted: %w", ctx.Err())
			se.handleError(ctx, send, err)
			return err

		case streamEvent, ok := <-streamChan:
			if !ok {
				// Channel closed without a terminal Metadata or Error event
				err := fmt.Errorf("stream closed without metadata")
				se.handleError(ctx, send, err)
				return err
			}

			if streamEvent.Error != nil {
				se.handleError(ctx, send, streamEvent.Error)
				return streamEvent.Error
			}

			if streamEvent.Delta != nil {
				if err := se.processDelta(ctx, send, streamEvent.Delta, &currentBlockIndex, streamStartSequence); err != nil {
					se.handleError(ctx, send, err)
					return err
				}
			}

			if streamEvent.Block != nil {
				if err := se.processCompleteBlock(ctx, send, streamEvent.Block, streamStartSequence); err != nil {
					se.handleError(ctx, send, err)
					return err
				}
			}

			if streamEvent.Metadata != nil {
				return se.handleCompletion(ctx, send, streamEvent.Metadata)
			}
		}
	}
}

// mapWireDeltaType converts a provider delta type to the client-facing
// delta_type enum. Thinking text becomes plain "text" because the preceding
// block_start already identified the block as thinking.
func mapWireDeltaType(providerType string) string {
	switch providerType {
	case llmModels.DeltaTypeText, llmModels.DeltaTypeThinking:
		return llmModels.SSEDeltaTypeText
	case llmModels.DeltaTypeSignature:
		return llmModels.SSEDeltaTypeSignature
	case llmModels.DeltaTypeInputJSON:
		return llmModels.SSEDeltaTypeJSON
	default:
		return providerType
	}
}

// processDelta handles a single TurnBlockDelta for real-time UI updates.
//   - Text/signature deltas are forwarded immediately for progressive display
//   - JSON deltas are accumulated; partial JSON is unparseable, so one
//     complete delta is sent when the block completes
//   - Text deltas are also accumulated for partial persistence on interruption
//
// SSE block indices are remapped from provider indices to turn-level sequences.
func (se *StreamExecutor) processDelta(ctx context.Context, send func(mstream.Event), delta *llmModels.TurnBlockDelta, currentBlockIndex *int, streamStartSequence int) error {
	// Detect new block start
	if delta.BlockIndex != *currentBlockIndex {
		turnLevelSequence := streamStartSequence + delta.BlockIndex

		se.sendEvent(send, llmModels.SSEEventBlockStart, llmModels.BlockStartEvent{
			BlockIndex: turnLevelSequence,
			BlockType:  delta.BlockType,
		})

		// Track block type for partial persistence (only text blocks qualify)
		if delta.BlockType != nil {
			se.blockTypes[delta.BlockIndex] = *delta.BlockType
		}

		*currentBlockIndex = delta.BlockIndex
	}

	// Accumulate JSON fragments instead of forwarding them.
	// NOTE: accumulator keys are provider block indices, not remapped ones.
	if delta.IsJSONDelta() && *delta.JSONDelta != "" {
		se.jsonAccumulator[delta.BlockIndex] += *delta.JSONDelta
		return nil
	}

	// Accumulate text so an interrupted stream can persist what arrived
	if delta.IsTextDelta() && *delta.TextDelta != "" {
		se.textAccumulator[delta.BlockIndex] += *delta.TextDelta
	}

	// Forward text/signature deltas immediately
	if delta.DeltaType != "" && (delta.TextDelta != nil || delta.SignatureDelta != nil) {
		turnLevelSequence := streamStartSequence + delta.BlockIndex
		se.sendEvent(send, llmModels.SSEEventBlockDelta, llmModels.BlockDeltaEvent{
			BlockIndex:     turnLevelSequence,
			DeltaType:      mapWireDeltaType(delta.DeltaType),
			TextDelta:      delta.TextDelta,
			SignatureDelta: delta.SignatureDelta,
			JSONDelta:      nil, // Never forward partial JSON
		})
	}

	return nil
}

// processCompleteBlock handles a complete, normalized block from the provider.
// The block arrives with the provider's 0-based index in Sequence; it is
// remapped to the turn-level sequence before persistence and emission.
func (se *StreamExecutor) processCompleteBlock(ctx context.Context, send func(mstream.Event), block *llmModels.TurnBlock, streamStartSequence int) error {
	block.TurnID = se.turnID

	// Save the provider's index before remapping; the accumulators key on it
	providerBlockIndex := block.Sequence

	// Initial stream: streamStartSequence = 0, provider block 0 -> sequence 0
	// Continuation: streamStartSequence = 3, provider block 0 -> sequence 3
	block.Sequence = streamStartSequence + providerBlockIndex

	// Collect backend-side tool_use blocks for execution between streams.
	// Provider-side tools (e.g. a model's built-in web search) were already
	// executed upstream. Once the limit round starts, collection stops so a
	// model that ignores the limit instruction cannot extend the loop.
	if se.toolRegistry != nil && !se.limitReached && block.IsBackendSideTool() {
		se.collectToolUse(block)
	}

	// Emit one complete, parseable json delta for structured content. The
	// persisted content is the source of truth (it matches what catchup will
	// replay); the raw accumulated fragments are only a fallback for
	// providers that never send a normalized complete block payload.
	accumulatedJSON, hadAccumulated := se.jsonAccumulator[providerBlockIndex]
	delete(se.jsonAccumulator, providerBlockIndex)

	if block.Content != nil {
		if contentJSON, err := json.Marshal(block.Content); err != nil {
			se.logger.Error("failed to marshal block content for delta",
				"error", err,
				"block_index", block.Sequence,
				"block_type", block.BlockType,
			)
		} else {
			contentStr := string(contentJSON)
			se.sendEvent(send, llmModels.SSEEventBlockDelta, llmModels.BlockDeltaEvent{
				BlockIndex: block.Sequence,
				DeltaType:  llmModels.SSEDeltaTypeJSON,
				JSONDelta:  &contentStr,
			})
		}
	} else if hadAccumulated {
		se.sendEvent(send, llmModels.SSEEventBlockDelta, llmModels.BlockDeltaEvent{
			BlockIndex: block.Sequence,
			DeltaType:  llmModels.SSEDeltaTypeJSON,
			JSONDelta:  &accumulatedJSON,
		})
	}

	// The block completed normally, so its partial-persistence state is moot
	delete(se.textAccumulator, providerBlockIndex)
	delete(se.blockTypes, providerBlockIndex)

	se.sendEvent(send, llmModels.SSEEventBlockStop, llmModels.BlockStopEvent{
		BlockIndex: block.Sequence,
	})

	// Persist the block and clear the stream's replay buffer atomically. The
	// block's events must all be published first: PersistAndClear swallows
	// them, and catchup rebuilds the same events from the persisted block, so
	// late subscribers see each block exactly once.
	// NOTE: ctx.Done() is deliberately not checked before persisting. Even on
	// cancellation the generated content should land in the database so
	// catchup can serve it later.
	if err := se.stream.PersistAndClear(func(events []mstream.Event) error {
		if err := se.turnRepo.CreateTurnBlock(ctx, block); err != nil {
			return fmt.Errorf("create turn block: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to persist block %d: %w", block.Sequence, err)
	}

	if block.Sequence > se.maxBlockSequence {
		se.maxBlockSequence = block.Sequence
	}

	se.logger.Debug("persisted complete block",
		"block_index", block.Sequence,
		"block_type", block.BlockType,
		"turn_id", se.turnID,
	)

	return nil
}

// handleCompletion handles successful stream completion
func (se *StreamExecutor) handleCompletion(ctx context.Context, send func(mstream.Event), metadata *domainllm.StreamMetadata) error {
	// Use the request model as fallback when the provider omits it in
	// streaming metadata (OpenRouter does this)
	if metadata.Model == "" {
		metadata.Model = se.model
	}

	if err := se.updateTurnMetadata(ctx, metadata); err != nil {
		se.handleError(ctx, send, fmt.Errorf("failed to update turn metadata: %w", err))
		return err
	}

	// Tool rounds continue while the model keeps asking for backend tools
	if len(se.collectedTools) > 0 && se.toolRegistry != nil {
		// Hard limit backstop: give every pending tool_use an error
		// tool_result (the API requires the pairing) and run one final
		// stream so the model can wrap up instead of cutting off abruptly.
		hardLimit := se.maxToolRounds * 2
		if se.toolIteration >= hardLimit {
			se.logger.Warn("hard tool limit reached, persisting error tool results",
				"tool_iteration", se.toolIteration,
				"hard_limit", hardLimit,
				"collected_tools", len(se.collectedTools),
			)

			errMsg := fmt.Sprintf("Tool execution limit reached (%d rounds). Please provide your final answer based on the information gathered so far.", hardLimit)
			if err := se.persistErrorToolResults(ctx, send, errMsg); err != nil {
				se.handleError(ctx, send, fmt.Errorf("failed to persist error tool results at hard limit: %w", err))
				return err
			}

			return se.executeToolsAndContinueWithLimit(ctx, send)
		}

		se.logger.Info("executing collected tools",
			"tool_count", len(se.collectedTools),
			"iteration", se.toolIteration,
		)
		return se.executeToolsAndContinue(ctx, send)
	}

	// No tools requested (or stop_reason != "tool_use"), complete the turn
	return se.completeTurn(ctx, send, metadata.StopReason, metadata)
}

// persistPartialTextBlocks saves accumulated text as partial blocks.
// Called during error handling so an interrupted response is not lost.
func (se *StreamExecutor) persistPartialTextBlocks(ctx context.Context) {
	if len(se.textAccumulator) == 0 {
		return
	}

	se.logger.Info("persisting partial text blocks",
		"turn_id", se.turnID,
		"block_count", len(se.textAccumulator),
	)

	for providerBlockIndex, textContent := range se.textAccumulator {
		if textContent == "" {
			continue
		}

		blockType := llmModels.BlockTypeText
		if bt, exists := se.blockTypes[providerBlockIndex]; exists {
			blockType = bt
		}

		// Only text blocks survive partially; other types need complete
		// structure to mean anything
		if blockType != llmModels.BlockTypeText {
			se.logger.Debug("skipping partial non-text block",
				"block_type", blockType,
				"provider_index", providerBlockIndex,
			)
			continue
		}

		turnSequence := se.maxBlockSequence + 1 + providerBlockIndex

		partialBlock := &llmModels.TurnBlock{
			TurnID:      se.turnID,
			BlockType:   blockType,
			Sequence:    turnSequence,
			TextContent: &textContent,
			Status:      llmModels.BlockStatusPartial,
		}

		// PersistAndClear drops the buffered deltas for this text once the
		// upsert lands; catchup replays the partial block instead
		err := se.stream.PersistAndClear(func(events []mstream.Event) error {
			return se.turnRepo.UpsertPartialTextBlock(ctx, partialBlock)
		})
		if err != nil {
			se.logger.Error("failed to persist partial text block",
				"error", err,
				"sequence", turnSequence,
				"text_length", len(textContent),
			)
		} else {
			se.logger.Info("persisted partial text block",
				"sequence", turnSequence,
				"text_length", len(textContent),
			)
		}
	}

	se.textAccumulator = nil
	se.blockTypes = nil
}

// handleError handles streaming errors
func (se *StreamExecutor) handleError(ctx context.Context, send func(mstream.Event), err error) {
	// Persist partial text BEFORE marking the turn as errored. The original
	// context may already be cancelled, so use a background one.
	persistCtx := context.Background()
	se.persistPartialTextBlocks(persistCtx)

	// User cancellation is not a failure; clients skip the error toast
	isCancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)

	if updateErr := se.turnRepo.UpdateTurnError(persistCtx, se.turnID, err.Error()); updateErr != nil {
		se.logger.Error("failed to update turn error", "error", updateErr)
	}

	errorMsg := err.Error()
	if errorMsg == "" {
		errorMsg = "Unknown error occurred"
	}

	se.sendEvent(send, llmModels.SSEEventTurnError, llmModels.TurnErrorEvent{
		TurnID:      se.turnID,
		Error:       errorMsg,
		IsCancelled: isCancelled,
	})
}

// sendEvent marshals data and sends it via mstream.
// Event IDs are assigned by the library when enabled.
func (se *StreamExecutor) sendEvent(send func(mstream.Event), eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		se.logger.Error("failed to marshal event data", "error", err, "event_type", eventType)
		return
	}

	send(mstream.NewEvent(jsonData).WithType(eventType))
}

// updateTurnMetadata updates the turn with final stream metadata
func (se *StreamExecutor) updateTurnMetadata(ctx context.Context, metadata *domainllm.StreamMetadata) error {
	return se.turnRepo.UpdateTurnMetadata(ctx, se.turnID, map[string]interface{}{
		"model":             metadata.Model,
		"input_tokens":      metadata.InputTokens,
		"output_tokens":     metadata.OutputTokens,
		"stop_reason":       metadata.StopReason,
		"response_metadata": metadata.ResponseMetadata,
	})
}

// collectToolUse extracts the call from a tool_use block's content.
// Expected shape: {"tool_use_id": "...", "tool_name": "...", "input": {...}}
func (se *StreamExecutor) collectToolUse(block *llmModels.TurnBlock) {
	if block.Content == nil {
		se.logger.Warn("tool_use block has no content",
			"sequence", block.Sequence,
			"block_type", block.BlockType)
		return
	}

	toolUseID, ok := block.Content["tool_use_id"].(string)
	if !ok {
		if val, exists := block.Content["tool_use_id"]; exists {
			toolUseID = fmt.Sprintf("%v", val)
		} else {
			se.logger.Warn("tool_use block missing tool_use_id", "sequence", block.Sequence)
			return
		}
	}

	toolName, ok := block.Content["tool_name"].(string)
	if !ok {
		if val, exists := block.Content["tool_name"]; exists {
			toolName = fmt.Sprintf("%v", val)
		} else {
			se.logger.Warn("tool_use block missing tool_name", "sequence", block.Sequence)
			return
		}
	}

	inputRaw, exists := block.Content["input"]
	if !exists {
		se.logger.Warn("tool_use block missing input field", "sequence", block.Sequence)
		return
	}

	toolInput, ok := inputRaw.(map[string]interface{})
	if !ok {
		// The input may have round-tripped through JSON into another shape
		inputJSON, err := json.Marshal(inputRaw)
		if err != nil {
			se.logger.Warn("tool_use block input cannot be marshaled",
				"sequence", block.Sequence,
				"input_type", fmt.Sprintf("%T", inputRaw),
				"error", err)
			return
		}
		if err := json.Unmarshal(inputJSON, &toolInput); err != nil {
			se.logger.Warn("tool_use block input cannot be unmarshaled",
				"sequence", block.Sequence,
				"error", err)
			return
		}
	}

	se.collectedTools = append(se.collectedTools, tools.ToolCall{
		ID:    toolUseID,
		Name:  toolName,
		Input: toolInput,
	})
}

// executeToolsAndContinue executes the collected tools in parallel, persists
// their results, and continues streaming in the same turn.
func (se *StreamExecutor) executeToolsAndContinue(ctx context.Context, send func(mstream.Event)) error {
	toolResults := se.toolRegistry.ExecuteParallel(ctx, se.collectedTools)

	se.logger.Info("tool execution completed",
		"tool_count", len(toolResults),
		"iteration", se.toolIteration,
	)

	// Each result becomes a tool_result block sequenced after the last block
	// persisted during streaming
	nextSequence := se.maxBlockSequence + 1

	for i, toolResult := range toolResults {
		block := &llmModels.TurnBlock{
			TurnID:    se.turnID,
			BlockType: llmModels.BlockTypeToolResult,
			Sequence:  nextSequence + i,
			Content: map[string]interface{}{
				"tool_use_id": toolResult.ID,
				"tool_name":   toolResult.Name,
				"is_error":    toolResult.IsError,
			},
		}

		if toolResult.IsError {
			block.Content["error"] = toolResult.Error.Error()
		} else {
			block.Content["result"] = toolResult.Result
		}

		if err := se.persistAndStreamToolResult(ctx, send, block); err != nil {
			if updateErr := se.turnRepo.UpdateTurnError(ctx, se.turnID, err.Error()); updateErr != nil {
				se.logger.Error("failed to update turn error status", "error", updateErr)
			}
			return err
		}
	}

	se.toolIteration++

	softLimit := se.maxToolRounds
	hardLimit := se.maxToolRounds * 2

	// Hard limit: stop executing tools and force one final wrap-up stream
	if se.toolIteration >= hardLimit {
		se.logger.Warn("hard tool limit reached, forcing graceful completion",
			"iterations", se.toolIteration,
			"soft_limit", softLimit,
			"hard_limit", hardLimit,
		)
		return se.executeToolsAndContinueWithLimit(ctx, send)
	}

	// Load the conversation path including the tool results just persisted
	path, err := se.turnNavigator.GetTurnPath(ctx, se.turnID)
	if err != nil {
		se.handleError(ctx, send, fmt.Errorf("failed to load turn path for continuation: %w", err))
		return fmt.Errorf("failed to load turn path for continuation: %w", err)
	}

	for i := range path {
		blocks, err := se.turnReader.GetTurnBlocks(ctx, path[i].ID)
		if err != nil {
			se.handleError(ctx, send, fmt.Errorf("failed to load blocks for turn %s: %w", path[i].ID, err))
			return fmt.Errorf("failed to load blocks for turn %s: %w", path[i].ID, err)
		}
		path[i].Blocks = blocks
	}

	messages, err := se.messageBuilder.BuildMessages(ctx, path)
	if err != nil {
		se.handleError(ctx, send, fmt.Errorf("failed to build continuation messages: %w", err))
		return fmt.Errorf("failed to build continuation messages: %w", err)
	}

	// Soft limit: nudge the model to wrap up while still allowing tool use
	// when it considers another call essential
	if se.toolIteration >= softLimit {
		notificationText := fmt.Sprintf(
			"You've exceeded the recommended tool usage limit of %d rounds. "+
				"Please consider providing your final answer based on the information you've gathered.",
			softLimit,
		)

		notificationMsg := llmModels.Message{
			Role: "user",
			Content: []*llmModels.TurnBlock{
				{
					BlockType:   llmModels.BlockTypeText,
					TextContent: &notificationText,
				},
			},
		}

		// Prepend so the model sees the notice first
		messages = append([]llmModels.Message{notificationMsg}, messages...)

		se.logger.Info("soft tool limit reached, injected user notification",
			"iterations", se.toolIteration,
			"soft_limit", softLimit,
			"hard_limit", hardLimit,
		)
	}

	// Continuation reuses the original params (temperature, system, tools)
	contReq := &domainllm.GenerateRequest{
		Messages: messages,
		Model:    se.req.Model,
		Params:   se.req.Params,
	}

	se.logContinuationRequest(contReq)

	// NOTE: use the WorkFunc ctx, not context.Background(). mstream owns the
	// stream lifecycle and a browser disconnect does not cancel this ctx.
	contStreamChan, err := se.provider.StreamResponse(ctx, contReq)
	if err != nil {
		se.handleError(ctx, send, fmt.Errorf("continuation stream failed: %w", err))
		return fmt.Errorf("continuation stream failed: %w", err)
	}

	se.logger.Info("continuation stream started",
		"iteration", se.toolIteration,
		"next_expected_block", se.maxBlockSequence+1,
	)

	se.collectedTools = nil

	return se.processProviderStream(ctx, contStreamChan, send)
}

// persistAndStreamToolResult persists a tool_result block and streams it.
// Shared by executeToolsAndContinue (real results) and persistErrorToolResults
// (synthetic error results).
func (se *StreamExecutor) persistAndStreamToolResult(ctx context.Context, send func(mstream.Event), block *llmModels.TurnBlock) error {
	blockType := block.BlockType
	se.sendEvent(send, llmModels.SSEEventBlockStart, llmModels.BlockStartEvent{
		BlockIndex: block.Sequence,
		BlockType:  &blockType,
	})

	if contentJSON, err := json.Marshal(block.Content); err == nil {
		contentStr := string(contentJSON)
		se.sendEvent(send, llmModels.SSEEventBlockDelta, llmModels.BlockDeltaEvent{
			BlockIndex: block.Sequence,
			DeltaType:  llmModels.SSEDeltaTypeJSON,
			JSONDelta:  &contentStr,
		})
	} else {
		se.logger.Error("failed to marshal tool result content",
			"error", err,
			"tool_use_id", block.Content["tool_use_id"],
		)
	}

	se.sendEvent(send, llmModels.SSEEventBlockStop, llmModels.BlockStopEvent{
		BlockIndex: block.Sequence,
	})

	// Events first, persist second: the clear swallows this block's events so
	// catchup and the live buffer never both carry them
	err := se.stream.PersistAndClear(func(events []mstream.Event) error {
		return se.turnRepo.CreateTurnBlock(ctx, block)
	})
	if err != nil {
		se.logger.Error("failed to persist tool result block",
			"error", err,
			"tool_use_id", block.Content["tool_use_id"],
		)
		return fmt.Errorf("failed to persist tool result: %w", err)
	}

	if block.Sequence > se.maxBlockSequence {
		se.maxBlockSequence = block.Sequence
	}

	se.logger.Debug("persisted and streamed tool result",
		"tool_use_id", block.Content["tool_use_id"],
		"is_error", block.Content["is_error"],
		"sequence", block.Sequence,
	)

	return nil
}

// persistErrorToolResults creates error tool_result blocks for all collected
// tools without executing them. Used at the hard limit so every tool_use
// still gets its required tool_result pairing.
func (se *StreamExecutor) persistErrorToolResults(ctx context.Context, send func(mstream.Event), errMsg string) error {
	if len(se.collectedTools) == 0 {
		return nil
	}

	se.logger.Info("persisting error tool results for collected tools",
		"tool_count", len(se.collectedTools),
		"error_message", errMsg,
	)

	nextSequence := se.maxBlockSequence + 1

	for i, tool := range se.collectedTools {
		block := &llmModels.TurnBlock{
			TurnID:    se.turnID,
			BlockType: llmModels.BlockTypeToolResult,
			Sequence:  nextSequence + i,
			Content: map[string]interface{}{
				"tool_use_id": tool.ID,
				"tool_name":   tool.Name,
				"is_error":    true,
				"error":       errMsg,
			},
		}

		if err := se.persistAndStreamToolResult(ctx, send, block); err != nil {
			return err
		}
	}

	se.collectedTools = nil

	return nil
}

// executeToolsAndContinueWithLimit runs the final stream after the hard tool
// limit. It loads the conversation (including the tool results just
// persisted), injects a limit note into the last tool_result, and streams one
// last response so the model can synthesize its findings instead of being cut
// off. Tool collection is disabled for this stream: whatever the model says,
// the turn ends after it.
func (se *StreamExecutor) executeToolsAndContinueWithLimit(ctx context.Context, send func(mstream.Event)) error {
	se.logger.Info("graceful completion: injecting limit note for final response",
		"iteration", se.toolIteration,
		"max_rounds", se.maxToolRounds,
	)

	path, err := se.turnNavigator.GetTurnPath(ctx, se.turnID)
	if err != nil {
		se.handleError(ctx, send, fmt.Errorf("failed to load turn path for graceful completion: %w", err))
		return fmt.Errorf("failed to load turn path for graceful completion: %w", err)
	}

	for i := range path {
		blocks, err := se.turnReader.GetTurnBlocks(ctx, path[i].ID)
		if err != nil {
			se.handleError(ctx, send, fmt.Errorf("failed to load blocks for turn %s: %w", path[i].ID, err))
			return fmt.Errorf("failed to load blocks for turn %s: %w", path[i].ID, err)
		}
		path[i].Blocks = blocks
	}

	messages, err := se.messageBuilder.BuildMessages(ctx, path)
	if err != nil {
		se.handleError(ctx, send, fmt.Errorf("failed to build messages for graceful completion: %w", err))
		return fmt.Errorf("failed to build messages for graceful completion: %w", err)
	}

	// Tell the model in the tool result itself that the limit is reached.
	// In-memory only, never persisted.
	injectToolLimitNote(messages, se.toolIteration, se.maxToolRounds)

	// IMPORTANT: keep the tools array even though no more calls are wanted.
	// Some providers reject tool-role messages when the request defines no
	// tools. The system instruction below is what actually stops tool use.
	limitParams := *se.req.Params // Shallow copy

	limitInstruction := "\n\nIMPORTANT: You have reached your tool usage limit. " +
		"Do NOT format any tool calls. " +
		"Provide your answer in natural language based on the information you gathered. " +
		"Let the user know you reached the tool limit and are providing your best answer with available information."

	if limitParams.System != nil {
		updatedPrompt := *limitParams.System + limitInstruction
		limitParams.System = &updatedPrompt
	} else {
		limitParams.System = &limitInstruction
	}

	contReq := &domainllm.GenerateRequest{
		Messages: messages,
		Model:    se.req.Model,
		Params:   &limitParams,
	}

	se.logContinuationRequest(contReq)

	contStreamChan, err := se.provider.StreamResponse(ctx, contReq)
	if err != nil {
		se.handleError(ctx, send, fmt.Errorf("graceful completion stream failed: %w", err))
		return fmt.Errorf("graceful completion stream failed: %w", err)
	}

	se.logger.Info("graceful completion stream started",
		"iteration", se.toolIteration,
		"next_expected_block", se.maxBlockSequence+1,
	)

	// No more tool rounds: clear the collection and stop collecting
	se.collectedTools = nil
	se.limitReached = true

	return se.processProviderStream(ctx, contStreamChan, send)
}

// injectToolLimitNote appends a limit notification to the newest tool_result
// block so the model knows to answer with what it has. Modifies the messages
// in memory; the persisted blocks are untouched.
func injectToolLimitNote(messages []llmModels.Message, currentRound, maxRounds int) {
	for i := len(messages) - 1; i >= 0; i-- {
		blocks := messages[i].Content
		for j := len(blocks) - 1; j >= 0; j-- {
			if blocks[j].BlockType != llmModels.BlockTypeToolResult {
				continue
			}
			content := blocks[j].Content
			if result, exists := content["result"]; exists {
				resultStr := fmt.Sprintf("%v", result)
				limitNote := fmt.Sprintf(
					"\n\n---\nNote: You have reached the maximum tool rounds (%d/%d). Please provide your response based on the information you've gathered so far. No additional tool calls are available.",
					currentRound, maxRounds,
				)
				content["result"] = resultStr + limitNote
			}
			return
		}
	}
}

// completeTurn marks the turn complete and sends turn_complete.
// Called only when stop_reason != "tool_use" (or after the limit round); the
// turn stays "streaming" through all continuation rounds before that.
// metadata may be nil.
func (se *StreamExecutor) completeTurn(
	ctx context.Context,
	send func(mstream.Event),
	stopReason string,
	metadata *domainllm.StreamMetadata,
) error {
	se.logger.Info("completing turn",
		"turn_id", se.turnID,
		"stop_reason", stopReason,
		"total_tool_iterations", se.toolIteration,
	)

	// Terminal statuses carry a completion timestamp; the repository stores
	// completedAt exactly as given
	now := time.Now()
	if err := se.turnRepo.UpdateTurnStatus(ctx, se.turnID, "complete", &now); err != nil {
		se.logger.Error("failed to update turn status", "error", err)
		// Continue despite the error, clients still need turn_complete
	}

	completeEvent := llmModels.TurnCompleteEvent{
		TurnID:     se.turnID,
		StopReason: stopReason,
	}

	if metadata != nil {
		completeEvent.InputTokens = metadata.InputTokens
		completeEvent.OutputTokens = metadata.OutputTokens
		completeEvent.ResponseMetadata = metadata.ResponseMetadata
	}

	se.sendEvent(send, llmModels.SSEEventTurnComplete, completeEvent)

	return nil
}

// logContinuationRequest logs the continuation request's shape at DEBUG to
// help diagnose provider 400s on malformed tool pairings.
func (se *StreamExecutor) logContinuationRequest(req *domainllm.GenerateRequest) {
	if !se.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	for i, msg := range req.Messages {
		blockTypes := make([]string, len(msg.Content))
		for j, block := range msg.Content {
			blockTypes[j] = block.BlockType
		}
		se.logger.Debug("continuation message",
			"index", i,
			"role", msg.Role,
			"block_count", len(msg.Content),
			"block_types", blockTypes,
		)
	}
}
