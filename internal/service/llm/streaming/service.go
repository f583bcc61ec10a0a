package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"strand/internal/capabilities"
	"strand/internal/config"
	"strand/internal/domain"
	llmModels "strand/internal/domain/models/llm"
	"strand/internal/domain/repositories"
	llmRepo "strand/internal/domain/repositories/llm"
	llmSvc "strand/internal/domain/services/llm"
	"strand/internal/mstream"
	"strand/internal/service/llm/tools"
)

// ChatValidator is shared validation logic for chat operations
type ChatValidator interface {
	ValidateChat(ctx context.Context, chatID, userID string) error
}

// LLMProviderGetter provides access to LLM providers by provider name
type LLMProviderGetter interface {
	GetProvider(provider string) (llmSvc.LLMProvider, error)
}

// Service implements the StreamingService interface
// Handles turn creation and streaming orchestration
type Service struct {
	turnRepo             llmRepo.TurnRepository
	validator            ChatValidator
	providerGetter       LLMProviderGetter
	registry             *mstream.Registry
	config               *config.Config
	txManager            repositories.TransactionManager
	systemPromptResolver llmSvc.SystemPromptResolver
	messageBuilder       llmSvc.MessageBuilder
	toolRegistry         *tools.ToolRegistry
	toolLimits           llmSvc.ToolLimitResolver
	capabilityRegistry   *capabilities.Registry
	logger               *slog.Logger
}

// NewService creates a new streaming service.
// toolRegistry may be nil; turns then stream without backend tool execution.
func NewService(
	turnRepo llmRepo.TurnRepository,
	validator ChatValidator,
	providerGetter LLMProviderGetter,
	registry *mstream.Registry,
	cfg *config.Config,
	txManager repositories.TransactionManager,
	systemPromptResolver llmSvc.SystemPromptResolver,
	messageBuilder llmSvc.MessageBuilder,
	toolRegistry *tools.ToolRegistry,
	toolLimits llmSvc.ToolLimitResolver,
	capabilityRegistry *capabilities.Registry,
	logger *slog.Logger,
) llmSvc.StreamingService {
	return &Service{
		turnRepo:             turnRepo,
		validator:            validator,
		providerGetter:       providerGetter,
		registry:             registry,
		config:               cfg,
		txManager:            txManager,
		systemPromptResolver: systemPromptResolver,
		messageBuilder:       messageBuilder,
		toolRegistry:         toolRegistry,
		toolLimits:           toolLimits,
		capabilityRegistry:   capabilityRegistry,
		logger:               logger,
	}
}

// CreateTurn creates a new user turn and triggers assistant streaming response.
// Returns both the user turn and the assistant turn for client to connect to SSE stream.
func (s *Service) CreateTurn(ctx context.Context, req *llmSvc.CreateTurnRequest) (*llmSvc.CreateTurnResponse, error) {
	// Normalize empty string to nil for prev_turn_id
	if req.PrevTurnID != nil && *req.PrevTurnID == "" {
		req.PrevTurnID = nil
	}

	// Validate request
	if err := s.validateCreateTurnRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	// Validate chat exists and is not deleted
	if err := s.validator.ValidateChat(ctx, req.ChatID, req.UserID); err != nil {
		return nil, err
	}

	// Validate prev turn exists if provided
	if req.PrevTurnID != nil {
		if _, err := s.turnRepo.GetTurn(ctx, *req.PrevTurnID); err != nil {
			return nil, err
		}
	}

	// Prepare request params and model before transaction
	requestParams := req.RequestParams
	if requestParams == nil {
		requestParams = make(map[string]interface{})
	}

	// Validate request params first
	if err := llmModels.ValidateRequestParams(requestParams); err != nil {
		s.logger.Error("invalid request params", "error", err)
		return nil, fmt.Errorf("%w: invalid request params: %v", domain.ErrValidation, err)
	}

	params, err := llmModels.GetRequestParamStruct(requestParams)
	if err != nil {
		s.logger.Error("failed to parse request params", "error", err)
		return nil, fmt.Errorf("failed to parse request params: %w", err)
	}

	// Resolve the model (pure model name, no provider prefix)
	model := s.resolveModel(params)

	// Extract provider from request_params or infer from model
	provider := resolveProvider(params, model)
	if params.Provider == nil || *params.Provider == "" {
		// Persist the inferred provider so turn history shows what actually ran
		requestParams["provider"] = provider
	}

	// Environment gating: Reject tools in production
	if s.config.Environment != "dev" && s.config.Environment != "test" {
		if len(params.Tools) > 0 {
			return nil, fmt.Errorf("%w: tools are only allowed in dev/test environments", domain.ErrValidation)
		}
	}

	// Filter out tools if the model doesn't support them. This prevents
	// "no endpoints support tool use" errors from providers.
	if modelCap, err := s.capabilityRegistry.GetModelCapabilities(provider, model); err == nil {
		if !modelCap.SupportsTools && len(params.Tools) > 0 {
			s.logger.Info("filtering out tools - model doesn't support them",
				"provider", provider,
				"model", model,
				"tools_count", len(params.Tools),
			)
			params.Tools = nil
			// Also remove from requestParams to keep them in sync
			delete(requestParams, "tools")
		}
	} else {
		// Model not in registry - log and continue (fail-open)
		s.logger.Warn("model not found in capability registry, skipping tool filter",
			"provider", provider,
			"model", model,
			"error", err,
		)
	}

	// Resolve system prompt from user, project, chat, and selected skills
	// Always resolve if skills are selected, or if no user system prompt provided
	if err := s.resolveSystemPromptForParams(ctx, req.ChatID, req.UserID, params, req.SelectedSkills); err != nil {
		s.logger.Error("failed to resolve system prompt", "error", err)
		return nil, err
	}

	// Create user turn + blocks and assistant turn atomically in a transaction
	var turn *llmModels.Turn
	var assistantTurn *llmModels.Turn
	now := time.Now()

	err = s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		// Create user turn
		turn = &llmModels.Turn{
			ChatID:     req.ChatID,
			PrevTurnID: req.PrevTurnID,
			Role:       req.Role,
			Status:     "complete", // User turn is immediately complete
			CreatedAt:  now,
		}

		if err := s.turnRepo.CreateTurn(txCtx, turn); err != nil {
			return err
		}

		// Create content blocks if provided
		if len(req.TurnBlocks) > 0 {
			blocks := make([]llmModels.TurnBlock, len(req.TurnBlocks))
			for i, blockInput := range req.TurnBlocks {
				blocks[i] = llmModels.TurnBlock{
					TurnID:      turn.ID,
					BlockType:   blockInput.BlockType,
					Sequence:    i,
					TextContent: blockInput.TextContent,
					Content:     blockInput.Content, // nil becomes NULL in database
					Status:      llmModels.BlockStatusComplete,
					CreatedAt:   now,
				}
			}

			if err := s.turnRepo.CreateTurnBlocks(txCtx, blocks); err != nil {
				return err
			}

			// Attach content blocks to turn
			turn.Blocks = blocks
		}

		// Create assistant turn with status="streaming"
		assistantTurn = &llmModels.Turn{
			ChatID:        req.ChatID,
			PrevTurnID:    &turn.ID, // Assistant turn follows user turn
			Role:          "assistant",
			Status:        "streaming",
			Model:         &model,
			RequestParams: requestParams,
			CreatedAt:     time.Now(),
		}

		if err := s.turnRepo.CreateTurn(txCtx, assistantTurn); err != nil {
			return fmt.Errorf("failed to create assistant turn: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	s.logger.Info("user turn created",
		"id", turn.ID,
		"chat_id", req.ChatID,
		"role", req.Role,
		"prev_turn_id", req.PrevTurnID,
		"turn_blocks", len(req.TurnBlocks),
	)

	s.logger.Info("assistant turn created with streaming status",
		"user_turn_id", turn.ID,
		"assistant_turn_id", assistantTurn.ID,
		"model", model,
		"provider", provider,
	)

	// Get provider adapter (do this synchronously to avoid race)
	llmProvider, err := s.providerGetter.GetProvider(provider)
	if err != nil {
		s.logger.Error("failed to get provider for streaming",
			"error", err,
			"provider", provider,
			"model", model,
			"assistant_turn_id", assistantTurn.ID,
		)
		// Update turn to error status
		if updateErr := s.turnRepo.UpdateTurnError(ctx, assistantTurn.ID, fmt.Sprintf("failed to get provider: %v", err)); updateErr != nil {
			s.logger.Error("failed to update turn error", "error", updateErr)
		}
		return nil, fmt.Errorf("failed to get provider '%s': %w", provider, err)
	}

	// Soft tool round limit for this user; the executor enforces 2x as the hard stop
	maxToolRounds, err := s.toolLimits.GetToolRoundLimit(ctx, req.UserID)
	if err != nil {
		s.logger.Warn("failed to resolve tool round limit, using config default",
			"error", err,
			"user_id", req.UserID,
		)
		maxToolRounds = s.config.MaxToolRounds
	}

	// Create StreamExecutor immediately (before goroutine) to avoid race condition
	// This ensures SSE clients can connect while we're preparing the request
	executor := NewStreamExecutor(
		assistantTurn.ID,
		model, // Pure model name (no provider prefix)
		s.turnRepo,
		s.turnRepo,
		s.turnRepo,
		llmProvider,
		s.toolRegistry,
		s.messageBuilder,
		s.logger,
		maxToolRounds,
		s.config.Debug, // Pass DEBUG flag for optional event IDs
	)

	// Register stream in registry IMMEDIATELY
	// This must happen before returning response to prevent race with SSE connections
	stream := executor.GetStream()
	s.registry.Register(stream)

	s.logger.Info("stream registered, starting background streaming",
		"assistant_turn_id", assistantTurn.ID,
		"model", model,
	)

	// Start streaming in background goroutine
	// Use context.Background() to prevent cancellation when HTTP request completes
	// Pass the already-created executor to avoid race
	go s.startStreamingExecution(context.Background(), assistantTurn.ID, turn.ID, executor, params)

	// Return both turns and stream URL
	streamURL := fmt.Sprintf("/api/turns/%s/stream", assistantTurn.ID)
	return &llmSvc.CreateTurnResponse{
		UserTurn:      turn,
		AssistantTurn: assistantTurn,
		StreamURL:     streamURL,
	}, nil
}

// InterruptTurn cancels a live streaming turn. The executor observes the
// cancellation, persists any partial text, and marks the turn cancelled.
func (s *Service) InterruptTurn(ctx context.Context, turnID, userID string) error {
	turn, err := s.turnRepo.GetTurn(ctx, turnID)
	if err != nil {
		return err
	}

	// Authorize through chat ownership
	if err := s.validator.ValidateChat(ctx, turn.ChatID, userID); err != nil {
		return err
	}

	stream := s.registry.Get(turnID)
	if stream == nil || stream.IsFinished() {
		return fmt.Errorf("%w: no live stream for turn %s", domain.ErrNotFound, turnID)
	}

	stream.Cancel()

	s.logger.Info("streaming turn interrupted",
		"turn_id", turnID,
		"user_id", userID,
	)

	return nil
}

// resolveModel picks the model for a turn: request params override the
// configured default.
func (s *Service) resolveModel(params *llmModels.RequestParams) string {
	model := s.config.DefaultModel
	if model == "" {
		model = "claude-haiku-4-5-20251001" // Fallback if config not set
	}
	if params.Model != nil && *params.Model != "" {
		model = *params.Model
	}
	return model
}

// resolveProvider picks the provider: explicit request param, then model name
// inference, then openrouter (has all models).
func resolveProvider(params *llmModels.RequestParams, model string) string {
	if params.Provider != nil && *params.Provider != "" {
		return *params.Provider
	}
	if mappedProvider, found := llmModels.GetProviderForModel(model); found {
		return mappedProvider
	}
	return "openrouter"
}

// startStreamingExecution starts the streaming execution for an assistant turn.
// This runs in a background goroutine and prepares the request before starting the stream.
// The executor is already created and registered before this function is called.
func (s *Service) startStreamingExecution(ctx context.Context, assistantTurnID, userTurnID string, executor *StreamExecutor, params *llmModels.RequestParams) {
	s.logger.Info("preparing streaming request",
		"assistant_turn_id", assistantTurnID,
	)

	// Get conversation history (turn path)
	path, err := s.turnRepo.GetTurnPath(ctx, userTurnID)
	if err != nil {
		s.failBeforeStart(ctx, assistantTurnID, executor, fmt.Sprintf("failed to get turn path: %v", err))
		return
	}

	// Load content blocks for all turns in the path
	for i := range path {
		blocks, err := s.turnRepo.GetTurnBlocks(ctx, path[i].ID)
		if err != nil {
			s.failBeforeStart(ctx, assistantTurnID, executor, fmt.Sprintf("failed to get content blocks: %v", err))
			return
		}
		path[i].Blocks = blocks
	}

	// Build messages from turn history
	messages, err := s.messageBuilder.BuildMessages(ctx, path)
	if err != nil {
		s.failBeforeStart(ctx, assistantTurnID, executor, fmt.Sprintf("failed to build messages: %v", err))
		return
	}

	// Build GenerateRequest
	generateReq := &llmSvc.GenerateRequest{
		Messages: messages,
		Model:    executor.model,
		Params:   params,
	}

	// Start streaming execution (non-blocking)
	executor.Start(generateReq)

	s.logger.Info("streaming execution started",
		"assistant_turn_id", assistantTurnID,
		"model", executor.model,
	)

	// Note: StreamExecutor will:
	// - Stream from provider
	// - Accumulate deltas into TurnBlocks
	// - Broadcast events via mstream
	// - Update turn status on completion/error
	// - Registry will clean up stream after retention period
}

// failBeforeStart marks the assistant turn as errored and finalizes the
// registered stream when request preparation fails. Without the cancel the
// never-started stream would hold its subscribers open past the retention
// window.
func (s *Service) failBeforeStart(ctx context.Context, assistantTurnID string, executor *StreamExecutor, errorMsg string) {
	s.logger.Error("failed to prepare streaming request",
		"error", errorMsg,
		"assistant_turn_id", assistantTurnID,
	)
	if updateErr := s.turnRepo.UpdateTurnError(ctx, assistantTurnID, errorMsg); updateErr != nil {
		s.logger.Error("failed to update turn error", "error", updateErr)
	}
	executor.GetStream().Cancel()
}

// CreateAssistantTurnDebug creates an assistant turn (DEBUG/INTERNAL USE ONLY)
//
// WARNING: This method is exposed for debug handlers (ENVIRONMENT=dev only)
// to build test fixtures such as partially-streamed turns.
//
// It bypasses the "user" role validation that the public CreateTurn endpoint enforces.
func (s *Service) CreateAssistantTurnDebug(
	ctx context.Context,
	chatID string,
	userID string,
	prevTurnID *string,
	contentBlocks []llmSvc.TurnBlockInput,
	model string,
) (*llmModels.Turn, error) {
	// Validate chat exists and is not deleted
	if err := s.validator.ValidateChat(ctx, chatID, userID); err != nil {
		return nil, err
	}

	// Validate prev turn exists if provided
	if prevTurnID != nil {
		_, err := s.turnRepo.GetTurn(ctx, *prevTurnID)
		if err != nil {
			return nil, err
		}
	}

	// Create assistant turn
	now := time.Now()
	turn := &llmModels.Turn{
		ChatID:     chatID,
		PrevTurnID: prevTurnID,
		Role:       "assistant",
		Status:     "streaming", // Start as streaming
		Model:      &model,
		CreatedAt:  now,
	}

	if err := s.turnRepo.CreateTurn(ctx, turn); err != nil {
		return nil, err
	}

	// Create initial content blocks if provided
	if len(contentBlocks) > 0 {
		blocks := make([]llmModels.TurnBlock, len(contentBlocks))
		for i, blockInput := range contentBlocks {
			blocks[i] = llmModels.TurnBlock{
				TurnID:      turn.ID,
				BlockType:   blockInput.BlockType,
				Sequence:    i,
				TextContent: blockInput.TextContent,
				Content:     blockInput.Content,
				Status:      llmModels.BlockStatusComplete,
				CreatedAt:   now,
			}
		}

		if err := s.turnRepo.CreateTurnBlocks(ctx, blocks); err != nil {
			return nil, err
		}

		turn.Blocks = blocks
	}

	s.logger.Info("assistant turn created (internal)",
		"id", turn.ID,
		"chat_id", chatID,
		"prev_turn_id", prevTurnID,
		"model", model,
		"turn_blocks", len(contentBlocks),
	)

	return turn, nil
}

// resolveSystemPromptForParams resolves system prompt from multiple sources and updates params.
// This consolidates logic shared between CreateTurn and BuildDebugProviderRequest.
//
// Resolution order:
// 1. User-provided system prompt (from params.System)
// 2. Project system prompt
// 3. Chat system prompt
// 4. Selected skills (from .skills/{skillName}/SKILL documents)
//
// The method only resolves when:
// - Skills are selected (len(selectedSkills) > 0), OR
// - No user system prompt is provided (params.System == nil)
func (s *Service) resolveSystemPromptForParams(
	ctx context.Context,
	chatID string,
	userID string,
	params *llmModels.RequestParams,
	selectedSkills []string,
) error {
	if len(selectedSkills) > 0 || params.System == nil {
		systemPrompt, err := s.systemPromptResolver.Resolve(ctx, chatID, userID, params.System, selectedSkills)
		if err != nil {
			return fmt.Errorf("failed to resolve system prompt: %w", err)
		}
		// Set resolved system prompt in params (concatenated result)
		if systemPrompt != nil {
			params.System = systemPrompt
		}
	}
	return nil
}

// Validation methods

func (s *Service) validateCreateTurnRequest(req *llmSvc.CreateTurnRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ChatID, validation.Required),
		validation.Field(&req.Role,
			validation.Required,
			validation.In("user"), // Only allow user role from client (assistant turns created internally)
		),
		validation.Field(&req.TurnBlocks, validation.Each(validation.By(s.validateTurnBlock))),
	)
}

func (s *Service) validateTurnBlock(value interface{}) error {
	block, ok := value.(llmSvc.TurnBlockInput)
	if !ok {
		return fmt.Errorf("invalid content block type")
	}

	if block.BlockType == "" {
		return fmt.Errorf("block_type is required")
	}

	// Support all block types: user and assistant
	validTypes := []string{
		llmModels.BlockTypeText, llmModels.BlockTypeThinking,
		llmModels.BlockTypeToolUse, llmModels.BlockTypeToolResult,
		llmModels.BlockTypeImage, llmModels.BlockTypeReference,
		llmModels.BlockTypePartialReference,
	}
	isValid := false
	for _, validType := range validTypes {
		if block.BlockType == validType {
			isValid = true
			break
		}
	}

	if !isValid {
		return fmt.Errorf("block_type must be one of: %v", validTypes)
	}

	// Validate content structure based on block type using typed schemas
	if err := llmModels.ValidateContent(block.BlockType, block.Content); err != nil {
		return fmt.Errorf("invalid content for %s block: %w", block.BlockType, err)
	}

	return nil
}
