package llm

import (
	"fmt"
	"log/slog"
	"time"

	"strand/internal/capabilities"
	"strand/internal/config"
	"strand/internal/domain/repositories"
	docsysRepo "strand/internal/domain/repositories/docsystem"
	llmRepo "strand/internal/domain/repositories/llm"
	"strand/internal/domain/services"
	llmSvc "strand/internal/domain/services/llm"
	"strand/internal/mstream"
	"strand/internal/service/llm/chat"
	"strand/internal/service/llm/conversation"
	"strand/internal/service/llm/streaming"
	"strand/internal/service/llm/tools"
	"strand/internal/service/llm/tools/external"
)

// streamCleanupInterval is how often the stream registry sweeps for finished
// streams past the retention window.
const streamCleanupInterval = time.Minute

// SetupProviders initializes the provider factory and registry for routing.
// Returns a configured ProviderRegistry or an error if setup fails.
func SetupProviders(cfg *config.Config, logger *slog.Logger) (*ProviderRegistry, error) {
	// Create provider factory with config (manages API keys, creates providers)
	providerFactory := NewProviderFactory(cfg)

	// Create registry around the factory (providers built lazily, cached)
	registry := NewProviderRegistry(providerFactory)

	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("provider registry validation failed: %w", err)
	}

	// Log available providers based on config
	if cfg.AnthropicAPIKey != "" {
		logger.Info("provider available", "name", "anthropic", "models", "claude-*")
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set - Anthropic provider not available")
	}

	if cfg.OpenRouterAPIKey != "" {
		logger.Info("provider available", "name", "openrouter", "models", "gpt-*, o1-*, o3-*, gemini-*")
	} else {
		logger.Warn("OPENROUTER_API_KEY not set - OpenRouter provider not available")
	}

	if cfg.Environment == "dev" || cfg.Environment == "test" {
		logger.Info("provider available", "name", "lorem", "models", "lorem-*")
	}

	logger.Info("provider registry initialized with factory-based routing")

	return registry, nil
}

// Services holds all LLM-related services
type Services struct {
	Chat         llmSvc.ChatService
	Conversation llmSvc.ConversationService
	Streaming    llmSvc.StreamingService
}

// SetupServices initializes all LLM services with proper dependency injection
func SetupServices(
	chatRepo llmRepo.ChatRepository,
	turnRepo llmRepo.TurnRepository,
	projectRepo docsysRepo.ProjectRepository,
	documentRepo docsysRepo.DocumentRepository,
	providerRegistry *ProviderRegistry,
	cfg *config.Config,
	txManager repositories.TransactionManager,
	capabilityRegistry *capabilities.Registry,
	authorizer services.ResourceAuthorizer,
	logger *slog.Logger,
) (*Services, *mstream.Registry, error) {
	// Create shared validator
	validator := NewChatValidator(chatRepo)

	// Create stream registry (for SSE streaming) and start evicting finished
	// streams once they age past the retention window
	streamRegistry := mstream.NewRegistry(cfg.StreamRetention, logger)
	streamRegistry.StartCleanup(streamCleanupInterval)

	// Backend tool execution is a dev/test facility. Without a registry the
	// streaming service still streams; it just never runs tools itself.
	var toolRegistry *tools.ToolRegistry
	if cfg.Environment == "dev" || cfg.Environment == "test" {
		toolRegistry = tools.NewBuiltinRegistry()
		if cfg.TavilyAPIKey != "" {
			tools.RegisterWebSearchTool(toolRegistry, external.NewTavilyClient(cfg.TavilyAPIKey))
		}
		logger.Info("builtin tools registered", "tools", toolRegistry.List())
	}

	// Create chat service (CRUD only)
	chatService := chat.NewService(
		chatRepo,
		projectRepo,
		logger,
	)

	// Create conversation service (uses TurnReader + TurnNavigator for ISP compliance)
	conversationService := conversation.NewService(
		authorizer,
		chatRepo,
		turnRepo, // TurnReader
		turnRepo, // TurnNavigator (same repo implements both)
		logger,
	)

	// Create system prompt resolver
	systemPromptResolver := streaming.NewSystemPromptResolver(
		projectRepo,
		chatRepo,
		documentRepo,
		logger,
	)

	// Create MessageBuilder service (pure conversion, no data loading)
	messageBuilder := conversation.NewMessageBuilderService(
		capabilityRegistry,
		logger,
	)

	// Same limit for every user until a tier system exists
	toolLimits := llmSvc.NewConfigToolLimitResolver(cfg.MaxToolRounds)

	// Create streaming service (turn creation/orchestration)
	streamingService := streaming.NewService(
		turnRepo,
		validator,
		providerRegistry,
		streamRegistry,
		cfg,
		txManager,
		systemPromptResolver,
		messageBuilder,
		toolRegistry,
		toolLimits,
		capabilityRegistry,
		logger,
	)

	return &Services{
		Chat:         chatService,
		Conversation: conversationService,
		Streaming:    streamingService,
	}, streamRegistry, nil
}
