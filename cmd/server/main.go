package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"strand/internal/auth"
	"strand/internal/capabilities"
	"strand/internal/config"
	"strand/internal/handler"
	"strand/internal/handler/sse"
	"strand/internal/httputil"
	"strand/internal/middleware"
	"strand/internal/repository/postgres"
	postgresDocsys "strand/internal/repository/postgres/docsystem"
	postgresLLM "strand/internal/repository/postgres/llm"
	serviceAuth "strand/internal/service/auth"
	serviceLLM "strand/internal/service/llm"
	"strand/internal/service/llm/streaming"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger) // Set as default logger

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Create JWT verifier when a JWKS endpoint is configured. Outside prod the
	// server can run without one; every request is then attributed to the
	// static dev user so the engine stays drivable with zero auth setup.
	var jwtVerifier auth.JWTVerifier
	if cfg.JWKSURL != "" {
		v, err := auth.NewJWTVerifier(cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer v.Close()
		jwtVerifier = v
	} else if cfg.Environment == "prod" {
		log.Fatal("JWKS_URL is required when ENVIRONMENT=prod")
	} else {
		logger.Warn("JWKS_URL not set - all requests run as the static dev user", "user_id", cfg.DevUserID)
	}

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Create table names
	tables := postgres.NewTableNames(cfg.TablePrefix)

	// Create repositories
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	projectRepo := postgresDocsys.NewProjectRepository(repoConfig)
	docRepo := postgresDocsys.NewDocumentRepository(repoConfig)
	chatRepo := postgresLLM.NewChatRepository(repoConfig)
	turnRepo := postgresLLM.NewTurnRepository(repoConfig)
	txManager := postgres.NewTransactionManager(pool)

	// Ownership-based authorization (project -> chat -> turn)
	authorizer := serviceAuth.NewOwnerBasedAuthorizer(projectRepo, chatRepo, turnRepo)

	// Setup LLM providers
	providerRegistry, err := serviceLLM.SetupProviders(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup LLM providers: %v", err)
	}

	// Initialize capability registry
	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize capability registry: %v", err)
	}
	logger.Info("capability registry initialized")

	// Setup LLM services (chat, conversation, streaming)
	llmServices, streamRegistry, err := serviceLLM.SetupServices(
		chatRepo,
		turnRepo,
		projectRepo,
		docRepo,
		providerRegistry,
		cfg,
		txManager,
		capabilityRegistry,
		authorizer,
		logger,
	)
	if err != nil {
		log.Fatalf("Failed to setup LLM services: %v", err)
	}

	// SSE handler with storage-backed replay for streams the registry no
	// longer holds (finished + evicted, or lost to a restart)
	replayer := streaming.NewCatchupReplayer(turnRepo, logger)
	sseConfig := &sse.Config{KeepAliveInterval: cfg.KeepAliveInterval}
	sseHandler := handler.NewSSEHandler(streamRegistry, replayer, sseConfig, logger)

	// Chat handlers (follows Clean Architecture - no repository access)
	chatHandler := handler.NewChatHandler(
		llmServices.Chat,
		llmServices.Conversation,
		llmServices.Streaming,
		sseHandler,
		authorizer,
		logger,
	)

	// Model capabilities handler
	modelsHandler := handler.NewModelsHandler(cfg, logger, capabilityRegistry)

	// Debug handlers (only in dev environment)
	var chatDebugHandler *handler.ChatDebugHandler
	if cfg.Environment == "dev" {
		chatDebugHandler = handler.NewChatDebugHandler(llmServices.Conversation, llmServices.Streaming, cfg)
		logger.Warn("DEBUG MODE: Debug endpoints enabled (NEVER use in production!)")
	}

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"time":   time.Now(),
		})
	})

	// Model capabilities routes
	mux.HandleFunc("GET /api/models/capabilities", modelsHandler.GetCapabilities)

	// Chat routes
	mux.HandleFunc("POST /api/chats", chatHandler.CreateChat)
	mux.HandleFunc("GET /api/chats", chatHandler.ListChats)
	mux.HandleFunc("GET /api/chats/{id}", chatHandler.GetChat)
	mux.HandleFunc("PATCH /api/chats/{id}", chatHandler.UpdateChat)
	mux.HandleFunc("DELETE /api/chats/{id}", chatHandler.DeleteChat)
	mux.HandleFunc("PATCH /api/chats/{id}/last-viewed-turn", chatHandler.UpdateLastViewedTurn)
	mux.HandleFunc("GET /api/chats/{id}/turns", chatHandler.GetPaginatedTurns)
	mux.HandleFunc("POST /api/chats/{id}/turns", chatHandler.CreateTurn)

	// Turn navigation routes
	mux.HandleFunc("GET /api/turns/{id}/path", chatHandler.GetTurnPath)
	mux.HandleFunc("GET /api/turns/{id}/siblings", chatHandler.GetTurnSiblings)

	// Streaming routes
	mux.HandleFunc("GET /api/turns/{id}/stream", chatHandler.StreamTurn)             // SSE streaming endpoint
	mux.HandleFunc("GET /api/turns/{id}/blocks", chatHandler.GetTurnBlocks)          // Get completed blocks
	mux.HandleFunc("GET /api/turns/{id}/token-usage", chatHandler.GetTurnTokenUsage) // Get token usage stats
	mux.HandleFunc("POST /api/turns/{id}/interrupt", chatHandler.InterruptTurn)      // Cancel streaming turn

	// Debug routes (only in dev environment)
	if cfg.Environment == "dev" && chatDebugHandler != nil {
		mux.HandleFunc("POST /debug/api/chats/{id}/turns", chatDebugHandler.CreateAssistantTurn)
		mux.HandleFunc("GET /debug/api/chats/{id}/tree", chatDebugHandler.GetChatTree)
		mux.HandleFunc("POST /debug/api/chats/{id}/llm-request", chatDebugHandler.BuildProviderRequest)
		logger.Warn("Debug route registered: POST /debug/api/chats/:id/turns (assistant turn creation)")
		logger.Warn("Debug route registered: GET /debug/api/chats/:id/tree (full conversation tree - use pagination in production)")
		logger.Warn("Debug route registered: POST /debug/api/chats/:id/llm-request (LLM provider request preview)")
	}

	// Build middleware chain
	var httpHandler http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	if jwtVerifier != nil {
		httpHandler = middleware.AuthMiddleware(jwtVerifier)(httpHandler)
	} else {
		httpHandler = middleware.StaticUserMiddleware(cfg.DevUserID)(httpHandler)
	}
	httpHandler = middleware.Recovery(logger)(httpHandler)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	httpHandler = corsHandler.Handler(httpHandler)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	// Wait for termination signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Cancel live streams first: SSE handlers drain once their stream
		// finishes, and interrupted turns persist partial content on the way
		// out. Then the HTTP server can close connections normally.
		if err := streamRegistry.Shutdown(shutdownCtx); err != nil {
			logger.Error("stream registry shutdown failed", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}
}
