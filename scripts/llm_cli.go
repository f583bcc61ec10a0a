//go:build ignore

// Interactive terminal client that drives the turn engine in-process: create
// chats, send messages, and watch the assistant response stream live. Uses
// the same wiring as cmd/server but subscribes to streams directly instead
// of going through SSE. Run with:
//
//	go run scripts/llm_cli.go
//
// Works without API keys by picking a lorem model in the parameter menu.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"strand/internal/capabilities"
	"strand/internal/config"
	llmModels "strand/internal/domain/models/llm"
	llmDomain "strand/internal/domain/services/llm"
	"strand/internal/mstream"
	"strand/internal/repository/postgres"
	docsysRepo "strand/internal/repository/postgres/docsystem"
	llmRepo "strand/internal/repository/postgres/llm"
	serviceAuth "strand/internal/service/auth"
	llmService "strand/internal/service/llm"

	"github.com/joho/godotenv"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

type CLI struct {
	ctx       context.Context
	services  *llmService.Services
	registry  *mstream.Registry
	scanner   *bufio.Scanner
	projectID string
	userID    string
	logger    *slog.Logger
}

// setupLogger creates a logger that writes to both console and file
func setupLogger() (*slog.Logger, string, error) {
	logFile, err := config.SetupLogFile("logs", 10)
	if err != nil {
		return nil, "", err
	}

	// Console: INFO level, text format
	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	// File: DEBUG level, formatted text for readability
	fileHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format("2006-01-02 15:04:05"))
				}
			}
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return a
		},
	})

	logger := slog.New(&multiHandler{
		handlers: []slog.Handler{consoleHandler, fileHandler},
	})
	return logger, logFile.Name(), nil
}

// multiHandler writes to multiple handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

func main() {
	_ = godotenv.Load()

	// Setup dual logger (console + file)
	logger, logFile, err := setupLogger()
	if err != nil {
		fmt.Printf("Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("session started", "log_file", logFile)

	// Load config
	cfg := config.Load()

	// The dev project and user that cmd/seed provisions
	projectID := cfg.DevProjectID
	userID := cfg.DevUserID

	// Connect to database
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		fmt.Printf("%s❌ Failed to connect to database: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Setup repositories
	tables := postgres.NewTableNames(cfg.TablePrefix)
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}

	turnRepo := llmRepo.NewTurnRepository(repoConfig)
	chatRepo := llmRepo.NewChatRepository(repoConfig)
	projectRepo := docsysRepo.NewProjectRepository(repoConfig)
	docRepo := docsysRepo.NewDocumentRepository(repoConfig)
	txManager := postgres.NewTransactionManager(pool)
	authorizer := serviceAuth.NewOwnerBasedAuthorizer(projectRepo, chatRepo, turnRepo)

	// Setup LLM services with the same wiring as cmd/server
	providerRegistry, err := llmService.SetupProviders(cfg, logger)
	if err != nil {
		logger.Error("failed to setup LLM providers", "error", err)
		fmt.Printf("%s❌ Failed to setup providers: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}

	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		logger.Error("failed to initialize capability registry", "error", err)
		fmt.Printf("%s❌ Failed to initialize capabilities: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}

	services, streamRegistry, err := llmService.SetupServices(
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
		logger.Error("failed to setup services", "error", err)
		fmt.Printf("%s❌ Failed to setup services: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	logger.Info("services initialized")

	cli := &CLI{
		ctx:       ctx,
		services:  services,
		registry:  streamRegistry,
		scanner:   bufio.NewScanner(os.Stdin),
		projectID: projectID,
		userID:    userID,
		logger:    logger,
	}

	cli.run()
}

func (cli *CLI) run() {
	cli.logger.Info("CLI started",
		"project_id", cli.projectID,
		"user_id", cli.userID,
	)

	fmt.Printf("\n%s╔══════════════════════════════════════╗%s\n", colorCyan, colorReset)
	fmt.Printf("%s║       Strand Streaming CLI           ║%s\n", colorCyan, colorReset)
	fmt.Printf("%s╚══════════════════════════════════════╝%s\n", colorCyan, colorReset)
	fmt.Printf("%sProject: %s | User: %s%s\n\n", colorBlue, cli.projectID, cli.userID, colorReset)

	for {
		fmt.Println("\n" + strings.Repeat("─", 40))
		fmt.Println("Main Menu:")
		fmt.Println("1. Create new chat and send message")
		fmt.Println("2. View chat history")
		fmt.Println("3. Continue existing conversation")
		fmt.Println("4. Exit")
		fmt.Print("\nSelect option (1-4): ")

		choice := cli.readLine()
		fmt.Println() // Extra line for spacing

		cli.logger.Debug("menu selection", "choice", choice)

		switch choice {
		case "1":
			cli.newChatFlow()
		case "2":
			cli.viewChatHistory()
		case "3":
			cli.continueConversation()
		case "4":
			cli.logger.Info("CLI exiting")
			fmt.Printf("%s✓ Goodbye!%s\n", colorGreen, colorReset)
			return
		default:
			cli.logger.Warn("invalid menu choice", "choice", choice)
			fmt.Printf("%s⚠ Invalid choice. Please enter 1-4.%s\n", colorYellow, colorReset)
		}
	}
}

func (cli *CLI) newChatFlow() {
	cli.logger.Info("starting new chat flow")
	fmt.Printf("%s=== Create New Chat ===%s\n\n", colorCyan, colorReset)

	// Get chat title
	fmt.Print("Chat title: ")
	title := cli.readLine()
	if title == "" {
		title = fmt.Sprintf("Chat %s", time.Now().Format("15:04:05"))
	}

	// Get message
	fmt.Print("Your message: ")
	message := cli.readLine()
	if message == "" {
		fmt.Printf("%s⚠ Message cannot be empty%s\n", colorYellow, colorReset)
		return
	}

	// Ask about customization
	fmt.Print("\nCustomize parameters? (y/n): ")
	customize := strings.ToLower(cli.readLine())

	var requestParams map[string]interface{}
	if customize == "y" || customize == "yes" {
		requestParams = cli.buildRequestParams()
		cli.logger.Debug("request parameters built", "params", requestParams)
	}

	// Create chat
	fmt.Printf("\n%s⏳ Creating chat...%s\n", colorBlue, colorReset)
	chat, err := cli.services.Chat.CreateChat(cli.ctx, &llmDomain.CreateChatRequest{
		ProjectID: cli.projectID,
		UserID:    cli.userID,
		Title:     title,
	})
	if err != nil {
		cli.logger.Error("failed to create chat", "error", err, "project_id", cli.projectID)
		fmt.Printf("%s❌ Failed to create chat: %v%s\n", colorRed, err, colorReset)
		return
	}
	cli.logger.Info("chat created", "chat_id", chat.ID)
	fmt.Printf("%s✓ Chat created: %s%s\n", colorGreen, chat.ID, colorReset)

	cli.sendMessage(chat.ID, nil, message, requestParams)
}

// sendMessage creates the user turn and streams the assistant response
func (cli *CLI) sendMessage(chatID string, prevTurnID *string, message string, requestParams map[string]interface{}) {
	fmt.Printf("%s⏳ Sending message...%s\n", colorBlue, colorReset)
	resp, err := cli.services.Streaming.CreateTurn(cli.ctx, &llmDomain.CreateTurnRequest{
		ChatID:     chatID,
		UserID:     cli.userID,
		PrevTurnID: prevTurnID,
		Role:       "user",
		TurnBlocks: []llmDomain.TurnBlockInput{
			{
				BlockType:   "text",
				TextContent: &message,
			},
		},
		RequestParams: requestParams,
	})
	if err != nil {
		cli.logger.Error("failed to create turn", "error", err, "chat_id", chatID)
		fmt.Printf("%s❌ Error: %v%s\n", colorRed, err, colorReset)
		return
	}

	cli.logger.Info("turn pair created",
		"user_turn_id", resp.UserTurn.ID,
		"assistant_turn_id", resp.AssistantTurn.ID,
	)
	fmt.Printf("%s✓ User turn created: %s%s\n", colorGreen, resp.UserTurn.ID, colorReset)

	cli.streamAssistantResponse(resp.AssistantTurn.ID)
}

// selectModel prompts user to select a model
func (cli *CLI) selectModel() string {
	fmt.Printf("\n%sSelect model:%s\n", colorCyan, colorReset)
	fmt.Println("1. Claude Haiku 4.5 (Latest) [default]")
	fmt.Println("2. Claude Sonnet 4.5 (Latest)")
	fmt.Println("3. Claude Opus 4.1")
	fmt.Println("4. Lorem fast (mock, no API key)")
	fmt.Println("5. Lorem slow (mock, no API key)")
	fmt.Println("0. Skip (use default)")
	fmt.Print("\nChoice: ")

	choice := cli.readLine()
	cli.logger.Debug("model selection", "choice", choice)

	switch choice {
	case "1", "":
		return "claude-haiku-4-5-20251001"
	case "2":
		return "claude-sonnet-4-5-20250929"
	case "3":
		return "claude-opus-4-1-20250805"
	case "4":
		return "lorem-fast"
	case "5":
		return "lorem-slow"
	case "0":
		return ""
	default:
		fmt.Printf("%s⚠ Invalid choice, using default%s\n", colorYellow, colorReset)
		return "claude-haiku-4-5-20251001"
	}
}

// selectTemperature prompts user to select a temperature preset
func (cli *CLI) selectTemperature() *float64 {
	fmt.Printf("\n%sSelect temperature:%s\n", colorCyan, colorReset)
	fmt.Println("1. Precise (0.0) - Deterministic, consistent")
	fmt.Println("2. Balanced (0.7) - Good middle ground")
	fmt.Println("3. Creative (1.0) - More varied responses [default]")
	fmt.Println("4. Custom (enter value 0-2)")
	fmt.Println("0. Skip (use default)")
	fmt.Print("\nChoice: ")

	choice := cli.readLine()
	cli.logger.Debug("temperature selection", "choice", choice)

	switch choice {
	case "1":
		val := 0.0
		return &val
	case "2":
		val := 0.7
		return &val
	case "3", "":
		val := 1.0
		return &val
	case "4":
		fmt.Print("Enter temperature (0-2): ")
		tempStr := cli.readLine()
		if val, err := strconv.ParseFloat(tempStr, 64); err == nil {
			if val >= 0 && val <= 2 {
				return &val
			}
			fmt.Printf("%s⚠ Value out of range, using default%s\n", colorYellow, colorReset)
		} else {
			fmt.Printf("%s⚠ Invalid value, using default%s\n", colorYellow, colorReset)
		}
		val := 1.0
		return &val
	case "0":
		return nil
	default:
		fmt.Printf("%s⚠ Invalid choice, using default%s\n", colorYellow, colorReset)
		val := 1.0
		return &val
	}
}

// selectThinking prompts for extended thinking and returns the token budget,
// or nil when thinking stays off
func (cli *CLI) selectThinking() *int {
	fmt.Printf("\n%sEnable thinking mode?%s (y/n): ", colorCyan, colorReset)
	response := strings.ToLower(cli.readLine())

	if response != "y" && response != "yes" {
		return nil
	}

	fmt.Printf("\n%sSelect thinking budget:%s\n", colorCyan, colorReset)
	fmt.Println("1. Low (2000 tokens) - Quick reasoning")
	fmt.Println("2. Medium (5000 tokens) - Balanced [default]")
	fmt.Println("3. High (12000 tokens) - Deep analysis")
	fmt.Print("\nChoice: ")

	choice := cli.readLine()
	cli.logger.Debug("thinking budget selection", "choice", choice)

	var budget int
	switch choice {
	case "1":
		budget = 2000
	case "2", "":
		budget = 5000
	case "3":
		budget = 12000
	default:
		fmt.Printf("%s⚠ Invalid choice, using medium%s\n", colorYellow, colorReset)
		budget = 5000
	}

	return &budget
}

func (cli *CLI) buildRequestParams() map[string]interface{} {
	params := make(map[string]interface{})

	// Model selection (numbered menu)
	model := cli.selectModel()
	if model != "" {
		params["model"] = model
	}

	// Temperature selection (numbered menu)
	temperature := cli.selectTemperature()
	if temperature != nil {
		params["temperature"] = *temperature
	}

	// Thinking mode selection (numbered menu)
	if budget := cli.selectThinking(); budget != nil {
		params["thinking"] = map[string]interface{}{
			"enabled":       true,
			"budget_tokens": *budget,
		}
	}

	// Max tokens (optional, free text)
	fmt.Print("\nMax tokens (press enter to skip): ")
	maxTokens := cli.readLine()
	if maxTokens != "" {
		if val, err := strconv.Atoi(maxTokens); err == nil {
			params["max_tokens"] = val
		} else {
			fmt.Printf("%s⚠ Invalid number, skipping max_tokens%s\n", colorYellow, colorReset)
		}
	}

	return params
}

func (cli *CLI) viewChatHistory() {
	cli.logger.Info("viewing chat history")
	fmt.Printf("%s=== View Chat History ===%s\n\n", colorCyan, colorReset)

	chat := cli.selectChat()
	if chat == "" {
		return
	}
	cli.displayChat(chat)
}

// selectChat lists the project's chats and returns the chosen chat ID, or ""
func (cli *CLI) selectChat() string {
	chats, err := cli.services.Chat.ListChats(cli.ctx, cli.projectID, cli.userID)
	if err != nil {
		cli.logger.Error("failed to list chats", "error", err, "project_id", cli.projectID)
		fmt.Printf("%s❌ Failed to list chats: %v%s\n", colorRed, err, colorReset)
		return ""
	}

	if len(chats) == 0 {
		fmt.Printf("%s⚠ No chats found%s\n", colorYellow, colorReset)
		return ""
	}

	fmt.Println("Recent chats:")
	for i, chat := range chats {
		fmt.Printf("%d. %s (ID: %s)\n", i+1, chat.Title, chat.ID)
	}

	fmt.Print("\nSelect chat number (or 0 to cancel): ")
	choice := cli.readLine()
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(chats) {
		if idx != 0 {
			fmt.Printf("%s⚠ Invalid choice%s\n", colorYellow, colorReset)
		}
		return ""
	}

	return chats[idx-1].ID
}

// displayChat prints the active conversation path and returns it so callers
// can branch off its last turn
func (cli *CLI) displayChat(chatID string) []llmModels.Turn {
	resp, err := cli.services.Conversation.GetPaginatedTurns(cli.ctx, chatID, cli.userID, nil, 200, "both", false)
	if err != nil {
		cli.logger.Error("failed to load turns", "error", err, "chat_id", chatID)
		fmt.Printf("%s❌ Failed to load turns: %v%s\n", colorRed, err, colorReset)
		return nil
	}

	if len(resp.Turns) == 0 {
		fmt.Printf("%s⚠ No turns found in this chat%s\n", colorYellow, colorReset)
		return nil
	}

	fmt.Printf("\n%s--- Conversation ---%s\n", colorCyan, colorReset)
	if resp.HasMoreBefore {
		fmt.Printf("%s(earlier turns omitted)%s\n\n", colorYellow, colorReset)
	}
	for i := range resp.Turns {
		cli.displayTurn(&resp.Turns[i])
		fmt.Println()
	}

	return resp.Turns
}

// providerLabel returns the provider a model routes to
func providerLabel(model string) string {
	if provider, ok := llmModels.GetProviderForModel(model); ok {
		return provider
	}
	return "openrouter"
}

func (cli *CLI) displayTurn(turn *llmModels.Turn) {
	roleColor := colorBlue
	if turn.Role == "assistant" {
		roleColor = colorGreen
	}

	fmt.Printf("%s[%s]%s\n", roleColor, strings.ToUpper(turn.Role), colorReset)

	// Blocks arrive preloaded on paginated turns
	for _, block := range turn.Blocks {
		switch block.BlockType {
		case llmModels.BlockTypeText:
			if block.TextContent != nil {
				fmt.Println(*block.TextContent)
			}
		case llmModels.BlockTypeThinking:
			if block.TextContent != nil {
				fmt.Printf("%s[Thinking: %d chars]%s\n", colorYellow, len(*block.TextContent), colorReset)
				for _, line := range strings.Split(*block.TextContent, "\n") {
					fmt.Printf("%s  %s%s\n", colorYellow, line, colorReset)
				}
			} else {
				fmt.Printf("%s[Thinking: content not available]%s\n", colorYellow, colorReset)
			}
		case llmModels.BlockTypeToolUse:
			if name, ok := block.Content["name"].(string); ok {
				fmt.Printf("%s[Tool call: %s]%s\n", colorYellow, name, colorReset)
			}
		case llmModels.BlockTypeToolResult:
			fmt.Printf("%s[Tool result]%s\n", colorYellow, colorReset)
		}
	}

	// Display metadata for assistant turns
	if turn.Role == "assistant" {
		if turn.InputTokens != nil && turn.OutputTokens != nil {
			tokenInfo := fmt.Sprintf("%s  Tokens: %d in, %d out", colorBlue, *turn.InputTokens, *turn.OutputTokens)
			if turn.Model != nil && *turn.Model != "" {
				tokenInfo += fmt.Sprintf(" | Model: %s (%s)", *turn.Model, providerLabel(*turn.Model))
			}
			fmt.Printf("%s%s\n", tokenInfo, colorReset)
		}
		if turn.StopReason != nil {
			fmt.Printf("%s  Stop reason: %s%s\n", colorBlue, *turn.StopReason, colorReset)
		}
		if turn.Status == "error" && turn.Error != nil {
			fmt.Printf("%s  Error: %s%s\n", colorRed, *turn.Error, colorReset)
		}
	}
}

func (cli *CLI) continueConversation() {
	fmt.Printf("%s=== Continue Conversation ===%s\n\n", colorCyan, colorReset)

	chatID := cli.selectChat()
	if chatID == "" {
		return
	}

	// Display current conversation; continue from the last turn shown
	turns := cli.displayChat(chatID)
	if len(turns) == 0 {
		return
	}
	lastTurnID := turns[len(turns)-1].ID

	// Get new message
	fmt.Print("\nYour message: ")
	message := cli.readLine()
	if message == "" {
		fmt.Printf("%s⚠ Message cannot be empty%s\n", colorYellow, colorReset)
		return
	}

	// Ask about customization
	fmt.Print("Customize parameters? (y/n): ")
	customize := strings.ToLower(cli.readLine())

	var requestParams map[string]interface{}
	if customize == "y" || customize == "yes" {
		requestParams = cli.buildRequestParams()
	}

	cli.sendMessage(chatID, &lastTurnID, message, requestParams)
}

// streamAssistantResponse subscribes to the assistant turn's live stream and
// renders events as they arrive
func (cli *CLI) streamAssistantResponse(turnID string) {
	stream := cli.registry.Get(turnID)
	if stream == nil {
		fmt.Printf("%s⚠ No live stream for turn %s%s\n", colorYellow, turnID, colorReset)
		return
	}

	backlog, live, err := stream.Subscribe(cli.ctx, "cli", "")
	if err != nil {
		cli.logger.Error("subscribe failed", "error", err, "turn_id", turnID)
		fmt.Printf("%s❌ Subscribe failed: %v%s\n", colorRed, err, colorReset)
		return
	}
	defer stream.Unsubscribe("cli")

	fmt.Printf("\n%s--- Assistant Response ---%s\n", colorGreen, colorReset)

	// block_start events carry the type; deltas only carry the index
	blockTypes := make(map[int]string)
	for _, ev := range backlog {
		cli.renderEvent(ev, blockTypes)
	}
	if live != nil {
		for ev := range live {
			cli.renderEvent(ev, blockTypes)
		}
	}
	fmt.Println()
}

func (cli *CLI) renderEvent(ev mstream.Event, blockTypes map[int]string) {
	switch ev.Type {
	case llmModels.SSEEventTurnStart:
		var payload llmModels.TurnStartEvent
		if json.Unmarshal(ev.Data, &payload) == nil {
			fmt.Printf("%s[%s via %s]%s\n", colorBlue, payload.Model, providerLabel(payload.Model), colorReset)
		}

	case llmModels.SSEEventBlockStart:
		var payload llmModels.BlockStartEvent
		if json.Unmarshal(ev.Data, &payload) != nil || payload.BlockType == nil {
			return
		}
		blockTypes[payload.BlockIndex] = *payload.BlockType
		switch *payload.BlockType {
		case llmModels.BlockTypeThinking:
			fmt.Printf("%s[Thinking]%s\n", colorYellow, colorReset)
		case llmModels.BlockTypeToolUse:
			fmt.Printf("%s[Tool call]%s ", colorYellow, colorReset)
		}

	case llmModels.SSEEventBlockDelta:
		var payload llmModels.BlockDeltaEvent
		if json.Unmarshal(ev.Data, &payload) != nil {
			return
		}
		switch payload.DeltaType {
		case llmModels.SSEDeltaTypeText:
			if payload.TextDelta == nil {
				return
			}
			if blockTypes[payload.BlockIndex] == llmModels.BlockTypeThinking {
				fmt.Printf("%s%s%s", colorYellow, *payload.TextDelta, colorReset)
			} else {
				fmt.Print(*payload.TextDelta)
			}
		case llmModels.SSEDeltaTypeJSON:
			if payload.JSONDelta != nil {
				fmt.Printf("%s%s%s", colorYellow, *payload.JSONDelta, colorReset)
			}
		}

	case llmModels.SSEEventBlockStop:
		var payload llmModels.BlockStopEvent
		if json.Unmarshal(ev.Data, &payload) == nil && blockTypes[payload.BlockIndex] != "" {
			fmt.Println()
		}

	case llmModels.SSEEventTurnComplete:
		var payload llmModels.TurnCompleteEvent
		if json.Unmarshal(ev.Data, &payload) == nil {
			fmt.Printf("\n%s  Tokens: %d in, %d out | Stop reason: %s%s\n",
				colorBlue, payload.InputTokens, payload.OutputTokens, payload.StopReason, colorReset)
		}

	case llmModels.SSEEventTurnError:
		var payload llmModels.TurnErrorEvent
		if json.Unmarshal(ev.Data, &payload) != nil {
			return
		}
		if payload.IsCancelled {
			fmt.Printf("\n%s[Cancelled]%s\n", colorYellow, colorReset)
		} else {
			fmt.Printf("\n%s❌ %s%s\n", colorRed, payload.Error, colorReset)
		}
	}
}

func (cli *CLI) readLine() string {
	if !cli.scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(cli.scanner.Text())
}
