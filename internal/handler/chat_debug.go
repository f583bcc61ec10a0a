package handler

// chat_debug.go - Debug-only endpoints for building fixtures and inspecting
// provider payloads. These handlers are always compiled but only registered
// when ENVIRONMENT=dev.

import (
	"context"
	"net/http"

	"strand/internal/config"
	llmSvc "strand/internal/domain/services/llm"
	"strand/internal/httputil"
)

// providerRequestBuilder is the optional streaming-service extension that
// builds the provider payload for a hypothetical turn without executing it.
// The concrete streaming service implements it; the domain interface does not
// carry it because it exists only for this debug surface.
type providerRequestBuilder interface {
	BuildDebugProviderRequest(ctx context.Context, req *llmSvc.CreateTurnRequest) (map[string]interface{}, error)
}

// ChatDebugHandler provides debug-only endpoints for injecting assistant turns
// and inspecting conversation state
// WARNING: These endpoints are ONLY available when ENVIRONMENT=dev
// They bypass normal validation to allow manual testing of assistant responses
type ChatDebugHandler struct {
	conversationService llmSvc.ConversationService
	streamingService    llmSvc.StreamingService
	config              *config.Config
}

// NewChatDebugHandler creates a new debug chat handler
func NewChatDebugHandler(
	conversationService llmSvc.ConversationService,
	streamingService llmSvc.StreamingService,
	cfg *config.Config,
) *ChatDebugHandler {
	return &ChatDebugHandler{
		conversationService: conversationService,
		streamingService:    streamingService,
		config:              cfg,
	}
}

// CreateAssistantTurn creates an assistant turn directly (DEBUG ONLY)
// POST /debug/api/chats/{id}/turns
//
// WARNING: This endpoint bypasses the user-turn flow and should NEVER be
// registered in production. It exists so tests and fixtures can shape
// conversation history without a provider round-trip.
//
// Request body:
//
//	{
//	  "prev_turn_id": "uuid",  // optional
//	  "role": "assistant",     // must be "assistant"
//	  "turn_blocks": [...],
//	  "model": "..."           // optional
//	}
func (h *ChatDebugHandler) CreateAssistantTurn(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	// Get userID from context (set by auth middleware)
	userID := httputil.GetUserID(r)

	var req struct {
		PrevTurnID *string                 `json:"prev_turn_id"`
		Role       string                  `json:"role"`
		TurnBlocks []llmSvc.TurnBlockInput `json:"turn_blocks"`
		Model      string                  `json:"model"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validate role is assistant
	if req.Role != "assistant" {
		httputil.RespondError(w, http.StatusBadRequest, "Debug endpoint only accepts role='assistant'")
		return
	}

	model := req.Model
	if model == "" {
		model = h.config.DefaultModel
	}

	turn, err := h.streamingService.CreateAssistantTurnDebug(r.Context(), chatID, userID, req.PrevTurnID, req.TurnBlocks, model)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, turn)
}

// GetChatTree returns the whole conversation forest for a chat (DEBUG ONLY)
// GET /debug/api/chats/{id}/tree
// Returns every turn with parent links so branch structure can be inspected
func (h *ChatDebugHandler) GetChatTree(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	tree, err := h.conversationService.GetChatTree(r.Context(), chatID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, tree)
}

// BuildProviderRequest builds the provider request for a hypothetical turn (DEBUG ONLY)
// POST /debug/api/chats/{id}/llm-request
//
// Accepts the same body as POST /api/chats/{id}/turns but creates no turns and
// contacts no provider; the response is the payload that would be sent.
func (h *ChatDebugHandler) BuildProviderRequest(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)

	var req llmSvc.CreateTurnRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ChatID = chatID
	req.UserID = userID

	builder, ok := h.streamingService.(providerRequestBuilder)
	if !ok {
		httputil.RespondError(w, http.StatusNotImplemented, "Provider request preview is not available")
		return
	}

	payload, err := builder.BuildDebugProviderRequest(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, payload)
}
