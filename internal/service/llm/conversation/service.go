package conversation

import (
	"context"
	"log/slog"

	"strand/internal/domain/models/llm"
	llmRepo "strand/internal/domain/repositories/llm"
	"strand/internal/domain/services"
	llmSvc "strand/internal/domain/services/llm"
)

// Service implements the ConversationService interface
// Handles conversation history and navigation operations
// Uses minimal interfaces (TurnReader, TurnNavigator) for better ISP compliance
type Service struct {
	authorizer    services.ResourceAuthorizer
	chatRepo      llmRepo.ChatRepository
	turnReader    llmRepo.TurnReader
	turnNavigator llmRepo.TurnNavigator
	logger        *slog.Logger
}

// NewService creates a new conversation service
func NewService(
	authorizer services.ResourceAuthorizer,
	chatRepo llmRepo.ChatRepository,
	turnReader llmRepo.TurnReader,
	turnNavigator llmRepo.TurnNavigator,
	logger *slog.Logger,
) llmSvc.ConversationService {
	return &Service{
		authorizer:    authorizer,
		chatRepo:      chatRepo,
		turnReader:    turnReader,
		turnNavigator: turnNavigator,
		logger:        logger,
	}
}

// GetTurnWithBlocks retrieves a single turn with its blocks and sibling IDs
func (s *Service) GetTurnWithBlocks(ctx context.Context, turnID, userID string) (*llm.Turn, error) {
	if err := s.authorizer.CanAccessTurn(ctx, userID, turnID); err != nil {
		return nil, err
	}

	turn, err := s.turnReader.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}

	blocks, err := s.turnReader.GetTurnBlocks(ctx, turnID)
	if err != nil {
		return nil, err
	}
	turn.Blocks = blocks

	siblings, err := s.turnNavigator.GetSiblingsForTurns(ctx, []string{turnID})
	if err != nil {
		return nil, err
	}
	turn.SiblingIDs = siblings[turnID]

	return turn, nil
}

// GetTurnPath retrieves the conversation path from a turn to root
func (s *Service) GetTurnPath(ctx context.Context, turnID, userID string) ([]llm.Turn, error) {
	if err := s.authorizer.CanAccessTurn(ctx, userID, turnID); err != nil {
		return nil, err
	}

	turns, err := s.turnNavigator.GetTurnPath(ctx, turnID)
	if err != nil {
		return nil, err
	}

	// Batch load content blocks for all turns (eliminates N+1 query)
	if len(turns) > 0 {
		turnIDs := make([]string, len(turns))
		for i, turn := range turns {
			turnIDs[i] = turn.ID
		}

		blocksByTurn, err := s.turnReader.GetTurnBlocksForTurns(ctx, turnIDs)
		if err != nil {
			return nil, err
		}

		for i := range turns {
			if blocks, ok := blocksByTurn[turns[i].ID]; ok {
				turns[i].Blocks = blocks
			} else {
				turns[i].Blocks = []llm.TurnBlock{}
			}
		}
	}

	return turns, nil
}

// GetTurnSiblings retrieves all sibling turns (including self) with blocks
func (s *Service) GetTurnSiblings(ctx context.Context, turnID, userID string) ([]llm.Turn, error) {
	if err := s.authorizer.CanAccessTurn(ctx, userID, turnID); err != nil {
		return nil, err
	}

	return s.turnNavigator.GetTurnSiblings(ctx, turnID)
}

// GetChatTree retrieves the lightweight tree structure for cache validation
func (s *Service) GetChatTree(ctx context.Context, chatID, userID string) (*llm.ChatTree, error) {
	// ChatRepository scopes to the user, no separate authorizer call needed
	return s.chatRepo.GetChatTree(ctx, chatID, userID)
}

// GetPaginatedTurns retrieves turns and blocks in paginated fashion.
// When updateLastViewed is set, the chat's last-viewed pointer moves to the
// newest returned turn (best effort, a failure doesn't fail the read).
func (s *Service) GetPaginatedTurns(ctx context.Context, chatID, userID string, fromTurnID *string, limit int, direction string, updateLastViewed bool) (*llm.PaginatedTurnsResponse, error) {
	// Delegate to repository (validation happens there)
	response, err := s.turnNavigator.GetPaginatedTurns(ctx, chatID, userID, fromTurnID, limit, direction)
	if err != nil {
		return nil, err
	}

	if updateLastViewed && len(response.Turns) > 0 {
		newest := response.Turns[len(response.Turns)-1].ID
		if err := s.chatRepo.UpdateLastViewedTurn(ctx, chatID, userID, newest); err != nil {
			s.logger.Warn("failed to update last viewed turn",
				"chat_id", chatID,
				"turn_id", newest,
				"error", err)
		}
	}

	return response, nil
}

// GetTurnTokenUsage computes token usage for a turn and its full path.
// Cumulative numbers sum every assistant turn from the root to this turn;
// user turns carry no usage of their own.
func (s *Service) GetTurnTokenUsage(ctx context.Context, turnID, userID string) (*llmSvc.TurnTokenUsage, error) {
	if err := s.authorizer.CanAccessTurn(ctx, userID, turnID); err != nil {
		return nil, err
	}

	path, err := s.turnNavigator.GetTurnPath(ctx, turnID)
	if err != nil {
		return nil, err
	}

	usage := &llmSvc.TurnTokenUsage{
		TurnID:     turnID,
		PathLength: len(path),
	}

	for _, turn := range path {
		if turn.Role != "assistant" {
			continue
		}
		var in, out int
		if turn.InputTokens != nil {
			in = *turn.InputTokens
		}
		if turn.OutputTokens != nil {
			out = *turn.OutputTokens
		}
		usage.CumulativeInputTokens += in
		usage.CumulativeOutputTokens += out
		if turn.ID == turnID {
			usage.InputTokens = in
			usage.OutputTokens = out
		}
	}

	return usage, nil
}
