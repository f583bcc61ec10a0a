package auth

import (
	"context"
	"errors"
	"fmt"

	"strand/internal/domain"
	docsystemRepo "strand/internal/domain/repositories/docsystem"
	llmRepo "strand/internal/domain/repositories/llm"
)

// OwnerBasedAuthorizer implements ResourceAuthorizer using ownership checks.
// A user can access a resource if they own the project that contains it.
//
// This is the simplest authorization model. For future extensibility:
// - RoleBasedAuthorizer: Check user's role on the project
// - PermissionBasedAuthorizer: Check specific permissions
// - SharingAuthorizer: Check if resource is shared with user
type OwnerBasedAuthorizer struct {
	projectRepo docsystemRepo.ProjectRepository
	chatRepo    llmRepo.ChatRepository
	turnRepo    llmRepo.TurnReader
}

// NewOwnerBasedAuthorizer creates a new ownership-based authorizer
func NewOwnerBasedAuthorizer(
	projectRepo docsystemRepo.ProjectRepository,
	chatRepo llmRepo.ChatRepository,
	turnRepo llmRepo.TurnReader,
) *OwnerBasedAuthorizer {
	return &OwnerBasedAuthorizer{
		projectRepo: projectRepo,
		chatRepo:    chatRepo,
		turnRepo:    turnRepo,
	}
}

// CanAccessProject checks if user owns the project
func (a *OwnerBasedAuthorizer) CanAccessProject(ctx context.Context, userID, projectID string) error {
	// ProjectRepository.GetByID already filters by userID (ownership check)
	// If it returns not found, user doesn't own the project
	_, err := a.projectRepo.GetByID(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("access denied to project %s: %w", projectID, domain.ErrForbidden)
		}
		return fmt.Errorf("check project access: %w", err)
	}
	return nil
}

// CanAccessChat checks if user can access a chat (via its project)
func (a *OwnerBasedAuthorizer) CanAccessChat(ctx context.Context, userID, chatID string) error {
	// Get chat by UUID only (no user scoping)
	chat, err := a.chatRepo.GetChatByIDOnly(ctx, chatID)
	if err != nil {
		return fmt.Errorf("get chat for auth: %w", err)
	}

	// Check user owns the chat's project
	return a.CanAccessProject(ctx, userID, chat.ProjectID)
}

// CanAccessTurn checks if user can access a turn (via its chat's project)
func (a *OwnerBasedAuthorizer) CanAccessTurn(ctx context.Context, userID, turnID string) error {
	// Get turn by UUID only
	turn, err := a.turnRepo.GetTurn(ctx, turnID)
	if err != nil {
		return fmt.Errorf("get turn for auth: %w", err)
	}

	// Check user can access the turn's chat
	return a.CanAccessChat(ctx, userID, turn.ChatID)
}
