package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	docsysRepo "strand/internal/domain/repositories/docsystem"
	llmRepo "strand/internal/domain/repositories/llm"
	llmSvc "strand/internal/domain/services/llm"
)

// skillsHeader precedes skill prompts so the model knows it can traverse
// additional skill files with its tools.
const skillsHeader = `You have access to the following skills. View additional reference materials using tree(".skills/{skill_name}") and view(".skills/{skill_name}/{file}"):`

// systemPromptResolver builds the final system prompt from user, project,
// chat, and skill sources. Implements llmSvc.SystemPromptResolver.
type systemPromptResolver struct {
	projectRepo  docsysRepo.ProjectRepository
	chatRepo     llmRepo.ChatRepository
	documentRepo docsysRepo.DocumentRepository
	logger       *slog.Logger
}

// NewSystemPromptResolver creates a new system prompt resolver
func NewSystemPromptResolver(
	projectRepo docsysRepo.ProjectRepository,
	chatRepo llmRepo.ChatRepository,
	documentRepo docsysRepo.DocumentRepository,
	logger *slog.Logger,
) llmSvc.SystemPromptResolver {
	return &systemPromptResolver{
		projectRepo:  projectRepo,
		chatRepo:     chatRepo,
		documentRepo: documentRepo,
		logger:       logger,
	}
}

// Resolve builds the final system prompt by concatenating:
// 1. user-provided system prompt (from request_params.system)
// 2. project.system_prompt
// 3. chat.system_prompt
// 4. Content of each skill's SKILL file from .skills/{skill_name}/SKILL
func (r *systemPromptResolver) Resolve(
	ctx context.Context,
	chatID string,
	userID string,
	userSystem *string,
	selectedSkills []string,
) (*string, error) {
	// For cold start (new chat), chatID is empty - skip chat/project system
	// prompt loading since the chat doesn't exist yet.
	if chatID == "" {
		if userSystem != nil && *userSystem != "" {
			return userSystem, nil
		}
		return nil, nil
	}

	var parts []string

	// 1. User-provided system prompt (highest priority)
	if userSystem != nil && *userSystem != "" {
		parts = append(parts, *userSystem)
	}

	// 2. Load chat to get project ID
	chat, err := r.chatRepo.GetChat(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}

	// 3. Load project system prompt
	project, err := r.projectRepo.GetByID(ctx, chat.ProjectID, userID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if project.SystemPrompt != nil && *project.SystemPrompt != "" {
		parts = append(parts, *project.SystemPrompt)
	}

	// 4. Load chat system prompt
	if chat.SystemPrompt != nil && *chat.SystemPrompt != "" {
		parts = append(parts, *chat.SystemPrompt)
	}

	// 5. Load selected skills
	if len(selectedSkills) > 0 {
		skillsContent := r.loadSkills(ctx, chat.ProjectID, selectedSkills)
		if skillsContent != "" {
			parts = append(parts, skillsContent)
		}
	}

	if len(parts) == 0 {
		return nil, nil
	}

	result := strings.Join(parts, "\n\n")
	r.logger.Debug("system prompt resolved",
		"chat_id", chatID,
		"total_length", len(result),
		"parts_count", len(parts),
	)
	return &result, nil
}

// loadSkills loads the SKILL document content for each selected skill.
// A skill that fails to load is logged and skipped; the rest still resolve.
// The tool-traversal header is only included when at least one skill loaded.
func (r *systemPromptResolver) loadSkills(
	ctx context.Context,
	projectID string,
	selectedSkills []string,
) string {
	var loaded []string

	for _, skillName := range selectedSkills {
		// Skills live at .skills/{skillName}/SKILL; the database stores paths
		// without file extensions (SKILL.md on disk becomes "SKILL").
		path := fmt.Sprintf(".skills/%s/SKILL", skillName)

		doc, err := r.documentRepo.GetByPath(ctx, path, projectID)
		if err != nil {
			r.logger.Warn("failed to load skill",
				"skill", skillName,
				"project_id", projectID,
				"error", err,
			)
			continue
		}

		loaded = append(loaded, fmt.Sprintf("%s:\n```\n%s\n```", path, doc.Content))
	}

	if len(loaded) == 0 {
		return ""
	}

	r.logger.Debug("skills loaded",
		"requested", len(selectedSkills),
		"loaded", len(loaded),
	)

	return skillsHeader + "\n\n" + strings.Join(loaded, "\n\n")
}
