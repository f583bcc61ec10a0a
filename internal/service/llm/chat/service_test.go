package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"strand/internal/domain"
	"strand/internal/domain/models/docsystem"
	llmModels "strand/internal/domain/models/llm"
	docsysRepo "strand/internal/domain/repositories/docsystem"
	llmRepo "strand/internal/domain/repositories/llm"
	llmSvc "strand/internal/domain/services/llm"
	"strand/internal/httputil"
)

type fakeChatRepo struct {
	llmRepo.ChatRepository
	chats   map[string]*llmModels.Chat
	updated *llmModels.Chat
}

func (f *fakeChatRepo) CreateChat(ctx context.Context, chat *llmModels.Chat) error {
	chat.ID = "chat-1"
	return nil
}

func (f *fakeChatRepo) GetChat(ctx context.Context, chatID, userID string) (*llmModels.Chat, error) {
	chat, ok := f.chats[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *chat
	return &copied, nil
}

func (f *fakeChatRepo) UpdateChat(ctx context.Context, chat *llmModels.Chat) error {
	f.updated = chat
	return nil
}

type fakeProjectRepo struct {
	err error
}

func (f *fakeProjectRepo) GetByID(ctx context.Context, id, userID string) (*docsystem.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &docsystem.Project{ID: id, UserID: userID}, nil
}

func newTestService(chatRepo llmRepo.ChatRepository, projectRepo docsysRepo.ProjectRepository) llmSvc.ChatService {
	return NewService(chatRepo, projectRepo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func strptr(s string) *string { return &s }

func TestCreateChat(t *testing.T) {
	svc := newTestService(&fakeChatRepo{}, &fakeProjectRepo{})

	chat, err := svc.CreateChat(context.Background(), &llmSvc.CreateChatRequest{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Title:     "  My Chat  ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat.Title != "My Chat" {
		t.Errorf("expected trimmed title, got %q", chat.Title)
	}
	if chat.ID == "" {
		t.Error("expected chat ID assigned")
	}
}

func TestCreateChat_Validation(t *testing.T) {
	svc := newTestService(&fakeChatRepo{}, &fakeProjectRepo{})

	tests := []struct {
		name string
		req  *llmSvc.CreateChatRequest
	}{
		{"missing title", &llmSvc.CreateChatRequest{ProjectID: "p", UserID: "u"}},
		{"missing project", &llmSvc.CreateChatRequest{UserID: "u", Title: "t"}},
		{"title too long", &llmSvc.CreateChatRequest{ProjectID: "p", UserID: "u", Title: strings.Repeat("x", 256)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateChat(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateChat_ProjectAccessDenied(t *testing.T) {
	svc := newTestService(&fakeChatRepo{}, &fakeProjectRepo{err: domain.ErrNotFound})

	_, err := svc.CreateChat(context.Background(), &llmSvc.CreateChatRequest{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Title:     "Chat",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateChat_NilFieldsUnchanged(t *testing.T) {
	existing := &llmModels.Chat{
		ID:           "chat-1",
		Title:        "Original",
		SystemPrompt: strptr("be brief"),
	}
	repo := &fakeChatRepo{chats: map[string]*llmModels.Chat{"chat-1": existing}}
	svc := newTestService(repo, &fakeProjectRepo{})

	t.Run("title only", func(t *testing.T) {
		chat, err := svc.UpdateChat(context.Background(), "chat-1", "user-1", &llmSvc.UpdateChatRequest{
			Title: strptr("Renamed"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if chat.Title != "Renamed" {
			t.Errorf("expected title updated, got %q", chat.Title)
		}
		if chat.SystemPrompt == nil || *chat.SystemPrompt != "be brief" {
			t.Errorf("expected system prompt untouched, got %v", chat.SystemPrompt)
		}
	})

	t.Run("null system prompt clears it", func(t *testing.T) {
		chat, err := svc.UpdateChat(context.Background(), "chat-1", "user-1", &llmSvc.UpdateChatRequest{
			SystemPrompt: httputil.OptionalString{Present: true, Value: nil},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if chat.SystemPrompt != nil {
			t.Errorf("expected system prompt cleared, got %v", *chat.SystemPrompt)
		}
		if chat.Title != "Original" {
			t.Errorf("expected title untouched, got %q", chat.Title)
		}
	})

	t.Run("empty system prompt clears it", func(t *testing.T) {
		chat, err := svc.UpdateChat(context.Background(), "chat-1", "user-1", &llmSvc.UpdateChatRequest{
			SystemPrompt: httputil.OptionalString{Present: true, Value: strptr("  ")},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if chat.SystemPrompt != nil {
			t.Errorf("expected system prompt cleared, got %v", *chat.SystemPrompt)
		}
	})

	t.Run("system prompt replaced", func(t *testing.T) {
		chat, err := svc.UpdateChat(context.Background(), "chat-1", "user-1", &llmSvc.UpdateChatRequest{
			SystemPrompt: httputil.OptionalString{Present: true, Value: strptr("be verbose")},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if chat.SystemPrompt == nil || *chat.SystemPrompt != "be verbose" {
			t.Errorf("expected system prompt replaced, got %v", chat.SystemPrompt)
		}
	})

	t.Run("system prompt too long", func(t *testing.T) {
		_, err := svc.UpdateChat(context.Background(), "chat-1", "user-1", &llmSvc.UpdateChatRequest{
			SystemPrompt: httputil.OptionalString{Present: true, Value: strptr(strings.Repeat("x", 100001))},
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestUpdateLastViewedTurn_RequiresTurnID(t *testing.T) {
	svc := newTestService(&fakeChatRepo{}, &fakeProjectRepo{})

	err := svc.UpdateLastViewedTurn(context.Background(), "chat-1", "user-1", "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
