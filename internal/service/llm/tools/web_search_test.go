package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"strand/internal/service/llm/tools/external"
)

// stubSearchClient records the options it was called with and returns a
// canned response.
type stubSearchClient struct {
	lastQuery string
	lastOpts  external.SearchOptions
	resp      *external.SearchResponse
	err       error
}

func (s *stubSearchClient) Search(ctx context.Context, query string, opts external.SearchOptions) (*external.SearchResponse, error) {
	s.lastQuery = query
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func TestWebSearchTool_Execute(t *testing.T) {
	ctx := context.Background()
	published := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("formats results for the model", func(t *testing.T) {
		client := &stubSearchClient{resp: &external.SearchResponse{
			Results: []external.SearchResult{
				{Title: "Go scheduler", URL: "https://example.com/sched", Snippet: "How goroutines run", Score: 0.92, PublishedAt: &published},
				{Title: "Threads", URL: "https://example.com/threads", Snippet: "OS threads explained"},
			},
		}}
		tool := NewWebSearchTool(client, nil)

		result, err := tool.Execute(ctx, map[string]interface{}{"query": "  go scheduler  "})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.lastQuery != "go scheduler" {
			t.Errorf("expected trimmed query, got %q", client.lastQuery)
		}

		resultMap := result.(map[string]interface{})
		if resultMap["result_count"] != 2 {
			t.Errorf("expected result_count 2, got %v", resultMap["result_count"])
		}
		results := resultMap["results"].([]map[string]interface{})
		if results[0]["title"] != "Go scheduler" {
			t.Errorf("expected first title 'Go scheduler', got %v", results[0]["title"])
		}
		if results[0]["published_at"] != "2025-03-01" {
			t.Errorf("expected published_at date, got %v", results[0]["published_at"])
		}
		// Second result has no date or score, so neither key should exist
		if _, exists := results[1]["published_at"]; exists {
			t.Error("expected no published_at for undated result")
		}
		if _, exists := results[1]["score"]; exists {
			t.Error("expected no score for unscored result")
		}
	})

	t.Run("missing query", func(t *testing.T) {
		tool := NewWebSearchTool(&stubSearchClient{}, nil)
		if _, err := tool.Execute(ctx, map[string]interface{}{}); err == nil {
			t.Fatal("expected error for missing query")
		}
		if _, err := tool.Execute(ctx, map[string]interface{}{"query": "   "}); err == nil {
			t.Fatal("expected error for blank query")
		}
	})

	t.Run("max_results is clamped", func(t *testing.T) {
		client := &stubSearchClient{resp: &external.SearchResponse{}}
		tool := NewWebSearchTool(client, &ToolConfig{WebSearchDefaultLimit: 5, WebSearchMaxLimit: 10})

		if _, err := tool.Execute(ctx, map[string]interface{}{"query": "x", "max_results": float64(50)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.lastOpts.MaxResults != 10 {
			t.Errorf("expected max_results clamped to 10, got %d", client.lastOpts.MaxResults)
		}

		if _, err := tool.Execute(ctx, map[string]interface{}{"query": "x", "max_results": float64(0)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.lastOpts.MaxResults != 1 {
			t.Errorf("expected max_results raised to 1, got %d", client.lastOpts.MaxResults)
		}
	})

	t.Run("invalid topic", func(t *testing.T) {
		tool := NewWebSearchTool(&stubSearchClient{}, nil)
		_, err := tool.Execute(ctx, map[string]interface{}{"query": "x", "topic": "sports"})
		if err == nil {
			t.Fatal("expected error for invalid topic")
		}
	})

	t.Run("client error is wrapped", func(t *testing.T) {
		tool := NewWebSearchTool(&stubSearchClient{err: errors.New("rate limited")}, nil)
		_, err := tool.Execute(ctx, map[string]interface{}{"query": "x"})
		if err == nil {
			t.Fatal("expected error when client fails")
		}
	})
}

func TestRegisterWebSearchTool(t *testing.T) {
	registry := NewToolRegistry()
	RegisterWebSearchTool(registry, &stubSearchClient{resp: &external.SearchResponse{}})

	if registry.Get("web_search") == nil {
		t.Fatal("web_search tool not registered")
	}
}
