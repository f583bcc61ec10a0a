package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/tidwall/gjson"

	llmModels "strand/internal/domain/models/llm"
	"strand/internal/mstream"
)

// seedFinishedTurn persists a text block, a tool_use block, and a tool_result
// block, the shape a completed single-tool-round turn leaves behind.
func seedFinishedTurn(t *testing.T, store *fakeTurnStore) {
	t.Helper()
	ctx := context.Background()

	text := "Hello"
	blocks := []llmModels.TurnBlock{
		{
			TurnID:      "turn-1",
			BlockType:   llmModels.BlockTypeText,
			Sequence:    0,
			TextContent: &text,
			Status:      llmModels.BlockStatusComplete,
		},
		{
			TurnID:    "turn-1",
			BlockType: llmModels.BlockTypeToolUse,
			Sequence:  1,
			Status:    llmModels.BlockStatusComplete,
			Content: map[string]interface{}{
				"tool_use_id":    "toolu_01",
				"tool_name":      "echo",
				"input":          map[string]interface{}{"text": "hi"},
				"execution_side": llmModels.ExecutionSideBackend,
			},
		},
		{
			TurnID:    "turn-1",
			BlockType: llmModels.BlockTypeToolResult,
			Sequence:  2,
			Status:    llmModels.BlockStatusComplete,
			Content: map[string]interface{}{
				"tool_use_id": "toolu_01",
				"tool_name":   "echo",
				"is_error":    false,
				"result":      map[string]interface{}{"text": "hi", "length": 2},
			},
		},
	}
	for i := range blocks {
		if err := store.CreateTurnBlock(ctx, &blocks[i]); err != nil {
			t.Fatalf("seed block %d: %v", i, err)
		}
	}
	store.turn.Status = "complete"
}

func newCatchup(store *fakeTurnStore) mstream.CatchupFunc {
	return buildCatchupFunc("turn-1", store, llmModels.NewBlockSerializer(), testLogger())
}

func TestCatchup_FullReplay(t *testing.T) {
	store := newFakeTurnStore()
	seedFinishedTurn(t, store)

	events, err := newCatchup(store)(context.Background(), "")
	if err != nil {
		t.Fatalf("catchup error = %v", err)
	}

	// turn_start plus start/delta/stop per block
	wantTypes := []string{
		llmModels.SSEEventTurnStart,
		llmModels.SSEEventBlockStart, llmModels.SSEEventBlockDelta, llmModels.SSEEventBlockStop,
		llmModels.SSEEventBlockStart, llmModels.SSEEventBlockDelta, llmModels.SSEEventBlockStop,
		llmModels.SSEEventBlockStart, llmModels.SSEEventBlockDelta, llmModels.SSEEventBlockStop,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d", len(events), len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("events[%d].Type = %q, want %q", i, events[i].Type, want)
		}
		if wantID := fmt.Sprintf("event-%d", i); events[i].ID != wantID {
			t.Errorf("events[%d].ID = %q, want %q", i, events[i].ID, wantID)
		}
	}

	// Terminal events are never part of the replay, even for a finished turn
	for _, ev := range events {
		if ev.Type == llmModels.SSEEventTurnComplete || ev.Type == llmModels.SSEEventTurnError {
			t.Errorf("replay contains terminal event %q", ev.Type)
		}
	}

	if got := gjson.GetBytes(events[0].Data, "turn_id").String(); got != "turn-1" {
		t.Errorf("turn_start turn_id = %q, want turn-1", got)
	}
	if got := gjson.GetBytes(events[0].Data, "model").String(); got != "claude-haiku-4-5-20251001" {
		t.Errorf("turn_start model = %q, want the turn's model", got)
	}

	// The text block replays as one delta carrying the full text
	if got := gjson.GetBytes(events[2].Data, "text_delta").String(); got != "Hello" {
		t.Errorf("text replay delta = %q, want %q", got, "Hello")
	}
	if got := gjson.GetBytes(events[2].Data, "delta_type").String(); got != llmModels.SSEDeltaTypeText {
		t.Errorf("text replay delta_type = %q, want %q", got, llmModels.SSEDeltaTypeText)
	}

	// Replayed indices are the persisted turn-level sequences
	var startIndices []int64
	for _, ev := range events {
		if ev.Type == llmModels.SSEEventBlockStart {
			startIndices = append(startIndices, gjson.GetBytes(ev.Data, "block_index").Int())
		}
	}
	if len(startIndices) != 3 || startIndices[0] != 0 || startIndices[1] != 1 || startIndices[2] != 2 {
		t.Errorf("replayed block indices = %v, want [0 1 2]", startIndices)
	}

	// The tool_use json delta is the complete persisted content
	blocks, _ := store.GetTurnBlocks(context.Background(), "turn-1")
	wantContent, _ := json.Marshal(blocks[1].Content)
	gotDelta := gjson.GetBytes(events[5].Data, "json_delta").String()
	var got, want interface{}
	if err := json.Unmarshal([]byte(gotDelta), &got); err != nil {
		t.Fatalf("tool_use replay delta is not valid JSON: %v", err)
	}
	if err := json.Unmarshal(wantContent, &want); err != nil {
		t.Fatal(err)
	}
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Errorf("tool_use replay delta = %s, want %s", gotJSON, wantJSON)
	}
}

func TestCatchup_LastEventID(t *testing.T) {
	store := newFakeTurnStore()
	seedFinishedTurn(t, store)
	catchup := newCatchup(store)

	tests := []struct {
		name        string
		lastEventID string
		wantLen     int
		wantFirstID string
	}{
		{"fresh connection", "", 10, "event-0"},
		{"resumes after acknowledged event", "event-3", 6, "event-4"},
		{"everything acknowledged", "event-9", 0, ""},
		{"beyond the end", "event-99", 0, ""},
		{"malformed id replays everything", "bogus", 10, "event-0"},
		{"negative index replays everything", "event--1", 10, "event-0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := catchup(context.Background(), tt.lastEventID)
			if err != nil {
				t.Fatalf("catchup error = %v", err)
			}
			if len(events) != tt.wantLen {
				t.Fatalf("got %d events, want %d", len(events), tt.wantLen)
			}
			if tt.wantLen > 0 && events[0].ID != tt.wantFirstID {
				t.Errorf("first event ID = %q, want %q", events[0].ID, tt.wantFirstID)
			}
		})
	}
}

func TestCatchup_EmptyTurn(t *testing.T) {
	store := newFakeTurnStore()

	events, err := newCatchup(store)(context.Background(), "")
	if err != nil {
		t.Fatalf("catchup error = %v", err)
	}

	// A turn with no persisted blocks still replays turn_start as event-0
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != llmModels.SSEEventTurnStart || events[0].ID != "event-0" {
		t.Errorf("event = {%q %q}, want turn_start event-0", events[0].Type, events[0].ID)
	}
}
