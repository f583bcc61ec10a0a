package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	llmModels "strand/internal/domain/models/llm"
	llmRepo "strand/internal/domain/repositories/llm"
	"strand/internal/mstream"
)

// buildCatchupFunc creates a catchup function for one turn. It is a pure
// projection of persisted state: turn_start followed by the full
// block_start/block_delta/block_stop sequence for every persisted block,
// with block_index taken from each block's turn-level sequence.
//
// Terminal events (turn_complete, turn_error) are never replayed; clients
// reconnecting to a finished turn read the turn row for the final status.
//
// Catchup events are numbered event-0, event-1, ... so Last-Event-ID can
// trim the replay to the suffix the client is missing.
func buildCatchupFunc(
	turnID string,
	turnReader llmRepo.TurnReader,
	serializer *llmModels.BlockSerializer,
	logger *slog.Logger,
) mstream.CatchupFunc {
	return func(ctx context.Context, lastEventID string) ([]mstream.Event, error) {
		turn, err := turnReader.GetTurn(ctx, turnID)
		if err != nil {
			return nil, fmt.Errorf("failed to get turn: %w", err)
		}

		blocks, err := turnReader.GetTurnBlocks(ctx, turnID)
		if err != nil {
			return nil, fmt.Errorf("failed to get turn blocks: %w", err)
		}

		var events []mstream.Event

		// turn_start is always event-0, even for a turn with no blocks yet
		model := ""
		if turn.Model != nil {
			model = *turn.Model
		}
		turnStartData, _ := json.Marshal(llmModels.TurnStartEvent{
			TurnID: turnID,
			Model:  model,
		})
		events = append(events, mstream.NewEvent(turnStartData).
			WithType(llmModels.SSEEventTurnStart))

		for i := range blocks {
			events = append(events, serializer.BlockToSSEEvents(&blocks[i], blocks[i].Sequence)...)
		}

		for i := range events {
			events[i].ID = fmt.Sprintf("event-%d", i)
		}

		if lastIndex, ok := parseEventID(lastEventID); ok && lastIndex+1 < len(events) {
			events = events[lastIndex+1:]
		} else if ok {
			events = nil
		}

		logger.Debug("catchup events built",
			"turn_id", turnID,
			"last_event_id", lastEventID,
			"block_count", len(blocks),
			"event_count", len(events),
		)

		return events, nil
	}
}

// parseEventID extracts n from "event-<n>". ok is false for anything else,
// in which case the caller replays from the beginning.
func parseEventID(id string) (int, bool) {
	rest, found := strings.CutPrefix(id, "event-")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// CatchupReplayer serves SSE replay for turns whose stream is no longer
// registered: finished streams evicted past the retention window, or turns
// orphaned by a server restart. Live streams replay through their own
// catchup; this covers the rest from storage alone.
type CatchupReplayer struct {
	turnReader llmRepo.TurnReader
	serializer *llmModels.BlockSerializer
	logger     *slog.Logger
}

// NewCatchupReplayer creates a replayer backed by the turn store.
func NewCatchupReplayer(turnReader llmRepo.TurnReader, logger *slog.Logger) *CatchupReplayer {
	return &CatchupReplayer{
		turnReader: turnReader,
		serializer: llmModels.NewBlockSerializer(),
		logger:     logger,
	}
}

// Replay rebuilds the event history for a turn from persisted state and closes
// it with a terminal event derived from the turn row, since catchup itself
// never emits terminals. A turn still marked "streaming" with no live stream
// was lost (restart mid-stream); its replay ends in turn_error so the client
// stops waiting.
func (cr *CatchupReplayer) Replay(ctx context.Context, turnID, lastEventID string) ([]mstream.Event, error) {
	catchup := buildCatchupFunc(turnID, cr.turnReader, cr.serializer, cr.logger)
	events, err := catchup(ctx, lastEventID)
	if err != nil {
		return nil, err
	}

	turn, err := cr.turnReader.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}

	switch turn.Status {
	case "complete":
		stopReason := "end_turn"
		if turn.StopReason != nil {
			stopReason = *turn.StopReason
		}
		complete := llmModels.TurnCompleteEvent{
			TurnID:     turnID,
			StopReason: stopReason,
		}
		if turn.InputTokens != nil {
			complete.InputTokens = *turn.InputTokens
		}
		if turn.OutputTokens != nil {
			complete.OutputTokens = *turn.OutputTokens
		}
		data, _ := json.Marshal(complete)
		events = append(events, mstream.NewEvent(data).
			WithType(llmModels.SSEEventTurnComplete))

	case "error":
		errMsg := "unknown error"
		if turn.Error != nil {
			errMsg = *turn.Error
		}
		data, _ := json.Marshal(llmModels.TurnErrorEvent{
			TurnID: turnID,
			Error:  errMsg,
		})
		events = append(events, mstream.NewEvent(data).
			WithType(llmModels.SSEEventTurnError))

	default:
		data, _ := json.Marshal(llmModels.TurnErrorEvent{
			TurnID: turnID,
			Error:  "streaming not active for this turn",
		})
		events = append(events, mstream.NewEvent(data).
			WithType(llmModels.SSEEventTurnError))
	}

	return events, nil
}
