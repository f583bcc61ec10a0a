package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"strand/internal/handler/sse"
	"strand/internal/httputil"
	"strand/internal/mstream"
	"strand/internal/service/llm/streaming"
)

// SSEHandler handles Server-Sent Events for streaming turn responses
type SSEHandler struct {
	registry *mstream.Registry
	replayer *streaming.CatchupReplayer
	config   *sse.Config
	logger   *slog.Logger
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(
	registry *mstream.Registry,
	replayer *streaming.CatchupReplayer,
	config *sse.Config,
	logger *slog.Logger,
) *SSEHandler {
	return &SSEHandler{
		registry: registry,
		replayer: replayer,
		config:   config,
		logger:   logger,
	}
}

// StreamTurn handles GET /api/turns/{id}/stream.
// Sends the missed history first (Last-Event-ID aware), then follows the live
// stream. A turn with no registered stream is replayed from storage instead
// of returning 404 - the client cannot tell eviction from slow streaming.
func (h *SSEHandler) StreamTurn(w http.ResponseWriter, r *http.Request) {
	turnID, ok := PathParam(w, r, "id", "Turn ID")
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	lastEventID := r.Header.Get("Last-Event-ID")
	subscriberID := uuid.New().String()

	h.logger.Info("SSE connection request",
		"turn_id", turnID,
		"subscriber_id", subscriberID,
		"last_event_id", lastEventID,
	)

	stream := h.registry.Get(turnID)
	if stream == nil {
		// Finished and evicted, or lost in a restart. Replay runs before any
		// SSE bytes are written so an unknown turn is still a plain 404.
		events, err := h.replayer.Replay(r.Context(), turnID, lastEventID)
		if err != nil {
			h.logger.Warn("storage replay failed",
				"turn_id", turnID,
				"error", err,
			)
			handleError(w, err)
			return
		}

		writeSSEHeaders(w)
		writer := sse.NewEventWriter(w, flusher)
		for _, ev := range events {
			if err := writer.WriteEvent(ev.ID, ev.Type, ev.Data); err != nil {
				return
			}
		}

		h.logger.Debug("storage replay complete",
			"turn_id", turnID,
			"subscriber_id", subscriberID,
			"event_count", len(events),
		)
		return
	}

	backlog, live, err := stream.Subscribe(r.Context(), subscriberID, lastEventID)
	if err != nil {
		handleError(w, err)
		return
	}
	defer stream.Unsubscribe(subscriberID)

	writeSSEHeaders(w)
	writer := sse.NewEventWriter(w, flusher)

	for _, ev := range backlog {
		if err := writer.WriteEvent(ev.ID, ev.Type, ev.Data); err != nil {
			h.logger.Info("client disconnected during catchup",
				"turn_id", turnID,
				"subscriber_id", subscriberID,
				"error", err,
			)
			return
		}
	}

	if live == nil {
		// Stream already finished; the backlog was the full history
		h.logger.Debug("finished stream replayed",
			"turn_id", turnID,
			"subscriber_id", subscriberID,
			"event_count", len(backlog),
		)
		return
	}

	h.logger.Debug("SSE stream established",
		"turn_id", turnID,
		"subscriber_id", subscriberID,
	)

	// Keepalive comments prevent proxy idle timeouts between events
	keepalive := sse.NewTickerKeepAlive(h.config.KeepAliveInterval)
	keepaliveDone := keepalive.Start(writer, h.logger)
	defer keepalive.Stop()

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				// Channel closed - streaming complete/error/cancelled, or this
				// subscriber fell too far behind and was dropped
				h.logger.Debug("event channel closed, ending stream",
					"turn_id", turnID,
					"subscriber_id", subscriberID,
				)
				return
			}

			if err := writer.WriteEvent(ev.ID, ev.Type, ev.Data); err != nil {
				h.logger.Info("client disconnected during event write",
					"turn_id", turnID,
					"subscriber_id", subscriberID,
					"error", err,
				)
				return
			}

		case <-keepaliveDone:
			h.logger.Info("keepalive failed, ending stream",
				"turn_id", turnID,
				"subscriber_id", subscriberID,
			)
			return

		case <-r.Context().Done():
			h.logger.Debug("client disconnected",
				"turn_id", turnID,
				"subscriber_id", subscriberID,
			)
			return
		}
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no") // Disable nginx buffering
}
