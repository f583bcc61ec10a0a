package sse

import (
	"fmt"
	"net/http"
	"sync"
)

// EventWriter serializes writes to a single SSE connection. The keep-alive
// strategy writes from its own goroutine while the handler streams events,
// so every write and flush goes through one mutex.
type EventWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEventWriter creates a writer for an established SSE connection.
func NewEventWriter(w http.ResponseWriter, flusher http.Flusher) *EventWriter {
	return &EventWriter{
		w:       w,
		flusher: flusher,
	}
}

// WriteEvent writes one event in SSE wire format and flushes:
//
//	id: event-3
//	event: block_delta
//	data: {"block_index":0,...}
//
// The id line is omitted for events without an ID.
func (ew *EventWriter) WriteEvent(id, event string, data []byte) error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if id != "" {
		if _, err := fmt.Fprintf(ew.w, "id: %s\n", id); err != nil {
			return fmt.Errorf("write event id failed: %w", err)
		}
	}
	if _, err := fmt.Fprintf(ew.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write event failed: %w", err)
	}

	ew.flusher.Flush()
	return nil
}

// WriteKeepAlive writes an SSE comment (: keepalive) and flushes.
// Returns error if connection is closed or write fails.
func (ew *EventWriter) WriteKeepAlive() error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	// SSE spec: Lines starting with : are comments (ignored by client)
	if _, err := fmt.Fprint(ew.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive failed: %w", err)
	}

	ew.flusher.Flush()

	// Health check: Attempt zero-byte write to detect closed connections
	// If connection is closed, this will return an error
	if _, err := ew.w.Write([]byte{}); err != nil {
		return fmt.Errorf("connection closed: %w", err)
	}

	return nil
}
