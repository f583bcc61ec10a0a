package mstream

import (
	"fmt"
	"strings"
)

// Event is a single server-sent event flowing through a Stream.
// ID is optional ("event-<n>"); the stream assigns it to live events when
// event IDs are enabled, and catchup functions always assign it so clients
// can resume with Last-Event-ID.
type Event struct {
	ID   string
	Type string
	Data []byte
}

// NewEvent creates an event carrying the given payload.
func NewEvent(data []byte) Event {
	return Event{Data: data}
}

// WithType returns a copy of the event with the SSE event type set.
func (e Event) WithType(eventType string) Event {
	e.Type = eventType
	return e
}

// WithID returns a copy of the event with an explicit event ID.
func (e Event) WithID(id string) Event {
	e.ID = id
	return e
}

// Format renders the event in SSE wire format:
//
//	id: event-3
//	event: block_delta
//	data: {...}
//
// Multi-line payloads become multiple data: lines per the SSE spec.
func (e Event) Format() string {
	var b strings.Builder
	if e.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", e.ID)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", e.Type)
	}
	for _, line := range strings.Split(string(e.Data), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return b.String()
}
