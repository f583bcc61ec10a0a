package mstream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultBufferLimit bounds the unpersisted event buffer. The buffer is
	// trimmed on every PersistAndClear, so this only matters when persistence
	// stalls; oldest events are dropped first (they remain recoverable via
	// catchup once persisted).
	DefaultBufferLimit = 1024

	// DefaultSubscriberBuffer is the per-subscriber channel capacity.
	// A subscriber that falls this far behind is dropped and must reconnect.
	DefaultSubscriberBuffer = 256
)

// WorkFunc produces the stream's events. It runs in its own goroutine and
// should return when ctx is cancelled. Events are delivered with send.
type WorkFunc func(ctx context.Context, send func(Event)) error

// CatchupFunc rebuilds the already-persisted prefix of a stream for a new
// subscriber. lastEventID is the client's Last-Event-ID header value ("" for a
// fresh connection); implementations skip events the client already has.
//
// CRITICAL: the stream calls this while holding its lock, linearizing catchup
// against PersistAndClear. Persisted state + live buffer is therefore gapless
// and duplicate-free for every subscriber.
type CatchupFunc func(ctx context.Context, lastEventID string) ([]Event, error)

// Option configures a Stream.
type Option func(*Stream)

// WithCatchup installs the catchup function used on subscribe.
func WithCatchup(fn CatchupFunc) Option {
	return func(s *Stream) { s.catchup = fn }
}

// WithEventIDs enables monotonic "event-<n>" IDs on live events.
// Catchup events carry IDs regardless; live IDs are a debugging affordance.
func WithEventIDs(enabled bool) Option {
	return func(s *Stream) { s.assignIDs = enabled }
}

// WithBufferLimit overrides the unpersisted buffer bound.
func WithBufferLimit(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.bufferLimit = n
		}
	}
}

// WithSubscriberBuffer overrides the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// Stream is a single-producer, multi-subscriber event stream for one turn.
//
// The producer (WorkFunc) publishes events; subscribers receive the
// already-persisted prefix via catchup, the unpersisted buffer, then live
// events. PersistAndClear lets the producer persist accumulated state and trim
// the buffer atomically, which keeps late subscribers gapless.
type Stream struct {
	id        string
	work      WorkFunc
	catchup   CatchupFunc
	assignIDs bool

	bufferLimit      int
	subscriberBuffer int

	mu          sync.Mutex
	buffer      []Event
	subscribers map[string]chan Event
	nextEventID int
	started     bool
	finished    bool
	finishedAt  time.Time
	workErr     error

	ctx      context.Context
	cancelFn context.CancelFunc
	done     chan struct{}
}

// NewStream creates a stream identified by id (the turn ID). The stream does
// nothing until Start is called.
func NewStream(id string, work WorkFunc, opts ...Option) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		id:               id,
		work:             work,
		bufferLimit:      DefaultBufferLimit,
		subscriberBuffer: DefaultSubscriberBuffer,
		subscribers:      make(map[string]chan Event),
		nextEventID:      1, // event-0 is the catchup turn_start
		ctx:              ctx,
		cancelFn:         cancel,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the stream identifier.
func (s *Stream) ID() string {
	return s.id
}

// Start launches the WorkFunc goroutine. Safe to call once; later calls are
// no-ops, as is starting an already-cancelled stream.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.started || s.finished {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
}

func (s *Stream) run() {
	err := s.work(s.ctx, s.publish)

	s.mu.Lock()
	s.finished = true
	s.finishedAt = time.Now()
	s.workErr = err
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	s.cancelFn()
	close(s.done)
}

// publish appends the event to the buffer and fans it out. Slow subscribers
// (full channel) are dropped immediately; they can reconnect and catch up.
func (s *Stream) publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return
	}

	if s.assignIDs && event.ID == "" {
		event.ID = fmt.Sprintf("event-%d", s.nextEventID)
	}
	s.nextEventID++

	s.buffer = append(s.buffer, event)
	if len(s.buffer) > s.bufferLimit {
		s.buffer = s.buffer[len(s.buffer)-s.bufferLimit:]
	}

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(s.subscribers, id)
		}
	}
}

// Subscribe attaches a subscriber and returns the backlog (catchup events plus
// the unpersisted buffer) and a live channel. The backlog is computed under
// the stream lock so no event is missed or duplicated between the two.
//
// For a finished stream the live channel is nil: the backlog is the entire
// replay and the subscriber is done after writing it.
func (s *Stream) Subscribe(ctx context.Context, subscriberID, lastEventID string) ([]Event, <-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var backlog []Event
	if s.catchup != nil {
		events, err := s.catchup(ctx, lastEventID)
		if err != nil {
			return nil, nil, fmt.Errorf("catchup failed: %w", err)
		}
		backlog = append(backlog, events...)
	}
	backlog = append(backlog, s.buffer...)

	if s.finished {
		return backlog, nil, nil
	}

	ch := make(chan Event, s.subscriberBuffer)
	s.subscribers[subscriberID] = ch
	return backlog, ch, nil
}

// Unsubscribe detaches a subscriber and closes its channel. No-op if the
// subscriber was already dropped or the stream finished.
func (s *Stream) Unsubscribe(subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subscribers[subscriberID]; ok {
		close(ch)
		delete(s.subscribers, subscriberID)
	}
}

// PersistAndClear runs persist over the buffered events and, on success,
// clears the buffer. Runs under the stream lock so a concurrent Subscribe
// sees either (unpersisted buffer) or (persisted state via catchup), never
// both or neither.
func (s *Stream) PersistAndClear(persist func(events []Event) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := persist(s.buffer); err != nil {
		return err
	}
	s.buffer = nil
	return nil
}

// Cancel stops the stream. If the WorkFunc is running its context is
// cancelled; if it never started the stream is finalized immediately so
// registry shutdown never waits on it.
func (s *Stream) Cancel() {
	s.cancelFn()

	s.mu.Lock()
	if !s.started && !s.finished {
		s.finished = true
		s.finishedAt = time.Now()
		s.workErr = context.Canceled
		for id, ch := range s.subscribers {
			close(ch)
			delete(s.subscribers, id)
		}
		s.mu.Unlock()
		close(s.done)
		return
	}
	s.mu.Unlock()
}

// Done is closed once the WorkFunc has returned and the stream is finalized.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// IsFinished reports whether the stream has terminated.
func (s *Stream) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// FinishedAt returns when the stream terminated. ok is false while live.
func (s *Stream) FinishedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt, s.finished
}

// Err returns the WorkFunc's error after the stream finished.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workErr
}

// SubscriberCount reports attached subscribers (diagnostics).
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}
