package mstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Registry tracks live and recently-finished streams by turn ID.
//
// Streams stay registered for a retention window after finishing so clients
// that reconnect shortly after completion still get the buffered terminal
// events; the cleanup loop evicts them afterwards.
type Registry struct {
	mu        sync.RWMutex
	streams   map[string]*Stream
	retention time.Duration
	logger    *slog.Logger

	cleanupOnce sync.Once
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewRegistry creates a registry. retention controls how long finished
// streams remain resolvable via Get.
func NewRegistry(retention time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		streams:     make(map[string]*Stream),
		retention:   retention,
		logger:      logger,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a stream. Replacing an existing entry for the same ID cancels
// the old stream first; a turn has at most one live stream.
func (r *Registry) Register(s *Stream) {
	r.mu.Lock()
	old, exists := r.streams[s.ID()]
	r.streams[s.ID()] = s
	r.mu.Unlock()

	if exists && old != s {
		r.logger.Warn("replacing registered stream", "stream_id", s.ID())
		old.Cancel()
	}
}

// Get returns the stream for the given ID, or nil if unknown or evicted.
func (r *Registry) Get(id string) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[id]
}

// Remove drops a stream from the registry without cancelling it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Count reports registered streams (diagnostics).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// StartCleanup launches the eviction loop. Finished streams older than the
// retention window are removed every interval. Call once.
func (r *Registry) StartCleanup(interval time.Duration) {
	r.cleanupOnce.Do(func() {
		go func() {
			defer close(r.cleanupDone)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					r.evictExpired()
				case <-r.stopCleanup:
					return
				}
			}
		}()
	})
}

func (r *Registry) evictExpired() {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.streams {
		finishedAt, finished := s.FinishedAt()
		if finished && now.Sub(finishedAt) > r.retention {
			delete(r.streams, id)
			r.logger.Debug("evicted finished stream", "stream_id", id)
		}
	}
}

// Shutdown cancels every registered stream and waits for their WorkFuncs to
// return, bounded by ctx. The cleanup loop is stopped first.
func (r *Registry) Shutdown(ctx context.Context) error {
	select {
	case <-r.stopCleanup:
	default:
		close(r.stopCleanup)
	}

	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.streams = make(map[string]*Stream)
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range streams {
		s.Cancel()
		g.Go(func() error {
			select {
			case <-s.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Error("stream registry shutdown incomplete", "error", err)
		return err
	}
	r.logger.Info("stream registry shut down", "streams_cancelled", len(streams))
	return nil
}
