package mstream

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry(time.Minute, testLogger())

	stream := NewStream("turn-1", func(ctx context.Context, send func(Event)) error { return nil })
	registry.Register(stream)

	if got := registry.Get("turn-1"); got != stream {
		t.Error("Get returned different stream instance")
	}
	if got := registry.Get("turn-unknown"); got != nil {
		t.Error("Get returned non-nil for unknown ID")
	}
	if registry.Count() != 1 {
		t.Errorf("expected count 1, got %d", registry.Count())
	}

	registry.Remove("turn-1")
	if registry.Get("turn-1") != nil {
		t.Error("stream should be gone after Remove")
	}
}

func TestRegistry_RegisterReplacesAndCancelsOld(t *testing.T) {
	registry := NewRegistry(time.Minute, testLogger())

	started := make(chan struct{})
	old := NewStream("turn-1", func(ctx context.Context, send func(Event)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	old.Start()
	<-started
	registry.Register(old)

	replacement := NewStream("turn-1", func(ctx context.Context, send func(Event)) error { return nil })
	registry.Register(replacement)

	select {
	case <-old.Done():
	case <-time.After(time.Second):
		t.Fatal("old stream was not cancelled on replacement")
	}
	if registry.Get("turn-1") != replacement {
		t.Error("registry should resolve to the replacement stream")
	}
}

func TestRegistry_CleanupEvictsExpired(t *testing.T) {
	registry := NewRegistry(10*time.Millisecond, testLogger())

	finished := NewStream("turn-done", func(ctx context.Context, send func(Event)) error { return nil })
	finished.Start()
	<-finished.Done()

	liveStarted := make(chan struct{})
	liveRelease := make(chan struct{})
	live := NewStream("turn-live", func(ctx context.Context, send func(Event)) error {
		close(liveStarted)
		<-liveRelease
		return nil
	})
	live.Start()
	<-liveStarted

	registry.Register(finished)
	registry.Register(live)

	time.Sleep(30 * time.Millisecond)
	registry.evictExpired()

	if registry.Get("turn-done") != nil {
		t.Error("finished stream past retention should be evicted")
	}
	if registry.Get("turn-live") == nil {
		t.Error("live stream must never be evicted")
	}
	close(liveRelease)
	<-live.Done()
}

func TestRegistry_StartCleanupLoop(t *testing.T) {
	registry := NewRegistry(time.Millisecond, testLogger())

	finished := NewStream("turn-done", func(ctx context.Context, send func(Event)) error { return nil })
	finished.Start()
	<-finished.Done()
	registry.Register(finished)

	registry.StartCleanup(5 * time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for registry.Get("turn-done") != nil {
		if time.Now().After(deadline) {
			t.Fatal("cleanup loop never evicted the finished stream")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := registry.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestRegistry_Shutdown(t *testing.T) {
	t.Run("cancels live streams and waits", func(t *testing.T) {
		registry := NewRegistry(time.Minute, testLogger())

		started := make(chan struct{})
		stream := NewStream("turn-1", func(ctx context.Context, send func(Event)) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
		stream.Start()
		<-started
		registry.Register(stream)

		if err := registry.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
		if !stream.IsFinished() {
			t.Error("stream should have finished during shutdown")
		}
		if registry.Count() != 0 {
			t.Errorf("registry should be empty after shutdown, count=%d", registry.Count())
		}
	})

	t.Run("bounded by context when work ignores cancel", func(t *testing.T) {
		registry := NewRegistry(time.Minute, testLogger())

		started := make(chan struct{})
		hang := make(chan struct{})
		stream := NewStream("turn-stuck", func(ctx context.Context, send func(Event)) error {
			close(started)
			<-hang
			return nil
		})
		stream.Start()
		<-started
		registry.Register(stream)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		if err := registry.Shutdown(ctx); err == nil {
			t.Error("expected deadline error from stuck stream")
		}
		close(hang)
		<-stream.Done()
	})

	t.Run("no streams", func(t *testing.T) {
		registry := NewRegistry(time.Minute, testLogger())
		if err := registry.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown on empty registry failed: %v", err)
		}
	})
}
