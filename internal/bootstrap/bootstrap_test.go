package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestOpenBrowserAfterDelay(t *testing.T) {
	var got string
	open := func(ctx context.Context, url string) error {
		got = url
		return nil
	}

	start := time.Now()
	OpenBrowserAfter(context.Background(), open, "http://127.0.0.1:8000/", 20*time.Millisecond, testLogger())
	if got != "http://127.0.0.1:8000/" {
		t.Fatalf("opener not called with url, got %q", got)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("opener called before delay")
	}
}

func TestOpenBrowserAfterFailureIsNotFatal(t *testing.T) {
	called := false
	open := func(ctx context.Context, url string) error {
		called = true
		return errors.New("no display")
	}
	OpenBrowserAfter(context.Background(), open, "http://x/", 0, testLogger())
	if !called {
		t.Fatalf("opener not called")
	}
}

func TestOpenBrowserAfterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	OpenBrowserAfter(ctx, func(ctx context.Context, url string) error {
		called = true
		return nil
	}, "http://x/", time.Hour, testLogger())
	if called {
		t.Fatalf("opener must not run after cancel")
	}
}

func TestSystemOpenerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SystemOpener(ctx, "http://x/"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type countingExpirer struct {
	calls atomic.Int32
}

func (c *countingExpirer) ClearExpired(ctx context.Context, now time.Time) (int, error) {
	c.calls.Add(1)
	return 1, nil
}

func TestSweepExpired(t *testing.T) {
	store := &countingExpirer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SweepExpired(ctx, store, 5*time.Millisecond, testLogger())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweeper did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
