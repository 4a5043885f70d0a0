package watcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inotifyexec/inotifyexec/internal/events"
	"github.com/inotifyexec/inotifyexec/internal/queue"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fakeBackend struct {
	runFn  func(ctx context.Context, emit func(Event)) error
	closed atomic.Bool
}

func (f *fakeBackend) run(ctx context.Context, emit func(Event)) error {
	return f.runFn(ctx, emit)
}

func (f *fakeBackend) close() error {
	f.closed.Store(true)
	return nil
}

func blockUntilDone(ctx context.Context, _ func(Event)) error {
	<-ctx.Done()
	return nil
}

// startSupervisor runs sup in the background. The returned stop function
// cancels it and asserts that Run returned nil.
func startSupervisor(t *testing.T, sup *Supervisor) (stop func(), exited <-chan struct{}) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var runErr error
	go func() {
		runErr = sup.Run(ctx)
		close(done)
	}()

	stop = func() {
		cancel()
		select {
		case <-done:
			assert.NoError(t, runErr)
		case <-time.After(2 * time.Second):
			t.Fatal("supervisor did not stop after cancel")
		}
	}
	return stop, done
}

// waitForPaths pops from q until every wanted path has been seen.
func waitForPaths(t *testing.T, q *queue.Queue[Event], want ...string) {
	t.Helper()

	missing := make(map[string]bool, len(want))
	for _, p := range want {
		missing[p] = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for len(missing) > 0 {
		ev, err := q.Pop(ctx)
		require.NoError(t, err, "still waiting for %v", missing)
		delete(missing, ev.Path)
	}
}

func testOptions(root string) Options {
	return Options{
		Root:            root,
		Mask:            events.Create | events.Delete | events.Modify | events.CloseWrite | events.Move,
		RestartInterval: 20 * time.Millisecond,
		Logger:          zerolog.Nop(),
	}
}

// ---------------------------------------------------------------------------
// Supervisor tests (fake backend)
// ---------------------------------------------------------------------------

func TestSupervisorRestartsAfterFailures(t *testing.T) {
	q := queue.New[Event]()
	sup := NewSupervisor(testOptions("/watched"), q)

	var mu sync.Mutex
	var opened []*fakeBackend
	calls := 0
	sup.open = func(Options) (backend, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			return nil, errors.New("boom")
		case 2:
			b := &fakeBackend{runFn: func(_ context.Context, emit func(Event)) error {
				emit(Event{Path: "/watched/a"})
				return ErrRootRemoved
			}}
			opened = append(opened, b)
			return b, nil
		default:
			b := &fakeBackend{runFn: func(ctx context.Context, emit func(Event)) error {
				emit(Event{Path: "/watched/b"})
				return blockUntilDone(ctx, emit)
			}}
			opened = append(opened, b)
			return b, nil
		}
	}

	stop, _ := startSupervisor(t, sup)
	waitForPaths(t, q, "/watched/a", "/watched/b")
	stop()

	assert.Equal(t, uint64(2), sup.Restarts())
	mu.Lock()
	defer mu.Unlock()
	for _, b := range opened {
		assert.True(t, b.closed.Load(), "backend left open")
	}
}

func TestSupervisorRestartsWhenWatchEndsQuietly(t *testing.T) {
	q := queue.New[Event]()
	sup := NewSupervisor(testOptions("/watched"), q)

	var calls atomic.Int32
	sup.open = func(Options) (backend, error) {
		if calls.Add(1) == 1 {
			return &fakeBackend{runFn: func(context.Context, func(Event)) error { return nil }}, nil
		}
		return &fakeBackend{runFn: blockUntilDone}, nil
	}

	stop, _ := startSupervisor(t, sup)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, uint64(1), sup.Restarts())
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	q := queue.New[Event]()
	sup := NewSupervisor(testOptions("/watched"), q)
	b := &fakeBackend{runFn: blockUntilDone}
	sup.open = func(Options) (backend, error) { return b, nil }

	stop, exited := startSupervisor(t, sup)

	select {
	case <-exited:
		t.Fatal("supervisor exited before cancel")
	case <-time.After(50 * time.Millisecond):
	}

	stop()
	assert.True(t, b.closed.Load())
	assert.Zero(t, sup.Restarts())
	assert.Zero(t, q.Len())
}

func TestSupervisorCancelledWhileRetrying(t *testing.T) {
	q := queue.New[Event]()
	opts := testOptions("/missing")
	opts.RestartInterval = time.Hour
	sup := NewSupervisor(opts, q)
	sup.open = func(Options) (backend, error) { return nil, errors.New("no such directory") }

	stop, _ := startSupervisor(t, sup)
	require.Eventually(t, func() bool { return sup.Restarts() == 1 }, time.Second, 5*time.Millisecond)
	stop()
}

func TestValidBackend(t *testing.T) {
	assert.True(t, ValidBackend(""))
	assert.True(t, ValidBackend(BackendAuto))
	assert.True(t, ValidBackend(BackendFSNotify))
	assert.False(t, ValidBackend("kqueue"))
}
