package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inotifyexec/inotifyexec/internal/events"
	"github.com/inotifyexec/inotifyexec/internal/queue"
)

// ---------------------------------------------------------------------------
// fsnotify backend
// ---------------------------------------------------------------------------

func TestFSNotifyOps(t *testing.T) {
	cases := []struct {
		mask        events.Mask
		ops         fsnotify.Op
		unsupported events.Mask
	}{
		{events.Create, fsnotify.Create, 0},
		{events.MovedTo, fsnotify.Create, 0},
		{events.MovedFrom, fsnotify.Rename, 0},
		{events.Delete, fsnotify.Remove, 0},
		{events.Modify | events.CloseWrite, fsnotify.Write, 0},
		{events.Attrib, fsnotify.Chmod, 0},
		{events.Access | events.Open, 0, events.Access | events.Open},
		{events.Close, fsnotify.Write, events.CloseNoWrite},
	}

	for _, tc := range cases {
		ops, unsupported := fsnotifyOps(tc.mask)
		assert.Equal(t, tc.ops, ops, tc.mask.String())
		assert.Equal(t, tc.unsupported, unsupported, tc.mask.String())
	}
}

func TestFSNotifyReportsCreate(t *testing.T) {
	root := t.TempDir()
	opts := testOptions(root)
	opts.Backend = BackendFSNotify

	q := queue.New[Event]()
	stop, _ := startSupervisor(t, NewSupervisor(opts, q))
	defer stop()

	target := filepath.Join(root, "a.txt")
	require.Eventually(t, func() bool {
		if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
			return false
		}
		for {
			ev, ok := q.TryPop()
			if !ok {
				return false
			}
			if ev.Path == target {
				return true
			}
		}
	}, 3*time.Second, 50*time.Millisecond)
}

func TestFSNotifyRecursiveNewSubdirectory(t *testing.T) {
	root := t.TempDir()
	opts := testOptions(root)
	opts.Backend = BackendFSNotify
	opts.Recursive = true

	q := queue.New[Event]()
	sup := NewSupervisor(opts, q)

	// Establish the watch synchronously so the mkdir below is observed.
	b, err := sup.open(sup.opts)
	require.NoError(t, err)
	sup.open = func(Options) (backend, error) { return b, nil }

	stop, _ := startSupervisor(t, sup)
	defer stop()

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	inner := filepath.Join(sub, "inner.txt")
	require.NoError(t, os.WriteFile(inner, []byte("x"), 0o644))

	waitForPaths(t, q, sub, inner)
}

func TestFSNotifyRootRemoval(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	require.NoError(t, os.Mkdir(root, 0o755))

	opts := testOptions(root)
	opts.Mask |= events.DeleteSelf
	b, err := newFSNotify(opts)
	require.NoError(t, err)
	defer b.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.New[Event]()
	done := make(chan error, 1)
	go func() { done <- b.run(ctx, q.Push) }()

	require.NoError(t, os.Remove(root))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRootRemoved)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not end after root removal")
	}
	waitForPaths(t, q, root)
}
