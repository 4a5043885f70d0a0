package daemon

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inotifyexec/inotifyexec/internal/config"
	"github.com/inotifyexec/inotifyexec/internal/debounce"
	"github.com/inotifyexec/inotifyexec/internal/events"
	"github.com/inotifyexec/inotifyexec/internal/ipc"
	"github.com/inotifyexec/inotifyexec/internal/store"
	"github.com/inotifyexec/inotifyexec/internal/watcher"
)

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testConfig returns a validated config watching a fresh directory. The
// command appends a line to a marker file outside the watched tree.
func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()

	root := t.TempDir()
	marker := filepath.Join(t.TempDir(), "marker")
	cfg := &config.Config{
		Directory:       root,
		Command:         []string{"sh", "-c", "echo run >> " + marker},
		Delay:           0.1,
		Events:          events.DefaultList,
		Backend:         watcher.BackendFSNotify,
		RestartInterval: 50 * time.Millisecond,
	}
	require.NoError(t, cfg.Validate())
	return cfg, marker
}

func startDaemon(t *testing.T, d *Daemon) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()
	require.Eventually(t, d.Running, time.Second, 5*time.Millisecond)
	return done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func markerRuns(marker string) int {
	data, err := os.ReadFile(marker)
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "run\n")
}

func TestDaemonRunsCommandAfterChange(t *testing.T) {
	cfg, marker := testConfig(t)
	out := &syncBuffer{}
	d, err := New(cfg, zerolog.Nop(), out)
	require.NoError(t, err)

	done := startDaemon(t, d)

	target := filepath.Join(cfg.Directory, "a.txt")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(target, []byte("x"), 0o644)
		return markerRuns(marker) > 0
	}, 5*time.Second, 200*time.Millisecond)

	d.Stop()
	waitStopped(t, done)
	assert.False(t, d.Running())

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "Monitoring file changes in directory: "+cfg.Directory+"\n"), text)
	assert.Contains(t, text, "\nFiles changes:\n    "+target+"\n")
	assert.Contains(t, text, "Running command:\n    sh -c echo run >> "+marker+"\n")

	st := d.Status()
	assert.GreaterOrEqual(t, st.Executed, uint64(1))
	assert.GreaterOrEqual(t, st.Batches, uint64(1))
	assert.Equal(t, "executed", st.LastStatus)
}

func TestDaemonInitialRunHistoryAndSocket(t *testing.T) {
	cfg, marker := testConfig(t)
	cfg.InitialRun = true
	cfg.HistoryPath = filepath.Join(t.TempDir(), "history.db")

	sockDir, err := os.MkdirTemp("", "ie")
	require.NoError(t, err)
	defer os.RemoveAll(sockDir)
	cfg.SocketPath = filepath.Join(sockDir, "s.sock")

	out := &syncBuffer{}
	d, err := New(cfg, zerolog.Nop(), out)
	require.NoError(t, err)

	done := startDaemon(t, d)

	client := ipc.NewClient(cfg.SocketPath)
	require.Eventually(t, func() bool { return client.Ping() == nil }, 3*time.Second, 20*time.Millisecond)

	// The initial run happens before the watch starts.
	assert.Equal(t, 1, markerRuns(marker))
	assert.Contains(t, out.String(), "Running command:\n")
	assert.NotContains(t, out.String(), "Files changes:")

	st, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, cfg.Directory, st.Root)
	assert.EqualValues(t, 1, st.Executed)
	assert.EqualValues(t, 1, st.HistoryRuns)
	assert.Equal(t, cfg.HistoryPath, st.HistoryPath)
	assert.Equal(t, cfg.Mask.Names(), st.Events)

	require.NoError(t, client.RequestStop())
	waitStopped(t, done)

	s, err := store.New(cfg.HistoryPath)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "executed", runs[0].Status)
	assert.Empty(t, runs[0].Paths)
	assert.Equal(t, cfg.Directory, runs[0].Root)
}

func TestDaemonCountsSkippedBatches(t *testing.T) {
	cfg, marker := testConfig(t)
	cfg.Filter = `\.go$`
	require.NoError(t, cfg.Validate())

	d, err := New(cfg, zerolog.Nop(), &syncBuffer{})
	require.NoError(t, err)

	d.handleBatch(context.Background(), debounce.Batch{ID: "b1", Paths: []string{"/w/notes.txt"}, Closed: time.Now()})
	d.handleBatch(context.Background(), debounce.Batch{ID: "b2", Paths: []string{"/w/main.go"}, Closed: time.Now()})

	st := d.Status()
	assert.EqualValues(t, 1, st.Skipped)
	assert.EqualValues(t, 1, st.Executed)
	assert.Equal(t, "b2", st.LastBatchID)
	assert.Equal(t, 1, markerRuns(marker))
}

func TestDaemonFailedCommand(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Command = []string{filepath.Join(t.TempDir(), "missing-binary")}

	d, err := New(cfg, zerolog.Nop(), &syncBuffer{})
	require.NoError(t, err)

	d.handleBatch(context.Background(), debounce.Batch{ID: "b1", Paths: []string{"/w/a"}, Closed: time.Now()})

	st := d.Status()
	assert.EqualValues(t, 1, st.Failed)
	assert.Equal(t, "failed", st.LastStatus)
}

func TestDaemonStartTwice(t *testing.T) {
	cfg, _ := testConfig(t)
	d, err := New(cfg, zerolog.Nop(), &syncBuffer{})
	require.NoError(t, err)

	done := startDaemon(t, d)
	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyRunning)

	d.Stop()
	waitStopped(t, done)
}

func TestDaemonStopsOnContextCancel(t *testing.T) {
	cfg, _ := testConfig(t)
	d, err := New(cfg, zerolog.Nop(), &syncBuffer{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	require.Eventually(t, d.Running, time.Second, 5*time.Millisecond)

	cancel()
	waitStopped(t, done)
}

func TestDaemonBadHistoryPath(t *testing.T) {
	cfg, _ := testConfig(t)
	notDir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notDir, nil, 0o644))
	cfg.HistoryPath = filepath.Join(notDir, "h.db")

	d, err := New(cfg, zerolog.Nop(), &syncBuffer{})
	require.NoError(t, err)
	assert.Error(t, d.Start(context.Background()))
	assert.False(t, d.Running())
}
