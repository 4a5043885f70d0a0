package report

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inotifyexec/inotifyexec/internal/ipc"
	"github.com/inotifyexec/inotifyexec/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFormatStatus(t *testing.T) {
	last := now.Add(-2 * time.Minute)
	out := FormatStatus(&ipc.StatusData{
		PID:           1234,
		StartedAt:     now.Add(-time.Hour),
		Uptime:        "1h0m0s",
		Root:          "/w",
		Command:       []string{"make", "test"},
		Events:        []string{"create", "modify"},
		Delay:         0.5,
		Batches:       12345,
		Executed:      10,
		Skipped:       2,
		Failed:        1,
		WatchRestarts: 3,
		LastStatus:    "executed",
		LastExitCode:  2,
		LastRun:       &last,
		HistoryPath:   "/tmp/h.db",
		HistoryRuns:   13,
		DBSizeBytes:   2048,
	}, now)

	assert.Contains(t, out, "1234")
	assert.Contains(t, out, "/w")
	assert.Contains(t, out, "make test")
	assert.Contains(t, out, "create,modify")
	assert.Contains(t, out, "0.5s")
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, "2 minutes ago")
	assert.Contains(t, out, "exit 2")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, red)
}

func TestFormatStatusNoRuns(t *testing.T) {
	out := FormatStatus(&ipc.StatusData{StartedAt: now}, now)
	assert.Contains(t, out, "(none)")
	assert.NotContains(t, out, "History:")
}

func TestFormatRuns(t *testing.T) {
	h := &History{
		Path:      "/tmp/h.db",
		TotalRuns: 40,
		SizeBytes: 4096,
		Runs: []store.Run{
			{BatchID: "b2", Status: "skipped", StartedAt: now.Add(-30 * time.Second)},
			{
				BatchID:   "b1",
				Status:    "executed",
				Revision:  "main@abc1234",
				Paths:     []string{"/w/a", "/w/b", "/w/c", "/w/d", "/w/e"},
				StartedAt: now.Add(-3 * time.Hour),
				Duration:  1234 * time.Millisecond,
			},
			{BatchID: "b0", Status: "failed", ExitCode: -1, Error: "exec: not found", StartedAt: now.Add(-4 * time.Hour)},
		},
	}

	out := FormatRuns(h, now)
	lines := strings.Split(out, "\n")

	assert.Contains(t, out, "Showing 3 of 40 runs")
	assert.Contains(t, out, "4.0 KiB")
	assert.Contains(t, out, "main@abc1234")
	assert.Contains(t, out, "/w/a, /w/b, /w/c and 2 more")
	assert.Contains(t, out, "1.2s")
	assert.Contains(t, out, "3 hours ago")
	assert.Contains(t, out, "    error: exec: not found")

	// Newest first, as given.
	var order []string
	for _, l := range lines {
		for _, s := range []string{"skipped", "executed", "failed"} {
			if strings.Contains(l, s) && strings.Contains(l, "ago") {
				order = append(order, s)
			}
		}
	}
	assert.Equal(t, []string{"skipped", "executed", "failed"}, order)
}

func TestFormatRunsEmpty(t *testing.T) {
	out := FormatRuns(&History{}, now)
	assert.Contains(t, out, "No runs recorded.")
}

func TestFormatJSON(t *testing.T) {
	out := FormatJSON(map[string]int{"runs": 2})
	var decoded map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, 2, decoded["runs"])

	bad := FormatJSON(func() {})
	assert.Contains(t, bad, `"error"`)
}

func TestLoadHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	s, err := store.New(path)
	require.NoError(t, err)
	for _, id := range []string{"b1", "b2", "b3"} {
		_, err := s.InsertRun(store.Run{BatchID: id, Root: "/w", Command: "true", Status: "executed", StartedAt: now})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	h, err := LoadHistory(path, 2)
	require.NoError(t, err)
	assert.Equal(t, path, h.Path)
	assert.EqualValues(t, 3, h.TotalRuns)
	assert.Positive(t, h.SizeBytes)
	require.Len(t, h.Runs, 2)
	assert.Equal(t, "b3", h.Runs[0].BatchID)
}

func TestColorForStatus(t *testing.T) {
	assert.Equal(t, green, colorForStatus("executed", 0))
	assert.Equal(t, red, colorForStatus("executed", 1))
	assert.Equal(t, red, colorForStatus("failed", -1))
	assert.Equal(t, yellow, colorForStatus("skipped", 0))
}
