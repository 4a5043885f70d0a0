package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/inotifyexec/inotifyexec/internal/ipc"
)

// ANSI escape codes for terminal formatting.
const (
	bold   = "\033[1m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	reset  = "\033[0m"
)

const maxListedPaths = 3

// FormatStatus formats StatusData as a terminal-friendly table.
func FormatStatus(status *ipc.StatusData, now time.Time) string {
	var b strings.Builder

	b.WriteString(bold + "inotifyexec status" + reset + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	fmt.Fprintf(&b, "%-16s %d\n", "PID:", status.PID)
	fmt.Fprintf(&b, "%-16s %s (since %s)\n", "Uptime:", status.Uptime, humanize.RelTime(status.StartedAt, now, "ago", "from now"))
	fmt.Fprintf(&b, "%-16s %s\n", "Directory:", status.Root)
	fmt.Fprintf(&b, "%-16s %s\n", "Command:", strings.Join(status.Command, " "))
	fmt.Fprintf(&b, "%-16s %s\n", "Events:", strings.Join(status.Events, ","))
	fmt.Fprintf(&b, "%-16s %v\n", "Recursive:", status.Recursive)
	fmt.Fprintf(&b, "%-16s %gs\n\n", "Delay:", status.Delay)

	b.WriteString(bold + "Activity" + reset + "\n")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	fmt.Fprintf(&b, "%-16s %s\n", "Batches:", humanize.Comma(int64(status.Batches)))
	fmt.Fprintf(&b, "%-16s %s\n", "Executed:", humanize.Comma(int64(status.Executed)))
	fmt.Fprintf(&b, "%-16s %s\n", "Skipped:", humanize.Comma(int64(status.Skipped)))
	fmt.Fprintf(&b, "%-16s %s\n", "Failed:", humanize.Comma(int64(status.Failed)))
	fmt.Fprintf(&b, "%-16s %s\n", "Watch restarts:", humanize.Comma(int64(status.WatchRestarts)))

	if status.LastRun != nil {
		fmt.Fprintf(&b, "%-16s %s%s%s, exit %d, %s\n", "Last run:",
			colorForStatus(status.LastStatus, status.LastExitCode), status.LastStatus, reset,
			status.LastExitCode, humanize.RelTime(*status.LastRun, now, "ago", "from now"))
	} else {
		fmt.Fprintf(&b, "%-16s %s\n", "Last run:", "(none)")
	}

	if status.HistoryPath != "" {
		fmt.Fprintf(&b, "\n%-16s %s (%s runs, %s)\n", "History:", status.HistoryPath,
			humanize.Comma(status.HistoryRuns), humanize.IBytes(uint64(max(status.DBSizeBytes, 0))))
	}
	return b.String()
}

// FormatRuns formats a history as a table, newest run first.
func FormatRuns(h *History, now time.Time) string {
	var b strings.Builder

	b.WriteString(bold + "inotifyexec history" + reset + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	if h.Path != "" {
		fmt.Fprintf(&b, "Database: %s (%s)\n", h.Path, humanize.IBytes(uint64(max(h.SizeBytes, 0))))
	}
	fmt.Fprintf(&b, "Showing %d of %s runs\n\n", len(h.Runs), humanize.Comma(h.TotalRuns))

	if len(h.Runs) == 0 {
		b.WriteString("No runs recorded.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%-16s %-9s %5s %9s %-20s %s\n", "When", "Status", "Exit", "Duration", "Revision", "Paths")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, r := range h.Runs {
		rev := r.Revision
		if rev == "" {
			rev = "-"
		}
		fmt.Fprintf(&b, "%-16s %s%-9s%s %5d %9s %-20s %s\n",
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			colorForStatus(r.Status, r.ExitCode), r.Status, reset,
			r.ExitCode,
			formatDuration(r.Duration),
			rev,
			summarizePaths(r.Paths))
		if r.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", r.Error)
		}
	}
	return b.String()
}

// FormatJSON marshals any value as indented JSON.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// colorForStatus: failures and non-zero exits red, skips yellow, clean runs
// green.
func colorForStatus(status string, exitCode int) string {
	switch {
	case status == "failed" || exitCode != 0:
		return red
	case status == "skipped":
		return yellow
	default:
		return green
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func summarizePaths(paths []string) string {
	switch {
	case len(paths) == 0:
		return "-"
	case len(paths) <= maxListedPaths:
		return strings.Join(paths, ", ")
	default:
		return fmt.Sprintf("%s and %d more", strings.Join(paths[:maxListedPaths], ", "), len(paths)-maxListedPaths)
	}
}
