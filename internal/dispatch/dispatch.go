// Package dispatch decides whether a flushed batch warrants running the
// configured command, reports the batch to the operator and runs the
// command to completion.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/inotifyexec/inotifyexec/internal/debounce"
)

const defaultWaitDelay = 5 * time.Second

// ErrNoCommand is returned by New when no command is configured.
var ErrNoCommand = errors.New("no command configured")

// Status is the result class of one dispatch.
type Status int

const (
	StatusSkipped Status = iota
	StatusExecuted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusExecuted:
		return "executed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome describes what happened to one batch.
type Outcome struct {
	BatchID  string
	Status   Status
	ExitCode int
	Paths    []string // paths that survived filtering
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	Command   []string
	Filter    *regexp.Regexp // nil keeps every path
	Exclude   []string
	GitIgnore bool
	Root      string

	// Out receives the operator report. Stdout and Stderr are handed to the
	// child. All three default to the process streams.
	Out    io.Writer
	Stdout io.Writer
	Stderr io.Writer

	// WaitDelay bounds how long a cancelled child may take to exit after
	// SIGINT before it is killed.
	WaitDelay time.Duration
	Logger    zerolog.Logger
}

// Dispatcher runs the command for batches that pass the path filters.
type Dispatcher struct {
	command   []string
	filter    *regexp.Regexp
	exclude   *ExcludeFilter
	gitignore *gitIgnore

	out       io.Writer
	stdout    io.Writer
	stderr    io.Writer
	waitDelay time.Duration
	log       zerolog.Logger
}

// New validates opts and loads the ignore rules.
func New(opts Options) (*Dispatcher, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, ErrNoCommand
	}

	exclude, err := NewExcludeFilter(opts.Root, opts.Exclude)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		command:   append([]string(nil), opts.Command...),
		filter:    opts.Filter,
		exclude:   exclude,
		out:       opts.Out,
		stdout:    opts.Stdout,
		stderr:    opts.Stderr,
		waitDelay: opts.WaitDelay,
		log:       opts.Logger.With().Str("component", "dispatch").Logger(),
	}
	if d.out == nil {
		d.out = os.Stdout
	}
	if d.stdout == nil {
		d.stdout = os.Stdout
	}
	if d.stderr == nil {
		d.stderr = os.Stderr
	}
	if d.waitDelay <= 0 {
		d.waitDelay = defaultWaitDelay
	}

	if opts.GitIgnore {
		d.gitignore, err = loadGitIgnore(opts.Root)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// CommandLine returns the command as printed in the operator report.
func (d *Dispatcher) CommandLine() string {
	return strings.Join(d.command, " ")
}

// Dispatch filters the batch and, unless nothing survives, runs the command.
// An empty batch bypasses the filters and runs the command unconditionally.
// Dispatch never retries and never returns an error; failures are carried
// in the Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, b debounce.Batch) Outcome {
	out := Outcome{BatchID: b.ID}

	if !b.Empty() {
		out.Paths = d.Select(b.Paths)
		if len(out.Paths) == 0 {
			out.Status = StatusSkipped
			d.log.Debug().Str("batch", b.ID).Int("paths", len(b.Paths)).Msg("no path passed the filters, command skipped")
			return out
		}
		d.printPaths(out.Paths)
	}
	d.printCommand()

	out.Started = time.Now()
	out.ExitCode, out.Err = d.run(ctx)
	out.Duration = time.Since(out.Started)

	var exitErr *exec.ExitError
	switch {
	case out.Err == nil:
		out.Status = StatusExecuted
	case errors.As(out.Err, &exitErr):
		out.Status = StatusExecuted
		out.Err = nil
		if ctx.Err() != nil {
			d.log.Info().Str("batch", b.ID).Msg("command interrupted by shutdown")
			break
		}
		fmt.Fprintf(d.out, "Command exited with status %d\n", out.ExitCode)
	default:
		out.Status = StatusFailed
		d.log.Error().Err(out.Err).Str("batch", b.ID).Msg("command could not be run")
	}

	d.log.Info().
		Str("batch", b.ID).
		Stringer("status", out.Status).
		Int("exit_code", out.ExitCode).
		Dur("duration", out.Duration).
		Msg("dispatch finished")
	return out
}

// Select applies the include regexp, the exclude globs and the gitignore
// rules, in that order. A batch touching the root .gitignore reloads it
// first.
func (d *Dispatcher) Select(paths []string) []string {
	if d.gitignore != nil && d.gitignore.touches(paths) {
		if err := d.gitignore.reload(); err != nil {
			d.log.Warn().Err(err).Msg("reload gitignore, keeping previous rules")
		}
	}

	var kept []string
	for _, p := range paths {
		if d.filter != nil && !d.filter.MatchString(p) {
			continue
		}
		if d.exclude.Excluded(p) {
			continue
		}
		if d.gitignore.ignored(p) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func (d *Dispatcher) printPaths(paths []string) {
	var sb strings.Builder
	sb.WriteString("\nFiles changes:\n")
	for _, p := range paths {
		sb.WriteString("    ")
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	_, _ = io.WriteString(d.out, sb.String())
}

func (d *Dispatcher) printCommand() {
	fmt.Fprintf(d.out, "Running command:\n    %s\n", d.CommandLine())
}

// run executes the command with inherited stdin and returns its exit code.
func (d *Dispatcher) run(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, d.command[0], d.command[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = d.stdout
	cmd.Stderr = d.stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = d.waitDelay

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), err
	}
	return -1, err
}
