// Package daemon wires the pipeline together: watch supervisor, event
// queue, debounce aggregator and command dispatcher, plus the optional run
// history and status socket. It owns the process lifecycle from startup to
// signal-driven shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/inotifyexec/inotifyexec/internal/config"
	"github.com/inotifyexec/inotifyexec/internal/debounce"
	"github.com/inotifyexec/inotifyexec/internal/dispatch"
	"github.com/inotifyexec/inotifyexec/internal/gitint"
	"github.com/inotifyexec/inotifyexec/internal/ipc"
	"github.com/inotifyexec/inotifyexec/internal/queue"
	"github.com/inotifyexec/inotifyexec/internal/store"
	"github.com/inotifyexec/inotifyexec/internal/watcher"
)

// ErrAlreadyRunning is returned by Start on a daemon that is running.
var ErrAlreadyRunning = errors.New("daemon is already running")

// Daemon manages the lifecycle of one watch.
type Daemon struct {
	cfg *config.Config
	log zerolog.Logger
	out io.Writer

	events     *queue.Queue[watcher.Event]
	supervisor *watcher.Supervisor
	aggregator *debounce.Aggregator
	dispatcher *dispatch.Dispatcher
	ipc        *ipc.Server

	// Set during Start.
	store *store.Store
	repo  *gitint.Repository

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	startTime time.Time
	stats     stats
}

type stats struct {
	executed uint64
	skipped  uint64
	failed   uint64
	last     *dispatch.Outcome
	lastAt   time.Time
}

// New builds a daemon from a validated configuration. Operator lines are
// written to out.
func New(cfg *config.Config, logger zerolog.Logger, out io.Writer) (*Daemon, error) {
	if out == nil {
		out = os.Stdout
	}

	dispatcher, err := dispatch.New(dispatch.Options{
		Command:   cfg.Command,
		Filter:    cfg.FilterRegexp(),
		Exclude:   cfg.Exclude,
		GitIgnore: cfg.GitIgnore,
		Root:      cfg.Directory,
		Out:       out,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		log:        logger.With().Str("component", "daemon").Logger(),
		out:        out,
		events:     queue.New[watcher.Event](),
		dispatcher: dispatcher,
	}

	d.supervisor = watcher.NewSupervisor(watcher.Options{
		Root:            cfg.Directory,
		Mask:            cfg.Mask,
		Recursive:       cfg.Recursive,
		Backend:         cfg.Backend,
		RestartInterval: cfg.RestartInterval,
		Logger:          logger,
	}, d.events)

	d.aggregator = debounce.New(debounce.Options{
		Delay:  cfg.DelayDuration(),
		Logger: logger,
	}, d.events, d.handleBatch)

	if cfg.SocketPath != "" {
		d.ipc = ipc.NewServer(d, logger)
	}
	return d, nil
}

// Start runs the pipeline and blocks until ctx is cancelled, SIGINT or
// SIGTERM arrives, Stop is called, or a component fails. Cancellation is
// a clean shutdown and returns nil.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, stopSignals := signalContext(ctx)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.cancel = cancel
	d.startTime = time.Now()
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.cancel = nil
		d.mu.Unlock()
	}()

	if d.cfg.HistoryPath != "" {
		s, err := store.New(d.cfg.HistoryPath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		for _, m := range s.Migrated() {
			d.log.Info().Int("version", m.Version).Str("step", m.Description).Msg("history schema migrated")
		}
		d.mu.Lock()
		d.store = s
		d.mu.Unlock()
		defer func() {
			d.mu.Lock()
			d.store = nil
			d.mu.Unlock()
			if err := s.Close(); err != nil {
				d.log.Warn().Err(err).Msg("close history")
			}
		}()
		d.openRepository()
	}

	d.log.Info().
		Int("pid", os.Getpid()).
		Str("root", d.cfg.Directory).
		Str("events", d.cfg.Mask.String()).
		Bool("recursive", d.cfg.Recursive).
		Dur("delay", d.cfg.DelayDuration()).
		Msg("starting")
	fmt.Fprintf(d.out, "Monitoring file changes in directory: %s\n", d.cfg.Directory)

	if d.cfg.InitialRun {
		d.handleBatch(ctx, debounce.Batch{ID: uuid.NewString(), Closed: time.Now()})
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(d.supervisor.Run)
	p.Go(d.aggregator.Run)
	if d.ipc != nil {
		p.Go(func(ctx context.Context) error {
			return d.ipc.Listen(ctx, d.cfg.SocketPath)
		})
	}

	err := p.Wait()
	if d.ipc != nil {
		if serr := d.ipc.Stop(); serr != nil {
			d.log.Warn().Err(serr).Msg("status socket shutdown")
		}
	}
	d.log.Info().Uint64("batches", d.aggregator.Batches()).Msg("stopped")
	return err
}

// Stop triggers a graceful shutdown from outside (e.g. the stop request of
// the status socket).
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// Running reports whether Start is in progress.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startTime.IsZero() {
		return 0
	}
	return time.Since(d.startTime)
}

// Status reports the live counters.
func (d *Daemon) Status() ipc.StatusData {
	d.mu.Lock()
	st := ipc.StatusData{
		PID:           os.Getpid(),
		StartedAt:     d.startTime,
		Root:          d.cfg.Directory,
		Command:       d.cfg.Command,
		Events:        d.cfg.Mask.Names(),
		Recursive:     d.cfg.Recursive,
		Delay:         d.cfg.Delay,
		Executed:      d.stats.executed,
		Skipped:       d.stats.skipped,
		Failed:        d.stats.failed,
		HistoryPath:   d.cfg.HistoryPath,
		Batches:       d.aggregator.Batches(),
		WatchRestarts: d.supervisor.Restarts(),
	}
	if !d.startTime.IsZero() {
		st.Uptime = time.Since(d.startTime).Truncate(time.Second).String()
	}
	if last := d.stats.last; last != nil {
		at := d.stats.lastAt
		st.LastBatchID = last.BatchID
		st.LastStatus = last.Status.String()
		st.LastExitCode = last.ExitCode
		st.LastRun = &at
	}
	s := d.store
	d.mu.Unlock()

	if s != nil {
		if n, err := s.RunsCount(); err == nil {
			st.HistoryRuns = n
		}
		if n, err := s.DBSizeBytes(); err == nil {
			st.DBSizeBytes = n
		}
	}
	return st
}

// handleBatch runs on the aggregator goroutine for every flushed batch and
// once for the optional initial run.
func (d *Daemon) handleBatch(ctx context.Context, b debounce.Batch) {
	out := d.dispatcher.Dispatch(ctx, b)

	d.mu.Lock()
	switch out.Status {
	case dispatch.StatusSkipped:
		d.stats.skipped++
	case dispatch.StatusExecuted:
		d.stats.executed++
	case dispatch.StatusFailed:
		d.stats.failed++
	}
	if out.Status != dispatch.StatusSkipped {
		d.stats.last = &out
		d.stats.lastAt = out.Started
	}
	d.mu.Unlock()

	d.record(b, out)
}

// record appends the outcome to the run history, if one is configured.
func (d *Daemon) record(b debounce.Batch, out dispatch.Outcome) {
	d.mu.Lock()
	s := d.store
	d.mu.Unlock()
	if s == nil {
		return
	}

	run := store.Run{
		BatchID:   out.BatchID,
		Root:      d.cfg.Directory,
		Command:   strings.Join(d.cfg.Command, " "),
		Status:    out.Status.String(),
		ExitCode:  out.ExitCode,
		Paths:     out.Paths,
		StartedAt: out.Started,
		Duration:  out.Duration,
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = b.Closed
	}
	if out.Err != nil {
		run.Error = out.Err.Error()
	}
	if d.repo != nil {
		rev, err := d.repo.Revision()
		if err != nil {
			d.log.Debug().Err(err).Msg("read git revision")
		}
		run.Revision = rev
	}

	if _, err := s.InsertRun(run); err != nil {
		d.log.Warn().Err(err).Str("batch", out.BatchID).Msg("record run")
	}
}

func (d *Daemon) openRepository() {
	repo, err := gitint.Open(d.cfg.Directory)
	switch {
	case errors.Is(err, gitint.ErrNotRepository):
		d.log.Debug().Str("root", d.cfg.Directory).Msg("not inside a git work tree, runs carry no revision")
	case err != nil:
		d.log.Warn().Err(err).Msg("open git repository")
	default:
		d.repo = repo
	}
}
