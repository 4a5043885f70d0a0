package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Supervisor keeps a watch established on Options.Root until cancelled.
type Supervisor struct {
	opts Options
	sink Sink
	log  zerolog.Logger
	open func(Options) (backend, error)

	restarts atomic.Uint64
}

// NewSupervisor creates a Supervisor that pushes raw events into sink.
func NewSupervisor(opts Options, sink Sink) *Supervisor {
	opts.Root = filepath.Clean(opts.Root)
	if opts.RestartInterval <= 0 {
		opts.RestartInterval = defaultRestartInterval
	}
	return &Supervisor{
		opts: opts,
		sink: sink,
		log:  opts.Logger.With().Str("component", "watcher").Logger(),
		open: openBackend,
	}
}

// Run establishes the watch and forwards events until ctx is cancelled.
// A watch that fails or ends is re-established from scratch after
// RestartInterval; events in the gap are lost. Run returns nil on
// cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := s.watchOnce(ctx)
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err == nil {
			err = errWatchEnded
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		s.restarts.Add(1)
		s.log.Info().Err(err).Dur("retry_in", next).Msg("watch terminated, re-establishing")
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(s.opts.RestartInterval), ctx)
	err := backoff.RetryNotify(attempt, policy, notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Restarts returns how many times the watch has been re-established.
func (s *Supervisor) Restarts() uint64 {
	return s.restarts.Load()
}

func (s *Supervisor) watchOnce(ctx context.Context) error {
	b, err := s.open(s.opts)
	if err != nil {
		return fmt.Errorf("establish watch on %s: %w", s.opts.Root, err)
	}
	defer func() {
		if err := b.close(); err != nil {
			s.log.Debug().Err(err).Msg("close watch")
		}
	}()

	s.log.Debug().
		Str("root", s.opts.Root).
		Str("events", s.opts.Mask.String()).
		Bool("recursive", s.opts.Recursive).
		Msg("watch established")

	return b.run(ctx, s.sink.Push)
}
