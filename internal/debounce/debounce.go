// Package debounce turns the raw watch event stream into batches: a batch is
// flushed only after the event source has been quiet for a full delay.
package debounce

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/sets/linkedhashset"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/inotifyexec/inotifyexec/internal/watcher"
)

// Source is the consumer side of the event channel.
type Source interface {
	Pop(ctx context.Context) (watcher.Event, error)
	TryPop() (watcher.Event, bool)
	Len() int
	Ready() <-chan struct{}
}

// Batch is the finalized, deduplicated set of paths reported for one burst.
type Batch struct {
	ID     string
	Paths  []string // distinct, in first-seen order
	Closed time.Time
}

// Empty reports whether the batch carries no paths.
func (b Batch) Empty() bool {
	return len(b.Paths) == 0
}

// Handler consumes a flushed batch. It runs on the aggregator goroutine, so
// the next burst is not detected until it returns.
type Handler func(ctx context.Context, b Batch)

// Options configures an Aggregator.
type Options struct {
	Delay  time.Duration
	Logger zerolog.Logger
}

// Aggregator drains a Source and applies delay-and-restart coalescing.
type Aggregator struct {
	delay  time.Duration
	src    Source
	handle Handler
	log    zerolog.Logger

	batches atomic.Uint64
}

// New creates an Aggregator reading from src and flushing into handle.
func New(opts Options, src Source, handle Handler) *Aggregator {
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}
	return &Aggregator{
		delay:  delay,
		src:    src,
		handle: handle,
		log:    opts.Logger.With().Str("component", "debounce").Logger(),
	}
}

// Run blocks until ctx is cancelled. A batch still accumulating at
// cancellation is discarded.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		first, err := a.src.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		pending := linkedhashset.New(first.Path)
		if !a.settle(ctx, pending) {
			a.log.Debug().Int("paths", pending.Size()).Msg("cancelled, pending batch discarded")
			return nil
		}
		a.flush(ctx, pending)
	}
}

// Batches returns the number of batches flushed so far.
func (a *Aggregator) Batches() uint64 {
	return a.batches.Load()
}

// settle grows pending until the source has been quiet for a full delay.
// It returns false if ctx was cancelled first.
func (a *Aggregator) settle(ctx context.Context, pending *linkedhashset.Set) bool {
	a.drain(pending)

	timer := time.NewTimer(a.delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false

		case <-a.src.Ready():
			if a.drain(pending) > 0 {
				timer.Reset(a.delay)
			}

		case <-timer.C:
			// An event may have landed between the timer firing and the
			// select picking this case.
			if a.src.Len() == 0 {
				return true
			}
			a.drain(pending)
			timer.Reset(a.delay)
		}
	}
}

// drain moves every immediately available event into pending and returns
// how many were taken.
func (a *Aggregator) drain(pending *linkedhashset.Set) int {
	n := 0
	for {
		ev, ok := a.src.TryPop()
		if !ok {
			return n
		}
		pending.Add(ev.Path)
		n++
	}
}

func (a *Aggregator) flush(ctx context.Context, pending *linkedhashset.Set) {
	values := pending.Values()
	paths := make([]string, 0, len(values))
	for _, v := range values {
		paths = append(paths, v.(string))
	}

	b := Batch{
		ID:     uuid.NewString(),
		Paths:  paths,
		Closed: time.Now(),
	}
	a.batches.Add(1)
	a.log.Debug().Str("batch", b.ID).Int("paths", len(paths)).Msg("batch flushed")

	a.handle(ctx, b)
}
