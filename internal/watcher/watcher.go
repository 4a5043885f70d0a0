// Package watcher owns the OS-level filesystem watch. A Supervisor keeps a
// watch alive on a directory tree, re-establishing it whenever it ends for
// any reason other than cancellation, and forwards every matching raw
// notification to a Sink.
package watcher

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/inotifyexec/inotifyexec/internal/events"
)

// Backend names accepted in Options.Backend.
const (
	BackendAuto     = "auto"
	BackendInotify  = "inotify"
	BackendFSNotify = "fsnotify"
)

const defaultRestartInterval = 500 * time.Millisecond

var (
	// ErrRootRemoved means the watched root was deleted or its watch was
	// dropped by the kernel.
	ErrRootRemoved = errors.New("watched root removed")
	// ErrRootMoved means the watched root was renamed away.
	ErrRootMoved = errors.New("watched root moved")
	// ErrInotifyUnsupported is returned when the inotify backend is requested
	// on a platform without inotify.
	ErrInotifyUnsupported = errors.New("inotify is not supported on this platform")

	errWatchEnded = errors.New("watch ended unexpectedly")
)

// Event is a single raw notification: the path it implicates.
type Event struct {
	Path string
}

// Sink receives raw events. Push must not block.
type Sink interface {
	Push(Event)
}

// Options configures a Supervisor.
type Options struct {
	Root            string
	Mask            events.Mask
	Recursive       bool
	Backend         string
	RestartInterval time.Duration
	Logger          zerolog.Logger
}

// ValidBackend reports whether name is a backend usable on this platform.
func ValidBackend(name string) bool {
	switch name {
	case "", BackendAuto, BackendFSNotify:
		return true
	case BackendInotify:
		return runtime.GOOS == "linux"
	default:
		return false
	}
}

// backend is one established watch. run blocks until ctx is done (returning
// nil) or the watch fails or ends (returning the reason).
type backend interface {
	run(ctx context.Context, emit func(Event)) error
	close() error
}

func openBackend(opts Options) (backend, error) {
	switch opts.Backend {
	case BackendInotify:
		return newInotify(opts)
	case BackendFSNotify:
		return newFSNotify(opts)
	default:
		if runtime.GOOS == "linux" {
			return newInotify(opts)
		}
		return newFSNotify(opts)
	}
}
