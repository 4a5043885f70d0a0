package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/inotifyexec/inotifyexec/internal/events"
)

// fsnotifyBackend is the portable backend. fsnotify exposes a coarser set of
// operations than inotify, so the event mask is approximated.
type fsnotifyBackend struct {
	root      string
	mask      events.Mask
	ops       fsnotify.Op
	recursive bool
	log       zerolog.Logger
	fsw       *fsnotify.Watcher
}

// fsnotifyOps translates an event mask into fsnotify operations. The second
// result holds the events fsnotify cannot report.
func fsnotifyOps(mask events.Mask) (fsnotify.Op, events.Mask) {
	var ops fsnotify.Op
	if mask.Has(events.Create | events.MovedTo) {
		ops |= fsnotify.Create
	}
	if mask.Has(events.Delete) {
		ops |= fsnotify.Remove
	}
	if mask.Has(events.MovedFrom) {
		ops |= fsnotify.Rename
	}
	if mask.Has(events.Modify | events.CloseWrite) {
		ops |= fsnotify.Write
	}
	if mask.Has(events.Attrib) {
		ops |= fsnotify.Chmod
	}
	return ops, mask & (events.Access | events.Open | events.CloseNoWrite)
}

func newFSNotify(opts Options) (backend, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	ops, unsupported := fsnotifyOps(opts.Mask)
	b := &fsnotifyBackend{
		root:      filepath.Clean(opts.Root),
		mask:      opts.Mask,
		ops:       ops,
		recursive: opts.Recursive,
		log:       opts.Logger.With().Str("component", "watcher").Str("backend", BackendFSNotify).Logger(),
		fsw:       fsw,
	}
	if unsupported != 0 {
		b.log.Warn().Str("events", unsupported.String()).Msg("events not supported by this backend are ignored")
	}

	if b.recursive {
		err = addTree(b.root, b.add, nil)
	} else {
		err = fsw.Add(b.root)
	}
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return b, nil
}

func (b *fsnotifyBackend) add(dir string) error {
	if err := b.fsw.Add(dir); err != nil {
		if dir != b.root {
			b.log.Warn().Err(err).Str("path", dir).Msg("watch add failed")
		}
		return err
	}
	return nil
}

func (b *fsnotifyBackend) run(ctx context.Context, emit func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-b.fsw.Events:
			if !ok {
				return errWatchEnded
			}
			if err := b.handle(ev, emit); err != nil {
				return err
			}

		case err, ok := <-b.fsw.Errors:
			if !ok {
				return errWatchEnded
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				b.log.Warn().Msg("event queue overflowed, some events were lost")
				emit(Event{Path: b.root})
				continue
			}
			return fmt.Errorf("fsnotify: %w", err)
		}
	}
}

func (b *fsnotifyBackend) handle(ev fsnotify.Event, emit func(Event)) error {
	path := filepath.Clean(ev.Name)

	if path == b.root && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if b.mask.Has(events.DeleteSelf) {
			emit(Event{Path: path})
		}
		if ev.Op&fsnotify.Rename != 0 {
			return ErrRootMoved
		}
		return ErrRootRemoved
	}

	if ev.Op&b.ops != 0 {
		emit(Event{Path: path})
	}

	// New directories join the watch set; their existing contents are
	// reported as creates since they appeared before the watch did.
	if b.recursive && ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			var found func(string)
			if b.mask.Has(events.Create) {
				found = func(p string) { emit(Event{Path: p}) }
			}
			if err := addTree(path, b.add, found); err != nil {
				b.log.Debug().Err(err).Str("path", path).Msg("new directory vanished before it could be watched")
			}
		}
	}
	return nil
}

func (b *fsnotifyBackend) close() error {
	return b.fsw.Close()
}
