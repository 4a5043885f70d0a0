//go:build linux

package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/inotifyexec/inotifyexec/internal/events"
)

const inotifyBufSize = 64 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)

// inotifyBackend talks to inotify directly so the configured event mask is
// honoured bit for bit.
type inotifyBackend struct {
	root      string
	mask      events.Mask
	recursive bool
	log       zerolog.Logger

	fd        int
	file      *os.File
	closeOnce sync.Once
	closeErr  error

	// watches is only touched by the goroutine that constructs and runs the
	// backend.
	watches map[int32]string
	rootWd  int32
}

func newInotify(opts Options) (backend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}

	b := &inotifyBackend{
		root:      filepath.Clean(opts.Root),
		mask:      opts.Mask,
		recursive: opts.Recursive,
		log:       opts.Logger.With().Str("component", "watcher").Str("backend", BackendInotify).Logger(),
		fd:        fd,
		// A non-blocking fd wrapped in an *os.File is driven by the runtime
		// poller, so Close unblocks a pending Read.
		file:    os.NewFile(uintptr(fd), "inotify"),
		watches: make(map[int32]string),
		rootWd:  -1,
	}

	if err := b.addRoot(); err != nil {
		_ = b.close()
		return nil, err
	}
	return b, nil
}

func (b *inotifyBackend) kernelMask() uint32 {
	m := uint32(b.mask) | unix.IN_DELETE_SELF | unix.IN_MOVE_SELF | unix.IN_ONLYDIR
	if b.recursive {
		m |= unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_MOVED_FROM
	}
	return m
}

func (b *inotifyBackend) addWatch(dir string) (int32, error) {
	wd, err := unix.InotifyAddWatch(b.fd, dir, b.kernelMask())
	if err != nil {
		return -1, fmt.Errorf("watch %s: %w", dir, err)
	}
	b.watches[int32(wd)] = dir
	return int32(wd), nil
}

func (b *inotifyBackend) addRoot() error {
	if !b.recursive {
		wd, err := b.addWatch(b.root)
		b.rootWd = wd
		return err
	}
	return addTree(b.root, func(dir string) error {
		wd, err := b.addWatch(dir)
		if dir == b.root {
			b.rootWd = wd
			return err
		}
		if err != nil {
			b.log.Warn().Err(err).Msg("watch add failed")
		}
		return nil
	}, nil)
}

// addSubtree watches a directory that appeared under the root. Entries that
// already exist inside it are reported as creates.
func (b *inotifyBackend) addSubtree(dir string, emit func(Event)) {
	var found func(string)
	if b.mask.Has(events.Create) {
		found = func(p string) { emit(Event{Path: p}) }
	}
	err := addTree(dir, func(d string) error {
		if _, err := b.addWatch(d); err != nil {
			b.log.Warn().Err(err).Msg("watch add failed")
		}
		return nil
	}, found)
	if err != nil {
		b.log.Debug().Err(err).Str("path", dir).Msg("new directory vanished before it could be watched")
	}
}

// forget drops the watches on dir and everything below it. A directory
// moved within the tree is watched again under its new name when the
// matching IN_MOVED_TO arrives.
func (b *inotifyBackend) forget(dir string) {
	prefix := dir + string(filepath.Separator)
	for wd, p := range b.watches {
		if wd == b.rootWd || (p != dir && !strings.HasPrefix(p, prefix)) {
			continue
		}
		if _, err := unix.InotifyRmWatch(b.fd, uint32(wd)); err != nil {
			b.log.Debug().Err(err).Str("path", p).Msg("watch remove failed")
		}
		delete(b.watches, wd)
	}
}

func (b *inotifyBackend) run(ctx context.Context, emit func(Event)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = b.close()
		case <-stop:
		}
	}()

	buf := make([]byte, inotifyBufSize)
	for {
		n, err := b.file.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read inotify events: %w", err)
		}
		if err := b.process(buf[:n], emit); err != nil {
			return err
		}
	}
}

func (b *inotifyBackend) process(buf []byte, emit func(Event)) error {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		start := offset + unix.SizeofInotifyEvent
		end := start + int(raw.Len)
		if end > len(buf) {
			return errors.New("truncated inotify event")
		}
		name := strings.TrimRight(string(buf[start:end]), "\x00")
		offset = end

		if err := b.handle(raw.Wd, raw.Mask, name, emit); err != nil {
			return err
		}
	}
	if offset != len(buf) {
		return fmt.Errorf("short inotify read: %d trailing bytes", len(buf)-offset)
	}
	return nil
}

func (b *inotifyBackend) handle(wd int32, mask uint32, name string, emit func(Event)) error {
	if mask&unix.IN_Q_OVERFLOW != 0 {
		b.log.Warn().Msg("kernel event queue overflowed, some events were lost")
		emit(Event{Path: b.root})
		return nil
	}

	dir, ok := b.watches[wd]
	if !ok {
		return nil
	}
	path := dir
	if name != "" {
		path = filepath.Join(dir, name)
	}

	if mask&unix.IN_IGNORED != 0 {
		delete(b.watches, wd)
		if wd == b.rootWd {
			return ErrRootRemoved
		}
		return nil
	}

	if events.Mask(mask).Has(b.mask) {
		emit(Event{Path: path})
	}

	if b.recursive && mask&unix.IN_ISDIR != 0 {
		switch {
		case mask&unix.IN_MOVED_FROM != 0:
			b.forget(path)
		case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
			b.addSubtree(path, emit)
		}
	}

	if wd == b.rootWd && mask&unix.IN_MOVE_SELF != 0 {
		return ErrRootMoved
	}
	return nil
}

func (b *inotifyBackend) close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.file.Close()
	})
	return b.closeErr
}
