//go:build !linux

package watcher

func newInotify(Options) (backend, error) {
	return nil, ErrInotifyUnsupported
}
