package watcher

import (
	"io/fs"
	"path/filepath"
)

// addTree walks root and calls add for root and every directory below it.
// found, if non-nil, is called for every entry below root (files and
// directories, root excluded) in walk order. Unreadable entries below root
// are skipped; only a failure on root itself is returned.
func addTree(root string, add func(dir string) error, found func(path string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path != root && found != nil {
			found(path)
		}
		if !d.IsDir() {
			return nil
		}
		if err := add(path); err != nil && path == root {
			return err
		}
		return nil
	})
}
