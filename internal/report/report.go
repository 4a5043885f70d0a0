// Package report renders run history and live status for the terminal.
// History is read from the SQLite file directly; no running instance is
// required.
package report

import (
	"fmt"

	"github.com/inotifyexec/inotifyexec/internal/store"
)

// History holds the recent runs of one history database.
type History struct {
	Path      string      `json:"path"`
	TotalRuns int64       `json:"total_runs"`
	SizeBytes int64       `json:"size_bytes"`
	Runs      []store.Run `json:"runs"`
}

// LoadHistory opens the database at dbPath and reads up to limit runs.
func LoadHistory(dbPath string, limit int) (*History, error) {
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	h, err := HistoryFromStore(s, limit)
	if err != nil {
		return nil, err
	}
	h.Path = dbPath
	return h, nil
}

// HistoryFromStore reads up to limit runs from an open store.
func HistoryFromStore(s *store.Store, limit int) (*History, error) {
	total, err := s.RunsCount()
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	size, err := s.DBSizeBytes()
	if err != nil {
		return nil, fmt.Errorf("database size: %w", err)
	}
	runs, err := s.RecentRuns(limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return &History{TotalRuns: total, SizeBytes: size, Runs: runs}, nil
}
