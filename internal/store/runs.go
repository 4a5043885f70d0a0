package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one history row.
type Run struct {
	ID        int64
	BatchID   string
	Root      string
	Command   string
	Status    string
	ExitCode  int
	Error     string
	Revision  string
	Paths     []string
	StartedAt time.Time
	Duration  time.Duration
}

// InsertRun records a run and its paths and returns the new row id.
func (s *Store) InsertRun(r Run) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin insert run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`INSERT INTO runs (batch_id, root, command, status, exit_code, error, revision, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.BatchID, r.Root, r.Command, r.Status, r.ExitCode, r.Error, r.Revision,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run %s: %w", r.BatchID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, p := range r.Paths {
		if _, err := tx.Exec(
			`INSERT INTO run_paths (run_id, position, path) VALUES (?, ?, ?)`,
			id, i, p,
		); err != nil {
			return 0, fmt.Errorf("insert run path: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run %s: %w", r.BatchID, err)
	}
	return id, nil
}

// RecentRuns returns up to limit runs, newest first, with their paths.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, batch_id, root, command, status, exit_code, error, revision, started_at, duration_ms
		 FROM runs
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	runs, err := scanRuns(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range runs {
		if runs[i].Paths, err = s.runPaths(runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// RunByBatch returns the run recorded for a batch id.
func (s *Store) RunByBatch(batchID string) (Run, error) {
	rows, err := s.db.Query(
		`SELECT id, batch_id, root, command, status, exit_code, error, revision, started_at, duration_ms
		 FROM runs
		 WHERE batch_id = ?`,
		batchID,
	)
	if err != nil {
		return Run{}, err
	}
	runs, err := scanRuns(rows)
	_ = rows.Close()
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}

	r := runs[0]
	if r.Paths, err = s.runPaths(r.ID); err != nil {
		return Run{}, err
	}
	return r, nil
}

func (s *Store) runPaths(runID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT path FROM run_paths WHERE run_id = ? ORDER BY position ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var durationMs int64
		if err := rows.Scan(
			&r.ID, &r.BatchID, &r.Root, &r.Command, &r.Status,
			&r.ExitCode, &r.Error, &r.Revision, &started, &durationMs,
		); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("parse run timestamp %q: %w", started, err)
		}
		r.StartedAt = t
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
