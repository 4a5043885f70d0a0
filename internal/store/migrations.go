package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AppliedMigration is one row of the migration log.
type AppliedMigration struct {
	Version     int
	Description string
	AppliedAt   time.Time
}

// runMigrations applies every pending step in its own transaction and logs
// it in schema_migrations. It returns the steps applied by this call.
func runMigrations(db *sql.DB) ([]AppliedMigration, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT    NOT NULL,
		applied_at  TEXT    NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	if current > len(migrations) {
		return nil, fmt.Errorf("database schema version %d is newer than this binary (%d)", current, len(migrations))
	}

	var applied []AppliedMigration
	for i, m := range migrations[current:] {
		version := current + i + 1
		step, err := applyMigration(db, version, m)
		if err != nil {
			return applied, err
		}
		applied = append(applied, step)
	}
	return applied, nil
}

func applyMigration(db *sql.DB, version int, m migration) (AppliedMigration, error) {
	step := AppliedMigration{Version: version, Description: m.description, AppliedAt: time.Now().UTC()}

	tx, err := db.Begin()
	if err != nil {
		return step, fmt.Errorf("begin migration %d (%s): %w", version, m.description, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.stmt); err != nil {
		return step, fmt.Errorf("migration %d (%s): %w", version, m.description, err)
	}
	_, err = tx.Exec(
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		version, m.description, step.AppliedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return step, fmt.Errorf("log migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return step, fmt.Errorf("commit migration %d: %w", version, err)
	}
	return step, nil
}

// currentVersion returns the highest applied version, 0 for a fresh file.
func currentVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}
