package store

type migration struct {
	description string
	stmt        string
}

// migrations[i] brings the schema from version i to i+1. Append only.
var migrations = []migration{
	{
		description: "runs and run_paths",
		stmt: `
-- One row per dispatched batch, including skipped ones.
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id    TEXT    NOT NULL UNIQUE,
	root        TEXT    NOT NULL,
	command     TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	exit_code   INTEGER NOT NULL DEFAULT 0,
	error       TEXT    NOT NULL DEFAULT '',
	started_at  TEXT    NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

-- Paths that survived filtering for a run, in report order.
CREATE TABLE IF NOT EXISTS run_paths (
	run_id   INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	path     TEXT    NOT NULL,
	PRIMARY KEY (run_id, position)
);
`,
	},
	{
		description: "git revision on runs",
		stmt:        `ALTER TABLE runs ADD COLUMN revision TEXT NOT NULL DEFAULT '';`,
	},
}

// schemaVersion is the version a fully migrated database reports.
var schemaVersion = len(migrations)
