package tracedb

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order, each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		scenario    TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		elapsed_ns  INTEGER NOT NULL,
		dispatches  INTEGER NOT NULL DEFAULT 0,
		switches    INTEGER NOT NULL DEFAULT 0,
		deferred    INTEGER NOT NULL DEFAULT 0,
		replayed    INTEGER NOT NULL DEFAULT 0,
		timeouts    INTEGER NOT NULL DEFAULT 0,
		interrupts  INTEGER NOT NULL DEFAULT 0,
		timer_fails INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS threads (
		run_id           TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		name             TEXT NOT NULL,
		priority         INTEGER NOT NULL,
		initial_priority INTEGER NOT NULL,
		state            TEXT NOT NULL,
		running_ns       INTEGER NOT NULL,
		sleeps           TEXT NOT NULL DEFAULT '[]',
		tryruns          TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (run_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS switches (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq    INTEGER NOT NULL,
		at_ns  INTEGER NOT NULL,
		prev   TEXT NOT NULL,
		next   TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
