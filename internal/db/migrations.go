package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Migration struct {
	Version int
	UpSQL   string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sampled_at TEXT NOT NULL,
	keys_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS snapshots_sampled_at ON snapshots(sampled_at);

CREATE TABLE IF NOT EXISTS keys (
	key_id TEXT PRIMARY KEY,
	status TEXT NOT NULL CHECK(status IN ('active','exhausted','invalid','expired')),
	subscription_type TEXT NOT NULL DEFAULT '',
	last_usage_json TEXT,
	is_active INTEGER NOT NULL DEFAULT 0,
	first_seen_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS keys_single_active
ON keys(is_active)
WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS rotation_events (
	event_id TEXT PRIMARY KEY,
	occurred_at TEXT NOT NULL,
	event TEXT NOT NULL,
	from_key_id TEXT NOT NULL DEFAULT '',
	to_key_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS rotation_events_occurred_at ON rotation_events(occurred_at);

CREATE TABLE IF NOT EXISTS task_runs (
	task_name TEXT PRIMARY KEY,
	last_run_at TEXT
);
`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	for _, m := range migrations {
		applied, err := migrationApplied(ctx, db, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)`,
			m.Version, ts(time.Now().UTC())); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check migration %d: %w", version, err)
	}
	return n > 0, nil
}
