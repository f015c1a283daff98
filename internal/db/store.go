package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quotapace/quotapace/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store wraps the sqlite database holding snapshots, key records, rotation
// events, and task run states. Single writer per resource; readers tolerate
// an empty database.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// AppendSnapshot inserts one utilization sample. Snapshots whose timestamp is
// behind the newest stored one are dropped, not errored: sampling clock skew
// is expected and non-fatal. The returned bool reports whether the row was
// inserted.
func (s *Store) AppendSnapshot(ctx context.Context, snap model.Snapshot) (bool, error) {
	last, ok, err := s.lastSnapshotTime(ctx)
	if err != nil {
		return false, err
	}
	if ok && snap.Timestamp.Before(last) {
		return false, nil
	}
	keysJSON, err := json.Marshal(encodeReadings(snap.Keys))
	if err != nil {
		return false, fmt.Errorf("marshal snapshot keys: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO snapshots(sampled_at, keys_json) VALUES (?, ?)
`, ts(snap.Timestamp), string(keysJSON))
	if err != nil {
		return false, fmt.Errorf("append snapshot: %w", err)
	}
	return true, nil
}

// ReadRecentSnapshots returns the newest maxPoints snapshots that carry at
// least one key reading, in ascending time order. Zero-key rows are excluded
// here so callers fitting over a capped window see maxPoints usable samples,
// not a window shortened by empty ones. An empty store yields an empty slice,
// not an error.
func (s *Store) ReadRecentSnapshots(ctx context.Context, maxPoints int) ([]model.Snapshot, error) {
	if maxPoints <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT sampled_at, keys_json FROM (
	SELECT id, sampled_at, keys_json FROM snapshots
	WHERE keys_json != '{}'
	ORDER BY sampled_at DESC, id DESC LIMIT ?
) ORDER BY sampled_at ASC, id ASC
`, maxPoints)
	if err != nil {
		return nil, fmt.Errorf("read recent snapshots: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return scanSnapshots(rows)
}

// ReadSnapshotsSince returns all snapshots with sampled_at >= since, ascending.
func (s *Store) ReadSnapshotsSince(ctx context.Context, since time.Time) ([]model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT sampled_at, keys_json FROM snapshots WHERE sampled_at >= ? ORDER BY sampled_at ASC, id ASC
`, ts(since))
	if err != nil {
		return nil, fmt.Errorf("read snapshots since: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return scanSnapshots(rows)
}

// PruneSnapshots deletes snapshots older than the cutoff. Idempotent.
func (s *Store) PruneSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE sampled_at < ?`, ts(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots rows: %w", err)
	}
	return n, nil
}

func (s *Store) lastSnapshotTime(ctx context.Context) (time.Time, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sampled_at) FROM snapshots`).Scan(&raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last snapshot time: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, false, nil
	}
	t, err := parseTS(raw.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func scanSnapshots(rows *sql.Rows) ([]model.Snapshot, error) {
	var out []model.Snapshot
	for rows.Next() {
		var sampledAt, keysJSON string
		if err := rows.Scan(&sampledAt, &keysJSON); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		t, err := parseTS(sampledAt)
		if err != nil {
			// Malformed row: skip, keep the rest.
			continue
		}
		var readings map[string]readingJSON
		if err := json.Unmarshal([]byte(keysJSON), &readings); err != nil {
			continue
		}
		out = append(out, model.Snapshot{Timestamp: t, Keys: decodeReadings(readings)})
	}
	return out, rows.Err()
}

// readingJSON is the stored per-key payload. Reset fields stay optional so a
// missing upstream reset never round-trips as a zero time.
type readingJSON struct {
	FiveHourPct   float64    `json:"five_hour_pct"`
	FiveHourReset *time.Time `json:"five_hour_reset,omitempty"`
	SevenDayPct   float64    `json:"seven_day_pct"`
	SevenDayReset *time.Time `json:"seven_day_reset,omitempty"`
}

func encodeReadings(keys map[string]model.KeyReading) map[string]readingJSON {
	out := make(map[string]readingJSON, len(keys))
	for id, r := range keys {
		out[id] = readingJSON{
			FiveHourPct:   r.FiveHourPct,
			FiveHourReset: r.FiveHourReset,
			SevenDayPct:   r.SevenDayPct,
			SevenDayReset: r.SevenDayReset,
		}
	}
	return out
}

func decodeReadings(raw map[string]readingJSON) map[string]model.KeyReading {
	out := make(map[string]model.KeyReading, len(raw))
	for id, r := range raw {
		out[id] = model.KeyReading{
			FiveHourPct:   model.ClampPct(r.FiveHourPct),
			FiveHourReset: r.FiveHourReset,
			SevenDayPct:   model.ClampPct(r.SevenDayPct),
			SevenDayReset: r.SevenDayReset,
		}
	}
	return out
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
