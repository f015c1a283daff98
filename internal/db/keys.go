package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quotapace/quotapace/internal/model"
)

// UpsertKeyRecord creates or replaces one key record.
func (s *Store) UpsertKeyRecord(ctx context.Context, rec model.KeyRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("key_id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if rec.FirstSeenAt.IsZero() {
		rec.FirstSeenAt = rec.UpdatedAt
	}
	usageJSON, err := marshalUsage(rec.LastUsage)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO keys(key_id, status, subscription_type, last_usage_json, is_active, first_seen_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key_id) DO UPDATE SET
	status=excluded.status,
	subscription_type=excluded.subscription_type,
	last_usage_json=excluded.last_usage_json,
	is_active=excluded.is_active,
	updated_at=excluded.updated_at
`, rec.ID, string(rec.Status), rec.SubscriptionType, usageJSON, boolToInt(rec.Active), ts(rec.FirstSeenAt), ts(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert key %s: %w", rec.ID, err)
	}
	return nil
}

// TouchKeyUsage refreshes a key's last observed usage, creating the record on
// first observation. A newly observed key becomes active when no active key
// exists yet.
func (s *Store) TouchKeyUsage(ctx context.Context, keyID string, reading model.KeyReading, observedAt time.Time) error {
	existing, err := s.GetKeyRecord(ctx, keyID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	rec := model.KeyRecord{
		ID:        keyID,
		Status:    model.KeyActive,
		LastUsage: &reading,
		UpdatedAt: observedAt,
	}
	if errors.Is(err, ErrNotFound) {
		rec.FirstSeenAt = observedAt
		_, activeErr := s.ActiveKeyID(ctx)
		rec.Active = errors.Is(activeErr, ErrNotFound)
	} else {
		rec.Status = existing.Status
		rec.SubscriptionType = existing.SubscriptionType
		rec.Active = existing.Active
		rec.FirstSeenAt = existing.FirstSeenAt
	}
	return s.UpsertKeyRecord(ctx, rec)
}

// SetKeyStatus updates one key's lifecycle status.
func (s *Store) SetKeyStatus(ctx context.Context, keyID string, status model.KeyStatus) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE keys SET status = ?, updated_at = ? WHERE key_id = ?
`, string(status), ts(time.Now().UTC()), keyID)
	if err != nil {
		return fmt.Errorf("set key status %s: %w", keyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set key status rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActiveKey marks keyID as the single active key in one transaction.
func (s *Store) SetActiveKey(ctx context.Context, keyID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set active key: %w", err)
	}
	now := ts(time.Now().UTC())
	if _, err := tx.ExecContext(ctx,
		`UPDATE keys SET is_active = 0, updated_at = ? WHERE is_active = 1`, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear active key: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE keys SET is_active = 1, status = ?, updated_at = ? WHERE key_id = ?`,
		string(model.KeyActive), now, keyID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("set active key %s: %w", keyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("set active key rows: %w", err)
	}
	if n == 0 {
		tx.Rollback() //nolint:errcheck
		return ErrNotFound
	}
	return tx.Commit()
}

// ActiveKeyID returns the current active key, or ErrNotFound when the pool
// has none.
func (s *Store) ActiveKeyID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT key_id FROM keys WHERE is_active = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("active key: %w", err)
	}
	return id, nil
}

func (s *Store) GetKeyRecord(ctx context.Context, keyID string) (model.KeyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT key_id, status, subscription_type, last_usage_json, is_active, first_seen_at, updated_at
FROM keys WHERE key_id = ?
`, keyID)
	rec, err := scanKeyRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.KeyRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *Store) ListKeyRecords(ctx context.Context) ([]model.KeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT key_id, status, subscription_type, last_usage_json, is_active, first_seen_at, updated_at
FROM keys ORDER BY key_id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	var out []model.KeyRecord
	for rows.Next() {
		rec, err := scanKeyRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendRotationEvent writes one rotation log entry.
func (s *Store) AppendRotationEvent(ctx context.Context, ev model.RotationEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO rotation_events(event_id, occurred_at, event, from_key_id, to_key_id)
VALUES (?, ?, ?, ?, ?)
`, ev.EventID, ts(ev.Timestamp), ev.Event, ev.FromKeyID, ev.ToKeyID)
	if err != nil {
		return fmt.Errorf("append rotation event: %w", err)
	}
	return nil
}

// CountRotationsSince counts key_switched events at or after the cutoff.
func (s *Store) CountRotationsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM rotation_events WHERE event = ? AND occurred_at >= ?
`, model.EventKeySwitched, ts(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rotations: %w", err)
	}
	return n, nil
}

// ListRotationEvents returns the newest limit events, newest first.
func (s *Store) ListRotationEvents(ctx context.Context, limit int) ([]model.RotationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, occurred_at, event, from_key_id, to_key_id
FROM rotation_events ORDER BY occurred_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rotation events: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	var out []model.RotationEvent
	for rows.Next() {
		var ev model.RotationEvent
		var occurredAt string
		if err := rows.Scan(&ev.EventID, &occurredAt, &ev.Event, &ev.FromKeyID, &ev.ToKeyID); err != nil {
			return nil, fmt.Errorf("scan rotation event: %w", err)
		}
		t, err := parseTS(occurredAt)
		if err != nil {
			continue
		}
		ev.Timestamp = t
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PruneRotationEvents deletes events older than the cutoff. Idempotent.
func (s *Store) PruneRotationEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rotation_events WHERE occurred_at < ?`, ts(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune rotation events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rotation events rows: %w", err)
	}
	return n, nil
}

// TaskRunStates returns last-run timestamps keyed by task name.
func (s *Store) TaskRunStates(ctx context.Context) (map[string]*time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_name, last_run_at FROM task_runs`)
	if err != nil {
		return nil, fmt.Errorf("task run states: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	out := map[string]*time.Time{}
	for rows.Next() {
		var name string
		var lastRun sql.NullString
		if err := rows.Scan(&name, &lastRun); err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		if !lastRun.Valid || lastRun.String == "" {
			out[name] = nil
			continue
		}
		t, err := parseTS(lastRun.String)
		if err != nil {
			out[name] = nil
			continue
		}
		out[name] = &t
	}
	return out, rows.Err()
}

// MarkTaskRun records a task execution. Called by the task runner, not by the
// schedule registry.
func (s *Store) MarkTaskRun(ctx context.Context, taskName string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_runs(task_name, last_run_at) VALUES (?, ?)
ON CONFLICT(task_name) DO UPDATE SET last_run_at=excluded.last_run_at
`, taskName, ts(at))
	if err != nil {
		return fmt.Errorf("mark task run %s: %w", taskName, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKeyRecord(row rowScanner) (model.KeyRecord, error) {
	var rec model.KeyRecord
	var status string
	var usageJSON sql.NullString
	var isActive int
	var firstSeen, updated string
	if err := row.Scan(&rec.ID, &status, &rec.SubscriptionType, &usageJSON, &isActive, &firstSeen, &updated); err != nil {
		return model.KeyRecord{}, err
	}
	rec.Status = model.KeyStatus(status)
	rec.Active = isActive == 1
	if t, err := parseTS(firstSeen); err == nil {
		rec.FirstSeenAt = t
	}
	if t, err := parseTS(updated); err == nil {
		rec.UpdatedAt = t
	}
	if usageJSON.Valid && usageJSON.String != "" {
		var r readingJSON
		if err := json.Unmarshal([]byte(usageJSON.String), &r); err == nil {
			usage := model.KeyReading{
				FiveHourPct:   model.ClampPct(r.FiveHourPct),
				FiveHourReset: r.FiveHourReset,
				SevenDayPct:   model.ClampPct(r.SevenDayPct),
				SevenDayReset: r.SevenDayReset,
			}
			rec.LastUsage = &usage
		}
	}
	return rec, nil
}

func marshalUsage(usage *model.KeyReading) (any, error) {
	if usage == nil {
		return nil, nil
	}
	b, err := json.Marshal(readingJSON{
		FiveHourPct:   usage.FiveHourPct,
		FiveHourReset: usage.FiveHourReset,
		SevenDayPct:   usage.SevenDayPct,
		SevenDayReset: usage.SevenDayReset,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal key usage: %w", err)
	}
	return string(b), nil
}
