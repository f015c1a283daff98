// Package rotation tracks credential key lifecycle and the single active key.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quotapace/quotapace/internal/db"
	"github.com/quotapace/quotapace/internal/model"
)

// ErrNoEligibleKey is returned when every key in the pool is invalid or
// expired and no replacement can be promoted.
var ErrNoEligibleKey = errors.New("no eligible key")

type Manager struct {
	store *db.Store
}

func NewManager(store *db.Store) *Manager {
	return &Manager{store: store}
}

// RecordRotation promotes newKeyID to active and appends exactly one
// key_switched event. Reassigning the already-active key is a no-op and
// writes nothing.
func (m *Manager) RecordRotation(ctx context.Context, newKeyID string) error {
	current, err := m.store.ActiveKeyID(ctx)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	if current == newKeyID {
		return nil
	}
	if err := m.store.SetActiveKey(ctx, newKeyID); err != nil {
		return fmt.Errorf("rotate to %s: %w", newKeyID, err)
	}
	ev := model.RotationEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Event:     model.EventKeySwitched,
		FromKeyID: current,
		ToKeyID:   newKeyID,
	}
	if err := m.store.AppendRotationEvent(ctx, ev); err != nil {
		return err
	}
	logrus.Infof("key rotated: %s -> %s", current, newKeyID)
	return nil
}

// CountRotations counts key switches at or after since.
func (m *Manager) CountRotations(ctx context.Context, since time.Time) (int, error) {
	return m.store.CountRotationsSince(ctx, since)
}

// MarkStatus transitions a key's lifecycle status. Marking a key active routes
// through RecordRotation so the single active designation moves with it. When
// the active key leaves the Active state, a replacement is promoted from the
// remaining pool before the next aggregation cycle; if none is eligible the
// pool is left without an active key and aggregation degrades to "no data".
func (m *Manager) MarkStatus(ctx context.Context, keyID string, status model.KeyStatus) error {
	if err := m.store.SetKeyStatus(ctx, keyID, status); err != nil {
		return err
	}
	if status == model.KeyActive {
		return m.RecordRotation(ctx, keyID)
	}
	active, err := m.store.ActiveKeyID(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		return err
	}
	if active != keyID {
		return nil
	}
	if err := m.EnsureActiveKey(ctx); err != nil {
		if errors.Is(err, ErrNoEligibleKey) {
			logrus.Warnf("active key %s is %s and no replacement is eligible", keyID, status)
			return nil
		}
		return err
	}
	return nil
}

// EnsureActiveKey promotes a replacement when the current active key is no
// longer usable. Candidates exclude invalid and expired keys; ties are
// resolved by status precedence, then most recently updated.
func (m *Manager) EnsureActiveKey(ctx context.Context) error {
	keys, err := m.store.ListKeyRecords(ctx)
	if err != nil {
		return err
	}
	var current *model.KeyRecord
	for i := range keys {
		if keys[i].Active {
			current = &keys[i]
			break
		}
	}
	if current != nil && current.Status == model.KeyActive {
		return nil
	}
	candidates := make([]model.KeyRecord, 0, len(keys))
	for _, k := range keys {
		if k.Status == model.KeyInvalid || k.Status == model.KeyExpired {
			continue
		}
		if current != nil && k.ID == current.ID {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 0 {
		return ErrNoEligibleKey
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		pi := model.KeyStatusPrecedence[candidates[i].Status]
		pj := model.KeyStatusPrecedence[candidates[j].Status]
		if pi != pj {
			return pi < pj
		}
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})
	return m.RecordRotation(ctx, candidates[0].ID)
}

// State assembles the full rotation state record: per-key status, the active
// key, and the recent rotation log.
func (m *Manager) State(ctx context.Context, logLimit int) (model.RotationState, error) {
	keys, err := m.store.ListKeyRecords(ctx)
	if err != nil {
		return model.RotationState{}, err
	}
	events, err := m.store.ListRotationEvents(ctx, logLimit)
	if err != nil {
		return model.RotationState{}, err
	}
	st := model.RotationState{Keys: keys, RotationLog: events}
	for _, k := range keys {
		if k.Active {
			st.ActiveKeyID = k.ID
			break
		}
	}
	return st, nil
}
