package cron

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/restflow/restflow/internal/kvstore"
	"github.com/restflow/restflow/internal/models"
)

const triggerTable = "active_triggers"

// ErrTriggerNotFound is returned when a trigger id is absent from the store.
var ErrTriggerNotFound = errors.New("cron: trigger not found")

// TriggerStore persists armed webhook and cron triggers (SPEC_FULL §4.11)
// over the active_triggers kvstore table, following the single-bucket
// per-entity pattern set by internal/auth.ProfileStore.
type TriggerStore struct {
	store *kvstore.Store
}

// NewTriggerStore wraps an already-open kvstore.Store.
func NewTriggerStore(store *kvstore.Store) *TriggerStore {
	return &TriggerStore{store: store}
}

// Create registers a new trigger, assigning an id if one was not supplied.
func (s *TriggerStore) Create(t models.ActiveTrigger) (models.ActiveTrigger, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ActivatedAt == 0 {
		t.ActivatedAt = models.NowMillis()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return models.ActiveTrigger{}, err
	}
	err = s.store.Update(func(tx *kvstore.Tx) error {
		return tx.Bucket(triggerTable).Put([]byte(t.ID), data)
	})
	return t, err
}

// Get returns a single trigger by id.
func (s *TriggerStore) Get(id string) (models.ActiveTrigger, error) {
	var t models.ActiveTrigger
	found := false
	err := s.store.View(func(tx *kvstore.Tx) error {
		v := tx.Bucket(triggerTable).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &t)
	})
	if err != nil {
		return models.ActiveTrigger{}, err
	}
	if !found {
		return models.ActiveTrigger{}, ErrTriggerNotFound
	}
	return t, nil
}

// ListScheduled returns every trigger with a cron Schedule set, sorted by
// id for deterministic iteration.
func (s *TriggerStore) ListScheduled() ([]models.ActiveTrigger, error) {
	var out []models.ActiveTrigger
	err := s.store.View(func(tx *kvstore.Tx) error {
		return tx.Bucket(triggerTable).ForEach(func(_, v []byte) error {
			var t models.ActiveTrigger
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Schedule != nil {
				out = append(out, t)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// GetByTaskID returns the webhook trigger (if any) configured for taskID,
// used by the webhook front end to resolve a trigger token.
func (s *TriggerStore) GetByTaskID(taskID string) (models.ActiveTrigger, error) {
	var found *models.ActiveTrigger
	err := s.store.View(func(tx *kvstore.Tx) error {
		return tx.Bucket(triggerTable).ForEach(func(_, v []byte) error {
			if found != nil {
				return nil
			}
			var t models.ActiveTrigger
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.TaskID == taskID && t.Webhook != nil {
				found = &t
			}
			return nil
		})
	})
	if err != nil {
		return models.ActiveTrigger{}, err
	}
	if found == nil {
		return models.ActiveTrigger{}, ErrTriggerNotFound
	}
	return *found, nil
}

// RecordFired bumps trigger_count and last_triggered_at after a successful
// enqueue.
func (s *TriggerStore) RecordFired(id string, firedAtMs int64) error {
	return s.store.Update(func(tx *kvstore.Tx) error {
		b := tx.Bucket(triggerTable)
		v := b.Get([]byte(id))
		if v == nil {
			return ErrTriggerNotFound
		}
		var t models.ActiveTrigger
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		t.TriggerCount++
		t.LastTriggeredAt = firedAtMs
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

// Delete removes a trigger.
func (s *TriggerStore) Delete(id string) error {
	return s.store.Update(func(tx *kvstore.Tx) error {
		return tx.Bucket(triggerTable).Delete([]byte(id))
	})
}
