// Package agentstore persists agent definitions (SPEC_FULL §6.6's
// "agent list|show|create|update|delete" CLI surface) over the kvstore
// "agents" table, in the same single-bucket-per-entity shape as
// internal/auth.ProfileStore and internal/cron.TriggerStore.
package agentstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/restflow/restflow/internal/kvstore"
	"github.com/restflow/restflow/internal/runner"
)

const table = "agents"

// ErrNotFound is returned when an agent_ref has no definition on record.
var ErrNotFound = errors.New("agentstore: not found")

// ErrAlreadyExists is returned by Create when the id is already in use.
var ErrAlreadyExists = errors.New("agentstore: already exists")

// Store persists runner.AgentDefinition records and satisfies
// runner.AgentStore so it can be handed straight to runner.WithAgentStore.
type Store struct {
	store *kvstore.Store
}

// New wraps an already-open kvstore.Store.
func New(store *kvstore.Store) *Store {
	return &Store{store: store}
}

// Get implements runner.AgentStore.
func (s *Store) Get(_ context.Context, agentRef string) (runner.AgentDefinition, error) {
	var def runner.AgentDefinition
	found := false
	err := s.store.View(func(tx *kvstore.Tx) error {
		v := tx.Bucket(table).Get([]byte(agentRef))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &def)
	})
	if err != nil {
		return runner.AgentDefinition{}, err
	}
	if !found {
		return runner.AgentDefinition{}, ErrNotFound
	}
	return def, nil
}

// Create registers a new agent definition.
func (s *Store) Create(def runner.AgentDefinition) error {
	return s.store.Update(func(tx *kvstore.Tx) error {
		b := tx.Bucket(table)
		if b.Get([]byte(def.ID)) != nil {
			return ErrAlreadyExists
		}
		data, err := json.Marshal(def)
		if err != nil {
			return err
		}
		return b.Put([]byte(def.ID), data)
	})
}

// Update overwrites an existing agent definition.
func (s *Store) Update(def runner.AgentDefinition) error {
	return s.store.Update(func(tx *kvstore.Tx) error {
		b := tx.Bucket(table)
		if b.Get([]byte(def.ID)) == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(def)
		if err != nil {
			return err
		}
		return b.Put([]byte(def.ID), data)
	})
}

// Delete removes an agent definition.
func (s *Store) Delete(id string) error {
	return s.store.Update(func(tx *kvstore.Tx) error {
		return tx.Bucket(table).Delete([]byte(id))
	})
}

// List returns every stored agent definition, sorted by id.
func (s *Store) List() ([]runner.AgentDefinition, error) {
	var out []runner.AgentDefinition
	err := s.store.View(func(tx *kvstore.Tx) error {
		return tx.Bucket(table).ForEach(func(_, v []byte) error {
			var def runner.AgentDefinition
			if err := json.Unmarshal(v, &def); err != nil {
				return err
			}
			out = append(out, def)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}
