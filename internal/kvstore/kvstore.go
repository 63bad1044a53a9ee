// Package kvstore adapts go.etcd.io/bbolt to the embedded transactional
// key-value contract the rest of RestFlow is built on: named tables (bolt
// buckets), begin_read/begin_write transactions, and atomic multi-table
// commits. Every table the core needs is created once at Open so downstream
// code never has to special-case a missing bucket.
package kvstore

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Tables lists every bucket the RestFlow core relies on (SPEC_FULL §6.1).
var Tables = []string{
	"pending",
	"processing",
	"completed",
	"agents",
	"skills",
	"secrets",
	"auth_profiles",
	"chat_sessions",
	"work_items",
	"audit_entries_v1",
	"audit_task_execution_index_v1",
	"active_triggers",
	"pairing_peers",
	"pairing_requests",
}

// Store wraps a bbolt database, guaranteeing every known table exists.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a database file at path and ensures all Tables
// exist, in a single write transaction.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range Tables {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create table %q: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// Tx is a single read or write transaction.
type Tx struct{ tx *bolt.Tx }

// Bucket returns the named table within the transaction; it is always
// present because Open creates every known table up front.
func (t *Tx) Bucket(name string) *bolt.Bucket { return t.tx.Bucket([]byte(name)) }

// View runs fn inside a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error { return fn(&Tx{tx: btx}) })
}

// Update runs fn inside a read-write transaction; the transaction commits
// atomically if fn returns nil, or rolls back if it returns an error.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error { return fn(&Tx{tx: btx}) })
}
