package agentstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/restflow/restflow/internal/kvstore"
	"github.com/restflow/restflow/internal/runner"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "agents.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return New(kv)
}

func TestCreateGetUpdateDelete(t *testing.T) {
	store := newTestStore(t)
	def := runner.AgentDefinition{ID: "reminder-agent", Model: "claude-sonnet", System: "you remind people"}

	if err := store.Create(def); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(def); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := store.Get(context.Background(), "reminder-agent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Model != "claude-sonnet" {
		t.Errorf("Model = %s, want claude-sonnet", got.Model)
	}

	def.Model = "claude-opus"
	if err := store.Update(def); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = store.Get(context.Background(), "reminder-agent")
	if got.Model != "claude-opus" {
		t.Errorf("Model after update = %s, want claude-opus", got.Model)
	}

	if err := store.Delete("reminder-agent"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(context.Background(), "reminder-agent"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	if err := store.Update(runner.AgentDefinition{ID: "missing"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSortsByID(t *testing.T) {
	store := newTestStore(t)
	store.Create(runner.AgentDefinition{ID: "zeta"})
	store.Create(runner.AgentDefinition{ID: "alpha"})

	list, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "alpha" || list[1].ID != "zeta" {
		t.Fatalf("unexpected list order: %+v", list)
	}
}
