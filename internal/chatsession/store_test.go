package chatsession

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/restflow/restflow/internal/models"
)

func TestAppendAndHistoryRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	msg1 := models.Message{Role: models.RoleUser, Content: "hello"}
	msg2 := models.Message{Role: models.RoleAssistant, Content: "hi there"}

	if err := store.Append(ctx, "conv-1", models.ChannelTelegram, msg1, 10); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "conv-1", models.ChannelTelegram, msg2, 10); err != nil {
		t.Fatalf("Append: %v", err)
	}

	history, err := store.History(ctx, "conv-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "hello" || history[1].Content != "hi there" {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestAppendTrimsToMaxMessages(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg := models.Message{Role: models.RoleUser, Content: "msg"}
		if err := store.Append(ctx, "conv-trim", models.ChannelDiscord, msg, 3); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	history, err := store.History(ctx, "conv-trim")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected history trimmed to 3, got %d", len(history))
	}
}

func TestHistoryNotFound(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, err := store.History(context.Background(), "nonexistent"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	store.Append(ctx, "conv-del", models.ChannelSlack, models.Message{Role: models.RoleUser, Content: "x"}, 10)
	if err := store.Delete(ctx, "conv-del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.History(ctx, "conv-del"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

// TestAppendUpsertsOnConflict exercises the upsert SQL against a mocked
// driver, grounded on internal/sessions/locker_test.go's sqlmock idiom, so
// the exact query shape is pinned without depending on a real sqlite file.
func TestAppendUpsertsOnConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := OpenWithDB(db)

	mock.ExpectQuery("SELECT messages_json FROM chat_sessions").
		WithArgs("conv-mock").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectExec("INSERT INTO chat_sessions").
		WithArgs("conv-mock", "telegram", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Append(context.Background(), "conv-mock", models.ChannelTelegram,
		models.Message{Role: models.RoleUser, Content: "hi"}, 10)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
