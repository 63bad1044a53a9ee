package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restflow.yaml")
	if err := os.WriteFile(path, []byte("observability:\n  log_level: info\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Current().Observability.LogLevel != "info" {
		t.Fatalf("expected initial log level info, got %s", w.Current().Observability.LogLevel)
	}

	sub := w.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("observability:\n  log_level: debug\n"), 0o600); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}

	select {
	case hot := <-sub:
		if hot.LogLevel != "debug" {
			t.Errorf("expected reloaded log level debug, got %s", hot.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for hot reload notification")
	}

	if w.Current().Observability.LogLevel != "debug" {
		t.Errorf("Current() not updated: %s", w.Current().Observability.LogLevel)
	}
}

func TestWatcherStartNoopWithoutPath(t *testing.T) {
	w, err := NewWatcher("", nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start should be a no-op without a path: %v", err)
	}
	w.Stop()
}
