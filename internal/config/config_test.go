package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.DataDir == "" {
		t.Error("expected non-empty DataDir")
	}
	if cfg.Runner.MaxConcurrent <= 0 {
		t.Error("expected positive MaxConcurrent")
	}
	if cfg.Network.AllowlistMode != "open" {
		t.Errorf("expected default allowlist mode open, got %s", cfg.Network.AllowlistMode)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataDir != Default().DataDir {
		t.Errorf("expected default DataDir, got %s", cfg.DataDir)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Runner.MaxConcurrent != Default().Runner.MaxConcurrent {
		t.Errorf("expected default MaxConcurrent")
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restflow.yaml")
	doc := `
data_dir: /var/lib/restflow
runner:
  max_concurrent: 16
  stall_timeout: 2m
webhook:
  listen_addr: ":9000"
channels:
  telegram:
    enabled: true
    token: "xyz"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataDir != "/var/lib/restflow" {
		t.Errorf("DataDir = %s, want /var/lib/restflow", cfg.DataDir)
	}
	if cfg.Runner.MaxConcurrent != 16 {
		t.Errorf("MaxConcurrent = %d, want 16", cfg.Runner.MaxConcurrent)
	}
	if cfg.Runner.StallTimeout != 2*time.Minute {
		t.Errorf("StallTimeout = %s, want 2m", cfg.Runner.StallTimeout)
	}
	if cfg.Webhook.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %s, want :9000", cfg.Webhook.ListenAddr)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "xyz" {
		t.Errorf("Telegram channel not populated: %+v", cfg.Channels.Telegram)
	}
	// untouched fields keep their defaults
	if cfg.Network.AllowlistMode != "open" {
		t.Errorf("AllowlistMode = %s, want open", cfg.Network.AllowlistMode)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restflow.yaml")
	doc := "bogus_top_level_key: true\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected strict decode to reject unknown field")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restflow.yaml")
	doc := "data_dir: /from/file\nobservability:\n  log_level: warn\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	t.Setenv("RESTFLOW_DATA_DIR", "/from/env")
	t.Setenv("RESTFLOW_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataDir != "/from/env" {
		t.Errorf("DataDir = %s, want /from/env (env should win)", cfg.DataDir)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug (env should win)", cfg.Observability.LogLevel)
	}
}

func TestEnvTokenOverrideEnablesChannel(t *testing.T) {
	t.Setenv("RESTFLOW_DISCORD_TOKEN", "abc123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Channels.Discord.Enabled {
		t.Error("expected Discord to be auto-enabled by env token override")
	}
	if cfg.Channels.Discord.Token != "abc123" {
		t.Errorf("Discord token = %s, want abc123", cfg.Channels.Discord.Token)
	}
}

func TestEnvExpansionInYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restflow.yaml")
	doc := "data_dir: \"${RESTFLOW_TEST_DATA_DIR}\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("RESTFLOW_TEST_DATA_DIR", "/expanded/path")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataDir != "/expanded/path" {
		t.Errorf("DataDir = %s, want /expanded/path", cfg.DataDir)
	}
}
