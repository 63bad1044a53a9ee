package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/restflow/restflow/internal/agentstore"
	"github.com/restflow/restflow/internal/auth"
	"github.com/restflow/restflow/internal/chatsession"
	"github.com/restflow/restflow/internal/config"
	"github.com/restflow/restflow/internal/kvstore"
	"github.com/restflow/restflow/internal/queue"
)

// resolveConfigPath returns the --config flag value, or the
// RESTFLOW_CONFIG environment variable, or the default "./restflow.yaml".
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if v := os.Getenv("RESTFLOW_CONFIG"); v != "" {
		return v
	}
	return "./restflow.yaml"
}

// loadConfig reads the layered config document for every subcommand.
func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

// newLogger builds the process-wide slog.Logger per cfg.Observability,
// matching the teacher's JSON-in-production/text-in-development split.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Observability.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// stores bundles every persisted collection a subcommand might need, opened
// once over the config's kv_path.
type stores struct {
	kv       *kvstore.Store
	queue    *queue.Queue
	agents   *agentstore.Store
	profiles *auth.ProfileStore
	secrets  *auth.SecretStore
	sessions *chatsession.Store
}

// openStores opens the kv database and every store layered on top of it.
// Callers must call close() when done.
func openStores(cfg *config.Config) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.KVPath), 0o755); err != nil {
		return nil, err
	}
	kv, err := kvstore.Open(cfg.KVPath)
	if err != nil {
		return nil, err
	}
	q, err := queue.New(kv)
	if err != nil {
		kv.Close()
		return nil, err
	}
	secretStore, err := auth.NewSecretStore(kv, cfg.DataDir)
	if err != nil {
		kv.Close()
		return nil, err
	}
	sessions, err := chatsession.Open(cfg.DataDir + "/sessions.db")
	if err != nil {
		kv.Close()
		return nil, err
	}
	return &stores{
		kv:       kv,
		queue:    q,
		agents:   agentstore.New(kv),
		profiles: auth.NewProfileStore(kv),
		secrets:  secretStore,
		sessions: sessions,
	}, nil
}

func (s *stores) close() {
	if s.sessions != nil {
		s.sessions.Close()
	}
	if s.kv != nil {
		s.kv.Close()
	}
}
