// Package config loads the process-wide settings document (SPEC_FULL §3.8):
// built-in defaults, layered with a YAML file, layered with environment
// variable overrides. Grounded on the teacher's internal/config/loader.go
// shape (read, expand env, strict-decode, merge), trimmed of its $include
// and JSON5 support since this system has a single config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ChannelConfig holds per-channel enablement and credentials.
type ChannelConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token,omitempty"`
	AppID   string `yaml:"app_id,omitempty"`
}

// ChannelsConfig groups the three supported chat channels.
type ChannelsConfig struct {
	Telegram ChannelConfig `yaml:"telegram"`
	Discord  ChannelConfig `yaml:"discord"`
	Slack    ChannelConfig `yaml:"slack"`
}

// RunnerConfig sizes the background worker pool (C8).
type RunnerConfig struct {
	MaxConcurrent      int           `yaml:"max_concurrent"`
	StallTimeout       time.Duration `yaml:"stall_timeout"`
	StallSweepInterval time.Duration `yaml:"stall_sweep_interval"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	GracefulTimeout    time.Duration `yaml:"graceful_timeout"`
}

// WebhookConfig controls the trigger HTTP surface (C11/§4.11).
type WebhookConfig struct {
	ListenAddr        string `yaml:"listen_addr"`
	RateLimitPerMin   int    `yaml:"rate_limit_per_minute"`
	TrustedProxyDepth int    `yaml:"trusted_proxy_depth"`
}

// ObservabilityConfig toggles the metrics and tracing exporters (§10.4).
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// NetworkConfig controls the tool-layer egress allowlist (C4).
type NetworkConfig struct {
	AllowlistMode string   `yaml:"allowlist_mode"` // "open", "allowlist", "deny"
	Allowlist     []string `yaml:"allowlist,omitempty"`
}

// Config is the process-wide settings document, loaded once at startup.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	RuntimeDir string `yaml:"runtime_dir"`
	KVPath     string `yaml:"kv_path"`

	Runner        RunnerConfig        `yaml:"runner"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Network       NetworkConfig       `yaml:"network"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Default returns the built-in baseline, the first layer of the config
// stack: file contents and environment overrides are applied on top.
func Default() *Config {
	return &Config{
		DataDir:    "./data",
		RuntimeDir: "./run",
		KVPath:     "./data/restflow.db",
		Runner: RunnerConfig{
			MaxConcurrent:      4,
			StallTimeout:       5 * time.Minute,
			StallSweepInterval: time.Minute,
			HeartbeatInterval:  15 * time.Second,
			GracefulTimeout:    30 * time.Second,
		},
		Webhook: WebhookConfig{
			ListenAddr:      ":8420",
			RateLimitPerMin: 60,
		},
		Network: NetworkConfig{
			AllowlistMode: "open",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load reads the built-in defaults, overlays a YAML document at path (if
// path is non-empty and the file exists), then overlays environment
// variables, matching the teacher's layered load order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: load %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("strict decode: %w", err)
	}
	return nil
}

// envPrefix namespaces every environment-variable override.
const envPrefix = "RESTFLOW_"

// applyEnvOverrides layers environment variables on top of the file-loaded
// config. Only the fields operators most commonly need to override per
// deployment (secrets, listen address, log level) are exposed this way;
// everything else goes through the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := lookupEnv("RUNTIME_DIR"); ok {
		cfg.RuntimeDir = v
	}
	if v, ok := lookupEnv("KV_PATH"); ok {
		cfg.KVPath = v
	}
	if v, ok := lookupEnv("WEBHOOK_LISTEN_ADDR"); ok {
		cfg.Webhook.ListenAddr = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.Observability.LogLevel = v
	}
	if v, ok := lookupEnv("LOG_FORMAT"); ok {
		cfg.Observability.LogFormat = v
	}
	if v, ok := lookupEnv("TELEGRAM_TOKEN"); ok {
		cfg.Channels.Telegram.Token = v
		cfg.Channels.Telegram.Enabled = true
	}
	if v, ok := lookupEnv("DISCORD_TOKEN"); ok {
		cfg.Channels.Discord.Token = v
		cfg.Channels.Discord.Enabled = true
	}
	if v, ok := lookupEnv("SLACK_TOKEN"); ok {
		cfg.Channels.Slack.Token = v
		cfg.Channels.Slack.Enabled = true
	}
	if v, ok := lookupEnv("RUNNER_MAX_CONCURRENT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runner.MaxConcurrent = n
		}
	}
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
