// Package auth implements the credential & secret store (SPEC_FULL §4.3): a
// flat encrypted secret map plus a multi-provider auth-profile manager with
// priority-ordered, health/cooldown-aware selection. Grounded on the
// teacher's JSON-file ProfileStore (rotation, LastGood fast path, cooldown
// tracking), generalized onto the auth_profiles KV table and extended with
// the Priority/Health/Enabled fields the distilled spec requires.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/restflow/restflow/internal/kvstore"
)

const (
	defaultCooldownSecs = 300
	tableAuthProfiles   = "auth_profiles"
)

var (
	ErrNoProfiles      = errors.New("auth: no profiles configured for provider")
	ErrAllInCooldown   = errors.New("auth: all profiles in cooldown")
	ErrProfileNotFound = errors.New("auth: profile not found")
)

// CredentialType identifies the shape of credential material held by a
// profile.
type CredentialType string

const (
	CredentialAPIKey CredentialType = "api_key"
	CredentialOAuth  CredentialType = "oauth"
	CredentialToken  CredentialType = "token"
)

// Health is the operational state of an auth profile.
type Health string

const (
	HealthHealthy  Health = "Healthy"
	HealthDegraded Health = "Degraded"
	HealthFailed   Health = "Failed"
)

// Source records how a profile's credential was populated.
type Source string

const (
	SourceManual    Source = "manual"
	SourceDiscovered Source = "discovered"
	SourceEnvVar    Source = "env_var"
)

// Profile is a single named credential for a provider.
type Profile struct {
	ID       string         `json:"id"`
	Provider string         `json:"provider"`
	Type     CredentialType `json:"type"`
	Source   Source         `json:"source,omitempty"`

	Key     string `json:"key,omitempty"`
	Access  string `json:"access,omitempty"`
	Refresh string `json:"refresh,omitempty"`
	Expires int64  `json:"expires,omitempty"`
	Token   string `json:"token,omitempty"`

	Enabled       bool   `json:"enabled"`
	Health        Health `json:"health"`
	Priority      int    `json:"priority"`
	CooldownUntil int64  `json:"cooldown_until,omitempty"`

	LastUsedAt          int64 `json:"last_used_at,omitempty"`
	LastSuccessAt       int64 `json:"last_success_at,omitempty"`
	LastFailureAt       int64 `json:"last_failure_at,omitempty"`
	ConsecutiveFailures int   `json:"consecutive_failures,omitempty"`
}

// ProfileStore manages authentication profiles with priority + cooldown
// rotation, persisted on the auth_profiles KV table.
type ProfileStore struct {
	mu           sync.RWMutex
	store        *kvstore.Store
	cooldownSecs int64
}

// Option configures a ProfileStore.
type Option func(*ProfileStore)

// WithCooldownSecs overrides the default 300s cooldown window.
func WithCooldownSecs(secs int64) Option {
	return func(s *ProfileStore) { s.cooldownSecs = secs }
}

// NewProfileStore builds a store over the given KV database.
func NewProfileStore(store *kvstore.Store, opts ...Option) *ProfileStore {
	s := &ProfileStore{store: store, cooldownSecs: defaultCooldownSecs}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func profileKey(provider, id string) []byte { return []byte(provider + "\x00" + id) }

// AddProfile creates or updates a profile.
func (s *ProfileStore) AddProfile(p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Health == "" {
		p.Health = HealthHealthy
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.store.Update(func(tx *kvstore.Tx) error {
		return tx.Bucket(tableAuthProfiles).Put(profileKey(p.Provider, p.ID), data)
	})
}

// RemoveProfile deletes a profile by provider+id.
func (s *ProfileStore) RemoveProfile(provider, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Update(func(tx *kvstore.Tx) error {
		return tx.Bucket(tableAuthProfiles).Delete(profileKey(provider, id))
	})
}

// GetProfile fetches one profile.
func (s *ProfileStore) GetProfile(provider, id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p Profile
	found := false
	err := s.store.View(func(tx *kvstore.Tx) error {
		v := tx.Bucket(tableAuthProfiles).Get(profileKey(provider, id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &p)
	})
	if err != nil {
		return Profile{}, err
	}
	if !found {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

// ListProfiles returns every profile for a provider.
func (s *ProfileStore) ListProfiles(provider string) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Profile
	prefix := []byte(provider + "\x00")
	err := s.store.View(func(tx *kvstore.Tx) error {
		c := tx.Bucket(tableAuthProfiles).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var p Profile
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// SelectProfile returns the enabled, non-cooldown profile with the lowest
// priority number; ties break by most recent successful use.
func (s *ProfileStore) SelectProfile(provider string) (Profile, error) {
	profiles, err := s.ListProfiles(provider)
	if err != nil {
		return Profile{}, err
	}
	now := time.Now().Unix()
	var candidates []Profile
	for _, p := range profiles {
		if !p.Enabled || p.Health == HealthFailed {
			continue
		}
		if p.CooldownUntil > now {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		if len(profiles) == 0 {
			return Profile{}, ErrNoProfiles
		}
		return Profile{}, ErrAllInCooldown
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].LastSuccessAt > candidates[j].LastSuccessAt
	})
	return candidates[0], nil
}

// backoff returns an exponential cooldown window capped at 1 hour.
func backoff(consecutiveFailures int, base int64) time.Duration {
	secs := base
	for i := 0; i < consecutiveFailures && secs < 3600; i++ {
		secs *= 2
	}
	if secs > 3600 {
		secs = 3600
	}
	return time.Duration(secs) * time.Second
}

// MarkFailure sets health to Failed and schedules a cooldown.
func (s *ProfileStore) MarkFailure(provider, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Update(func(tx *kvstore.Tx) error {
		b := tx.Bucket(tableAuthProfiles)
		key := profileKey(provider, id)
		v := b.Get(key)
		if v == nil {
			return ErrProfileNotFound
		}
		var p Profile
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		now := time.Now()
		p.Health = HealthFailed
		p.LastFailureAt = now.Unix()
		p.ConsecutiveFailures++
		p.CooldownUntil = now.Add(backoff(p.ConsecutiveFailures, s.cooldownSecs)).Unix()
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// MarkSuccess clears cooldown/failure state and records the successful use.
func (s *ProfileStore) MarkSuccess(provider, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Update(func(tx *kvstore.Tx) error {
		b := tx.Bucket(tableAuthProfiles)
		key := profileKey(provider, id)
		v := b.Get(key)
		if v == nil {
			return ErrProfileNotFound
		}
		var p Profile
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		now := time.Now().Unix()
		p.Health = HealthHealthy
		p.ConsecutiveFailures = 0
		p.CooldownUntil = 0
		p.LastUsedAt = now
		p.LastSuccessAt = now
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// DiscoverFromEnv scans standard provider env vars and materializes
// discovered profiles, grounded on §6.7's enumerated provider key vars.
func (s *ProfileStore) DiscoverFromEnv(lookup func(string) (string, bool)) error {
	candidates := []struct{ provider, env string }{
		{"anthropic", "ANTHROPIC_API_KEY"},
		{"openai", "OPENAI_API_KEY"},
		{"brave", "BRAVE_API_KEY"},
		{"tavily", "TAVILY_API_KEY"},
	}
	for _, c := range candidates {
		val, ok := lookup(c.env)
		if !ok || val == "" {
			continue
		}
		p := Profile{
			ID:       "env",
			Provider: c.provider,
			Type:     CredentialAPIKey,
			Source:   SourceEnvVar,
			Key:      val,
			Enabled:  true,
			Health:   HealthHealthy,
			Priority: 100,
		}
		if err := s.AddProfile(p); err != nil {
			return fmt.Errorf("auth: discover %s: %w", c.provider, err)
		}
	}
	return nil
}
