package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/restflow/restflow/internal/kvstore"
)

const tableSecrets = "secrets"

// ErrSecretNotFound is returned when a requested secret key does not exist.
var ErrSecretNotFound = errors.New("auth: secret not found")

// Secret is one named, encrypted-at-rest value.
type Secret struct {
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	UpdatedAt   int64  `json:"updated_at"`
}

// SecretStore is the flat key -> {value, description, updated_at} map
// encrypted at rest using a key derived from a per-install fallback file
// (SPEC_FULL §4.3), since no OS keychain is assumed available on a headless
// daemon host.
type SecretStore struct {
	mu    sync.RWMutex
	store *kvstore.Store
	key   [32]byte
}

// NewSecretStore opens (or creates) the per-install key material under
// dataDir and returns a store bound to the given KV database.
func NewSecretStore(store *kvstore.Store, dataDir string) (*SecretStore, error) {
	key, err := loadOrCreateInstallKey(dataDir)
	if err != nil {
		return nil, err
	}
	return &SecretStore{store: store, key: key}, nil
}

func loadOrCreateInstallKey(dataDir string) ([32]byte, error) {
	var key [32]byte
	path := filepath.Join(dataDir, ".restflow-install-key")
	data, err := os.ReadFile(path)
	if err == nil && len(data) >= 32 {
		copy(key[:], data[:32])
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) && err != nil {
		return key, fmt.Errorf("auth: read install key: %w", err)
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return key, fmt.Errorf("auth: generate install key: %w", err)
	}
	hk := hkdf.New(sha256.New, seed, nil, []byte("restflow-secret-store"))
	if _, err := io.ReadFull(hk, key[:]); err != nil {
		return key, fmt.Errorf("auth: derive install key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return key, err
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return key, fmt.Errorf("auth: persist install key: %w", err)
	}
	return key, nil
}

func (s *SecretStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

func (s *SecretStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, errors.New("auth: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plain, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("auth: decryption failed")
	}
	return plain, nil
}

// Set stores or overwrites a secret.
func (s *SecretStore) Set(key, value, description string, updatedAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec := Secret{Value: value, Description: description, UpdatedAt: updatedAtMs}
	plain, err := json.Marshal(sec)
	if err != nil {
		return err
	}
	cipher, err := s.encrypt(plain)
	if err != nil {
		return err
	}
	return s.store.Update(func(tx *kvstore.Tx) error {
		return tx.Bucket(tableSecrets).Put([]byte(key), cipher)
	})
}

// Get retrieves and decrypts a secret.
func (s *SecretStore) Get(key string) (Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sec Secret
	found := false
	err := s.store.View(func(tx *kvstore.Tx) error {
		v := tx.Bucket(tableSecrets).Get([]byte(key))
		if v == nil {
			return nil
		}
		plain, err := s.decrypt(v)
		if err != nil {
			return err
		}
		found = true
		return json.Unmarshal(plain, &sec)
	})
	if err != nil {
		return Secret{}, err
	}
	if !found {
		return Secret{}, ErrSecretNotFound
	}
	return sec, nil
}

// Delete removes a secret.
func (s *SecretStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Update(func(tx *kvstore.Tx) error {
		return tx.Bucket(tableSecrets).Delete([]byte(key))
	})
}

// List returns all secret keys (not their values).
func (s *SecretStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	err := s.store.View(func(tx *kvstore.Tx) error {
		return tx.Bucket(tableSecrets).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
