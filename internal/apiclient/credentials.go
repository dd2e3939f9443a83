package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CredentialStore persists the session token across process restarts,
// mirroring what the mobile app keeps in device storage.
type CredentialStore struct {
	path string
}

type storedCredentials struct {
	SessionID string `json:"session_id"`
	SavedAtMs int64  `json:"saved_at_ms"`
}

// NewCredentialStore resolves the state file location. PREP_STATE_DIR wins;
// otherwise the store lives under the user home directory.
func NewCredentialStore() (*CredentialStore, error) {
	dir := strings.TrimSpace(os.Getenv("PREP_STATE_DIR"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve state dir: %w", err)
		}
		dir = filepath.Join(home, ".ieltsprep")
	}
	return &CredentialStore{path: filepath.Join(dir, "session.json")}, nil
}

// Load returns the persisted token, or empty when none is stored.
func (s *CredentialStore) Load() (string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read credentials %s: %w", s.path, err)
	}
	var creds storedCredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return "", fmt.Errorf("parse credentials %s: %w", s.path, err)
	}
	return strings.TrimSpace(creds.SessionID), nil
}

func (s *CredentialStore) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return s.Clear()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	raw, err := json.Marshal(storedCredentials{SessionID: token, SavedAtMs: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (s *CredentialStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
