package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// SessionState stores the CLI's editor session.
type SessionState struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
	LastRunID string `json:"last_run_id,omitempty"`
}

// Load reads the state at path and assigns a fresh session id when none is stored.
func Load(path string) (SessionState, error) {
	var st SessionState
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return st, fmt.Errorf("read session state failed: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &st); err != nil {
			return st, fmt.Errorf("parse session state failed: %w", err)
		}
	}
	if st.SessionID == "" {
		st.SessionID = uuid.NewString()
	}
	return st, nil
}

func Save(path string, st SessionState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session state failed: %w", err)
	}
	return nil
}
