package remote

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/todo-keeper/internal/model"
)

// DefaultStateDir returns $XDG_CONFIG_HOME/todokeeper, falling back to ~/.config/todokeeper.
func DefaultStateDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "todokeeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "todokeeper")
}

// savedSession is the on-disk form of a signed-in session.
type savedSession struct {
	AccessToken string          `json:"access_token"`
	SessionID   uuid.UUID       `json:"session_id"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Principal   model.Principal `json:"principal"`
}

func (s savedSession) expired(now time.Time) bool {
	return s.AccessToken == "" || !now.Before(s.ExpiresAt)
}

// StateFile persists the session between CLI invocations. The zero value
// (empty dir) keeps nothing on disk.
type StateFile struct {
	Dir string
}

func (f StateFile) path() string { return filepath.Join(f.Dir, "session.json") }

// load returns the saved session; a missing file is not an error.
func (f StateFile) load() (*savedSession, error) {
	if f.Dir == "" {
		return nil, nil
	}
	b, err := os.ReadFile(f.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s savedSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// save writes the session atomically with owner-only permissions.
func (f StateFile) save(s savedSession) error {
	if f.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(f.Dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.Dir, "session-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path())
}

func (f StateFile) clear() error {
	if f.Dir == "" {
		return nil
	}
	err := os.Remove(f.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
