package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bft-labs/keylink/internal/domain"
)

// SessionFileStore implements ports.SessionStore with one JSON file per
// domain.
type SessionFileStore struct {
	dir string
}

// NewSessionFileStore creates a store rooted at dir.
func NewSessionFileStore(dir string) *SessionFileStore {
	return &SessionFileStore{dir: dir}
}

// Load reads the session saved for d.
// Returns found=false and nil error if no session file exists.
func (s *SessionFileStore) Load(ctx context.Context, d domain.Domain) (domain.SessionMaterial, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionMaterial{}, false, err
	}
	data, err := os.ReadFile(s.Path(d))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.SessionMaterial{}, false, nil
		}
		return domain.SessionMaterial{}, false, err
	}

	var m domain.SessionMaterial
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.SessionMaterial{}, false, fmt.Errorf("session file %s: %w", s.Path(d), err)
	}
	return m, true, nil
}

// Save writes the session for d atomically (temp file, then rename).
func (s *SessionFileStore) Save(ctx context.Context, d domain.Domain, m domain.SessionMaterial) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	path := s.Path(d)
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Delete removes the session file for d.
func (s *SessionFileStore) Delete(ctx context.Context, d domain.Domain) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.Path(d)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Path returns the session file for d.
func (s *SessionFileStore) Path(d domain.Domain) string {
	return filepath.Join(s.dir, "session-"+d.String()+".json")
}
