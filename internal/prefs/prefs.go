// Package prefs persists the participant's device preferences between
// meetings.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Prefs holds the last chosen microphone and camera enablement. A nil field
// means no preference was recorded.
type Prefs struct {
	MicEnabled *bool `msgpack:"mic_enabled,omitempty"`
	CamEnabled *bool `msgpack:"cam_enabled,omitempty"`
}

// Bool is a helper for filling Prefs fields.
func Bool(v bool) *bool { return &v }

// Store reads and writes Prefs in a single msgpack file.
type Store struct {
	path string
	mu   sync.Mutex
}

// DefaultPath is prefs.msgpack under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "polygo-meet", "prefs.msgpack"), nil
}

// decodeError marks a preferences file that exists but is not valid msgpack.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode preferences: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the stored preferences. A missing file yields empty Prefs.
func (s *Store) Load() (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Prefs, error) {
	var p Prefs
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read preferences: %w", err)
	}
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return Prefs{}, &decodeError{err: err}
	}
	return p, nil
}

// Save writes p atomically.
func (s *Store) Save(p Prefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(p)
}

func (s *Store) saveLocked(p Prefs) error {
	data, err := msgpack.Marshal(&p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Update loads, applies fn and saves under one lock. A file that cannot be
// decoded is replaced, starting from empty Prefs.
func (s *Store) Update(fn func(*Prefs)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadLocked()
	if err != nil {
		var decodeErr *decodeError
		if !errors.As(err, &decodeErr) {
			return err
		}
		p = Prefs{}
	}
	fn(&p)
	return s.saveLocked(p)
}
