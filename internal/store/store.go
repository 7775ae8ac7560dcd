// Package store persists the relay state across restarts.
package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// State is what survives a restart.
type State struct {
	Relay   bool      `yaml:"relay"`
	SavedAt time.Time `yaml:"saved_at"`
}

// Store reads and writes a single YAML state file.
type Store struct {
	fs   afero.Fs
	path string
}

// New creates a Store for path on fs.
func New(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved state. A missing file is not an error and yields
// the zero State (relay off).
func (s *Store) Load() (State, error) {
	var st State
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, errors.Wrapf(err, "read state %s", s.path)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, errors.Wrapf(err, "parse state %s", s.path)
	}
	return st, nil
}

// Save writes st atomically: the data goes to a temp file in the same
// directory which is then renamed over the old one.
func (s *Store) Save(st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create state dir %s", dir)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write state %s", tmp)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		s.fs.Remove(tmp)
		return errors.Wrapf(err, "rename state %s", s.path)
	}
	return nil
}
