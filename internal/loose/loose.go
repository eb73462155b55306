// Package loose provides the per-directory handle for loose objects.
package loose

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Store refers to one objects directory holding loose objects in
// two-character fan-out subdirectories.
type Store struct {
	path string
}

// At returns a Store rooted at the objects directory dir. It performs no I/O.
func At(dir string) *Store {
	return &Store{path: filepath.Clean(dir)}
}

// Path returns the objects directory.
func (s *Store) Path() string { return s.path }

// ObjectPath returns where the loose object with the given hex id lives.
func (s *Store) ObjectPath(hexID string) (string, error) {
	if len(hexID) < 3 {
		return "", errors.Errorf("object id %q too short", hexID)
	}
	return filepath.Join(s.path, hexID[:2], hexID[2:]), nil
}

// Contains reports whether a loose object with the given hex id exists.
func (s *Store) Contains(hexID string) (bool, error) {
	p, err := s.ObjectPath(hexID)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "stat loose object %s", p)
	}
	return true, nil
}
