package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLockHeld means another sift invocation holds the lockfile.
var ErrLockHeld = errors.New("lockfile is held by another sift process")

// Store serializes access to one sift.lock via an advisory file lock held
// for the duration of a command.
type Store struct {
	path string
	flk  *flock.Flock
}

// Open acquires the advisory lock. A contending invocation fails
// immediately with ErrLockHeld.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	flk := flock.New(path + ".flock")
	locked, err := flk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrLockHeld
	}
	return &Store{path: path, flk: flk}, nil
}

// Path returns the lockfile location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the current lockfile.
func (s *Store) Load() (*Lockfile, error) {
	return Load(s.path)
}

// Save commits the lockfile.
func (s *Store) Save(lf *Lockfile) error {
	return Save(s.path, lf)
}

// Close releases the advisory lock.
func (s *Store) Close() error {
	return s.flk.Unlock()
}
