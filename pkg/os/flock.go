package os

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var ErrLocked = errors.New("locked by another process")

type Flock struct {
	f *flock.Flock
}

// NewFileLock creates a lock file, an empty path means
// a file in the temp dir with the given name.
func NewFileLock(path string, name string) (*Flock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), name+".lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}
	return &Flock{f: flock.New(path)}, nil
}

// TryLock takes the lock without waiting.
func (f *Flock) TryLock() error {
	ok, err := f.f.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", f.f.Path(), ErrLocked)
	}
	return nil
}

func (f *Flock) Unlock() error { return f.f.Unlock() }
