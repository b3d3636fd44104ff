package os

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports", "40000-49999.lock")

	a, err := NewFileLock(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if err = a.TryLock(); err != nil {
		t.Fatalf("first lock failed: %v", err)
	}

	b, err := NewFileLock(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if err = b.TryLock(); !errors.Is(err, ErrLocked) {
		t.Errorf("second lock should fail with ErrLocked, got %v", err)
	}

	if err = a.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err = b.TryLock(); err != nil {
		t.Errorf("lock after release failed: %v", err)
	}
	_ = b.Unlock()
}
