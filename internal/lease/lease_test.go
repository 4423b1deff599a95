package lease

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileLease(t *testing.T) {
	dir := t.TempDir()

	lk, err := Acquire(context.Background(), nil, "ipfix.flows", dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Second acquisition for the same table must fail while held.
	if _, err := Acquire(context.Background(), nil, "ipfix.flows", dir); !errors.Is(err, ErrHeld) {
		t.Errorf("concurrent acquire error = %v, want ErrHeld", err)
	}

	// A different table is independent.
	other, err := Acquire(context.Background(), nil, "ipfix.sessions", dir)
	if err != nil {
		t.Fatalf("acquire for other table failed: %v", err)
	}
	if err := other.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}

	if err := lk.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Released lease can be re-acquired.
	again, err := Acquire(context.Background(), nil, "ipfix.flows", dir)
	if err != nil {
		t.Fatalf("re-acquire after release failed: %v", err)
	}
	_ = again.Release()
}

func TestFileLeaseSanitizesTableName(t *testing.T) {
	dir := t.TempDir()

	lk, err := Acquire(context.Background(), nil, "db/evil..name", dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer func() { _ = lk.Release() }()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 lockfile, found %d", len(entries))
	}
	name := entries[0].Name()
	if filepath.Base(name) != name {
		t.Errorf("lockfile escaped the directory: %q", name)
	}
}

func TestFileLeaseReleaseIdempotentOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	lk, err := Acquire(context.Background(), nil, "events", dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lk.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lk.Release(); err != nil {
		t.Errorf("second Release errored: %v", err)
	}
}
