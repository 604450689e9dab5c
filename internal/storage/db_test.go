package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenDB(t *testing.T) {
	db, err := OpenDB(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("exec on fresh db: %v", err)
	}
}

func TestOpenDBUnusableDir(t *testing.T) {
	// A regular file where the base directory should be: MkdirAll and the
	// deferred sqlite open both fail, and OpenDB must report it instead of
	// handing back a dead handle.
	base := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(base, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenDB(base); err == nil {
		t.Fatal("expected error for unusable base dir")
	}
}
