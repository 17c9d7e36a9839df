package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/repo"
)

func newTestDaemon(t *testing.T) (*Daemon, *repo.Repository) {
	t.Helper()
	root := t.TempDir()
	r, err := repo.Init(root, objhash.SHA1)
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}
	d, err := New(Config{Repo: r, RetentionInterval: time.Hour})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Shutdown)
	return d, r
}

func TestDaemon_FlushCreatesCheckpointAndUpdatesHead(t *testing.T) {
	d, r := newTestDaemon(t)

	if err := os.WriteFile(filepath.Join(r.Root(), "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cp, err := d.Flush(ctx, []string{"a.txt"})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if cp == nil {
		t.Fatal("expected a checkpoint from Flush")
	}
	if cp.Trigger != checkpoint.TriggerManual {
		t.Errorf("Trigger = %v, want TriggerManual", cp.Trigger)
	}

	head, err := r.ReadHead()
	if err != nil {
		t.Fatalf("ReadHead: %v", err)
	}
	if head != cp.ID {
		t.Errorf("HEAD = %v, want %v", head, cp.ID)
	}
	if got, ok := d.Journal().Get(cp.ID); !ok || got.ID != cp.ID {
		t.Errorf("journal does not contain the flushed checkpoint")
	}
}

func TestDaemon_FlushWithNoDirtyPathsIsNoop(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cp, err := d.Flush(ctx, nil)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if cp != nil {
		t.Errorf("expected no checkpoint for an empty flush, got %v", cp)
	}
}

func TestDaemon_FlushRestoreTagsTriggerRestore(t *testing.T) {
	d, r := newTestDaemon(t)

	if err := os.WriteFile(filepath.Join(r.Root(), "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.Flush(ctx, []string{"a.txt"}); err != nil {
		t.Fatalf("initial Flush: %v", err)
	}

	if err := os.WriteFile(filepath.Join(r.Root(), "a.txt"), []byte("restored"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	cp, err := d.FlushRestore(ctx, []string{"a.txt"})
	if err != nil {
		t.Fatalf("FlushRestore: %v", err)
	}
	if cp == nil {
		t.Fatal("expected a checkpoint from FlushRestore")
	}
	if cp.Trigger != checkpoint.TriggerRestore {
		t.Errorf("Trigger = %v, want TriggerRestore", cp.Trigger)
	}
}

func TestDaemon_RunRetentionSucceedsOnEmptyJournal(t *testing.T) {
	d, _ := newTestDaemon(t)
	if _, err := d.RunRetention(); err != nil {
		t.Fatalf("RunRetention: %v", err)
	}
}

func TestDaemon_PeriodicLoopRetriesDeferredPaths(t *testing.T) {
	root := t.TempDir()
	r, err := repo.Init(root, objhash.SHA1)
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}
	d, err := New(Config{Repo: r, RetentionInterval: time.Hour, ReconcileInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Shutdown)

	if err := os.WriteFile(filepath.Join(r.Root(), "retry.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	d.recordDeferred([]string{"retry.txt"})
	if d.DeferredCount() != 1 {
		t.Fatalf("DeferredCount = %d, want 1", d.DeferredCount())
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.DeferredCount() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("periodic loop never cleared the deferred path")
}

func TestDaemon_StartTwiceFailsWithLockBusy(t *testing.T) {
	root := t.TempDir()
	r, err := repo.Init(root, objhash.SHA1)
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}
	d1, err := New(Config{Repo: r})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d1.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer d1.Shutdown()

	r2, err := repo.Open(root)
	if err != nil {
		t.Fatalf("repo.Open: %v", err)
	}
	d2, err := New(Config{Repo: r2})
	if err != nil {
		t.Fatalf("daemon.New (second): %v", err)
	}
	if err := d2.Start(); err == nil {
		d2.Shutdown()
		t.Fatal("expected the second daemon's Start to fail while the first holds the lock")
	}
}
