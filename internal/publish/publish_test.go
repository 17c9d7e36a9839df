package publish

import (
	"path/filepath"
	"testing"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/objstore"
	"github.com/rybkr/timelapse/internal/pathmap"
)

func newTestStore(t *testing.T) *objstore.Store {
	t.Helper()
	store, err := objstore.Open(filepath.Join(t.TempDir(), "objects"), objhash.SHA1)
	if err != nil {
		t.Fatalf("objstore.Open: %v", err)
	}
	return store
}

// buildOneFileTree writes a single blob and a tree pointing at it, and
// returns the tree's hash.
func buildOneFileTree(t *testing.T, store *objstore.Store, path, content string) objhash.Hash {
	t.Helper()
	blobHash, err := store.PutBlob([]byte(content))
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	entries := []pathmap.Entry{{Path: path, Kind: pathmap.KindFile, Mode: 0o644, Hash: blobHash}}
	treeHash, err := store.PutTree(pathmap.SerializeEntries(entries))
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	return treeHash
}

func testAuthor() Author {
	return Author{Name: "test", Email: "test@localhost"}
}

func TestOpen_CreatesShadowRepo(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	b, err := Open(dir, store, objhash.SHA1, testAuthor())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b.shadow == nil {
		t.Fatal("Open did not initialize a shadow repository")
	}
}

func TestPublish_RoundTripsCheckpointToCommit(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	b, err := Open(dir, store, objhash.SHA1, testAuthor())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	treeHash := buildOneFileTree(t, store, "a.txt", "hello")
	id, err := checkpoint.NewID(1000)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	cp := checkpoint.Checkpoint{
		ID:        id,
		Root:      treeHash,
		CreatedAt: 1000,
		Trigger:   checkpoint.TriggerManual,
		Message:   "first",
	}

	commit, err := b.Publish(cp)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if commit.IsZero() {
		t.Fatal("Publish returned a zero commit hash")
	}

	if got, ok := b.CommitFor(id); !ok || got != commit {
		t.Errorf("CommitFor(%v) = %v, %v; want %v, true", id, got, ok, commit)
	}
	if got, ok := b.CheckpointFor(commit); !ok || got != id {
		t.Errorf("CheckpointFor(%v) = %v, %v; want %v, true", commit, got, ok, id)
	}
}

func TestPublish_IdempotentOnRepublish(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	b, err := Open(dir, store, objhash.SHA1, testAuthor())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	treeHash := buildOneFileTree(t, store, "a.txt", "hello")
	id, err := checkpoint.NewID(1000)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	cp := checkpoint.Checkpoint{ID: id, Root: treeHash, CreatedAt: 1000, Trigger: checkpoint.TriggerManual}

	first, err := b.Publish(cp)
	if err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	second, err := b.Publish(cp)
	if err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if first != second {
		t.Errorf("republishing the same checkpoint produced a different commit: %v != %v", first, second)
	}
}

func TestPublish_SecondCheckpointChainsParent(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	b, err := Open(dir, store, objhash.SHA1, testAuthor())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tree1 := buildOneFileTree(t, store, "a.txt", "hello")
	id1, err := checkpoint.NewID(1000)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	cp1 := checkpoint.Checkpoint{ID: id1, Root: tree1, CreatedAt: 1000, Trigger: checkpoint.TriggerManual}
	if _, err := b.Publish(cp1); err != nil {
		t.Fatalf("publish cp1: %v", err)
	}

	tree2 := buildOneFileTree(t, store, "a.txt", "hello world")
	id2, err := checkpoint.NewID(2000)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	cp2 := checkpoint.Checkpoint{ID: id2, Parent: id1, Root: tree2, CreatedAt: 2000, Trigger: checkpoint.TriggerManual}
	commit2, err := b.Publish(cp2)
	if err != nil {
		t.Fatalf("publish cp2: %v", err)
	}

	obj, err := b.shadow.CommitObject(commit2)
	if err != nil {
		t.Fatalf("CommitObject: %v", err)
	}
	if len(obj.ParentHashes) != 1 {
		t.Fatalf("expected one parent commit, got %d", len(obj.ParentHashes))
	}
}

func TestOpen_ReplaysMapOnReopen(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	b1, err := Open(dir, store, objhash.SHA1, testAuthor())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	treeHash := buildOneFileTree(t, store, "a.txt", "hello")
	id, err := checkpoint.NewID(1000)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	cp := checkpoint.Checkpoint{ID: id, Root: treeHash, CreatedAt: 1000}
	commit, err := b1.Publish(cp)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	b2, err := Open(dir, store, objhash.SHA1, testAuthor())
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	if got, ok := b2.CommitFor(id); !ok || got != commit {
		t.Errorf("after reopen, CommitFor(%v) = %v, %v; want %v, true", id, got, ok, commit)
	}
}
