package repo

import (
	"testing"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/errkind"
	"github.com/rybkr/timelapse/internal/objhash"
)

func TestInit_CreatesEngineDirAndRejectsDouble(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir, objhash.SHA1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if r.Algo() != objhash.SHA1 {
		t.Errorf("Algo() = %v, want SHA1", r.Algo())
	}

	if _, err := Init(dir, objhash.SHA1); err == nil {
		t.Fatal("expected an error re-initializing an existing repository")
	} else if errkind.KindOf(err) != errkind.AlreadyInitialized {
		t.Errorf("KindOf = %v, want AlreadyInitialized", errkind.KindOf(err))
	}
}

func TestOpen_LoadsExistingRepository(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir, objhash.BLAKE3); err != nil {
		t.Fatalf("Init: %v", err)
	}

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Algo() != objhash.BLAKE3 {
		t.Errorf("Algo() = %v, want BLAKE3", r.Algo())
	}
	if r.Root() != dir {
		t.Errorf("Root() = %q, want %q", r.Root(), dir)
	}
}

func TestReadWriteHead(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir, objhash.SHA1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	zero, err := r.ReadHead()
	if err != nil {
		t.Fatalf("ReadHead on fresh repo: %v", err)
	}
	if !zero.IsZero() {
		t.Errorf("ReadHead on fresh repo = %v, want zero", zero)
	}

	id, err := checkpoint.NewID(1000)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if err := r.WriteHead(id); err != nil {
		t.Fatalf("WriteHead: %v", err)
	}
	got, err := r.ReadHead()
	if err != nil {
		t.Fatalf("ReadHead: %v", err)
	}
	if got != id {
		t.Errorf("ReadHead() = %v, want %v", got, id)
	}
}

func TestPinUnpinResolve(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir, objhash.SHA1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	id, err := checkpoint.NewID(2000)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}

	if err := r.Pin("release", id); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	got, ok, err := r.ResolvePin("release")
	if err != nil || !ok || got != id {
		t.Fatalf("ResolvePin(release) = %v, %v, %v; want %v, true, nil", got, ok, err, id)
	}

	pins, err := r.ListPins()
	if err != nil {
		t.Fatalf("ListPins: %v", err)
	}
	if pins["release"] != id {
		t.Errorf("ListPins()[release] = %v, want %v", pins["release"], id)
	}

	if err := r.Unpin("release"); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if _, ok, err := r.ResolvePin("release"); err != nil || ok {
		t.Fatalf("ResolvePin after Unpin = %v, %v; want false, nil", ok, err)
	}
	if err := r.Unpin("release"); err == nil {
		t.Fatal("expected an error unpinning a name that no longer exists")
	}
}

func TestAcquireDaemonLock_ExcludesSecondAcquirer(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir, objhash.SHA1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	lock, err := r.AcquireDaemonLock()
	if err != nil {
		t.Fatalf("first AcquireDaemonLock: %v", err)
	}
	defer lock.Release()

	if _, err := r.AcquireDaemonLock(); err == nil {
		t.Fatal("expected the second daemon lock acquisition to fail")
	} else if errkind.KindOf(err) != errkind.LockBusy {
		t.Errorf("KindOf = %v, want LockBusy", errkind.KindOf(err))
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	lock2, err := r.AcquireDaemonLock()
	if err != nil {
		t.Fatalf("AcquireDaemonLock after release: %v", err)
	}
	lock2.Release() //nolint:errcheck
}

func TestSocketAndSupportPaths_UnderEngineDir(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir, objhash.SHA1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, p := range []string{
		r.SocketPath(), r.JournalPath(), r.PathMapSnapshotPath(),
		r.WatcherStatePath(), r.HeadPath(), r.TmpDir(), r.PinsDir(), r.PublishDir(),
	} {
		if len(p) <= len(r.EngineDir()) || p[:len(r.EngineDir())] != r.EngineDir() {
			t.Errorf("path %q is not under engine dir %q", p, r.EngineDir())
		}
	}
}
