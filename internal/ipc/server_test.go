package ipc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rybkr/timelapse/internal/daemon"
	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/repo"
)

// serverFixture runs a real daemon behind a real ipc.Server listening on a
// temp-directory Unix socket, torn down at test cleanup.
type serverFixture struct {
	repo *repo.Repository
	d    *daemon.Daemon
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	root := t.TempDir()
	r, err := repo.Init(root, objhash.SHA1)
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}
	d, err := daemon.New(daemon.Config{Repo: r, RetentionInterval: time.Hour})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	srv := NewServer(d, nil)
	go srv.ListenAndServe(r.SocketPath()) //nolint:errcheck

	t.Cleanup(func() {
		srv.Close()
		d.Shutdown()
	})

	waitForSocket(t, r.SocketPath())
	return &serverFixture{repo: r, d: d}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func TestServer_StatusRoundTrip(t *testing.T) {
	f := newServerFixture(t)
	client, err := Dial(f.repo.SocketPath())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Call(Request{Verb: VerbStatus})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK || resp.Status == nil || !resp.Status.Running {
		t.Fatalf("unexpected status response: %+v", resp)
	}
}

func TestServer_FlushAndLog(t *testing.T) {
	f := newServerFixture(t)
	client, err := Dial(f.repo.SocketPath())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := os.WriteFile(filepath.Join(f.repo.Root(), "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	flushResp, err := client.Call(Request{Verb: VerbFlush, Paths: []string{"a.txt"}})
	if err != nil {
		t.Fatalf("Call(flush): %v", err)
	}
	if !flushResp.OK || flushResp.Checkpoint == nil {
		t.Fatalf("unexpected flush response: %+v", flushResp)
	}

	logResp, err := client.Call(Request{Verb: VerbLog})
	if err != nil {
		t.Fatalf("Call(log): %v", err)
	}
	if !logResp.OK || len(logResp.Log) != 1 {
		t.Fatalf("unexpected log response: %+v", logResp)
	}
	if logResp.Log[0].ID != flushResp.Checkpoint.ID {
		t.Errorf("log entry id = %v, want %v", logResp.Log[0].ID, flushResp.Checkpoint.ID)
	}
}

func TestServer_UnknownVerb(t *testing.T) {
	f := newServerFixture(t)
	client, err := Dial(f.repo.SocketPath())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Call(Request{Verb: Verb("bogus")})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.OK {
		t.Fatal("expected an unrecognized verb to fail")
	}
}

func TestServer_InfoNotFound(t *testing.T) {
	f := newServerFixture(t)
	client, err := Dial(f.repo.SocketPath())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Call(Request{Verb: VerbInfo, Ref: "deadbeefdeadbeefdeadbeefdeadbeef"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.OK {
		t.Fatal("expected info on an unknown ref to fail")
	}
}
