package objstore

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/rybkr/timelapse/internal/objhash"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), objhash.SHA1)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPutGetBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	data := []byte("hello timelapse")

	h, err := s.PutBlob(data)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Has(h) {
		t.Fatal("Has should report true after Put")
	}

	got, err := s.GetBlob(h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("GetBlob = %q, want %q", got, data)
	}
}

func TestPutBlobDeterministicHash(t *testing.T) {
	s := newTestStore(t)
	data := []byte("same content")

	h1, err := s.PutBlob(data)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.PutBlob(data)
	if err != nil {
		t.Fatal(err)
	}
	if !h1.Equal(h2) {
		t.Fatal("identical content must hash identically")
	}
}

func TestLargeBlobCompressed(t *testing.T) {
	s := newTestStore(t)
	s.SetCompressThreshold(16)
	data := bytes.Repeat([]byte("x"), 1024)

	h, err := s.PutBlob(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetBlob(h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("compressed round trip mismatch")
	}
}

func TestCompressLevelHonoredOnRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.SetCompressThreshold(16)
	s.SetCompressLevel(9)
	data := bytes.Repeat([]byte("y"), 1024)

	h, err := s.PutBlob(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetBlob(h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("compressed round trip mismatch at non-default level")
	}
}

func TestInvalidCompressLevelRejectedAtWrite(t *testing.T) {
	s := newTestStore(t)
	s.SetCompressThreshold(16)
	s.SetCompressLevel(42) // out of zlib's -2..9 range

	_, err := s.PutBlob(bytes.Repeat([]byte("z"), 1024))
	if err == nil {
		t.Fatal("expected an error from an invalid compression level")
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	h := objhash.Sum(objhash.SHA1, []byte("never stored"))
	_, err := s.GetBlob(h)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCorruptObjectDetected(t *testing.T) {
	s := newTestStore(t)
	h, err := s.PutBlob([]byte("original"))
	if err != nil {
		t.Fatal(err)
	}

	path := s.pathFor(h)
	if err := os.WriteFile(path, []byte("blob 7\x00tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = s.GetBlob(h)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestWrongKindRejected(t *testing.T) {
	s := newTestStore(t)
	h, err := s.PutTree([]byte("tree body"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.GetBlob(h)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("GetBlob on a tree hash: err = %v, want ErrCorrupt", err)
	}
}

func TestEnumerate(t *testing.T) {
	s := newTestStore(t)
	h1, err := s.PutBlob([]byte("one"))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.PutTree([]byte("two"))
	if err != nil {
		t.Fatal(err)
	}

	hashes, err := s.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, h := range hashes {
		seen[h.String()] = true
	}
	if !seen[h1.String()] || !seen[h2.String()] {
		t.Fatalf("Enumerate() = %v, missing %s or %s", hashes, h1, h2)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	h, err := s.PutBlob([]byte("to delete"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(h); err != nil {
		t.Fatal(err)
	}
	if s.Has(h) {
		t.Fatal("object should be gone after Delete")
	}
	if err := s.Delete(h); err != nil {
		t.Fatalf("deleting a missing object should not error, got %v", err)
	}
}
