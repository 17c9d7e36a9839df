package pathmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rybkr/timelapse/internal/objhash"
)

func sampleEntries() []Entry {
	return []Entry{
		{Path: "a.txt", Kind: KindFile, Mode: 0o100644, Hash: objhash.Sum(objhash.SHA1, []byte("a"))},
		{Path: "b/c.txt", Kind: KindFile, Mode: 0o100644, Hash: objhash.Sum(objhash.SHA1, []byte("c"))},
		{Path: "b", Kind: KindDir, Mode: 0o040000, Hash: objhash.Sum(objhash.SHA1, []byte("tree-b"))},
	}
}

func TestPutGetSortedOrder(t *testing.T) {
	m := New(objhash.SHA1)
	for _, e := range sampleEntries() {
		m.Put(e)
	}
	if m.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", m.Len())
	}
	entries := m.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Path >= entries[i].Path {
			t.Fatalf("entries not sorted: %q >= %q", entries[i-1].Path, entries[i].Path)
		}
	}
	got, ok := m.Get("a.txt")
	if !ok || got.Kind != KindFile {
		t.Fatalf("Get(a.txt) = %+v, %v", got, ok)
	}
}

func TestRemove(t *testing.T) {
	m := New(objhash.SHA1)
	for _, e := range sampleEntries() {
		m.Put(e)
	}
	m.Remove("a.txt")
	if _, ok := m.Get("a.txt"); ok {
		t.Fatal("expected a.txt to be removed")
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
}

func TestSerializeEntriesUsesGitTreeFormat(t *testing.T) {
	entries := []Entry{
		{Path: "a.txt", Kind: KindFile, Mode: 0o100644, Hash: objhash.Sum(objhash.SHA1, []byte("a"))},
	}
	body := SerializeEntries(entries)

	wantPrefix := "100644 a.txt\x00"
	if string(body[:len(wantPrefix)]) != wantPrefix {
		t.Fatalf("body prefix = %q, want %q", body[:len(wantPrefix)], wantPrefix)
	}
	wantHash := entries[0].Hash.Bytes()
	gotHash := body[len(wantPrefix) : len(wantPrefix)+len(wantHash)]
	if string(gotHash) != string(wantHash) {
		t.Fatalf("trailing hash bytes = %x, want %x", gotHash, wantHash)
	}
	if len(body) != len(wantPrefix)+len(wantHash) {
		t.Fatalf("body length = %d, want %d", len(body), len(wantPrefix)+len(wantHash))
	}
}

func TestSerializeDeserializeEntriesRoundTrip(t *testing.T) {
	entries := sampleEntries()
	body := SerializeEntries(entries)

	got, err := DeserializeEntries(objhash.SHA1, body)
	if err != nil {
		t.Fatalf("DeserializeEntries: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i].Path != e.Path || got[i].Kind != e.Kind || got[i].Mode != e.Mode || !got[i].Hash.Equal(e.Hash) {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], e)
		}
	}
}

func TestDeserializeEntriesRejectsTruncatedBody(t *testing.T) {
	body := SerializeEntries(sampleEntries())
	_, err := DeserializeEntries(objhash.SHA1, body[:len(body)-1])
	if err == nil {
		t.Fatal("expected an error for a tree body truncated mid-hash")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := New(objhash.SHA1)
	for _, e := range sampleEntries() {
		m.Put(e)
	}

	data := m.Marshal()
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != m.Len() {
		t.Fatalf("Len() after round trip = %d, want %d", got.Len(), m.Len())
	}
	if !got.Anchor().Equal(m.Anchor()) {
		t.Fatal("anchor mismatch after round trip")
	}
	for _, e := range sampleEntries() {
		got2, ok := got.Get(e.Path)
		if !ok || !got2.Hash.Equal(e.Hash) || got2.Kind != e.Kind || got2.Mode != e.Mode {
			t.Fatalf("entry %q mismatch after round trip: %+v", e.Path, got2)
		}
	}
}

func TestSnapshotDetectsCorruption(t *testing.T) {
	m := New(objhash.SHA1)
	for _, e := range sampleEntries() {
		m.Put(e)
	}
	data := m.Marshal()
	// Flip the last byte, inside the final entry's hash.
	data[len(data)-1] ^= 0xFF

	if _, err := Unmarshal(data); err == nil {
		t.Fatal("expected anchor mismatch error on corrupted snapshot")
	}
}

func TestLoadWriteFile(t *testing.T) {
	m := New(objhash.SHA1)
	for _, e := range sampleEntries() {
		m.Put(e)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "pathmap.bin")
	if err := os.WriteFile(path, m.Marshal(), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != m.Len() {
		t.Fatalf("Len() = %d, want %d", got.Len(), m.Len())
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want os.IsNotExist", err)
	}
}

func TestBlake3Algo(t *testing.T) {
	m := New(objhash.BLAKE3)
	m.Put(Entry{Path: "x", Kind: KindFile, Mode: 0o100644, Hash: objhash.Sum(objhash.BLAKE3, []byte("x"))})

	data := m.Marshal()
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Algo() != objhash.BLAKE3 {
		t.Fatalf("Algo() = %v, want BLAKE3", got.Algo())
	}
}
