// Package pathmap implements the PathMap: the in-memory sorted path index
// that anchors a checkpoint's tree, plus its on-disk snapshot format.
package pathmap

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/rybkr/timelapse/internal/objhash"
)

// EntryKind identifies what a PathMap entry represents.
type EntryKind uint8

const (
	// KindFile is a regular tracked file, addressed by its blob hash.
	KindFile EntryKind = iota
	// KindDir is a subdirectory, addressed by its tree hash.
	KindDir
	// KindSymlink is a symbolic link, addressed by the blob hash of its
	// target path text.
	KindSymlink
)

// String implements fmt.Stringer exhaustively; an unknown value panics.
func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		panic(fmt.Sprintf("pathmap: invalid EntryKind %d", int(k)))
	}
}

// Entry is one tracked path: its kind, its POSIX mode bits, and the content
// address of what it points to (a blob for files/symlinks, a tree for dirs).
type Entry struct {
	Path string
	Kind EntryKind
	Mode uint32
	Hash objhash.Hash
}

// Map is the in-memory sorted path→entry index. The updater keeps one flat
// Map for the whole repository: every tracked file and symlink by its full
// relative path, plus one KindDir entry per directory holding that
// directory's subtree hash (see internal/updater).
type Map struct {
	algo    objhash.Algo
	entries []Entry // kept sorted by Path
	byPath  map[string]int
}

// New returns an empty Map for the given hash algorithm.
func New(algo objhash.Algo) *Map {
	return &Map{algo: algo, byPath: make(map[string]int)}
}

// Algo reports the Map's hash algorithm.
func (m *Map) Algo() objhash.Algo { return m.algo }

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.entries) }

// Entries returns the entries in sorted path order. The returned slice must
// not be mutated.
func (m *Map) Entries() []Entry { return m.entries }

// Get looks up an entry by path.
func (m *Map) Get(path string) (Entry, bool) {
	i, ok := m.byPath[path]
	if !ok {
		return Entry{}, false
	}
	return m.entries[i], true
}

// Put inserts or replaces the entry for path, keeping entries sorted.
func (m *Map) Put(e Entry) {
	if i, ok := m.byPath[e.Path]; ok {
		m.entries[i] = e
		return
	}
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Path >= e.Path })
	m.entries = append(m.entries, Entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = e
	m.reindex()
}

// Remove deletes the entry for path, if present.
func (m *Map) Remove(path string) {
	i, ok := m.byPath[path]
	if !ok {
		return
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	delete(m.byPath, path)
	m.reindex()
}

func (m *Map) reindex() {
	for i, e := range m.entries {
		m.byPath[e.Path] = i
	}
}

// SerializeEntries encodes entries (already sorted by Path) into the
// canonical Git tree object body: a sequence of
// "<octal-mode> <path>\0<raw-hash-bytes>" records, the same per-directory
// tree format `git cat-file -p <tree>` prints and `writeTree` decodes back.
// This is the tree object body stored in the object store (wrapped in a
// "tree <n>\0" envelope by objstore.PutTree). The PathMap snapshot uses its
// own length-prefixed record format (see snapshot.go's appendEntry /
// parseEntry) since it is never read by anything outside this package.
func SerializeEntries(entries []Entry) []byte {
	var out []byte
	for _, e := range entries {
		out = appendGitTreeEntry(out, e)
	}
	return out
}

func appendGitTreeEntry(out []byte, e Entry) []byte {
	out = append(out, []byte(strconv.FormatUint(uint64(e.Mode), 8))...)
	out = append(out, ' ')
	out = append(out, []byte(e.Path)...)
	out = append(out, 0)
	out = append(out, e.Hash.Bytes()...)
	return out
}

func appendEntry(out []byte, e Entry) []byte {
	path := []byte(e.Path)
	if len(path) > 0xFFFF {
		panic(fmt.Sprintf("pathmap: path too long: %d bytes", len(path)))
	}
	out = append(out, byte(len(path)>>8), byte(len(path)))
	out = append(out, path...)
	out = append(out, byte(e.Kind))
	out = append(out, byte(e.Mode>>24), byte(e.Mode>>16), byte(e.Mode>>8), byte(e.Mode))
	out = append(out, e.Hash.Bytes()...)
	return out
}

// DeserializeEntries parses a Git tree object body (as produced by
// SerializeEntries) back into entries. It is the inverse used when the
// updater, publish bridge, or retention's mark phase needs to walk a tree
// object's children.
func DeserializeEntries(algo objhash.Algo, body []byte) ([]Entry, error) {
	var entries []Entry
	offset := 0
	for offset < len(body) {
		e, consumed, err := parseGitTreeEntry(body, offset, algo)
		if err != nil {
			return nil, fmt.Errorf("pathmap: tree body entry at offset %d: %w", offset, err)
		}
		entries = append(entries, e)
		offset += consumed
	}
	return entries, nil
}

func parseGitTreeEntry(body []byte, offset int, algo objhash.Algo) (Entry, int, error) {
	start := offset
	sp := bytes.IndexByte(body[offset:], ' ')
	if sp < 0 {
		return Entry{}, 0, fmt.Errorf("missing mode separator")
	}
	modeStr := string(body[offset : offset+sp])
	mode, err := strconv.ParseUint(modeStr, 8, 32)
	if err != nil {
		return Entry{}, 0, fmt.Errorf("bad octal mode %q: %w", modeStr, err)
	}
	offset += sp + 1

	nul := bytes.IndexByte(body[offset:], 0)
	if nul < 0 {
		return Entry{}, 0, fmt.Errorf("missing path terminator")
	}
	path := string(body[offset : offset+nul])
	offset += nul + 1

	hashSize := algo.Size()
	if offset+hashSize > len(body) {
		return Entry{}, 0, fmt.Errorf("entry extends beyond tree body")
	}
	h, err := objhash.FromBytes(algo, body[offset:offset+hashSize])
	if err != nil {
		return Entry{}, 0, err
	}
	offset += hashSize

	kind := KindFile
	switch uint32(mode) {
	case 0o040000:
		kind = KindDir
	case 0o120000:
		kind = KindSymlink
	}
	return Entry{Path: path, Kind: kind, Mode: uint32(mode), Hash: h}, offset - start, nil
}

// AnchorHash computes the PathMap snapshot's self-check field: the hash of
// the canonical serialized entry list. Unlike a tree object's content
// address (which is looked up by other trees that reference it), the anchor
// hash exists purely so a snapshot can detect its own corruption on load —
// the Git index this format is adapted from has no equivalent, relying
// instead on working-tree stat comparison, which is exactly the gap this
// field closes per the PathMap invariant that a snapshot must self-verify.
func AnchorHash(algo objhash.Algo, entries []Entry) objhash.Hash {
	return objhash.Sum(algo, SerializeEntries(entries))
}

// Anchor returns the current anchor hash of m's entries.
func (m *Map) Anchor() objhash.Hash {
	return AnchorHash(m.algo, m.entries)
}
