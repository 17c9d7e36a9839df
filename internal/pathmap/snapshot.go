package pathmap

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/rybkr/timelapse/internal/objhash"
)

const (
	// snapshotMagic is the 4-byte signature beginning every PathMap snapshot
	// file, the same role gitcore's "DIRC" magic plays for the Git index.
	snapshotMagic = "PMV2"

	// snapshotVersion is the only format version this package writes or
	// accepts.
	snapshotVersion uint32 = 1
)

// Marshal serializes m into the snapshot byte format. It does not write to
// disk: pathmap itself only builds the byte buffer, and the caller persists
// it with the atomic write discipline every on-disk Timelapse artifact uses
// (see internal/objstore for the shared rationale).
func (m *Map) Marshal() []byte {
	anchor := m.Anchor()

	buf := make([]byte, 0, 4+4+1+len(anchor.Bytes())+4)
	buf = append(buf, snapshotMagic...)
	buf = binary.BigEndian.AppendUint32(buf, snapshotVersion)
	buf = append(buf, byte(m.algo))
	buf = append(buf, anchor.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.entries)))

	for _, e := range m.entries {
		buf = appendEntry(buf, e)
	}
	return buf
}

// Unmarshal parses a PathMap snapshot buffer, verifying the header, the
// bounds of every entry, and the anchor hash against the decoded entries.
func Unmarshal(data []byte) (*Map, error) {
	const headerSize = 4 + 4 + 1 // magic + version + algo byte, before the anchor
	if len(data) < headerSize {
		return nil, fmt.Errorf("pathmap: snapshot too short for header (%d bytes)", len(data))
	}
	if string(data[:4]) != snapshotMagic {
		return nil, fmt.Errorf("pathmap: bad magic %q, want %q", data[:4], snapshotMagic)
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != snapshotVersion {
		return nil, fmt.Errorf("pathmap: unsupported snapshot version %d", version)
	}
	algo := objhash.Algo(data[8])
	if algo != objhash.SHA1 && algo != objhash.BLAKE3 {
		return nil, fmt.Errorf("pathmap: unknown algo byte %d", data[8])
	}

	hashSize := algo.Size()
	offset := headerSize
	if offset+hashSize+4 > len(data) {
		return nil, fmt.Errorf("pathmap: snapshot too short for anchor+count")
	}
	anchorBytes := data[offset : offset+hashSize]
	offset += hashSize
	count := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4

	m := New(algo)
	m.entries = make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, consumed, err := parseEntry(data, offset, algo)
		if err != nil {
			return nil, fmt.Errorf("pathmap: entry %d at offset %d: %w", i, offset, err)
		}
		m.entries = append(m.entries, e)
		offset += consumed
	}
	m.reindex()

	anchor, err := objhash.FromBytes(algo, anchorBytes)
	if err != nil {
		return nil, fmt.Errorf("pathmap: malformed anchor field: %w", err)
	}
	got := m.Anchor()
	if !got.Equal(anchor) {
		return nil, fmt.Errorf("pathmap: anchor mismatch: snapshot declares %s, entries hash to %s", anchor.Short(8), got.Short(8))
	}

	return m, nil
}

func parseEntry(data []byte, offset int, algo objhash.Algo) (Entry, int, error) {
	if offset+2 > len(data) {
		return Entry{}, 0, fmt.Errorf("not enough data for path length")
	}
	pathLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2

	fixedTail := 1 + 4 + algo.Size() // kind + mode + hash
	if offset+pathLen+fixedTail > len(data) {
		return Entry{}, 0, fmt.Errorf("entry extends beyond snapshot (path len %d)", pathLen)
	}

	path := string(data[offset : offset+pathLen])
	offset += pathLen

	kind := EntryKind(data[offset])
	offset++
	mode := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	hashBytes := data[offset : offset+algo.Size()]
	offset += algo.Size()

	h, err := objhash.FromBytes(algo, hashBytes)
	if err != nil {
		return Entry{}, 0, err
	}

	consumed := 2 + pathLen + fixedTail
	return Entry{Path: path, Kind: kind, Mode: mode, Hash: h}, consumed, nil
}

// Load reads and parses a snapshot file. A missing file is reported as a
// plain *os.PathError so callers can distinguish "no snapshot yet" (a fresh
// repository) from a corrupt one with os.IsNotExist.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is the engine's own snapshot file
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
