// Package journal implements the append-only checkpoint log: the durable
// record of every checkpoint ever committed, replayed on daemon start to
// rebuild the in-memory checkpoint index.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/rybkr/timelapse/internal/checkpoint"
)

// recordMagic begins every record, guarding against a scan that drifts into
// the middle of a previous (corrupt) record being misread as a valid one.
const recordMagic uint32 = 0x544c4a31 // "TLJ1"

// recordVersion is the only record framing version this package writes or
// accepts; a mismatch is treated the same as a bad magic.
const recordVersion uint8 = 1

// ErrTruncated is returned by Open when the journal's tail contained a
// partial or corrupt record; Open truncates the file to the last good
// record and returns this alongside the successfully recovered Journal, per
// spec.md's crash-recovery requirement that a journal never loses committed
// records but tolerates a torn tail write.
var ErrTruncated = errors.New("journal: truncated at first bad record, recovered")

// Journal is an append-only log of checkpoints backed by a single file.
type Journal struct {
	mu      sync.Mutex
	f       *os.File
	byID    map[checkpoint.ID]int // index into order
	order   []checkpoint.ID
	records map[checkpoint.ID]checkpoint.Checkpoint
}

// Open opens (creating if absent) the journal file at path, replaying all
// records into memory. If the tail is torn, the file is truncated to the
// last good record boundary and (*Journal, ErrTruncated) is returned so the
// caller can log the recovery; the returned Journal is otherwise fully
// usable.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // engine-owned path
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	j := &Journal{
		f:       f,
		byID:    make(map[checkpoint.ID]int),
		records: make(map[checkpoint.ID]checkpoint.Checkpoint),
	}

	data, err := os.ReadFile(path) //nolint:gosec // engine-owned path
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("journal: read: %w", err)
	}

	goodLen, recErr := j.replay(data)
	if recErr != nil {
		if err := f.Truncate(int64(goodLen)); err != nil {
			f.Close() //nolint:errcheck
			return nil, fmt.Errorf("journal: truncate corrupt tail: %w", err)
		}
		if _, err := f.Seek(int64(goodLen), 0); err != nil {
			f.Close() //nolint:errcheck
			return nil, fmt.Errorf("journal: seek after truncate: %w", err)
		}
		return j, ErrTruncated
	}

	if _, err := f.Seek(0, 2); err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("journal: seek to end: %w", err)
	}
	return j, nil
}

// replay scans data record-by-record, populating the journal's in-memory
// index. It returns the byte offset through the last fully-valid record and
// a non-nil error if the tail was torn (short read or checksum mismatch),
// mirroring gitcore's incremental bounds-checked parse-loop discipline.
func (j *Journal) replay(data []byte) (int, error) {
	offset := 0
	for offset < len(data) {
		rec, consumed, err := decodeRecord(data[offset:])
		if err != nil {
			return offset, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		j.apply(rec)
		offset += consumed
	}
	return offset, nil
}

func (j *Journal) apply(cp checkpoint.Checkpoint) {
	if _, exists := j.records[cp.ID]; !exists {
		j.order = append(j.order, cp.ID)
		j.byID[cp.ID] = len(j.order) - 1
	}
	j.records[cp.ID] = cp
}

// Append writes cp as a new record and fsyncs the journal file before
// returning, so a caller that has received a successful Append may treat cp
// as durably committed.
func (j *Journal) Append(cp checkpoint.Checkpoint) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	buf, err := encodeRecord(cp)
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	if _, err := j.f.Write(buf); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("journal: fsync: %w", err)
	}
	j.apply(cp)
	return nil
}

// Latest returns the most recently appended checkpoint.
func (j *Journal) Latest() (checkpoint.Checkpoint, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.order) == 0 {
		return checkpoint.Checkpoint{}, false
	}
	return j.records[j.order[len(j.order)-1]], true
}

// Get returns the checkpoint with the given id.
func (j *Journal) Get(id checkpoint.ID) (checkpoint.Checkpoint, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp, ok := j.records[id]
	return cp, ok
}

// LastN returns up to n most recent checkpoints, most recent first.
func (j *Journal) LastN(n int) []checkpoint.Checkpoint {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n > len(j.order) {
		n = len(j.order)
	}
	out := make([]checkpoint.Checkpoint, 0, n)
	for i := len(j.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, j.records[j.order[i]])
	}
	return out
}

// Since returns all checkpoints created at or after unixMillis, oldest
// first.
func (j *Journal) Since(unixMillis int64) []checkpoint.Checkpoint {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []checkpoint.Checkpoint
	for _, id := range j.order {
		cp := j.records[id]
		if cp.CreatedAt >= unixMillis {
			out = append(out, cp)
		}
	}
	return out
}

// All returns every checkpoint, oldest first. Used by retention's live-set
// computation and by the end-to-end "log" listing.
func (j *Journal) All() []checkpoint.Checkpoint {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]checkpoint.Checkpoint, 0, len(j.order))
	for _, id := range j.order {
		out = append(out, j.records[id])
	}
	return out
}

// SetPinned updates the pin state of an existing checkpoint by appending a
// new record with the same ID — the journal is append-only, so a pin/unpin
// is itself a new record whose later position in the log wins on replay,
// exactly like Git's own "later ref update wins" semantics.
func (j *Journal) SetPinned(id checkpoint.ID, pinned bool, pinName string) error {
	j.mu.Lock()
	cp, ok := j.records[id]
	j.mu.Unlock()
	if !ok {
		return fmt.Errorf("journal: unknown checkpoint %s", id)
	}
	cp.Pinned = pinned
	if pinned {
		cp.PinName = pinName
	} else {
		cp.PinName = ""
	}
	return j.Append(cp)
}

// Delete removes the record for id from the journal, used by retention's
// prune step (spec.md GC step 4) to keep the journal's live set in sync
// with what the object store still holds. The journal is append-only on
// disk, so Delete rewrites the file from the in-memory index with id
// excluded, using the same create-temp-then-rename discipline as every
// other on-disk artifact in this repository (see objstore.atomicWrite,
// repo.atomicWriteFile). A missing id is a no-op.
func (j *Journal) Delete(id checkpoint.ID) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	idx, ok := j.byID[id]
	if !ok {
		return nil
	}

	var buf bytes.Buffer
	for i, rid := range j.order {
		if i == idx {
			continue
		}
		rec, err := encodeRecord(j.records[rid])
		if err != nil {
			return fmt.Errorf("journal: encode during prune: %w", err)
		}
		buf.Write(rec)
	}

	path := j.f.Name()
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("journal: create temp for prune: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()         //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("journal: write temp for prune: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()         //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("journal: fsync temp for prune: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("journal: close temp for prune: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("journal: rename temp for prune: %w", err)
	}

	if err := j.f.Close(); err != nil {
		return fmt.Errorf("journal: close old handle after prune: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // engine-owned path
	if err != nil {
		return fmt.Errorf("journal: reopen after prune: %w", err)
	}
	if _, err := f.Seek(0, 2); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("journal: seek to end after prune: %w", err)
	}
	j.f = f

	delete(j.records, id)
	j.order = append(j.order[:idx], j.order[idx+1:]...)
	delete(j.byID, id)
	for i, rid := range j.order {
		j.byID[rid] = i
	}
	return nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

func encodeRecord(cp checkpoint.Checkpoint) ([]byte, error) {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(cp); err != nil {
		return nil, err
	}
	body := payload.Bytes()

	checksum := crc32.ChecksumIEEE(body)

	buf := make([]byte, 0, 4+1+4+4+len(body))
	buf = binary.BigEndian.AppendUint32(buf, recordMagic)
	buf = append(buf, recordVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	buf = binary.BigEndian.AppendUint32(buf, checksum)
	buf = append(buf, body...)
	return buf, nil
}

// decodeRecord decodes one record from the front of data, returning the
// checkpoint and the number of bytes consumed.
func decodeRecord(data []byte) (checkpoint.Checkpoint, int, error) {
	const headerSize = 4 + 1 + 4 + 4
	if len(data) < headerSize {
		return checkpoint.Checkpoint{}, 0, fmt.Errorf("short header (%d bytes)", len(data))
	}
	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != recordMagic {
		return checkpoint.Checkpoint{}, 0, fmt.Errorf("bad record magic %x", magic)
	}
	version := data[4]
	if version != recordVersion {
		return checkpoint.Checkpoint{}, 0, fmt.Errorf("unsupported record version %d", version)
	}
	length := binary.BigEndian.Uint32(data[5:9])
	checksum := binary.BigEndian.Uint32(data[9:13])

	if headerSize+int(length) > len(data) {
		return checkpoint.Checkpoint{}, 0, fmt.Errorf("record declares %d bytes, only %d available", length, len(data)-headerSize)
	}
	body := data[headerSize : headerSize+int(length)]
	if got := crc32.ChecksumIEEE(body); got != checksum {
		return checkpoint.Checkpoint{}, 0, fmt.Errorf("checksum mismatch: declared %x, computed %x", checksum, got)
	}

	var cp checkpoint.Checkpoint
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&cp); err != nil {
		return checkpoint.Checkpoint{}, 0, fmt.Errorf("decode payload: %w", err)
	}
	return cp, headerSize + int(length), nil
}
