// Package objstore implements the content-addressed blob/tree store: a
// flat, hash-bucketed directory of Git-envelope-compatible object files.
package objstore

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rybkr/timelapse/internal/objhash"
)

// maxDecompressedSize bounds zlib expansion the same way gitcore's
// readCompressedData does, so a corrupt or hostile object can't exhaust
// memory on read.
const maxDecompressedSize = 512 << 20 // 512 MiB

// DefaultCompressThreshold is the size, in bytes, at or above which an object
// body is zlib-compressed before being written. Below it, the envelope is stored
// uncompressed: small objects dominate a typical working tree and zlib's
// per-stream overhead outweighs the space it saves on them.
const DefaultCompressThreshold = 4096

// Store is a content-addressed object store rooted at a directory. Objects
// are laid out as <root>/<hh>/<rest> where hh/rest is the hex digest split
// at its first two characters, the same fan-out convention Git uses for
// loose objects.
type Store struct {
	root              string
	algo              objhash.Algo
	compressThreshold int
	compressLevel     int
}

// Open returns a Store rooted at root, creating the root directory if it
// does not exist. algo fixes the digest width for every object the store
// reads or writes; it must match the repository's configured hash_algo.
func Open(root string, algo objhash.Algo) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: create root: %w", err)
	}
	return &Store{root: root, algo: algo, compressThreshold: DefaultCompressThreshold, compressLevel: zlib.DefaultCompression}, nil
}

// SetCompressThreshold overrides DefaultCompressThreshold.
func (s *Store) SetCompressThreshold(n int) { s.compressThreshold = n }

// SetCompressLevel overrides the zlib compression level (internal/repo.
// Config's compression_level, -2..9) applied to objects at or above the
// compress threshold. An invalid level is left to zlib.NewWriterLevel to
// reject at write time rather than silently clamped here.
func (s *Store) SetCompressLevel(n int) { s.compressLevel = n }

func (s *Store) pathFor(h objhash.Hash) string {
	dir, rest := h.SplitPath()
	return filepath.Join(s.root, dir, rest)
}

// Has reports whether an object with hash h is present in the store.
func (s *Store) Has(h objhash.Hash) bool {
	_, err := os.Stat(s.pathFor(h))
	return err == nil
}

// PutBlob stores data as a blob object and returns its hash. Storing the
// same content twice is a no-op beyond the initial stat-and-skip.
func (s *Store) PutBlob(data []byte) (objhash.Hash, error) {
	return s.put(objhash.KindBlob, data)
}

// GetBlob returns the raw content of the blob at hash h.
func (s *Store) GetBlob(h objhash.Hash) ([]byte, error) {
	kind, body, err := s.get(h)
	if err != nil {
		return nil, err
	}
	if kind != objhash.KindBlob {
		return nil, fmt.Errorf("%w: %s is a %s, not a blob", ErrCorrupt, h.Short(8), kind)
	}
	return body, nil
}

// PutTree stores a pre-serialized tree body (a sequence of TreeEntry
// records; serialization lives in package pathmap) as a tree object and
// returns its hash.
func (s *Store) PutTree(body []byte) (objhash.Hash, error) {
	return s.put(objhash.KindTree, body)
}

// GetTree returns the raw serialized body of the tree object at hash h.
func (s *Store) GetTree(h objhash.Hash) ([]byte, error) {
	kind, body, err := s.get(h)
	if err != nil {
		return nil, err
	}
	if kind != objhash.KindTree {
		return nil, fmt.Errorf("%w: %s is a %s, not a tree", ErrCorrupt, h.Short(8), kind)
	}
	return body, nil
}

// Delete removes the object at hash h. Deleting a missing object is not an
// error: retention's sweep phase may race a concurrent delete of the same
// unreferenced object and both outcomes are equally correct.
func (s *Store) Delete(h objhash.Hash) error {
	err := os.Remove(s.pathFor(h))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objstore: delete %s: %w", h.Short(8), err)
	}
	return nil
}

// Enumerate lists every object hash currently on disk, for retention's
// sweep phase. Entries whose hex-decoded width doesn't match s's algorithm
// are skipped rather than erroring, since a store is never expected to mix
// algorithms (spec.md's "implementers must not mix sizes" invariant) but a
// stray file should not abort a GC pass.
func (s *Store) Enumerate() ([]objhash.Hash, error) {
	var out []objhash.Hash
	topEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("objstore: enumerate: %w", err)
	}
	for _, top := range topEntries {
		if !top.IsDir() || len(top.Name()) != 2 {
			continue
		}
		subEntries, err := os.ReadDir(filepath.Join(s.root, top.Name()))
		if err != nil {
			return nil, fmt.Errorf("objstore: enumerate %s: %w", top.Name(), err)
		}
		for _, sub := range subEntries {
			if sub.IsDir() {
				continue
			}
			h, err := objhash.FromHex(s.algo, top.Name()+sub.Name())
			if err != nil {
				continue
			}
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *Store) put(kind objhash.Kind, body []byte) (objhash.Hash, error) {
	h := objhash.Sum(s.algo, objhash.Envelope(kind, body))
	path := s.pathFor(h)
	if _, err := os.Stat(path); err == nil {
		return h, nil // already present, content-addressed so this is the same bytes
	}

	envelope := objhash.Envelope(kind, body)
	compressed := len(body) >= s.compressThreshold
	payload := envelope
	if compressed {
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, s.compressLevel)
		if err != nil {
			return objhash.Hash{}, fmt.Errorf("objstore: compress: %w", err)
		}
		if _, err := zw.Write(envelope); err != nil {
			return objhash.Hash{}, fmt.Errorf("objstore: compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return objhash.Hash{}, fmt.Errorf("objstore: compress: %w", err)
		}
		payload = buf.Bytes()
	}

	if err := atomicWrite(filepath.Dir(path), path, payload, compressed); err != nil {
		return objhash.Hash{}, err
	}
	return h, nil
}

func (s *Store) get(h objhash.Hash) (objhash.Kind, []byte, error) {
	path := s.pathFor(h)
	raw, err := os.ReadFile(path) //nolint:gosec // path is derived from an internal hash, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, fmt.Errorf("%w: %s", ErrNotFound, h.Short(8))
		}
		return 0, nil, fmt.Errorf("objstore: read %s: %w", h.Short(8), err)
	}

	envelope, err := maybeDecompress(raw)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, h.Short(8), err)
	}

	kind, body, err := objhash.ParseEnvelope(envelope)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, h.Short(8), err)
	}

	got := objhash.Sum(s.algo, envelope)
	if !got.Equal(h) {
		return 0, nil, fmt.Errorf("%w: %s rehashes to %s", ErrCorrupt, h.Short(8), got.Short(8))
	}
	return kind, body, nil
}

// maybeDecompress tries zlib first (the envelope's own header always starts
// with "blob "/"tree ", which is never a valid zlib magic byte pair) and
// falls back to the raw bytes for objects stored under the small-object
// uncompressed path.
func maybeDecompress(raw []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return raw, nil
	}
	defer zr.Close() //nolint:errcheck

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(zr, maxDecompressedSize+1)); err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if buf.Len() > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed object exceeds %d bytes", maxDecompressedSize)
	}
	return buf.Bytes(), nil
}

// atomicWrite writes payload to path by creating a temp file in dir, fsyncing
// and closing it, renaming it into place, then fsyncing dir itself — the
// create-temp→write→fsync→rename→fsync-parent discipline needed so a crash
// mid-write never leaves a partially-written object visible at its final
// path. compressed is accepted only to keep call sites self-documenting; it
// does not change the write sequence.
func atomicWrite(dir, path string, payload []byte, _ bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("objstore: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("objstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpName) //nolint:errcheck
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("objstore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("objstore: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("objstore: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("objstore: rename into place: %w", err)
	}
	cleanup = false

	if err := fsyncDir(dir); err != nil {
		return fmt.Errorf("objstore: fsync dir: %w", err)
	}
	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // dir is an internal store path
	if err != nil {
		return err
	}
	defer d.Close() //nolint:errcheck
	return d.Sync()
}
