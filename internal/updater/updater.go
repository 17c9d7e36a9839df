// Package updater implements the Incremental Updater: the performance
// critical core that turns a batch of candidate dirty paths into a new
// root tree hash and an appended checkpoint, without rescanning the
// repository (spec.md section 4.4).
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/errkind"
	"github.com/rybkr/timelapse/internal/events"
	"github.com/rybkr/timelapse/internal/ignore"
	"github.com/rybkr/timelapse/internal/journal"
	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/objstore"
	"github.com/rybkr/timelapse/internal/pathmap"
	"github.com/rybkr/timelapse/internal/treecache"
)

// DefaultMaxRetries is the double-stat retry budget spec.md step 2
// describes ("retry with exponential backoff up to R times (default 3)").
const DefaultMaxRetries = 3

// DefaultStatTimeout bounds a single file's hash/read attempt in the
// worker pool (spec.md section 5 "Worker-pool hash operations have
// per-file timeouts").
const DefaultStatTimeout = 5 * time.Second

// DefaultSnapshotEvery is the PathMap snapshot cadence (spec.md section
// 4.3 "rewritten every N checkpoints (default 100)").
const DefaultSnapshotEvery = 100

// Config wires an Updater to its dependencies. Root, Algo, Store, Journal,
// PathMap and SnapshotPath are required; Ignore and TreeCache may be nil;
// MaxRetries, WorkerLimit, StatTimeout, SnapshotEvery and Logger take
// defaults when left zero.
type Config struct {
	Root          string // absolute working tree root
	Algo          objhash.Algo
	Store         *objstore.Store
	Journal       *journal.Journal
	PathMap       *pathmap.Map // flat, persisted: leaf file/symlink entries plus directory subtree-hash cache entries
	Ignore        *ignore.Matcher
	TreeCache     *treecache.Cache[[]byte]
	SnapshotPath  string
	MaxRetries    uint64
	WorkerLimit   int
	StatTimeout   time.Duration
	SnapshotEvery int
	Logger        *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.WorkerLimit <= 0 {
		c.WorkerLimit = max(1, runtime.NumCPU()-1)
	}
	if c.StatTimeout <= 0 {
		c.StatTimeout = DefaultStatTimeout
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = DefaultSnapshotEvery
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Updater is the incremental updater. It is not safe for concurrent use:
// the daemon serializes batches through a single Updater task, which is
// the Updater lock spec.md section 5 describes.
type Updater struct {
	cfg           Config
	sinceSnapshot int
}

// New constructs an Updater. cfg.PathMap should already be loaded from its
// snapshot (or freshly created for "init") by the caller.
func New(cfg Config) *Updater {
	cfg.setDefaults()
	return &Updater{cfg: cfg}
}

// Result reports what Reconcile did.
type Result struct {
	Checkpoint *checkpoint.Checkpoint // nil if the batch was a no-op
	Deferred   []string               // paths that failed the double-stat stability check and should be retried
}

// pendingOp is one normalized, reconciled change to apply to the PathMap.
type pendingOp struct {
	path    string
	remove  bool
	kind    pathmap.EntryKind
	mode    uint32
	content []byte // raw bytes to store as a blob; nil for a removal
}

// Reconcile runs one batch through spec.md section 4.4 steps 1-9 under the
// Updater lock. It returns (nil Checkpoint, no error) when the batch
// produced no real change, matching the "no checkpoint on an empty diff"
// and "no checkpoint when the new root equals the parent's" dedup rules.
func (u *Updater) Reconcile(ctx context.Context, batch events.Batch, trigger checkpoint.Trigger) (Result, error) {
	candidates := u.normalize(batch.Paths)
	if len(candidates) == 0 {
		return Result{}, nil
	}

	ops, deferred, err := u.reconcilePaths(ctx, candidates)
	if err != nil {
		return Result{}, err
	}
	if len(ops) == 0 {
		return Result{Deferred: deferred}, nil
	}

	touched := make([]string, 0, len(ops))
	var stats checkpoint.Stats
	for path, op := range ops {
		touched = append(touched, path)
		if op.remove {
			u.cfg.PathMap.Remove(path)
			continue
		}
		h, err := u.cfg.Store.PutBlob(op.content)
		if err != nil {
			return Result{}, errkind.Wrap(errkind.IoError, err, "updater: write blob for "+path)
		}
		stats.BlobsWritten++
		stats.BytesWritten += int64(len(op.content))
		u.cfg.PathMap.Put(pathmap.Entry{Path: path, Kind: op.kind, Mode: op.mode, Hash: h})
	}
	sort.Strings(touched)
	stats.PathsTouched = len(touched)

	rootHash, treesWritten, err := u.recomputeTrees(touched)
	if err != nil {
		return Result{}, err
	}
	stats.TreesWritten = treesWritten

	parent, _ := u.cfg.Journal.Latest()
	if rootHash.Equal(parent.Root) {
		// No-op batch: the reconciled content hashes back to the parent's
		// tree (spec.md step 8's root-hash dedup). The PathMap mutations
		// above still stand; they just didn't move the tree.
		return Result{Deferred: deferred}, nil
	}

	id, err := checkpoint.NewID(time.Now().UnixMilli())
	if err != nil {
		return Result{}, fmt.Errorf("updater: %w", err)
	}
	cp := checkpoint.Checkpoint{
		ID:           id,
		Parent:       parent.ID,
		Root:         rootHash,
		CreatedAt:    time.Now().UnixMilli(),
		Trigger:      trigger,
		TouchedPaths: touched,
		Stats:        stats,
	}
	if err := u.cfg.Journal.Append(cp); err != nil {
		return Result{}, errkind.Wrap(errkind.IoError, err, "updater: append journal record")
	}

	u.sinceSnapshot++
	if u.sinceSnapshot >= u.cfg.SnapshotEvery {
		if err := u.writeSnapshot(); err != nil {
			u.cfg.Logger.Warn("pathmap snapshot write failed", "err", err)
		} else {
			u.sinceSnapshot = 0
		}
	}

	return Result{Checkpoint: &cp, Deferred: deferred}, nil
}

// writeSnapshot persists the PathMap to its configured snapshot path.
func (u *Updater) writeSnapshot() error {
	return atomicWrite(u.cfg.SnapshotPath, u.cfg.PathMap.Marshal())
}

// normalize implements step 1: strip to repo-relative, NFC-normalize
// (cross-platform path identity, e.g. macOS HFS+ NFD vs everything-else
// NFC), drop ignored/engine-prefixed paths, and deduplicate.
func (u *Updater) normalize(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = filepath.ToSlash(p)
		p = strings.TrimPrefix(p, "/")
		p = strings.TrimSuffix(p, "/")
		if p == "" || p == "." {
			continue
		}
		p = norm.NFC.String(p)
		if u.cfg.Ignore != nil && u.cfg.Ignore.IsIgnored(p, false) {
			continue
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// reconcileResult is the outcome of reconciling a single candidate path.
type reconcileResult struct {
	path     string
	op       *pendingOp // nil if the path needs no change (unchanged or a directory)
	unstable bool
}

// reconcilePaths implements step 2 over the whole candidate set using a
// bounded worker pool (spec.md section 5), reducing every result back in
// this (single) goroutine before any mutation happens, per the
// "suspends only awaiting worker-pool results" concurrency rule.
func (u *Updater) reconcilePaths(ctx context.Context, candidates []string) (map[string]*pendingOp, []string, error) {
	results := make([]reconcileResult, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.WorkerLimit)
	for i, path := range candidates {
		i, path := i, path
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, u.cfg.StatTimeout)
			defer cancel()
			res, err := u.reconcileOne(fctx, path)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errkind.Wrap(errkind.IoError, err, "updater: reconcile batch")
	}

	ops := make(map[string]*pendingOp)
	var deferred []string
	for _, r := range results {
		switch {
		case r.unstable:
			deferred = append(deferred, r.path)
		case r.op != nil:
			ops[r.path] = r.op
		}
	}
	return ops, deferred, nil
}

func (u *Updater) reconcileOne(ctx context.Context, path string) (reconcileResult, error) {
	abs := filepath.Join(u.cfg.Root, filepath.FromSlash(path))

	fi, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if _, ok := u.cfg.PathMap.Get(path); ok {
				return reconcileResult{path: path, op: &pendingOp{path: path, remove: true}}, nil
			}
			return reconcileResult{path: path}, nil
		}
		return reconcileResult{}, fmt.Errorf("lstat %s: %w", path, err)
	}

	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(abs)
		if err != nil {
			return reconcileResult{}, fmt.Errorf("readlink %s: %w", path, err)
		}
		op := &pendingOp{path: path, kind: pathmap.KindSymlink, mode: 0o120000, content: []byte(target)}
		return reconcileResult{path: path, op: op}, nil

	case fi.IsDir():
		// Directories are implied by child paths, not entries in their own
		// right (spec.md step 2); the recursive watch registration in
		// internal/events already emits individual events for new children.
		return reconcileResult{path: path}, nil

	case fi.Mode().IsRegular():
		content, stable, err := u.stableRead(ctx, abs, fi)
		if err != nil {
			return reconcileResult{}, err
		}
		if !stable {
			return reconcileResult{path: path, unstable: true}, nil
		}
		mode := uint32(0o100644)
		if fi.Mode().Perm()&0o111 != 0 {
			mode = 0o100755
		}
		op := &pendingOp{path: path, kind: pathmap.KindFile, mode: mode, content: content}
		return reconcileResult{path: path, op: op}, nil

	default:
		// Device files, sockets, etc. are not tracked.
		return reconcileResult{path: path}, nil
	}
}

// stableRead implements the double-stat stable read (spec.md step 2):
// stat, read, stat again; on disagreement retry with exponential backoff
// up to Config.MaxRetries, using go-retry the way a one-shot operation
// library is meant to be used.
func (u *Updater) stableRead(ctx context.Context, abs string, fi os.FileInfo) ([]byte, bool, error) {
	var content []byte
	stable := false

	base, err := retry.NewExponential(10 * time.Millisecond)
	if err != nil {
		return nil, false, fmt.Errorf("updater: build backoff: %w", err)
	}
	backoff := retry.WithMaxRetries(u.cfg.MaxRetries, base)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		s1size, s1mtime := fi.Size(), fi.ModTime()

		data, err := os.ReadFile(abs) //nolint:gosec // abs is derived from a repo-relative dirty path
		if err != nil {
			if os.IsNotExist(err) {
				// Deleted mid-read: report it unstable so the caller defers
				// it; the retry finds it absent and records the removal.
				stable = false
				return nil
			}
			return retry.RetryableError(err)
		}

		fi2, err := os.Lstat(abs)
		if err != nil {
			return retry.RetryableError(err)
		}

		if fi2.Size() != s1size || !fi2.ModTime().Equal(s1mtime) {
			fi = fi2 // the next attempt compares against this newer stat
			return retry.RetryableError(fmt.Errorf("unstable: %s changed during read", abs))
		}

		content = data
		stable = true
		return nil
	})
	if err != nil {
		// Exhausted retries: defer the path rather than fail the batch.
		return nil, false, nil
	}
	return content, stable, nil
}

// recomputeTrees implements step 6 (hierarchical/directory-Merkle
// strategy) and step 7 (writing new tree objects): only directories along
// the ancestry of a touched path are rehashed, bottom-up, using the
// PathMap's own flat entry list as the per-directory child cache so a
// directory's immediate children can be read back without a filesystem
// walk.
func (u *Updater) recomputeTrees(touchedPaths []string) (objhash.Hash, int, error) {
	dirty := map[string]int{} // dir path -> depth, for deepest-first ordering
	for _, p := range touchedPaths {
		d := parentOf(p)
		for {
			if _, ok := dirty[d]; !ok {
				dirty[d] = depthOf(d)
			}
			if d == "" {
				break
			}
			d = parentOf(d)
		}
	}

	dirs := make([]string, 0, len(dirty))
	for d := range dirty {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool { return dirty[dirs[i]] > dirty[dirs[j]] })

	var rootHash objhash.Hash
	treesWritten := 0
	for _, d := range dirs {
		children := u.childrenOf(d)
		if len(children) == 0 && d != "" {
			u.cfg.PathMap.Remove(d)
			continue
		}

		rel := make([]pathmap.Entry, len(children))
		for i, c := range children {
			rel[i] = pathmap.Entry{Path: basename(c.Path), Kind: c.Kind, Mode: c.Mode, Hash: c.Hash}
		}
		body := pathmap.SerializeEntries(rel)
		h, err := u.writeTreeCached(body)
		if err != nil {
			return objhash.Hash{}, 0, errkind.Wrap(errkind.IoError, err, "updater: write tree for "+d)
		}
		treesWritten++

		if d == "" {
			rootHash = h
			continue
		}
		u.cfg.PathMap.Put(pathmap.Entry{Path: d, Kind: pathmap.KindDir, Mode: 0o040000, Hash: h})
	}
	return rootHash, treesWritten, nil
}

// writeTreeCached stores a directory's serialized tree body, consulting the
// LRU tree cache first: a directory that returns to an earlier state
// (content reverted, or two siblings rehashed to the same body) recomputes
// the same hash and bytes on every pass, so a cache hit skips the object
// store's stat-and-maybe-compress write path entirely. A miss falls
// through to the store and populates the cache for next time.
func (u *Updater) writeTreeCached(body []byte) (objhash.Hash, error) {
	if u.cfg.TreeCache != nil {
		h := objhash.Sum(u.cfg.Algo, objhash.Envelope(objhash.KindTree, body))
		if _, ok := u.cfg.TreeCache.Get(h.String()); ok {
			return h, nil
		}
	}
	h, err := u.cfg.Store.PutTree(body)
	if err != nil {
		return objhash.Hash{}, err
	}
	if u.cfg.TreeCache != nil {
		u.cfg.TreeCache.Put(h.String(), body)
	}
	return h, nil
}

// childrenOf returns the immediate children of dir (files, symlinks, and
// subdirectories) from the PathMap's current flat entry list.
func (u *Updater) childrenOf(dir string) []pathmap.Entry {
	var out []pathmap.Entry
	for _, e := range u.cfg.PathMap.Entries() {
		if e.Path == dir {
			continue // dir's own cache entry, not one of its children
		}
		if parentOf(e.Path) == dir {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// parentOf returns the parent directory of a repo-relative path, "" for a
// top-level path.
func parentOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// basename returns the final path component.
func basename(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// depthOf returns the number of path components, 0 for the root ("").
func depthOf(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.Wrap(errkind.IoError, err, "updater: mkdir "+dir)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errkind.Wrap(errkind.IoError, err, "updater: create temp file")
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpName) //nolint:errcheck
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return errkind.Wrap(errkind.IoError, err, "updater: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return errkind.Wrap(errkind.IoError, err, "updater: fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errkind.Wrap(errkind.IoError, err, "updater: close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errkind.Wrap(errkind.IoError, err, "updater: rename into place")
	}
	cleanup = false
	return nil
}
