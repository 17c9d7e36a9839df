// Package repo implements the Repository handle: the engine directory
// layout, immutable-after-start configuration, and the process-wide
// daemon/GC advisory locks. Every other package that touches disk takes a
// *Repository (or one of its derived paths) explicitly rather than reading
// ambient global state, per spec.md section 9.
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/errkind"
	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/objstore"
)

// EngineDirName is the metadata directory created under a repository root,
// always excluded from tracking regardless of ignore-file contents.
const EngineDirName = ".timelapse"

// Repository is the handle every component (events, updater, journal,
// retention, ipc) is passed explicitly.
type Repository struct {
	root      string
	engineDir string
	cfg       Config
	algo      objhash.Algo
	store     *objstore.Store
}

func engineSubdirs(engineDir string) []string {
	return []string{
		filepath.Join(engineDir, "locks"),
		filepath.Join(engineDir, "journal"),
		filepath.Join(engineDir, "objects"),
		filepath.Join(engineDir, "refs", "pins"),
		filepath.Join(engineDir, "state"),
		filepath.Join(engineDir, "tmp"),
	}
}

// Init creates a new engine directory under root, writes the default
// config (with the given hash algorithm fixed in immutably), and returns
// the opened Repository. It fails with errkind.AlreadyInitialized if the
// engine directory already exists.
func Init(root string, algo objhash.Algo) (*Repository, error) {
	engineDir := filepath.Join(root, EngineDirName)
	if _, err := os.Stat(engineDir); err == nil {
		return nil, errkind.New(errkind.AlreadyInitialized, "repo: "+engineDir+" already exists")
	}

	for _, d := range engineSubdirs(engineDir) {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, errkind.Wrap(errkind.IoError, err, "repo: create "+d)
		}
	}

	cfg := DefaultConfig()
	cfg.HashAlgo = algo.String()
	if err := cfg.Save(filepath.Join(engineDir, "config")); err != nil {
		return nil, err
	}
	if err := atomicWriteFile(filepath.Join(engineDir, "HEAD"), []byte{}); err != nil {
		return nil, err
	}

	store, err := objstore.Open(filepath.Join(engineDir, "objects"), algo)
	if err != nil {
		return nil, errkind.Wrap(errkind.IoError, err, "repo: open object store")
	}
	store.SetCompressThreshold(cfg.CompressionThresholdBytes)
	store.SetCompressLevel(cfg.CompressionLevel)

	return &Repository{root: root, engineDir: engineDir, cfg: cfg, algo: algo, store: store}, nil
}

// Open loads an existing repository rooted at root.
func Open(root string) (*Repository, error) {
	engineDir := filepath.Join(root, EngineDirName)
	if _, err := os.Stat(engineDir); err != nil {
		return nil, errkind.Wrap(errkind.NotInitialized, err, "repo: no "+EngineDirName+" under "+root)
	}

	cfg, err := LoadConfig(filepath.Join(engineDir, "config"))
	if err != nil {
		return nil, err
	}
	algo, err := objhash.ParseAlgo(cfg.HashAlgo)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigInvalid, err, "repo: config")
	}

	store, err := objstore.Open(filepath.Join(engineDir, "objects"), algo)
	if err != nil {
		return nil, errkind.Wrap(errkind.IoError, err, "repo: open object store")
	}
	store.SetCompressThreshold(cfg.CompressionThresholdBytes)
	store.SetCompressLevel(cfg.CompressionLevel)

	return &Repository{root: root, engineDir: engineDir, cfg: cfg, algo: algo, store: store}, nil
}

// Root returns the working tree root.
func (r *Repository) Root() string { return r.root }

// EngineDir returns the <root>/.timelapse directory.
func (r *Repository) EngineDir() string { return r.engineDir }

// Config returns the repository's immutable-after-start configuration.
func (r *Repository) Config() Config { return r.cfg }

// Algo returns the repository's fixed content-address algorithm.
func (r *Repository) Algo() objhash.Algo { return r.algo }

// Store returns the combined blob/tree object store. Objects are
// disambiguated by their envelope kind tag rather than by directory (see
// DESIGN.md for why this departs from spec.md section 6's literal
// objects/blobs + objects/trees split), which is also what lets
// retention's single-store mark-and-sweep operate over one flat object
// space.
func (r *Repository) Store() *objstore.Store { return r.store }

func (r *Repository) JournalPath() string        { return filepath.Join(r.engineDir, "journal", "log") }
func (r *Repository) PathMapSnapshotPath() string { return filepath.Join(r.engineDir, "state", "pathmap.bin") }
func (r *Repository) WatcherStatePath() string    { return filepath.Join(r.engineDir, "state", "watcher.state") }
func (r *Repository) IgnoreFilePath() string      { return filepath.Join(r.root, ".timelapseignore") }
func (r *Repository) HeadPath() string            { return filepath.Join(r.engineDir, "HEAD") }
func (r *Repository) TmpDir() string              { return filepath.Join(r.engineDir, "tmp") }
func (r *Repository) PinsDir() string             { return filepath.Join(r.engineDir, "refs", "pins") }
func (r *Repository) PublishDir() string          { return filepath.Join(r.engineDir, "publish") }
func (r *Repository) SocketPath() string          { return filepath.Join(r.engineDir, "daemon.sock") }

// AcquireDaemonLock takes the process-wide daemon lock. Startup fails with
// errkind.LockBusy if another daemon already holds it.
func (r *Repository) AcquireDaemonLock() (*FileLock, error) {
	return acquireLock(filepath.Join(r.engineDir, "locks", "daemon"))
}

// AcquireGCLock takes the GC lock, excluding the Updater and restore for
// the duration of a sweep.
func (r *Repository) AcquireGCLock() (*FileLock, error) {
	return acquireLock(filepath.Join(r.engineDir, "locks", "gc"))
}

// ReadHead returns the checkpoint id HEAD currently points to, or the zero
// ID for a freshly initialized repository with no checkpoints yet.
func (r *Repository) ReadHead() (checkpoint.ID, error) {
	data, err := os.ReadFile(r.HeadPath()) //nolint:gosec // engine-owned path
	if err != nil {
		return checkpoint.ID{}, errkind.Wrap(errkind.IoError, err, "repo: read HEAD")
	}
	s := string(data)
	if s == "" {
		return checkpoint.ID{}, nil
	}
	return checkpoint.ParseID(s)
}

// WriteHead atomically updates HEAD to point at id.
func (r *Repository) WriteHead(id checkpoint.ID) error {
	return atomicWriteFile(r.HeadPath(), []byte(id.String()))
}

// Pin records name -> id under refs/pins, overwriting any existing pin of
// the same name.
func (r *Repository) Pin(name string, id checkpoint.ID) error {
	if name == "" {
		return errkind.New(errkind.ConfigInvalid, "repo: pin name must not be empty")
	}
	return atomicWriteFile(filepath.Join(r.PinsDir(), name), []byte(id.String()))
}

// Unpin removes a pin by name.
func (r *Repository) Unpin(name string) error {
	err := os.Remove(filepath.Join(r.PinsDir(), name))
	if err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.IoError, err, "repo: unpin "+name)
	}
	if err != nil {
		return errkind.New(errkind.NotFound, "repo: no pin named "+name)
	}
	return nil
}

// ResolvePin reads a single pin's checkpoint id.
func (r *Repository) ResolvePin(name string) (checkpoint.ID, bool, error) {
	data, err := os.ReadFile(filepath.Join(r.PinsDir(), name)) //nolint:gosec // engine-owned path
	if err != nil {
		if os.IsNotExist(err) {
			return checkpoint.ID{}, false, nil
		}
		return checkpoint.ID{}, false, errkind.Wrap(errkind.IoError, err, "repo: read pin "+name)
	}
	id, err := checkpoint.ParseID(string(data))
	if err != nil {
		return checkpoint.ID{}, false, err
	}
	return id, true, nil
}

// ListPins returns every pin name mapped to its checkpoint id.
func (r *Repository) ListPins() (map[string]checkpoint.ID, error) {
	entries, err := os.ReadDir(r.PinsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]checkpoint.ID{}, nil
		}
		return nil, errkind.Wrap(errkind.IoError, err, "repo: list pins")
	}
	out := make(map[string]checkpoint.ID, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok, err := r.ResolvePin(e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			out[e.Name()] = id
		}
	}
	return out, nil
}

// atomicWriteFile persists data to path using the shared
// create-temp-in-same-dir -> fsync -> rename -> fsync-parent discipline
// every on-disk artifact in this module follows.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.Wrap(errkind.IoError, err, "repo: mkdir "+dir)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errkind.Wrap(errkind.IoError, err, "repo: create temp file")
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
		return errkind.Wrap(errkind.IoError, err, "repo: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return errkind.Wrap(errkind.IoError, err, "repo: fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errkind.Wrap(errkind.IoError, err, "repo: close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errkind.Wrap(errkind.IoError, err, "repo: rename into place")
	}
	cleanup = false

	df, err := os.Open(dir)
	if err != nil {
		return errkind.Wrap(errkind.IoError, err, "repo: open dir for fsync")
	}
	defer df.Close() //nolint:errcheck
	if err := df.Sync(); err != nil {
		return errkind.Wrap(errkind.IoError, err, fmt.Sprintf("repo: fsync dir %s", dir))
	}
	return nil
}
