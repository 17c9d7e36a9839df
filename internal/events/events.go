// Package events implements the Event Layer: a recursive filesystem watch
// with per-path debounce, batch coalescing, and overflow-triggered targeted
// rescan recovery.
package events

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rybkr/timelapse/internal/ignore"
)

// DebounceDelay is the default per-path debounce, used when New is given a
// zero duration. Unlike the teacher's single repo-wide timer, Timelapse
// arms one timer per dirty path (see per-path debounce in SPEC_FULL.md
// §4.2), so a hot path can't starve a quiet path's flush. The repository's
// configured debounce_ms overrides this default (see internal/repo.Config).
const DebounceDelay = 150 * time.Millisecond

// maxBatchPaths bounds how many paths a single Batch carries before the
// event layer flushes early; the updater still processes an unbounded
// number of dirty paths overall, just across more, smaller batches.
const maxBatchPaths = 4096

// Batch is the unit the event layer delivers: either the single path whose
// debounce timer just fired (each timer fire sends its own one-path Batch;
// fires are not merged with other paths' fires), or up to maxBatchPaths
// paths produced by an overflow rescan.
type Batch struct {
	Paths    []string
	Overflow bool
}

// Watcher watches root recursively, emitting Batches on Batches().
type Watcher struct {
	root     string
	ignoreM  *ignore.Matcher
	logger   *slog.Logger
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu        sync.Mutex
	timers    map[string]*time.Timer
	pending   map[string]bool
	batchesCh chan Batch

	wg sync.WaitGroup
}

// New creates a Watcher rooted at root. matcher filters out paths that
// should never produce events (the engine directory, ignore-file patterns).
// debounce is the per-path quiescence window (internal/repo.Config's
// debounce_ms); a zero or negative value falls back to DebounceDelay.
func New(root string, matcher *ignore.Matcher, logger *slog.Logger, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DebounceDelay
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:      root,
		ignoreM:   matcher,
		logger:    logger,
		debounce:  debounce,
		fsw:       fsw,
		timers:    make(map[string]*time.Timer),
		pending:   make(map[string]bool),
		batchesCh: make(chan Batch, 64),
	}
	if err := walkAndWatch(fsw, root, logger); err != nil {
		fsw.Close() //nolint:errcheck
		return nil, err
	}
	return w, nil
}

// Batches returns the channel Batches are delivered on. Closed when Start's
// context is cancelled and the watcher has fully shut down.
func (w *Watcher) Batches() <-chan Batch { return w.batchesCh }

// Start runs the watch loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Wait blocks until the watch loop has exited and the batches channel is
// closed.
func (w *Watcher) Wait() { w.wg.Wait() }

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.batchesCh)
	defer w.fsw.Close() //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			for _, t := range w.timers {
				t.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err == fsnotify.ErrEventOverflow {
				w.triggerOverflowRescan(ctx)
				continue
			}
			w.logger.Error("watcher error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if w.shouldIgnoreEvent(event) {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			walkAndWatch(w.fsw, event.Name, w.logger) //nolint:errcheck
		}
	}

	w.armTimer(ctx, rel)
}

// armTimer (re)arms a per-path debounce timer, the per-key analog of
// gitvista's single package-wide debounceTimer.
func (w *Watcher) armTimer(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.pending[path] = true
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.flushPath(ctx, path)
	})
}

func (w *Watcher) flushPath(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	w.mu.Lock()
	delete(w.timers, path)
	delete(w.pending, path)
	w.mu.Unlock()

	select {
	case w.batchesCh <- Batch{Paths: []string{path}}:
	case <-ctx.Done():
	}
}

// triggerOverflowRescan is called when the kernel's event queue overflowed
// (fsnotify.ErrEventOverflow): any number of changes may have been missed,
// so instead of trusting per-path debounce state, the whole subtree is
// walked and every path is reported in Overflow batches of at most
// maxBatchPaths paths each for the updater to reconcile in full.
func (w *Watcher) triggerOverflowRescan(ctx context.Context) {
	w.logger.Warn("event queue overflow, performing targeted rescan", "root", w.root)

	var paths []string
	err := filepath.Walk(w.root, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil //nolint:nilerr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if w.ignoreM != nil && w.ignoreM.IsIgnored(rel, fi.IsDir()) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(paths) >= maxBatchPaths {
			select {
			case w.batchesCh <- Batch{Paths: paths, Overflow: true}:
			case <-ctx.Done():
				return filepath.SkipAll
			}
			paths = nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		w.logger.Error("overflow rescan walk failed", "err", err)
		return
	}

	select {
	case w.batchesCh <- Batch{Paths: paths, Overflow: true}:
	case <-ctx.Done():
	}
}

func walkAndWatch(watcher *fsnotify.Watcher, dir string, logger *slog.Logger) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return err
	}
	return filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr
		}
		if fi.IsDir() {
			if addErr := watcher.Add(path); addErr != nil {
				logger.Warn("failed to watch directory", "dir", path, "err", addErr)
			}
		}
		return nil
	})
}

// shouldIgnoreEvent filters only structural noise (uninteresting ops, the
// engine directory, ignore-file patterns). It does not interpret a path's
// name or suffix: a tracked file literally named "notes.tmp" or "x.lock"
// must still reach the Updater, which relies entirely on its own
// double-stat stability check to tell a mid-write temp file from a
// finished one.
func (w *Watcher) shouldIgnoreEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if w.ignoreM != nil {
		info, statErr := os.Stat(event.Name)
		isDir := statErr == nil && info.IsDir()
		if w.ignoreM.IsIgnored(rel, isDir) {
			return true
		}
	}
	return false
}
