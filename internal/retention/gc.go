package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/objstore"
	"github.com/rybkr/timelapse/internal/pathmap"
)

// JournalReader is the subset of *journal.Journal retention needs; declared
// as an interface so retention_test.go can exercise the sweep against a fake
// without pulling in the journal package's file-based Open. Delete is used
// by the prune phase (spec.md GC step 4) to remove records for checkpoints
// that fell out of the live set, keeping journal contents in sync with
// which checkpoints' objects the sweep phase actually kept on disk.
type JournalReader interface {
	All() []checkpoint.Checkpoint
	Delete(id checkpoint.ID) error
}

// Objects is the subset of *objstore.Store the mark-and-sweep phases use to
// walk tree closures and remove unreferenced objects.
type Objects interface {
	GetTree(h objhash.Hash) ([]byte, error)
	Delete(h objhash.Hash) error
}

// Result reports what a GC pass did.
type Result struct {
	Live         int
	Reachable    int // objects reachable from the live set (kept)
	Swept        int // objects deleted
	SweptSkipped int // never set by Sweep: an object already gone when deleted counts in Swept
	Pruned       int // journal records deleted for checkpoints outside the live set
}

// Sweep performs one mark-and-sweep pass: it computes the live set from j,
// walks each live checkpoint's tree closure to build the reachable-object
// set (the mark phase), then deletes every object in store's enumeration
// that the mark phase never visited and that enumerate yields (the sweep
// phase). enumerate lists every hash currently on disk; it is supplied by
// the caller because enumerating objstore's directory layout is a
// filesystem-walk concern orthogonal to this package's policy logic.
func Sweep(ctx context.Context, j JournalReader, store Objects, algo objhash.Algo, policy Policy, enumerate func() ([]objhash.Hash, error)) (Result, error) {
	all := j.All()
	liveIDs := LiveSet(all, policy, time.Now())

	byID := make(map[checkpoint.ID]checkpoint.Checkpoint, len(all))
	for _, cp := range all {
		byID[cp.ID] = cp
	}

	reachable := make(map[string]bool)
	var walkErrs error
	for id := range liveIDs {
		cp, ok := byID[id]
		if !ok {
			continue
		}
		if err := markTree(store, algo, cp.Root, reachable); err != nil {
			walkErrs = multierr.Append(walkErrs, fmt.Errorf("checkpoint %s: %w", id, err))
		}
	}
	if walkErrs != nil {
		return Result{}, walkErrs
	}

	onDisk, err := enumerate()
	if err != nil {
		return Result{}, fmt.Errorf("retention: enumerate objects: %w", err)
	}

	res := Result{Live: len(liveIDs), Reachable: len(reachable)}
	var sweepErrs error
	for _, h := range onDisk {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if reachable[h.String()] {
			continue
		}
		if err := store.Delete(h); err != nil {
			sweepErrs = multierr.Append(sweepErrs, fmt.Errorf("delete %s: %w", h.Short(8), err))
			continue
		}
		res.Swept++
	}
	if sweepErrs != nil {
		return res, sweepErrs
	}

	var pruneErrs error
	for _, cp := range all {
		if liveIDs[cp.ID] {
			continue
		}
		if err := j.Delete(cp.ID); err != nil {
			pruneErrs = multierr.Append(pruneErrs, fmt.Errorf("prune journal record %s: %w", cp.ID, err))
			continue
		}
		res.Pruned++
	}
	return res, pruneErrs
}

// markTree walks a tree object's closure (itself, its child blobs, and its
// child trees recursively), adding every visited hash to reachable.
// Revisiting an already-marked tree is a no-op, so shared subtrees across
// checkpoints are only walked once per sweep.
func markTree(store Objects, algo objhash.Algo, root objhash.Hash, reachable map[string]bool) error {
	key := root.String()
	if reachable[key] {
		return nil
	}
	reachable[key] = true

	body, err := store.GetTree(root)
	if err != nil {
		return fmt.Errorf("read tree %s: %w", root.Short(8), err)
	}
	entries, err := pathmap.DeserializeEntries(algo, body)
	if err != nil {
		return fmt.Errorf("parse tree %s: %w", root.Short(8), err)
	}

	for _, e := range entries {
		switch e.Kind {
		case pathmap.KindDir:
			if err := markTree(store, algo, e.Hash, reachable); err != nil {
				return err
			}
		case pathmap.KindFile, pathmap.KindSymlink:
			reachable[e.Hash.String()] = true
		}
	}
	return nil
}

// Task runs Sweep on a ticker, the same ticker+ctx.Done() select loop shape
// repomanager's scheduler uses for its own periodic sweeps, retargeted from
// whole-repo eviction to individual-object collection.
type Task struct {
	Interval time.Duration
	Journal  JournalReader
	Store    Objects
	Algo     objhash.Algo
	Policy   Policy
	Enumerate func() ([]objhash.Hash, error)
	OnResult  func(Result, error)

	wg sync.WaitGroup
}

// Start launches the periodic sweep loop and returns immediately.
func (t *Task) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := Sweep(ctx, t.Journal, t.Store, t.Algo, t.Policy, t.Enumerate)
				if t.OnResult != nil {
					t.OnResult(res, err)
				}
			}
		}
	}()
}

// Wait blocks until the task's goroutine has exited after ctx cancellation.
func (t *Task) Wait() { t.wg.Wait() }
