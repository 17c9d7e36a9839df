package ipc

import (
	"path"

	"github.com/rybkr/timelapse/internal/errkind"
	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/objstore"
	"github.com/rybkr/timelapse/internal/pathmap"
)

// Diff walks two root trees and reports every leaf path whose content hash
// differs, using the same tree-entry serialization recomputeTrees writes,
// so "timelapse diff" never needs a live PathMap, only the object store.
func Diff(store *objstore.Store, a, b objhash.Hash) ([]DiffEntry, error) {
	leavesA, err := collectLeaves(store, a, "")
	if err != nil {
		return nil, err
	}
	leavesB, err := collectLeaves(store, b, "")
	if err != nil {
		return nil, err
	}

	var entries []DiffEntry
	for p, ha := range leavesA {
		hb, ok := leavesB[p]
		switch {
		case !ok:
			entries = append(entries, DiffEntry{Path: p, Change: "removed"})
		case !ha.Equal(hb):
			entries = append(entries, DiffEntry{Path: p, Change: "modified"})
		}
	}
	for p := range leavesB {
		if _, ok := leavesA[p]; !ok {
			entries = append(entries, DiffEntry{Path: p, Change: "added"})
		}
	}
	return entries, nil
}

// collectLeaves recursively walks the tree rooted at h, returning every
// file/symlink leaf path (relative to repo root, joined with dir) mapped to
// its content hash.
func collectLeaves(store *objstore.Store, h objhash.Hash, dir string) (map[string]objhash.Hash, error) {
	out := make(map[string]objhash.Hash)
	if h.IsZero() {
		return out, nil
	}
	body, err := store.GetTree(h)
	if err != nil {
		return nil, errkind.Wrap(errkind.IoError, err, "ipc: read tree for diff")
	}
	entries, err := pathmap.DeserializeEntries(h.Algo(), body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Corrupt, err, "ipc: decode tree for diff")
	}
	for _, e := range entries {
		p := path.Join(dir, e.Path)
		if e.Kind == pathmap.KindDir {
			sub, err := collectLeaves(store, e.Hash, p)
			if err != nil {
				return nil, err
			}
			for k, v := range sub {
				out[k] = v
			}
			continue
		}
		out[p] = e.Hash
	}
	return out, nil
}
