package ipc

import (
	"os"
	"path"
	"path/filepath"

	"github.com/rybkr/timelapse/internal/errkind"
	"github.com/rybkr/timelapse/internal/ignore"
	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/objstore"
	"github.com/rybkr/timelapse/internal/pathmap"
)

// Restore materializes the tree rooted at targetRoot onto disk at root,
// creating/overwriting/removing files so the working tree matches the
// checkpoint exactly, the same create-temp-then-rename discipline every
// other on-disk write in this module uses, applied file-by-file.
func Restore(store *objstore.Store, matcher *ignore.Matcher, root string, targetRoot objhash.Hash) error {
	want, err := collectLeafEntries(store, targetRoot, "")
	if err != nil {
		return err
	}

	have := map[string]bool{}
	err = filepath.Walk(root, func(abs string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if abs == root {
			return nil
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if matcher.IsIgnored(rel, fi.IsDir()) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.IsDir() {
			return nil
		}
		have[rel] = true
		return nil
	})
	if err != nil {
		return errkind.Wrap(errkind.IoError, err, "ipc: walk working tree for restore")
	}

	for rel := range have {
		if _, ok := want[rel]; !ok {
			if err := os.Remove(filepath.Join(root, rel)); err != nil && !os.IsNotExist(err) {
				return errkind.Wrap(errkind.IoError, err, "ipc: remove stale path "+rel)
			}
		}
	}

	for rel, e := range want {
		if err := writeEntry(store, root, rel, e); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(store *objstore.Store, root, rel string, e pathmap.Entry) error {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errkind.Wrap(errkind.IoError, err, "ipc: mkdir for restore")
	}

	data, err := store.GetBlob(e.Hash)
	if err != nil {
		return errkind.Wrap(errkind.IoError, err, "ipc: read blob for "+rel)
	}

	if e.Kind == pathmap.KindSymlink {
		os.Remove(abs) //nolint:errcheck // best effort, Symlink below reports the real error
		if err := os.Symlink(string(data), abs); err != nil {
			return errkind.Wrap(errkind.IoError, err, "ipc: create symlink "+rel)
		}
		return nil
	}

	mode := os.FileMode(e.Mode)
	if mode == 0 {
		mode = 0o644
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".tmp-*")
	if err != nil {
		return errkind.Wrap(errkind.IoError, err, "ipc: create temp file for "+rel)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return errkind.Wrap(errkind.IoError, err, "ipc: write restored content for "+rel)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return errkind.Wrap(errkind.IoError, err, "ipc: fsync restored content for "+rel)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return errkind.Wrap(errkind.IoError, err, "ipc: close restored content for "+rel)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return errkind.Wrap(errkind.IoError, err, "ipc: chmod restored content for "+rel)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return errkind.Wrap(errkind.IoError, err, "ipc: rename restored content for "+rel)
	}
	return nil
}

func collectLeafEntries(store *objstore.Store, h objhash.Hash, dir string) (map[string]pathmap.Entry, error) {
	out := make(map[string]pathmap.Entry)
	if h.IsZero() {
		return out, nil
	}
	body, err := store.GetTree(h)
	if err != nil {
		return nil, errkind.Wrap(errkind.IoError, err, "ipc: read tree for restore")
	}
	entries, err := pathmap.DeserializeEntries(h.Algo(), body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Corrupt, err, "ipc: decode tree for restore")
	}
	for _, e := range entries {
		p := path.Join(dir, e.Path)
		if e.Kind == pathmap.KindDir {
			sub, err := collectLeafEntries(store, e.Hash, p)
			if err != nil {
				return nil, err
			}
			for k, v := range sub {
				out[k] = v
			}
			continue
		}
		e.Path = p
		out[p] = e
	}
	return out, nil
}
