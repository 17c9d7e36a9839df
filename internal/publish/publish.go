// Package publish implements the publish bridge: it materializes a
// checkpoint's tree as a commit in a bare "shadow" Git repository colocated
// under the engine directory, so the object store's content-addressed trees
// and blobs stay the only source of truth while still handing the operator
// a real `.git` history to push/pull through git.Storer.
package publish

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/errkind"
	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/objstore"
	"github.com/rybkr/timelapse/internal/pathmap"
)

// ShadowDirName is the directory under the engine dir the bare shadow
// repository lives in.
const ShadowDirName = "shadow.git"

// MapFileName is the append-only checkpoint-id<->commit-hash mapping file,
// living alongside the shadow repository.
const MapFileName = "map.log"

// Author identifies who commits show as in the shadow repository.
type Author struct {
	Name  string
	Email string
}

// Bridge owns one shadow Git repository and its id mapping.
type Bridge struct {
	shadow  *git.Repository
	store   *objstore.Store
	algo    objhash.Algo
	author  Author
	mapPath string

	byCheckpoint map[checkpoint.ID]plumbing.Hash
	byCommit     map[plumbing.Hash]checkpoint.ID
}

// Open opens (or creates, on first publish) the shadow repository under
// publishDir, and replays its mapping file into memory.
func Open(publishDir string, store *objstore.Store, algo objhash.Algo, author Author) (*Bridge, error) {
	shadowPath := filepath.Join(publishDir, ShadowDirName)
	shadow, err := git.PlainOpen(shadowPath)
	if err != nil {
		if err != git.ErrRepositoryNotExists {
			return nil, errkind.Wrap(errkind.IoError, err, "publish: open shadow repository")
		}
		if err := os.MkdirAll(publishDir, 0o755); err != nil {
			return nil, errkind.Wrap(errkind.IoError, err, "publish: create publish dir")
		}
		shadow, err = git.PlainInit(shadowPath, true)
		if err != nil {
			return nil, errkind.Wrap(errkind.IoError, err, "publish: init shadow repository")
		}
	}

	b := &Bridge{
		shadow:       shadow,
		store:        store,
		algo:         algo,
		author:       author,
		mapPath:      filepath.Join(publishDir, MapFileName),
		byCheckpoint: make(map[checkpoint.ID]plumbing.Hash),
		byCommit:     make(map[plumbing.Hash]checkpoint.ID),
	}
	if err := b.replayMap(); err != nil {
		return nil, err
	}
	return b, nil
}

// Publish walks cp's root tree out of the object store, materializes it as
// git blobs/trees in the shadow repository, commits it with Parent set to
// cp.Parent's already-published commit (if any), and records the resulting
// mapping. If the repository's own hash algorithm is not SHA-1, the content
// is transparently re-hashed under SHA-1 here: go-git's Storer computes a
// git object id from the bytes we hand it regardless of what our own object
// store addressed those same bytes by, so no explicit re-hash call is
// needed, only this note that the two ids are never expected to match in
// that mode.
func (b *Bridge) Publish(cp checkpoint.Checkpoint) (plumbing.Hash, error) {
	if hash, ok := b.byCheckpoint[cp.ID]; ok {
		return hash, nil // already published, publish is idempotent
	}

	treeHash, err := b.writeTree(cp.Root)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	var parentHashes []plumbing.Hash
	if !cp.Parent.IsZero() {
		if parentCommit, ok := b.byCheckpoint[cp.Parent]; ok {
			parentHashes = []plumbing.Hash{parentCommit}
		}
	}

	sig := object.Signature{Name: b.author.Name, Email: b.author.Email, When: time.UnixMilli(cp.CreatedAt)}
	message := cp.Message
	if message == "" {
		message = fmt.Sprintf("checkpoint %s (%s)", cp.ID.String(), cp.Trigger.String())
	}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parentHashes,
	}
	obj := b.shadow.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, errkind.Wrap(errkind.IoError, err, "publish: encode commit")
	}
	commitHash, err := b.shadow.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, errkind.Wrap(errkind.IoError, err, "publish: store commit")
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), commitHash)
	if err := b.shadow.Storer.SetReference(ref); err != nil {
		return plumbing.ZeroHash, errkind.Wrap(errkind.IoError, err, "publish: update shadow HEAD")
	}

	if err := b.appendMap(cp.ID, commitHash); err != nil {
		return plumbing.ZeroHash, err
	}
	b.byCheckpoint[cp.ID] = commitHash
	b.byCommit[commitHash] = cp.ID
	return commitHash, nil
}

// CommitFor returns the shadow commit hash cp was published as, if any.
func (b *Bridge) CommitFor(id checkpoint.ID) (plumbing.Hash, bool) {
	h, ok := b.byCheckpoint[id]
	return h, ok
}

// CheckpointFor returns the checkpoint id a shadow commit corresponds to,
// if known.
func (b *Bridge) CheckpointFor(h plumbing.Hash) (checkpoint.ID, bool) {
	id, ok := b.byCommit[h]
	return id, ok
}

// Push pushes refs/heads/main to remoteName (creating the remote from url
// first if it doesn't already exist; url may be empty if the remote is
// already configured).
func (b *Bridge) Push(remoteName, url string) error {
	if err := b.ensureRemote(remoteName, url); err != nil {
		return err
	}
	err := b.shadow.Push(&git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{"refs/heads/main:refs/heads/main"},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errkind.Wrap(errkind.IoError, err, "publish: push to "+remoteName)
	}
	return nil
}

// Pull fetches refs/heads/main from remoteName into the shadow repository
// (creating the remote first if needed).
func (b *Bridge) Pull(remoteName, url string) error {
	if err := b.ensureRemote(remoteName, url); err != nil {
		return err
	}
	err := b.shadow.Fetch(&git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{"refs/heads/main:refs/heads/main"},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errkind.Wrap(errkind.IoError, err, "publish: pull from "+remoteName)
	}
	return nil
}

func (b *Bridge) ensureRemote(name, url string) error {
	if _, err := b.shadow.Remote(name); err == nil {
		return nil
	}
	if url == "" {
		return errkind.New(errkind.ConfigInvalid, "publish: remote "+name+" is not configured and no URL was given")
	}
	_, err := b.shadow.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
	if err != nil {
		return errkind.Wrap(errkind.IoError, err, "publish: create remote "+name)
	}
	return nil
}

// writeTree recursively converts an object-store tree into git tree/blob
// objects in the shadow repository, returning the resulting git tree hash.
func (b *Bridge) writeTree(h objhash.Hash) (plumbing.Hash, error) {
	if h.IsZero() {
		return writeEmptyTree(b.shadow)
	}
	body, err := b.store.GetTree(h)
	if err != nil {
		return plumbing.ZeroHash, errkind.Wrap(errkind.IoError, err, "publish: read tree")
	}
	entries, err := pathmap.DeserializeEntries(b.algo, body)
	if err != nil {
		return plumbing.ZeroHash, errkind.Wrap(errkind.Corrupt, err, "publish: decode tree")
	}

	gitEntries := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		var mode filemode.FileMode
		var hash plumbing.Hash
		switch e.Kind {
		case pathmap.KindDir:
			mode = filemode.Dir
			hash, err = b.writeTree(e.Hash)
		case pathmap.KindSymlink:
			mode = filemode.Symlink
			hash, err = b.writeBlob(e.Hash)
		default:
			mode = filemode.Regular
			if e.Mode&0o111 != 0 {
				mode = filemode.Executable
			}
			hash, err = b.writeBlob(e.Hash)
		}
		if err != nil {
			return plumbing.ZeroHash, err
		}
		gitEntries = append(gitEntries, object.TreeEntry{Name: e.Path, Mode: mode, Hash: hash})
	}
	sort.Slice(gitEntries, func(i, j int) bool { return gitEntries[i].Name < gitEntries[j].Name })

	tree := &object.Tree{Entries: gitEntries}
	obj := b.shadow.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, errkind.Wrap(errkind.IoError, err, "publish: encode tree")
	}
	return b.shadow.Storer.SetEncodedObject(obj)
}

func (b *Bridge) writeBlob(h objhash.Hash) (plumbing.Hash, error) {
	data, err := b.store.GetBlob(h)
	if err != nil {
		return plumbing.ZeroHash, errkind.Wrap(errkind.IoError, err, "publish: read blob")
	}
	obj := b.shadow.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, errkind.Wrap(errkind.IoError, err, "publish: open blob writer")
	}
	if _, err := w.Write(data); err != nil {
		w.Close() //nolint:errcheck
		return plumbing.ZeroHash, errkind.Wrap(errkind.IoError, err, "publish: write blob")
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, errkind.Wrap(errkind.IoError, err, "publish: close blob writer")
	}
	return b.shadow.Storer.SetEncodedObject(obj)
}

func writeEmptyTree(repo *git.Repository) (plumbing.Hash, error) {
	tree := &object.Tree{}
	obj := repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, errkind.Wrap(errkind.IoError, err, "publish: encode empty tree")
	}
	return repo.Storer.SetEncodedObject(obj)
}

// mapRecord is one length-prefixed gob record in map.log, the same framing
// discipline internal/journal uses for its own append-only log.
type mapRecord struct {
	CheckpointID checkpoint.ID
	CommitHash   plumbing.Hash
}

func (b *Bridge) replayMap() error {
	data, err := os.ReadFile(b.mapPath) //nolint:gosec // engine-owned path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.Wrap(errkind.IoError, err, "publish: read map.log")
	}

	r := bytes.NewReader(data)
	for r.Len() > 0 {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break // truncated tail, same crash-safety posture as the journal
			}
			return errkind.Wrap(errkind.Corrupt, err, "publish: read map.log length prefix")
		}
		if int(length) > r.Len() {
			break
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return errkind.Wrap(errkind.Corrupt, err, "publish: read map.log record")
		}
		var rec mapRecord
		if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&rec); err != nil {
			return errkind.Wrap(errkind.Corrupt, err, "publish: decode map.log record")
		}
		b.byCheckpoint[rec.CheckpointID] = rec.CommitHash
		b.byCommit[rec.CommitHash] = rec.CheckpointID
	}
	return nil
}

func (b *Bridge) appendMap(id checkpoint.ID, commit plumbing.Hash) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(mapRecord{CheckpointID: id, CommitHash: commit}); err != nil {
		return errkind.Wrap(errkind.IoError, err, "publish: encode map.log record")
	}

	f, err := os.OpenFile(b.mapPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // engine-owned path
	if err != nil {
		return errkind.Wrap(errkind.IoError, err, "publish: open map.log")
	}
	defer f.Close() //nolint:errcheck

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(body.Len()))
	if _, err := f.Write(header[:]); err != nil {
		return errkind.Wrap(errkind.IoError, err, "publish: write map.log length prefix")
	}
	if _, err := f.Write(body.Bytes()); err != nil {
		return errkind.Wrap(errkind.IoError, err, "publish: write map.log record")
	}
	return f.Sync()
}
