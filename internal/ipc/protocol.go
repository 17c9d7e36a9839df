// Package ipc implements the local request/response protocol spec.md
// section 6 describes: a length-prefixed, encoding/gob-framed tagged union
// over a Unix socket, exposing the full CLI surface
// (status/log/info/flush/restore/diff/pin/unpin/gc/publish/push/pull) to
// any number of timelapse client processes without each one linking the
// daemon's in-process state.
package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/retention"
)

// maxFrameSize bounds a single frame so a corrupt or hostile length prefix
// can't trigger an unbounded allocation, the same defensive bound
// objstore's maxDecompressedSize applies to decompressed object bodies.
const maxFrameSize = 64 << 20

// Verb identifies one of the CLI-surface operations spec.md section 6
// lists.
type Verb string

const (
	VerbStatus  Verb = "status"
	VerbLog     Verb = "log"
	VerbInfo    Verb = "info"
	VerbFlush   Verb = "flush"
	VerbRestore Verb = "restore"
	VerbDiff    Verb = "diff"
	VerbPin     Verb = "pin"
	VerbUnpin   Verb = "unpin"
	VerbGC      Verb = "gc"
	VerbPublish Verb = "publish"
	VerbPush    Verb = "push"
	VerbPull    Verb = "pull"
)

// Request is the single wire request type; which fields are meaningful
// depends on Verb.
type Request struct {
	Verb Verb

	Ref  string // restore(ref); diff's first argument
	RefB string // diff's second argument; "" means "working tree" is not modeled, so RefB is always a checkpoint ref

	N int // log(n)

	Paths []string // flush's extra known-dirty paths

	PinName string // pin(id, name) / unpin(name)

	Remote    string // push/pull remote name; "" uses the repo's configured default
	RemoteURL string // push/pull remote URL, only consulted if Remote isn't already configured
}

// StatusInfo answers the "status" verb: the daemon's liveness plus a
// snapshot of its current HEAD.
type StatusInfo struct {
	Running         bool
	HeadID          checkpoint.ID
	CheckpointCount int
	DeferredPaths   int
}

// DiffEntry is one changed path between two checkpoints' trees.
type DiffEntry struct {
	Path   string
	Change string // "added", "removed", "modified"
}

// Response is the single wire response type; OK reports whether the verb
// succeeded. On failure, Error/ErrorKind/Suggestions are populated and the
// result fields are zero.
type Response struct {
	OK    bool
	Error string
	// ErrorKind mirrors errkind.Kind.String(), carried as a plain string so
	// this package does not need to depend on errkind's error-wrapping types
	// over the wire.
	ErrorKind   string
	Suggestions []string // "did you mean" candidates for AmbiguousRef/NotFound

	Status     *StatusInfo
	Log        []checkpoint.Checkpoint
	Info       *checkpoint.Checkpoint
	Checkpoint *checkpoint.Checkpoint // flush/restore result, nil if no-op
	Diff       []DiffEntry
	Pins       map[string]string // name -> checkpoint id hex
	GC         *retention.Result
	CommitID   string // publish result (shadow-repo commit hash)
}

// WriteFrame encodes v with encoding/gob and writes it to w as
// len(payload uint32 BE) | payload.
func WriteFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("ipc: encode frame: %w", err)
	}
	if buf.Len() > maxFrameSize {
		return fmt.Errorf("ipc: frame too large (%d bytes)", buf.Len())
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(buf.Len()))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("ipc: write frame header: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("ipc: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed gob frame from r into v.
func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("ipc: read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return fmt.Errorf("ipc: frame declares %d bytes, exceeds max %d", length, maxFrameSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("ipc: read frame body: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return fmt.Errorf("ipc: decode frame: %w", err)
	}
	return nil
}
