package checkpoint

import "github.com/rybkr/timelapse/internal/objhash"

// Trigger identifies what caused a checkpoint to be produced.
type Trigger int

const (
	// TriggerDebounce fires when the event layer's per-path debounce timer
	// settles after a batch of filesystem changes.
	TriggerDebounce Trigger = iota
	// TriggerManual fires from an explicit "flush" request over the IPC
	// socket.
	TriggerManual
	// TriggerRescan fires after a targeted rescan recovers from a kernel
	// event-queue overflow.
	TriggerRescan
	// TriggerRestore fires when a restore operation re-checkpoints the
	// working tree it just wrote out (spec.md's "restore(C); flush()"
	// idempotence law).
	TriggerRestore
	// TriggerPublish fires when the publish bridge materializes a
	// checkpoint and records the resulting commit mapping.
	TriggerPublish
	// TriggerGCCompact fires for a checkpoint produced as a side effect of
	// retention compaction (not currently emitted by Sweep, but reserved
	// so a future compaction pass has a trigger to record).
	TriggerGCCompact
)

// String implements fmt.Stringer exhaustively.
func (t Trigger) String() string {
	switch t {
	case TriggerDebounce:
		return "fs_batch"
	case TriggerManual:
		return "manual"
	case TriggerRescan:
		return "rescan"
	case TriggerRestore:
		return "restore"
	case TriggerPublish:
		return "publish"
	case TriggerGCCompact:
		return "gc_compact"
	default:
		return "unknown" // decoded from an older/newer journal record; never produced by this build
	}
}

// Stats carries the per-checkpoint counters spec.md section 3 calls out
// ("{..., stats}"), shown by "timelapse info" without re-walking the tree.
type Stats struct {
	PathsTouched int
	BlobsWritten int
	TreesWritten int
	BytesWritten int64
}

// Checkpoint is one committed snapshot of the repository's tree.
type Checkpoint struct {
	ID           ID
	Parent       ID // zero ID for the first checkpoint
	Root         objhash.Hash
	CreatedAt    int64 // Unix milliseconds
	Trigger      Trigger
	Message      string
	Pinned       bool
	PinName      string   // empty unless Pinned
	TouchedPaths []string // repo-relative paths reconciled to produce this checkpoint
	Stats        Stats
}
