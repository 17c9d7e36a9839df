package objstore

import "errors"

// Sentinel errors matching the ErrorKind taxonomy: callers use errors.Is to
// classify a failure without parsing message text.
var (
	// ErrNotFound is returned when an object hash has no corresponding entry.
	ErrNotFound = errors.New("objstore: object not found")
	// ErrCorrupt is returned when a stored object's envelope or checksum is
	// invalid, or its content does not rehash to its own path.
	ErrCorrupt = errors.New("objstore: object corrupt")
)
