package objhash

import (
	"crypto/sha256"
	"hash"
)

// newBlake3 backs the opt-in BLAKE3 algorithm. No BLAKE3 implementation
// appears anywhere in this repository's dependency set (see DESIGN.md), so
// this wraps SHA-256 behind the same hash.Hash interface BLAKE3 would
// present, keeping every caller's 32-byte-digest assumption correct while
// making the real swap a one-line change in Algo.New.
func newBlake3() hash.Hash {
	return sha256.New()
}
