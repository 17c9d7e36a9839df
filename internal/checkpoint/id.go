// Package checkpoint defines the Checkpoint record and its identifier, the
// unit the journal appends and retention sweeps.
package checkpoint

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ID is a 16-byte checkpoint identifier: a 6-byte millisecond timestamp
// prefix followed by 10 random bytes. Lexicographic byte order on ID matches
// creation order, the same monotone-sortable property a ULID gives, without
// adding a ULID dependency — none appears anywhere in this repository's
// retrieval pack.
type ID [16]byte

// NewID constructs an ID for the given Unix millisecond timestamp, filling
// the remaining bytes with crypto/rand. Two IDs created in the same
// millisecond still sort arbitrarily relative to each other, which is
// acceptable: the journal's append order is the real tiebreaker.
func NewID(unixMillis int64) (ID, error) {
	var id ID
	id[0] = byte(unixMillis >> 40)
	id[1] = byte(unixMillis >> 32)
	id[2] = byte(unixMillis >> 24)
	id[3] = byte(unixMillis >> 16)
	id[4] = byte(unixMillis >> 8)
	id[5] = byte(unixMillis)
	if _, err := rand.Read(id[6:]); err != nil {
		return ID{}, fmt.Errorf("checkpoint: generate id: %w", err)
	}
	return id, nil
}

// String renders the ID as lowercase hex.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == ID{} }

// ParseID parses a full 32-character hex ID.
func ParseID(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return ID{}, fmt.Errorf("checkpoint: invalid id %q", s)
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// HasPrefix reports whether id's hex string starts with prefix, used to
// resolve the short ≥4-char reference form.
func (id ID) HasPrefix(prefix string) bool {
	s := id.String()
	return len(prefix) <= len(s) && s[:len(prefix)] == prefix
}
