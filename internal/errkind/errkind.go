// Package errkind implements the tagged error-kind taxonomy from spec
// section 7: a small exhaustive set of error kinds, a Kind() accessor on a
// wrapping error type, and the CLI exit-code mapping, so callers classify a
// failure with errors.As/errors.Is instead of grepping message text.
package errkind

import (
	"errors"
	"fmt"

	"github.com/rybkr/timelapse/internal/journal"
	"github.com/rybkr/timelapse/internal/objstore"
)

// Kind is one of the error kinds section 7 names.
type Kind int

const (
	// Unknown is never produced deliberately; it is the zero value returned
	// by KindOf for an error this package doesn't recognize.
	Unknown Kind = iota
	NotInitialized
	AlreadyInitialized
	LockBusy
	IoError
	Corrupt
	TruncatedJournal
	UnstableFile
	AmbiguousRef
	NotFound
	ConfigInvalid
)

// String implements fmt.Stringer exhaustively.
func (k Kind) String() string {
	switch k {
	case NotInitialized:
		return "NotInitialized"
	case AlreadyInitialized:
		return "AlreadyInitialized"
	case LockBusy:
		return "LockBusy"
	case IoError:
		return "IoError"
	case Corrupt:
		return "Corrupt"
	case TruncatedJournal:
		return "TruncatedJournal"
	case UnstableFile:
		return "UnstableFile"
	case AmbiguousRef:
		return "AmbiguousRef"
	case NotFound:
		return "NotFound"
	case ConfigInvalid:
		return "ConfigInvalid"
	default:
		return "Unknown"
	}
}

// ExitCode maps a Kind to the process exit code spec.md section 6 defines.
// Kinds with no explicit entry there (AlreadyInitialized, IoError, Corrupt,
// TruncatedJournal, UnstableFile, ConfigInvalid, Unknown) fall back to the generic failure
// code 1.
func (k Kind) ExitCode() int {
	switch k {
	case NotInitialized:
		return 2
	case AmbiguousRef:
		return 3
	case NotFound:
		return 4
	case LockBusy:
		return 5
	default:
		return 1
	}
}

// Error wraps an underlying error with a Kind, the shape every
// surfaced-to-operator error in this module takes.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New constructs an Error of the given kind with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap constructs an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.err }

// Kind reports the error's kind.
func (e *Error) Kind() Kind { return e.kind }

// kinder is implemented by *Error; KindOf uses it via errors.As.
type kinder interface{ Kind() Kind }

// KindOf classifies err into a Kind, recognizing both this package's own
// *Error wrapper and the plain sentinel errors lower packages (objstore,
// journal) already export, so a caller never needs to know which layer
// produced a given failure.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var ke kinder
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	switch {
	case errors.Is(err, objstore.ErrNotFound):
		return NotFound
	case errors.Is(err, objstore.ErrCorrupt):
		return Corrupt
	case errors.Is(err, journal.ErrTruncated):
		return TruncatedJournal
	default:
		return Unknown
	}
}
