package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rybkr/timelapse/internal/journal"
	"github.com/rybkr/timelapse/internal/objstore"
)

func TestKind_StringAndExitCode(t *testing.T) {
	cases := []struct {
		kind     Kind
		str      string
		exitCode int
	}{
		{NotInitialized, "NotInitialized", 2},
		{AlreadyInitialized, "AlreadyInitialized", 1},
		{LockBusy, "LockBusy", 5},
		{AmbiguousRef, "AmbiguousRef", 3},
		{NotFound, "NotFound", 4},
		{Unknown, "Unknown", 1},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.str {
			t.Errorf("Kind(%d).String() = %q, want %q", c.kind, got, c.str)
		}
		if got := c.kind.ExitCode(); got != c.exitCode {
			t.Errorf("Kind(%d).ExitCode() = %d, want %d", c.kind, got, c.exitCode)
		}
	}
}

func TestError_WrapUnwrapAndMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(IoError, cause, "repo: write config")
	if err.Error() != "repo: write config: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the wrapped cause to errors.Is")
	}
	if err.Kind() != IoError {
		t.Errorf("Kind() = %v, want IoError", err.Kind())
	}

	plain := New(NotFound, "no such checkpoint")
	if plain.Error() != "no such checkpoint" {
		t.Errorf("Error() = %q, want the bare message with no wrapped cause", plain.Error())
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != Unknown {
		t.Errorf("KindOf(nil) = %v, want Unknown", got)
	}
	if got := KindOf(New(AmbiguousRef, "ambiguous")); got != AmbiguousRef {
		t.Errorf("KindOf(*Error) = %v, want AmbiguousRef", got)
	}
	if got := KindOf(fmt.Errorf("wrapped: %w", objstore.ErrNotFound)); got != NotFound {
		t.Errorf("KindOf(objstore.ErrNotFound) = %v, want NotFound", got)
	}
	if got := KindOf(fmt.Errorf("wrapped: %w", objstore.ErrCorrupt)); got != Corrupt {
		t.Errorf("KindOf(objstore.ErrCorrupt) = %v, want Corrupt", got)
	}
	if got := KindOf(fmt.Errorf("wrapped: %w", journal.ErrTruncated)); got != TruncatedJournal {
		t.Errorf("KindOf(journal.ErrTruncated) = %v, want TruncatedJournal", got)
	}
	if got := KindOf(errors.New("plain")); got != Unknown {
		t.Errorf("KindOf(plain error) = %v, want Unknown", got)
	}
}
