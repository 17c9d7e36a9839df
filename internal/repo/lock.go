package repo

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/rybkr/timelapse/internal/errkind"
)

// FileLock is an OS advisory lock on a sidecar file under locks/, the same
// flock-on-a-file idiom the Tessera POSIX storage driver uses to serialize
// writers across processes. It backs both spec.md section 5's daemon lock
// (exactly one daemon per repository) and its GC lock (excludes the
// Updater and restore for the duration of a sweep).
type FileLock struct {
	f *os.File
}

// acquireLock opens (creating if absent) the file at path and takes a
// non-blocking exclusive flock on it. A lock already held by another
// process surfaces as errkind.LockBusy, never a bare EWOULDBLOCK.
func acquireLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // engine-owned lock file
	if err != nil {
		return nil, errkind.Wrap(errkind.IoError, err, "lock: open "+path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		if err == unix.EWOULDBLOCK {
			return nil, errkind.New(errkind.LockBusy, fmt.Sprintf("lock: %s is held by another process", path))
		}
		return nil, errkind.Wrap(errkind.IoError, err, "lock: flock "+path)
	}
	return &FileLock{f: f}, nil
}

// Release drops the advisory lock and closes the backing file.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close() //nolint:errcheck
		return errkind.Wrap(errkind.IoError, err, "lock: unlock")
	}
	return l.f.Close()
}
