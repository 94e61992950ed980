// Package filelock implements the directory-level advisory lock the
// coordinator takes at startup to enforce spec.md §3.2's "at most one
// writer" invariant across processes: "the process owns each file
// exclusively for the duration of the database session (acquired via
// advisory file lock at startup)".
//
// Grounded on the teacher's pkg/slotcache/writer_lock.go
// (acquireWriterLock/releaseWriterLock), ported from syscall.Flock to
// golang.org/x/sys/unix.Flock to match this module's mmfile package.
package filelock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ledgerforge/blockstore/internal/chainerr"
)

// Lock is a held advisory lock on a lock file. The zero value is not
// usable; obtain one via Acquire.
type Lock struct {
	file *os.File
}

// Acquire takes an exclusive, non-blocking lock on the file at
// lockFilePath (the coordinator passes its directory's block_lock),
// creating the lock file if necessary. Returns chainerr.ErrAlreadyOpen (the
// `AlreadyOpen` error kind, spec.md §7) if another process already holds
// it.
func Acquire(lockFilePath string) (*Lock, error) {
	f, err := os.OpenFile(lockFilePath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockFilePath, errors.Join(err, chainerr.ErrIO))
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("acquire lock %s: %w", lockFilePath, chainerr.ErrAlreadyOpen)
		}

		return nil, fmt.Errorf("flock %s: %w", lockFilePath, errors.Join(err, chainerr.ErrIO))
	}

	return &Lock{file: f}, nil
}

// Release unlocks and closes the lock file. The lock file itself persists
// on disk (spec.md treats block_lock as a permanent, empty marker file).
// Safe to call on a nil *Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)

	return l.file.Close()
}
