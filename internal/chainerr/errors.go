// Package chainerr defines the sentinel error vocabulary shared by every
// storage-engine package.
//
// Errors fall into the classes described by the storage engine's error
// handling design: fatal I/O errors, corrupt on-disk structures, and
// operational conditions the caller is expected to retry or branch on.
// Callers classify with errors.Is; wrapping with fmt.Errorf("...: %w", ...)
// is expected and preserves the sentinel for unwrapping.
package chainerr

import "errors"

var (
	// ErrIO marks a fatal underlying I/O failure (mmap, open, resize,
	// fsync). The engine is not expected to survive disk-full mid-block;
	// callers should treat the database as unsafe to continue.
	ErrIO = errors.New("chainstore: io error")

	// ErrCorruptHeader marks a bucket-count/file-size mismatch or other
	// structural invariant violation detected at start().
	ErrCorruptHeader = errors.New("chainstore: corrupt header")

	// ErrAlreadyOpen marks failure to acquire the directory lock because
	// another process already holds it (spec.md §7's `AlreadyOpen` kind).
	ErrAlreadyOpen = errors.New("chainstore: already open")

	// ErrInvalidInput marks a precondition violation that a systems-level
	// implementation would treat as an assertion (programmer error): an
	// index past count, an unlink of a key the caller asserted exists, a
	// malformed key length. Returned as an error rather than a panic
	// because this is a library, not an inlined header.
	ErrInvalidInput = errors.New("chainstore: invalid input")

	// ErrFull marks an allocator that cannot grow further because doing
	// so would overflow its index or offset space.
	ErrFull = errors.New("chainstore: allocator full")
)
