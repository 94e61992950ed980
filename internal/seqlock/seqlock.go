// Package seqlock implements the sequence-lock coordination primitive from
// spec.md §5: a single generation counter shared between one writer and
// many concurrent readers. Even values mean "stable"; odd values mean "a
// write is in progress". Readers snapshot the counter, do their read, then
// re-check the counter; a mismatch means the read raced a write and must be
// retried by the caller. Readers are never blocked — validation failure is
// the only signal, which is why this package uses a bare atomic counter
// instead of the teacher's sync.RWMutex: spec.md §5 requires readers that
// never wait on a writer, a guarantee RWMutex cannot give.
package seqlock

import "sync/atomic"

// Lock is a sequence lock. The zero value is ready to use, starting at
// generation 0 (even, no write in progress).
type Lock struct {
	generation atomic.Uint64
}

// StartWrite marks a write as beginning: the generation becomes odd. The
// caller must already hold the external single-writer mutex (spec.md §5:
// "write operations are serialized by an external mutex"); StartWrite
// itself does no locking.
func (l *Lock) StartWrite() {
	l.generation.Add(1)
}

// EndWrite marks a write as complete: the generation becomes even again,
// publishing every mutation made since StartWrite to subsequent readers.
func (l *Lock) EndWrite() {
	l.generation.Add(1)
}

// StartRead returns a snapshot handle to validate after reading.
func (l *Lock) StartRead() uint64 {
	return l.generation.Load()
}

// IsReadValid reports whether the generation is unchanged since handle was
// taken and no write was in progress at that instant. False means the
// caller raced a writer and must discard whatever it read and retry.
func (l *Lock) IsReadValid(handle uint64) bool {
	return handle&1 == 0 && l.generation.Load() == handle
}

// Generation returns the current raw generation value, primarily for tests
// and diagnostics.
func (l *Lock) Generation() uint64 {
	return l.generation.Load()
}
