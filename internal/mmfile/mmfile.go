// Package mmfile exposes a growable, memory-mapped file region as a
// contiguous byte slice.
//
// This is the substrate every allocator, bucket header, and hash table in
// the storage engine is built on: one mmfile per on-disk table file,
// shared (non-owning) by every component that reads or writes that file.
//
// Grounded on the mmap-and-remap dance in the teacher's
// pkg/slotcache/open.go (mmapAndCreateCache, syscall.Mmap/Ftruncate), but
// using golang.org/x/sys/unix instead of the frozen syscall package so the
// same code path works across the platforms x/sys supports, and adding the
// grow-in-place Resize/Reserve the teacher never needed (slotcache sizes
// its file once at creation and never grows it again).
package mmfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ledgerforge/blockstore/internal/chainerr"
)

// File is a growable memory-mapped file region.
//
// Not safe for concurrent use across goroutines without external
// synchronization: Resize/Reserve invalidate any slice previously returned
// by Data, exactly as spec'd — callers must re-fetch Data() after any
// operation that may have resized the file. A File is owned by exactly one
// data_base-level coordinator for the duration of a session; allocators and
// bucket headers hold non-owning references to it.
type File struct {
	fd   int
	data []byte
	size int
	path string
}

// Open maps the file at path read/write, creating it if it does not exist.
// The initial mapped size is the file's current length (zero for a freshly
// created file — callers that need header space must Resize immediately).
func Open(path string) (*File, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, err, chainerr.ErrIO)
	}

	var stat unix.Stat_t

	if err := unix.Fstat(fd, &stat); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("fstat %s: %w: %w", path, err, chainerr.ErrIO)
	}

	f := &File{fd: fd, path: path}

	if stat.Size > 0 {
		data, err := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			_ = unix.Close(fd)

			return nil, fmt.Errorf("mmap %s: %w: %w", path, err, chainerr.ErrIO)
		}

		f.data = data
		f.size = int(stat.Size)
	}

	return f, nil
}

// Data returns the base slice of the mapped region. The returned slice is
// valid until the next successful Resize/Reserve or Close; callers must not
// retain it across such a call.
func (f *File) Data() []byte {
	return f.data
}

// Size returns the current mapped length in bytes.
func (f *File) Size() int {
	return f.size
}

// Path returns the path the file was opened from.
func (f *File) Path() string {
	return f.path
}

// Resize grows (or, though the engine never relies on this, shrinks) the
// file and remaps it. Any slice previously returned by Data is invalid
// after this call; callers must call Data again.
func (f *File) Resize(newSize int) error {
	if newSize == f.size {
		return nil
	}

	if newSize < 0 {
		return fmt.Errorf("negative size %d: %w", newSize, chainerr.ErrInvalidInput)
	}

	if f.data != nil {
		if err := unix.Munmap(f.data); err != nil {
			return fmt.Errorf("munmap %s: %w: %w", f.path, err, chainerr.ErrIO)
		}

		f.data = nil
	}

	if err := unix.Ftruncate(f.fd, int64(newSize)); err != nil {
		return fmt.Errorf("ftruncate %s to %d: %w: %w", f.path, newSize, err, chainerr.ErrIO)
	}

	if newSize == 0 {
		f.size = 0

		return nil
	}

	data, err := unix.Mmap(f.fd, 0, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %s at %d: %w: %w", f.path, newSize, err, chainerr.ErrIO)
	}

	f.data = data
	f.size = newSize

	return nil
}

// Reserve grows the file to at least required bytes, using a 1.5x growth
// policy to amortize reallocation while bounding waste: resize(max(required,
// size*3/2)).
func (f *File) Reserve(required int) error {
	if required <= f.size {
		return nil
	}

	target := f.size + f.size/2
	if target < required {
		target = required
	}

	return f.Resize(target)
}

// Flush commits the mapped region's dirty pages to disk (msync). Used by
// callers that opted into stronger writeback durability; ordinary allocator
// publishes rely on OS page writeback per the spec's crash model.
func (f *File) Flush() error {
	if f.data == nil {
		return nil
	}

	if err := unix.Msync(f.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync %s: %w: %w", f.path, err, chainerr.ErrIO)
	}

	return nil
}

// Close unmaps the region and closes the underlying file descriptor.
// Data is invalid after Close returns.
func (f *File) Close() error {
	var firstErr error

	if f.data != nil {
		if err := unix.Munmap(f.data); err != nil {
			firstErr = fmt.Errorf("munmap %s: %w: %w", f.path, err, chainerr.ErrIO)
		}

		f.data = nil
	}

	if err := unix.Close(f.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close %s: %w: %w", f.path, err, chainerr.ErrIO)
	}

	return firstErr
}

// Remove deletes the file at path. A file that does not exist is not an
// error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}
