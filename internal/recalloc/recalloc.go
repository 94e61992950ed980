// Package recalloc implements the fixed-size record allocator: an array of
// equal-sized cells at a caller-chosen byte offset within a shared
// memory-mapped file.
//
// On-disk layout: [count: u32][cell 0][cell 1]...[cell count-1], all
// relative to the allocator's configured offset. Grounded on the
// highwater/slot-capacity bookkeeping in the teacher's
// pkg/slotcache/slotcache.go, adapted from slotcache's fixed total capacity
// to spec.md §4.2's append-only, 1.5x-growing allocator.
package recalloc

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerforge/blockstore/internal/chainerr"
	"github.com/ledgerforge/blockstore/internal/mmfile"
)

const countFieldSize = 4

// Allocator is a fixed-size-cell allocator backed by a shared mmfile.
//
// Not safe for concurrent use; callers serialize writers externally (the
// coordinator's write lock) and must not call Get and hold the returned
// slice across any call to Allocate, which may resize (and therefore remap)
// the underlying file.
type Allocator struct {
	file     *mmfile.File
	offset   int // byte offset of the count field within file
	cellSize int
	count    uint32 // in-memory count; not yet published to disk until Sync
}

// New constructs an allocator view over file at the given byte offset, with
// the given fixed cell size. It does not touch the file; call Create or
// Start.
func New(file *mmfile.File, offset int, cellSize int) (*Allocator, error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %d: %w", cellSize, chainerr.ErrInvalidInput)
	}

	return &Allocator{file: file, offset: offset, cellSize: cellSize}, nil
}

// Create initializes a fresh allocator region: count = 0, persisted.
func (a *Allocator) Create() error {
	if err := a.file.Reserve(a.offset + countFieldSize); err != nil {
		return err
	}

	a.count = 0

	return a.Sync()
}

// Start reads the on-disk count into memory. Call once after opening an
// existing file, before any Allocate/Get.
func (a *Allocator) Start() error {
	if a.file.Size() < a.offset+countFieldSize {
		return fmt.Errorf("record allocator at offset %d: file too small (%d bytes): %w",
			a.offset, a.file.Size(), chainerr.ErrCorruptHeader)
	}

	a.count = binary.LittleEndian.Uint32(a.file.Data()[a.offset:])

	minSize := a.offset + countFieldSize + int(a.count)*a.cellSize
	if a.file.Size() < minSize {
		return fmt.Errorf("record allocator at offset %d: count %d needs %d bytes, file has %d: %w",
			a.offset, a.count, minSize, a.file.Size(), chainerr.ErrCorruptHeader)
	}

	return nil
}

// Count returns the in-memory logical record count.
func (a *Allocator) Count() uint32 {
	return a.count
}

// SetCount performs logical truncation: n must be <= Count(). This does not
// shrink the file (allocator space is never reclaimed); it only moves the
// in-memory cursor backwards. Callers must Sync to publish.
func (a *Allocator) SetCount(n uint32) error {
	if n > a.count {
		return fmt.Errorf("set_count %d exceeds current count %d: %w", n, a.count, chainerr.ErrInvalidInput)
	}

	a.count = n

	return nil
}

// Allocate reserves the next cell and returns its index. The on-disk count
// is not updated until Sync; the file is grown (via Reserve) as needed,
// which invalidates any slice previously returned by Get.
func (a *Allocator) Allocate() (uint32, error) {
	if a.count == maxUint32 {
		return 0, fmt.Errorf("record allocator at offset %d is full: %w", a.offset, chainerr.ErrFull)
	}

	index := a.count

	required := a.offset + countFieldSize + int(index+1)*a.cellSize
	if err := a.file.Reserve(required); err != nil {
		return 0, err
	}

	a.count = index + 1

	return index, nil
}

const maxUint32 = 1<<32 - 1

// Get returns a mutable byte view of length cellSize for the record at
// index. index must be < Count(). The returned slice aliases the mmap and
// is invalidated by any subsequent Allocate call that grows the file;
// callers must not retain it across such a call.
func (a *Allocator) Get(index uint32) ([]byte, error) {
	if index >= a.count {
		return nil, fmt.Errorf("record index %d out of range (count %d): %w", index, a.count, chainerr.ErrInvalidInput)
	}

	start := a.offset + countFieldSize + int(index)*a.cellSize

	return a.file.Data()[start : start+a.cellSize], nil
}

// Sync writes the in-memory count to disk. This is the atomic publish step:
// readers that read count before Sync cannot observe records allocated
// since the last Sync. The write is a single aligned 32-bit store, which
// this engine's target platforms (little-endian, x86-64/arm64) perform
// atomically with respect to concurrent readers (see spec §9).
func (a *Allocator) Sync() error {
	if a.file.Size() < a.offset+countFieldSize {
		return fmt.Errorf("record allocator at offset %d: file too small to sync: %w", a.offset, chainerr.ErrIO)
	}

	binary.LittleEndian.PutUint32(a.file.Data()[a.offset:], a.count)

	return nil
}

// CellSize returns the configured fixed cell size.
func (a *Allocator) CellSize() int {
	return a.cellSize
}

// Stats reports this allocator's size-level diagnostics.
type Stats struct {
	CellCount uint32
	CellSize  int
	BytesUsed int64
}

// Stats returns a read-only snapshot of allocator occupancy. Cheap: no
// chain walking, just the in-memory bookkeeping fields.
func (a *Allocator) Stats() Stats {
	return Stats{
		CellCount: a.count,
		CellSize:  a.cellSize,
		BytesUsed: int64(a.count) * int64(a.cellSize),
	}
}
