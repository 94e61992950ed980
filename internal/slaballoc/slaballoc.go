// Package slaballoc implements the variable-size slab allocator: an
// append-only byte arena at a caller-chosen offset within a shared
// memory-mapped file.
//
// On-disk layout: [end_offset: u64][payload bytes ...], relative to the
// allocator's configured offset. Payload offsets handed out by Allocate and
// accepted by Get are relative to the start of the payload region, not the
// file, so they remain valid regardless of where the slab lives within its
// file.
//
// Grounded on the offset-and-length pointer arithmetic style in the
// teacher's pkg/slotcache (slot/bucket offset computation in format.go),
// generalized from slotcache's fixed-size slots to spec.md §4.3's
// variable-size, append-only arena.
package slaballoc

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerforge/blockstore/internal/chainerr"
	"github.com/ledgerforge/blockstore/internal/mmfile"
)

const endOffsetFieldSize = 8

// Allocator is a variable-size-cell allocator backed by a shared mmfile.
//
// Not safe for concurrent use; see recalloc.Allocator for the same
// constraint and rationale.
type Allocator struct {
	file   *mmfile.File
	offset int    // byte offset of the end_offset field within file
	end    uint64 // in-memory end offset, relative to payload start
}

// New constructs a slab allocator view over file at the given byte offset.
// It does not touch the file; call Create or Start.
func New(file *mmfile.File, offset int) *Allocator {
	return &Allocator{file: file, offset: offset}
}

func (a *Allocator) payloadStart() int {
	return a.offset + endOffsetFieldSize
}

// Create initializes a fresh slab region: end_offset = 0, persisted.
func (a *Allocator) Create() error {
	if err := a.file.Reserve(a.payloadStart()); err != nil {
		return err
	}

	a.end = 0

	return a.Sync()
}

// Start reads the on-disk end_offset into memory.
func (a *Allocator) Start() error {
	if a.file.Size() < a.payloadStart() {
		return fmt.Errorf("slab allocator at offset %d: file too small (%d bytes): %w",
			a.offset, a.file.Size(), chainerr.ErrCorruptHeader)
	}

	a.end = binary.LittleEndian.Uint64(a.file.Data()[a.offset:])

	if uint64(a.file.Size()-a.payloadStart()) < a.end {
		return fmt.Errorf("slab allocator at offset %d: end_offset %d exceeds file capacity: %w",
			a.offset, a.end, chainerr.ErrCorruptHeader)
	}

	return nil
}

// EndOffset returns the in-memory write cursor, relative to payload start.
func (a *Allocator) EndOffset() uint64 {
	return a.end
}

// Allocate reserves bytesNeeded additional bytes and returns the offset
// (relative to payload start) at which the caller should write them. The
// file is grown as needed, invalidating any slice previously returned by
// Get.
func (a *Allocator) Allocate(bytesNeeded int) (uint64, error) {
	if bytesNeeded < 0 {
		return 0, fmt.Errorf("negative allocation size %d: %w", bytesNeeded, chainerr.ErrInvalidInput)
	}

	off := a.end

	newEnd := off + uint64(bytesNeeded)
	if newEnd < off {
		return 0, fmt.Errorf("slab allocator at offset %d: allocation overflow: %w", a.offset, chainerr.ErrFull)
	}

	required := a.payloadStart() + int(newEnd)
	if err := a.file.Reserve(required); err != nil {
		return 0, err
	}

	a.end = newEnd

	return off, nil
}

// Get returns a byte view starting at off (relative to payload start) and
// extending to the current write cursor — i.e., already bounded to the
// writable tail, which is this package's equivalent of the spec's
// to_eof(ptr) upper bound: callers parse up to len(slice) and never read
// past the allocator's end_offset.
func (a *Allocator) Get(off uint64) ([]byte, error) {
	if off > a.end {
		return nil, fmt.Errorf("slab offset %d past end %d: %w", off, a.end, chainerr.ErrInvalidInput)
	}

	start := a.payloadStart() + int(off)
	end := a.payloadStart() + int(a.end)

	return a.file.Data()[start:end], nil
}

// ToEOF returns the number of bytes between off and the writable tail,
// matching spec.md's to_eof(ptr) directly for callers that want the count
// without slicing.
func (a *Allocator) ToEOF(off uint64) (uint64, error) {
	if off > a.end {
		return 0, fmt.Errorf("slab offset %d past end %d: %w", off, a.end, chainerr.ErrInvalidInput)
	}

	return a.end - off, nil
}

// Sync writes the in-memory end_offset to disk: the atomic publish step.
func (a *Allocator) Sync() error {
	if a.file.Size() < a.offset+endOffsetFieldSize {
		return fmt.Errorf("slab allocator at offset %d: file too small to sync: %w", a.offset, chainerr.ErrIO)
	}

	binary.LittleEndian.PutUint64(a.file.Data()[a.offset:], a.end)

	return nil
}

// Stats reports this allocator's size-level diagnostics.
type Stats struct {
	BytesUsed uint64
}

// Stats returns a read-only snapshot of arena occupancy.
func (a *Allocator) Stats() Stats {
	return Stats{BytesUsed: a.end}
}
