// Package bucketdisk implements the on-disk bucket header array shared by
// both hash-table flavors: a bucket_count field followed by bucket_count
// fixed-width slots, each holding either the sentinel "empty" value or the
// head of a chain.
//
// Two flavors exist per spec.md §4.4/§6: RecordBuckets (u32 values, used by
// htdb_record tables, whose chains live in a recalloc.Allocator) and
// SlabBuckets (u64 values, used by htdb_slab tables, whose chains live in a
// slaballoc.Allocator). Grounded on the header layout and sentinel encoding
// in the teacher's pkg/slotcache/format.go (encodeHeader/decodeHeader,
// bucketEmpty/bucketTombstone constants), generalized from slotcache's
// single combined header to a standalone reusable bucket array per spec.md
// §4.4's "caller-chosen offset" contract.
package bucketdisk

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerforge/blockstore/internal/chainerr"
	"github.com/ledgerforge/blockstore/internal/mmfile"
)

// EmptyRecord is the sentinel "no chain" value for RecordBuckets slots.
const EmptyRecord uint32 = 0xFFFFFFFF

// EmptySlab is the sentinel "no chain" value for SlabBuckets slots.
const EmptySlab uint64 = 0xFFFFFFFFFFFFFFFF

const bucketCountFieldSize = 4

// RecordBuckets is a bucket header array whose values are 32-bit indices
// into a paired recalloc.Allocator.
type RecordBuckets struct {
	file   *mmfile.File
	offset int
	count  uint32
}

// NewRecordBuckets constructs a view over file at the given byte offset.
// It does not touch the file; call Create or Start.
func NewRecordBuckets(file *mmfile.File, offset int) *RecordBuckets {
	return &RecordBuckets{file: file, offset: offset}
}

// Create initializes bucketCount buckets, all empty, persisted.
func (b *RecordBuckets) Create(bucketCount uint32) error {
	if bucketCount == 0 {
		return fmt.Errorf("bucket count must be positive: %w", chainerr.ErrInvalidInput)
	}

	size := bucketCountFieldSize + int(bucketCount)*4

	if err := b.file.Reserve(b.offset + size); err != nil {
		return err
	}

	data := b.file.Data()
	binary.LittleEndian.PutUint32(data[b.offset:], bucketCount)

	base := b.offset + bucketCountFieldSize
	for i := range int(bucketCount) {
		binary.LittleEndian.PutUint32(data[base+i*4:], EmptyRecord)
	}

	b.count = bucketCount

	return nil
}

// Start reads the on-disk bucket_count and validates the file is large
// enough to hold it.
func (b *RecordBuckets) Start() error {
	if b.file.Size() < b.offset+bucketCountFieldSize {
		return fmt.Errorf("record buckets at offset %d: file too small: %w", b.offset, chainerr.ErrCorruptHeader)
	}

	count := binary.LittleEndian.Uint32(b.file.Data()[b.offset:])

	minSize := b.offset + bucketCountFieldSize + int(count)*4
	if b.file.Size() < minSize {
		return fmt.Errorf("record buckets at offset %d: bucket_count %d needs %d bytes, file has %d: %w",
			b.offset, count, minSize, b.file.Size(), chainerr.ErrCorruptHeader)
	}

	b.count = count

	return nil
}

// BucketCount returns the fixed number of buckets.
func (b *RecordBuckets) BucketCount() uint32 {
	return b.count
}

// File returns the backing mmfile, for callers that need to place a paired
// allocator immediately after this header.
func (b *RecordBuckets) File() *mmfile.File {
	return b.file
}

// Read returns the value stored in bucket i.
func (b *RecordBuckets) Read(i uint32) (uint32, error) {
	if i >= b.count {
		return 0, fmt.Errorf("bucket index %d out of range (count %d): %w", i, b.count, chainerr.ErrInvalidInput)
	}

	base := b.offset + bucketCountFieldSize + int(i)*4

	return binary.LittleEndian.Uint32(b.file.Data()[base:]), nil
}

// Write stores value in bucket i as a single aligned 32-bit store — the
// atomic publication point chain operations rely on (spec.md §4.5, §9).
func (b *RecordBuckets) Write(i uint32, value uint32) error {
	if i >= b.count {
		return fmt.Errorf("bucket index %d out of range (count %d): %w", i, b.count, chainerr.ErrInvalidInput)
	}

	base := b.offset + bucketCountFieldSize + int(i)*4
	binary.LittleEndian.PutUint32(b.file.Data()[base:], value)

	return nil
}

// BucketIndex hashes key's first 4 bytes (little-endian) modulo bucket
// count, per spec.md §4.5. Callers with low-entropy key prefixes must
// pre-hash before calling.
func (b *RecordBuckets) BucketIndex(key []byte) (uint32, error) {
	if len(key) < 4 {
		return 0, fmt.Errorf("key too short for bucket indexing: %w", chainerr.ErrInvalidInput)
	}

	prefix := binary.LittleEndian.Uint32(key[:4])

	return prefix % b.count, nil
}

// SlabBuckets is a bucket header array whose values are 64-bit byte offsets
// into a paired slaballoc.Allocator.
type SlabBuckets struct {
	file   *mmfile.File
	offset int
	count  uint32
}

// NewSlabBuckets constructs a view over file at the given byte offset.
func NewSlabBuckets(file *mmfile.File, offset int) *SlabBuckets {
	return &SlabBuckets{file: file, offset: offset}
}

// Create initializes bucketCount buckets, all empty, persisted.
func (b *SlabBuckets) Create(bucketCount uint32) error {
	if bucketCount == 0 {
		return fmt.Errorf("bucket count must be positive: %w", chainerr.ErrInvalidInput)
	}

	size := bucketCountFieldSize + int(bucketCount)*8

	if err := b.file.Reserve(b.offset + size); err != nil {
		return err
	}

	data := b.file.Data()
	binary.LittleEndian.PutUint32(data[b.offset:], bucketCount)

	base := b.offset + bucketCountFieldSize
	for i := range int(bucketCount) {
		binary.LittleEndian.PutUint64(data[base+i*8:], EmptySlab)
	}

	b.count = bucketCount

	return nil
}

// Start reads the on-disk bucket_count and validates the file is large
// enough to hold it.
func (b *SlabBuckets) Start() error {
	if b.file.Size() < b.offset+bucketCountFieldSize {
		return fmt.Errorf("slab buckets at offset %d: file too small: %w", b.offset, chainerr.ErrCorruptHeader)
	}

	count := binary.LittleEndian.Uint32(b.file.Data()[b.offset:])

	minSize := b.offset + bucketCountFieldSize + int(count)*8
	if b.file.Size() < minSize {
		return fmt.Errorf("slab buckets at offset %d: bucket_count %d needs %d bytes, file has %d: %w",
			b.offset, count, minSize, b.file.Size(), chainerr.ErrCorruptHeader)
	}

	b.count = count

	return nil
}

// BucketCount returns the fixed number of buckets.
func (b *SlabBuckets) BucketCount() uint32 {
	return b.count
}

// File returns the backing mmfile, for callers that need to place a paired
// allocator immediately after this header.
func (b *SlabBuckets) File() *mmfile.File {
	return b.file
}

// Read returns the value stored in bucket i.
func (b *SlabBuckets) Read(i uint32) (uint64, error) {
	if i >= b.count {
		return 0, fmt.Errorf("bucket index %d out of range (count %d): %w", i, b.count, chainerr.ErrInvalidInput)
	}

	base := b.offset + bucketCountFieldSize + int(i)*8

	return binary.LittleEndian.Uint64(b.file.Data()[base:]), nil
}

// Write stores value in bucket i as a single aligned 64-bit store.
func (b *SlabBuckets) Write(i uint32, value uint64) error {
	if i >= b.count {
		return fmt.Errorf("bucket index %d out of range (count %d): %w", i, b.count, chainerr.ErrInvalidInput)
	}

	base := b.offset + bucketCountFieldSize + int(i)*8
	binary.LittleEndian.PutUint64(b.file.Data()[base:], value)

	return nil
}

// BucketIndex hashes key's first 4 bytes (little-endian) modulo bucket
// count, per spec.md §4.5.
func (b *SlabBuckets) BucketIndex(key []byte) (uint32, error) {
	if len(key) < 4 {
		return 0, fmt.Errorf("key too short for bucket indexing: %w", chainerr.ErrInvalidInput)
	}

	prefix := binary.LittleEndian.Uint32(key[:4])

	return prefix % b.count, nil
}
