// Package txdb implements the transaction database (spec.md §4.7.2): a
// single htdb_slab keyed by 32-byte transaction hash, whose payload is
// [block_height: u32][index_in_block: u32][tx bytes: variable]. The
// transaction byte length is never stored; callers parse up to the slab's
// to_eof bound.
//
// Grounded on spec.md §4.7.2 directly, composing this module's htdb
// package the same way blockdb does for its lookup table.
package txdb

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerforge/blockstore/internal/bucketdisk"
	"github.com/ledgerforge/blockstore/internal/chainerr"
	"github.com/ledgerforge/blockstore/internal/htdb"
	"github.com/ledgerforge/blockstore/internal/mmfile"
	"github.com/ledgerforge/blockstore/internal/slaballoc"
)

const hashSize = 32
const metaSize = 8 // block_height + index_in_block

// Result is a parsed transaction record. Tx aliases mapped memory and is
// invalidated by any subsequent write that grows the file.
type Result struct {
	Height       uint32
	IndexInBlock uint32
	Tx           []byte
}

// Engine is the transaction database.
type Engine struct {
	buckets *bucketdisk.SlabBuckets
	cells   *slaballoc.Allocator
	table   *htdb.SlabTable
}

// New wires an Engine over an already-opened file. It does not touch the
// file; call Create or Start.
func New(file *mmfile.File) *Engine {
	return &Engine{buckets: bucketdisk.NewSlabBuckets(file, 0)}
}

// Create initializes a fresh transaction database with bucketCount buckets.
func (e *Engine) Create(bucketCount uint32) error {
	if err := e.buckets.Create(bucketCount); err != nil {
		return err
	}

	e.cells = slaballoc.New(e.buckets.File(), 4+int(bucketCount)*8)
	if err := e.cells.Create(); err != nil {
		return err
	}

	e.table = htdb.NewSlabTable(e.buckets, e.cells, hashSize)

	return nil
}

// Start reopens an existing transaction database.
func (e *Engine) Start() error {
	if err := e.buckets.Start(); err != nil {
		return err
	}

	e.cells = slaballoc.New(e.buckets.File(), 4+int(e.buckets.BucketCount())*8)
	if err := e.cells.Start(); err != nil {
		return err
	}

	e.table = htdb.NewSlabTable(e.buckets, e.cells, hashSize)

	return nil
}

// Store inserts tx under hash, recording the block height and index within
// that block it was confirmed at.
func (e *Engine) Store(hash [32]byte, height, indexInBlock uint32, tx []byte) error {
	_, err := e.table.Store(hash[:], metaSize+len(tx), func(v []byte) error {
		binary.LittleEndian.PutUint32(v[0:4], height)
		binary.LittleEndian.PutUint32(v[4:8], indexInBlock)
		copy(v[metaSize:], tx)

		return nil
	})

	return err
}

// Get returns the transaction stored under hash, if any.
func (e *Engine) Get(hash [32]byte) (Result, bool, error) {
	payload, found, err := e.table.Get(hash[:])
	if err != nil || !found {
		return Result{}, found, err
	}

	if len(payload) < metaSize {
		return Result{}, false, fmt.Errorf("transaction payload truncated: %w", chainerr.ErrCorruptHeader)
	}

	return Result{
		Height:       binary.LittleEndian.Uint32(payload[0:4]),
		IndexInBlock: binary.LittleEndian.Uint32(payload[4:8]),
		Tx:           payload[metaSize:],
	}, true, nil
}

// Remove unlinks hash's chain entry. The underlying slab bytes are not
// reclaimed.
func (e *Engine) Remove(hash [32]byte) (bool, error) {
	return e.table.Unlink(hash[:])
}

// Sync publishes the slab allocator's end offset to disk.
func (e *Engine) Sync() error {
	return e.cells.Sync()
}

// Stats reports read-only occupancy diagnostics: hash table bucket fill
// ratio and sampled chain length, plus total arena bytes in use.
type Stats struct {
	Table htdb.Stats
	Cells slaballoc.Stats
}

func (e *Engine) Stats(sampleSize uint32) (Stats, error) {
	table, err := e.table.Stats(sampleSize)
	if err != nil {
		return Stats{}, err
	}

	return Stats{Table: table, Cells: e.cells.Stats()}, nil
}
