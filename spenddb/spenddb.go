// Package spenddb implements the spend database (spec.md §4.7.3): a single
// htdb_record mapping a spent outpoint to the input that spent it. The
// outpoint's natural key (32-byte tx hash, 4-byte index) has a low-entropy
// index field, which would clump bucket_index's prefix-hash; the engine
// re-hashes the outpoint through SHA-256 before using it as a hash-table
// key.
//
// Grounded on spec.md §4.7.3 directly, composing this module's htdb
// package; original_source/include/bitcoin/blockchain/database/spend_database.hpp
// shows the same outpoint-hash key derivation under the name
// `spend_database::resolve_hash`.
package spenddb

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ledgerforge/blockstore/internal/bucketdisk"
	"github.com/ledgerforge/blockstore/internal/chainerr"
	"github.com/ledgerforge/blockstore/internal/htdb"
	"github.com/ledgerforge/blockstore/internal/mmfile"
	"github.com/ledgerforge/blockstore/internal/recalloc"
)

const keySize = 32
const outpointSize = 36 // 32-byte hash + 4-byte index
const cellSize = keySize + 4 + outpointSize

// OutPoint identifies a transaction output by the hash of its owning
// transaction and its index within that transaction.
type OutPoint struct {
	Hash  [32]byte
	Index uint32
}

func deriveKey(op OutPoint) [32]byte {
	var buf [36]byte
	copy(buf[:32], op.Hash[:])
	binary.LittleEndian.PutUint32(buf[32:], op.Index)

	return sha256.Sum256(buf[:])
}

// Engine is the spend database.
type Engine struct {
	buckets *bucketdisk.RecordBuckets
	cells   *recalloc.Allocator
	table   *htdb.RecordTable
}

// New wires an Engine over an already-opened file; call Create or Start.
func New(file *mmfile.File) *Engine {
	return &Engine{buckets: bucketdisk.NewRecordBuckets(file, 0)}
}

// Create initializes a fresh spend database with bucketCount buckets.
func (e *Engine) Create(bucketCount uint32) error {
	if err := e.buckets.Create(bucketCount); err != nil {
		return err
	}

	cells, err := recalloc.New(e.buckets.File(), 4+int(bucketCount)*4, cellSize)
	if err != nil {
		return err
	}
	if err := cells.Create(); err != nil {
		return err
	}

	table, err := htdb.NewRecordTable(e.buckets, cells, keySize)
	if err != nil {
		return err
	}

	e.cells = cells
	e.table = table

	return nil
}

// Start reopens an existing spend database.
func (e *Engine) Start() error {
	if err := e.buckets.Start(); err != nil {
		return err
	}

	cells, err := recalloc.New(e.buckets.File(), 4+int(e.buckets.BucketCount())*4, cellSize)
	if err != nil {
		return err
	}
	if err := cells.Start(); err != nil {
		return err
	}

	table, err := htdb.NewRecordTable(e.buckets, cells, keySize)
	if err != nil {
		return err
	}

	e.cells = cells
	e.table = table

	return nil
}

// Store records that spentOutpoint was consumed by spendingInput.
func (e *Engine) Store(spentOutpoint, spendingInput OutPoint) error {
	key := deriveKey(spentOutpoint)

	_, err := e.table.Store(key[:], func(v []byte) error {
		copy(v[:32], spendingInput.Hash[:])
		binary.LittleEndian.PutUint32(v[32:36], spendingInput.Index)

		return nil
	})

	return err
}

// Get returns the input that spent spentOutpoint, if any.
func (e *Engine) Get(spentOutpoint OutPoint) (OutPoint, bool, error) {
	key := deriveKey(spentOutpoint)

	v, found, err := e.table.Get(key[:])
	if err != nil || !found {
		return OutPoint{}, found, err
	}

	if len(v) < outpointSize {
		return OutPoint{}, false, fmt.Errorf("spend record truncated: %w", chainerr.ErrCorruptHeader)
	}

	var op OutPoint
	copy(op.Hash[:], v[:32])
	op.Index = binary.LittleEndian.Uint32(v[32:36])

	return op, true, nil
}

// Remove unlinks the spend record for spentOutpoint.
func (e *Engine) Remove(spentOutpoint OutPoint) (bool, error) {
	key := deriveKey(spentOutpoint)
	return e.table.Unlink(key[:])
}

// Sync publishes the record allocator's in-memory count to disk.
func (e *Engine) Sync() error {
	return e.cells.Sync()
}

// Stats reports read-only occupancy diagnostics: hash table bucket fill
// ratio and sampled chain length, plus allocator cell usage.
type Stats struct {
	Table htdb.Stats
	Cells recalloc.Stats
}

func (e *Engine) Stats(sampleSize uint32) (Stats, error) {
	table, err := e.table.Stats(sampleSize)
	if err != nil {
		return Stats{}, err
	}

	return Stats{Table: table, Cells: e.cells.Stats()}, nil
}
