// Package historydb implements the history database (spec.md §4.7.4):
// per-address chains of output/spend rows, stored as a multimap_records
// over history_lookup (address short hash → chain head) and history_rows
// (the chain itself, 49-byte rows).
//
// Grounded on spec.md §4.7.4 directly, composing this module's multimap
// package; the 63-bit spend checksum formula follows
// original_source/include/bitcoin/blockchain/database/history_database.hpp's
// `checksum_point` bit-packing exactly, since it is an on-disk format
// detail the distilled spec only partially restates.
package historydb

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerforge/blockstore/internal/bucketdisk"
	"github.com/ledgerforge/blockstore/internal/chainerr"
	"github.com/ledgerforge/blockstore/internal/htdb"
	"github.com/ledgerforge/blockstore/internal/linkrec"
	"github.com/ledgerforge/blockstore/internal/mmfile"
	"github.com/ledgerforge/blockstore/internal/multimap"
	"github.com/ledgerforge/blockstore/internal/recalloc"
)

const shortHashSize = 20
const outpointSize = 36
const rowSize = 1 + outpointSize + 4 + 8 // kind + point + height + value/checksum
const headsCellSize = shortHashSize + 4 + 4
const rowsCellSize = 4 + rowSize

const (
	// KindOutput marks a row recording a new output.
	KindOutput uint8 = 0
	// KindSpend marks a row recording an input that spent a previous output.
	KindSpend uint8 = 1
)

// OutPoint identifies an output by owning transaction hash and index.
type OutPoint struct {
	Hash  [32]byte
	Index uint32
}

// Row is one history entry: an output creation or a spend of a prior
// output, for a single address.
type Row struct {
	Kind             uint8
	Point            OutPoint
	Height           uint32
	ValueOrChecksum  uint64
}

// Checksum packs an outpoint into a 63-bit value that lets a spend row
// reference the output row it consumes without repeating all 36 bytes:
// the first 8 bytes of the hash, little-endian, with the index written
// over the first 4 of those bytes, masked to 63 bits.
func Checksum(op OutPoint) uint64 {
	var buf [8]byte
	copy(buf[:], op.Hash[:8])
	binary.LittleEndian.PutUint32(buf[:4], op.Index)

	return binary.LittleEndian.Uint64(buf[:]) & (1<<63 - 1)
}

// Engine is the history database.
type Engine struct {
	headsBuckets *bucketdisk.RecordBuckets
	headsCells   *recalloc.Allocator
	rowsCells    *recalloc.Allocator
	mm           *multimap.Multimap
}

// New wires an Engine over two already-opened files; call Create or Start.
func New(lookupFile, rowsFile *mmfile.File) (*Engine, error) {
	rowsCells, err := recalloc.New(rowsFile, 0, rowsCellSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		headsBuckets: bucketdisk.NewRecordBuckets(lookupFile, 0),
		rowsCells:    rowsCells,
	}, nil
}

// Create initializes a fresh history database with bucketCount buckets.
func (e *Engine) Create(bucketCount uint32) error {
	if err := e.headsBuckets.Create(bucketCount); err != nil {
		return err
	}

	headsCells, err := recalloc.New(e.headsBuckets.File(), 4+int(bucketCount)*4, headsCellSize)
	if err != nil {
		return err
	}
	if err := headsCells.Create(); err != nil {
		return err
	}

	if err := e.rowsCells.Create(); err != nil {
		return err
	}

	return e.wire(headsCells)
}

// Start reopens an existing history database.
func (e *Engine) Start() error {
	if err := e.headsBuckets.Start(); err != nil {
		return err
	}

	headsCells, err := recalloc.New(e.headsBuckets.File(), 4+int(e.headsBuckets.BucketCount())*4, headsCellSize)
	if err != nil {
		return err
	}
	if err := headsCells.Start(); err != nil {
		return err
	}

	if err := e.rowsCells.Start(); err != nil {
		return err
	}

	return e.wire(headsCells)
}

func (e *Engine) wire(headsCells *recalloc.Allocator) error {
	heads, err := htdb.NewRecordTable(e.headsBuckets, headsCells, shortHashSize)
	if err != nil {
		return err
	}

	rows, err := linkrec.New(e.rowsCells)
	if err != nil {
		return err
	}

	mm, err := multimap.New(heads, rows)
	if err != nil {
		return err
	}

	e.headsCells = headsCells
	e.mm = mm

	return nil
}

func writeRow(v []byte, row Row) {
	v[0] = row.Kind
	copy(v[1:1+outpointSize], row.Point.Hash[:])
	binary.LittleEndian.PutUint32(v[1+32:1+36], row.Point.Index)
	binary.LittleEndian.PutUint32(v[1+outpointSize:1+outpointSize+4], row.Height)
	binary.LittleEndian.PutUint64(v[1+outpointSize+4:], row.ValueOrChecksum)
}

func parseRow(v []byte) (Row, error) {
	if len(v) < rowSize {
		return Row{}, fmt.Errorf("history row truncated: %w", chainerr.ErrCorruptHeader)
	}

	var row Row
	row.Kind = v[0]
	copy(row.Point.Hash[:], v[1:1+32])
	row.Point.Index = binary.LittleEndian.Uint32(v[1+32 : 1+36])
	row.Height = binary.LittleEndian.Uint32(v[1+outpointSize : 1+outpointSize+4])
	row.ValueOrChecksum = binary.LittleEndian.Uint64(v[1+outpointSize+4:])

	return row, nil
}

// AddOutput prepends an output row to address's chain.
func (e *Engine) AddOutput(address [shortHashSize]byte, outpoint OutPoint, height uint32, value uint64) error {
	return e.mm.AddRow(address[:], func(v []byte) error {
		writeRow(v, Row{Kind: KindOutput, Point: outpoint, Height: height, ValueOrChecksum: value})
		return nil
	})
}

// AddSpend prepends a spend row to address's chain: spendPoint is the
// spending input's own location; previousOutpoint is the output it
// consumed, recorded only as a checksum.
func (e *Engine) AddSpend(address [shortHashSize]byte, previousOutpoint, spendPoint OutPoint, height uint32) error {
	return e.mm.AddRow(address[:], func(v []byte) error {
		writeRow(v, Row{Kind: KindSpend, Point: spendPoint, Height: height, ValueOrChecksum: Checksum(previousOutpoint)})
		return nil
	})
}

// DeleteLastRow decapitates address's chain (removes the most recently
// added row). Returns false if address has no rows.
func (e *Engine) DeleteLastRow(address [shortHashSize]byte) (bool, error) {
	return e.mm.DeleteLastRow(address[:])
}

// Get returns address's rows with height >= fromHeight, newest first,
// capped at limit rows (0 means unbounded).
func (e *Engine) Get(address [shortHashSize]byte, limit int, fromHeight uint32) ([]Row, error) {
	var rows []Row

	err := e.mm.Walk(address[:], func(payload []byte) (bool, error) {
		row, err := parseRow(payload)
		if err != nil {
			return false, err
		}

		if row.Height < fromHeight {
			return true, nil
		}

		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			return false, nil
		}

		return true, nil
	})

	return rows, err
}

// Sync publishes both allocators' in-memory cursors to disk.
func (e *Engine) Sync() error {
	if err := e.headsCells.Sync(); err != nil {
		return err
	}

	return e.rowsCells.Sync()
}

// Stats reports read-only occupancy diagnostics: the address → chain-head
// table's bucket fill ratio and sampled collision-chain length, plus
// allocator usage for both the heads table and the row chains themselves.
type Stats struct {
	Heads     htdb.Stats
	HeadCells recalloc.Stats
	RowCells  recalloc.Stats
}

func (e *Engine) Stats(sampleSize uint32) (Stats, error) {
	heads, err := e.mm.Stats(sampleSize)
	if err != nil {
		return Stats{}, err
	}

	return Stats{Heads: heads, HeadCells: e.headsCells.Stats(), RowCells: e.rowsCells.Stats()}, nil
}
