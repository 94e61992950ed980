// Package multimap implements multimap_records (spec.md §4.6): a
// htdb.RecordTable whose 4-byte value region holds the head index of a
// linkrec.Chain, giving each key an arbitrarily long row list without a
// hash-table entry per row. Used by the history engine to store every
// output/spend touching an address as one chain keyed by the address short
// hash.
//
// Grounded on spec.md §4.6 directly, composing this module's own htdb and
// linkrec packages; the teacher repo has no equivalent (its caches are
// one-value-per-key).
package multimap

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerforge/blockstore/internal/bucketdisk"
	"github.com/ledgerforge/blockstore/internal/chainerr"
	"github.com/ledgerforge/blockstore/internal/htdb"
	"github.com/ledgerforge/blockstore/internal/linkrec"
)

// Multimap composes a key → chain-head hash table with the chain itself.
type Multimap struct {
	heads *htdb.RecordTable
	rows  *linkrec.Chain
}

// New pairs a chain-head table with its row chain. heads must have a
// 4-byte value region (it stores only a chain index).
func New(heads *htdb.RecordTable, rows *linkrec.Chain) (*Multimap, error) {
	if heads.ValueSize() != 4 {
		return nil, fmt.Errorf("multimap head table value size %d, want 4: %w", heads.ValueSize(), chainerr.ErrInvalidInput)
	}

	return &Multimap{heads: heads, rows: rows}, nil
}

// AddRow prepends a new row to key's chain: if key already has a chain,
// the new row's next pointer becomes the current head and the hash-table
// payload is rewritten in place; otherwise a fresh one-element chain is
// created and stored under key.
func (m *Multimap) AddRow(key []byte, writer func(payload []byte) error) error {
	idx, found, err := m.heads.Find(key)
	if err != nil {
		return err
	}

	if found {
		headBytes, err := m.heads.NodeValue(idx)
		if err != nil {
			return err
		}

		head := binary.LittleEndian.Uint32(headBytes)

		newHead, err := m.rows.Insert(head, writer)
		if err != nil {
			return err
		}

		binary.LittleEndian.PutUint32(headBytes, newHead)

		return nil
	}

	newHead, err := m.rows.Create(writer)
	if err != nil {
		return err
	}

	_, err = m.heads.Store(key, func(v []byte) error {
		binary.LittleEndian.PutUint32(v, newHead)
		return nil
	})

	return err
}

// Walk visits key's rows in chain order (newest first, since AddRow
// prepends), stopping early if fn returns keepGoing=false. Visits nothing
// if key has no chain.
func (m *Multimap) Walk(key []byte, fn func(payload []byte) (keepGoing bool, err error)) error {
	idx, found, err := m.heads.Find(key)
	if err != nil || !found {
		return err
	}

	headBytes, err := m.heads.NodeValue(idx)
	if err != nil {
		return err
	}

	head := binary.LittleEndian.Uint32(headBytes)

	return m.rows.Walk(head, func(_ uint32, payload []byte) (bool, error) {
		return fn(payload)
	})
}

// DeleteLastRow decapitates key's chain: the hash-table payload is
// rewritten to point at the chain's second element, or the key is unlinked
// entirely if the chain becomes empty. Returns false if key has no chain.
func (m *Multimap) DeleteLastRow(key []byte) (bool, error) {
	idx, found, err := m.heads.Find(key)
	if err != nil || !found {
		return false, err
	}

	headBytes, err := m.heads.NodeValue(idx)
	if err != nil {
		return false, err
	}

	head := binary.LittleEndian.Uint32(headBytes)
	if head == bucketdisk.EmptyRecord {
		return false, nil
	}

	second, err := m.rows.Next(head)
	if err != nil {
		return false, err
	}

	if second == bucketdisk.EmptyRecord {
		return m.heads.Unlink(key)
	}

	binary.LittleEndian.PutUint32(headBytes, second)

	return true, nil
}

// Stats reports the key → chain-head table's bucket occupancy and sampled
// collision-chain length. It says nothing about individual keys' row-chain
// lengths, which linkrec.Chain does not track in aggregate.
func (m *Multimap) Stats(sampleSize uint32) (htdb.Stats, error) {
	return m.heads.Stats(sampleSize)
}
