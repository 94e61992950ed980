// Package linkrec implements linked_records (spec.md §4.6): an allocator
// adapter that treats each fixed-size cell as [next: u32][payload], so a
// recalloc.Allocator can be threaded into singly-linked chains without any
// hash-table involvement. multimap (the sibling package) layers a
// hash-table head pointer on top of these chains to build per-key row
// lists.
//
// Grounded on spec.md §4.6 directly; the teacher repo has no linked-list
// allocator of its own, so the cell layout and traversal here follow
// original_source/include/bitcoin/blockchain/database/linked_records.hpp,
// expressed with this module's (value, bool, error) idiom in place of the
// original's raw pointer returns.
package linkrec

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerforge/blockstore/internal/bucketdisk"
	"github.com/ledgerforge/blockstore/internal/chainerr"
	"github.com/ledgerforge/blockstore/internal/recalloc"
)

const nextFieldSize = 4

// Chain is a linked_records view over a fixed-size cell allocator.
type Chain struct {
	cells *recalloc.Allocator
}

// New pairs a linked-list view with its backing allocator. The allocator's
// cell size must exceed 4 bytes so a payload region exists.
func New(cells *recalloc.Allocator) (*Chain, error) {
	if cells.CellSize() <= nextFieldSize {
		return nil, fmt.Errorf("linked chain cell size %d too small: %w", cells.CellSize(), chainerr.ErrInvalidInput)
	}

	return &Chain{cells: cells}, nil
}

func (c *Chain) payloadSize() int {
	return c.cells.CellSize() - nextFieldSize
}

// Create allocates a new terminal node (next = sentinel) and returns its
// index. This is the first node of a fresh chain.
func (c *Chain) Create(writer func(payload []byte) error) (uint32, error) {
	return c.Insert(bucketdisk.EmptyRecord, writer)
}

// Insert allocates a new node whose next pointer is set to after, and
// returns the new node's index. Calling Insert(oldHead, writer) prepends a
// node in front of oldHead, the pattern multimap.AddRow uses to grow a
// chain.
func (c *Chain) Insert(after uint32, writer func(payload []byte) error) (uint32, error) {
	idx, err := c.cells.Allocate()
	if err != nil {
		return 0, err
	}

	cell, err := c.cells.Get(idx)
	if err != nil {
		return 0, err
	}

	binary.LittleEndian.PutUint32(cell[:nextFieldSize], after)

	if err := writer(cell[nextFieldSize:]); err != nil {
		return 0, err
	}

	return idx, nil
}

// Get returns the payload region of the node at idx.
func (c *Chain) Get(idx uint32) ([]byte, error) {
	cell, err := c.cells.Get(idx)
	if err != nil {
		return nil, err
	}

	return cell[nextFieldSize:], nil
}

// Next returns the next pointer stored in the node at idx, which is
// bucketdisk.EmptyRecord at the tail of the chain.
func (c *Chain) Next(idx uint32) (uint32, error) {
	cell, err := c.cells.Get(idx)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(cell[:nextFieldSize]), nil
}

// Walk calls fn for each node starting at head, in chain order, until the
// sentinel is reached or fn returns false.
func (c *Chain) Walk(head uint32, fn func(idx uint32, payload []byte) (keepGoing bool, err error)) error {
	cur := head

	for cur != bucketdisk.EmptyRecord {
		cell, err := c.cells.Get(cur)
		if err != nil {
			return err
		}

		next := binary.LittleEndian.Uint32(cell[:nextFieldSize])

		keepGoing, err := fn(cur, cell[nextFieldSize:])
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}

		cur = next
	}

	return nil
}
