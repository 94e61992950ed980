// Package chainmodel provides a deliberately simple, in-memory model of
// chainstore's observable push/pop/get behavior, for property-based
// testing against the real mmap-backed engine.
//
// The model is intentionally easy to audit: plain maps and slices, no
// attempt to mirror the on-disk format.
//
// Grounded on the teacher's pkg/slotcache/model/model.go: a parallel
// reference implementation callers diff the real engine against, not a
// second production code path.
package chainmodel

import (
	"fmt"

	"github.com/ledgerforge/blockstore/chainstore"
)

// HistoryRow mirrors historydb.Row without importing that package, so the
// model has no dependency on the real engine's internal encoding.
type HistoryRow struct {
	IsSpend bool
	Height  uint32
}

// StealthRow mirrors one stealth announcement.
type StealthRow struct {
	PrefixBits [4]byte
	TxHash     [32]byte
}

// Model is the reference state: every block currently pushed, keyed data
// derived from it, and a rewind log letting Pop restore prior state
// exactly without needing to recompute it.
type Model struct {
	Blocks   []chainstore.Block
	Tx       map[[32]byte]bool
	Spends   map[chainstore.OutPoint]chainstore.OutPoint
	History  map[[20]byte][]HistoryRow
	Stealth  map[[4]byte][]StealthRow // keyed by the full 4-byte prefix for simple exact-match lookups in tests
	undoLog  []undoEntry
}

type undoEntry struct {
	txHashes    [][32]byte
	historyKeys [][20]byte
	spendKeys   []chainstore.OutPoint
}

// New returns an empty model.
func New() *Model {
	return &Model{
		Tx:      make(map[[32]byte]bool),
		Spends:  make(map[chainstore.OutPoint]chainstore.OutPoint),
		History: make(map[[20]byte][]HistoryRow),
		Stealth: make(map[[4]byte][]StealthRow),
	}
}

// Push mirrors chainstore.Store.Push's effects on the model's state.
func (m *Model) Push(b chainstore.Block) (uint32, error) {
	height := uint32(len(m.Blocks))

	var entry undoEntry

	for _, tx := range b.Transactions {
		if m.Tx[tx.Hash] {
			return 0, fmt.Errorf("duplicate tx hash in model")
		}

		m.Tx[tx.Hash] = true
		entry.txHashes = append(entry.txHashes, tx.Hash)

		for _, out := range tx.Outputs {
			if !out.HasAddress {
				continue
			}

			m.History[out.Address] = append(m.History[out.Address], HistoryRow{Height: height})
			entry.historyKeys = append(entry.historyKeys, out.Address)
		}

		for _, stealth := range tx.StealthOutputs {
			m.Stealth[stealth.PrefixBits] = append(m.Stealth[stealth.PrefixBits], StealthRow{
				PrefixBits: stealth.PrefixBits,
				TxHash:     tx.Hash,
			})
		}

		if tx.IsCoinbase {
			continue
		}

		for _, in := range tx.Inputs {
			m.Spends[in.PreviousOutpoint] = chainstore.OutPoint{Hash: tx.Hash}
			entry.spendKeys = append(entry.spendKeys, in.PreviousOutpoint)

			if in.HasAddress {
				m.History[in.Address] = append(m.History[in.Address], HistoryRow{IsSpend: true, Height: height})
				entry.historyKeys = append(entry.historyKeys, in.Address)
			}
		}
	}

	m.Blocks = append(m.Blocks, b)
	m.undoLog = append(m.undoLog, entry)

	return height, nil
}

// Pop reverses the most recently pushed block.
func (m *Model) Pop() (chainstore.Block, error) {
	if len(m.Blocks) == 0 {
		return chainstore.Block{}, fmt.Errorf("model: no blocks to pop")
	}

	top := m.Blocks[len(m.Blocks)-1]
	entry := m.undoLog[len(m.undoLog)-1]

	for i := len(entry.historyKeys) - 1; i >= 0; i-- {
		addr := entry.historyKeys[i]
		rows := m.History[addr]
		m.History[addr] = rows[:len(rows)-1]
	}

	for _, key := range entry.spendKeys {
		delete(m.Spends, key)
	}

	removed := make(map[[32]byte]bool, len(entry.txHashes))
	for _, hash := range entry.txHashes {
		delete(m.Tx, hash)
		removed[hash] = true
	}

	for prefix, rows := range m.Stealth {
		kept := rows[:0]
		for _, row := range rows {
			if !removed[row.TxHash] {
				kept = append(kept, row)
			}
		}
		m.Stealth[prefix] = kept
	}

	m.Blocks = m.Blocks[:len(m.Blocks)-1]
	m.undoLog = m.undoLog[:len(m.undoLog)-1]

	return top, nil
}

// Height returns the current top height and whether any block exists.
func (m *Model) Height() (uint32, bool) {
	if len(m.Blocks) == 0 {
		return 0, false
	}

	return uint32(len(m.Blocks) - 1), true
}
