// Package chainstore implements the data_base coordinator (spec.md §4.8):
// the top-level facade that composes the five query engines behind a
// single lifecycle (create/start/stop) and a writer/reader synchronization
// discipline built on internal/seqlock.
//
// Grounded on spec.md §4.8 and §5 directly. The create/start/stop split
// (rather than a single constructor) follows the original
// data_base::create/start/stop lifecycle in
// original_source/include/bitcoin/blockchain/database/data_base.hpp; the
// WritebackMode knob is grounded on the teacher's pkg/slotcache/open.go
// WritebackMode (WritebackNone/WritebackSync), letting callers opt into an
// explicit msync after every push at the cost of write latency.
package chainstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/ledgerforge/blockstore/blockdb"
	"github.com/ledgerforge/blockstore/historydb"
	"github.com/ledgerforge/blockstore/internal/chainerr"
	"github.com/ledgerforge/blockstore/internal/filelock"
	"github.com/ledgerforge/blockstore/internal/mmfile"
	"github.com/ledgerforge/blockstore/internal/seqlock"
	"github.com/ledgerforge/blockstore/spenddb"
	"github.com/ledgerforge/blockstore/stealthdb"
	"github.com/ledgerforge/blockstore/txdb"
)

// Bucket counts for the hash-table headers, fixed file-format parameters
// per spec.md §6. Changing these produces an incompatible file set.
const (
	BlocksLookupBuckets  = 600_000
	TransactionsBuckets  = 100_000_000
	SpendsBuckets        = 228_110_589
	HistoryLookupBuckets = 97_210_744
)

const (
	fileBlockLock     = "block_lock"
	fileBlocksLookup  = "blocks_lookup"
	fileBlocksRows    = "blocks_rows"
	fileTransactions  = "transactions"
	fileSpends        = "spends"
	fileHistoryLookup = "history_lookup"
	fileHistoryRows   = "history_rows"
	fileStealthIndex  = "stealth_index"
	fileStealthRows   = "stealth_rows"
)

// WritebackMode controls whether Push additionally msyncs every mapped
// file after publishing its allocators, trading write latency for a
// tighter bound on data loss if the OS (not just the process) dies.
type WritebackMode int

const (
	// WritebackNone relies on ordinary page writeback; this is the
	// engine's documented default (spec.md §5: "does not fsync").
	WritebackNone WritebackMode = iota
	// WritebackSync calls mmfile.Flush on every file at the end of Push
	// and Pop.
	WritebackSync
)

// Option configures a Store at construction.
type Option func(*Store)

// WithWriteback sets the writeback mode. Default is WritebackNone.
func WithWriteback(mode WritebackMode) Option {
	return func(s *Store) { s.writeback = mode }
}

// OutPoint identifies an output by owning transaction hash and index.
type OutPoint struct {
	Hash  [32]byte
	Index uint32
}

// TxOutput is one output of a transaction being pushed.
type TxOutput struct {
	Address    [20]byte
	HasAddress bool
	Value      uint64
}

// TxInput is one input of a transaction being pushed.
type TxInput struct {
	PreviousOutpoint OutPoint
	Address          [20]byte
	HasAddress       bool
}

// StealthOutput is one stealth announcement emitted by a transaction.
type StealthOutput struct {
	PrefixBits   [4]byte
	EphemeralKey [32]byte
	Address      [20]byte
}

// Tx is a fully decoded transaction, as supplied by the caller — this
// engine does not parse wire-format transactions (spec.md §1 Non-goals).
type Tx struct {
	Hash           [32]byte
	Raw            []byte
	IsCoinbase     bool
	Inputs         []TxInput
	Outputs        []TxOutput
	StealthOutputs []StealthOutput
}

// Block is a fully decoded block, as supplied by the caller.
type Block struct {
	Header       [80]byte
	Transactions []Tx
}

// PoppedBlock is what Pop returns: exactly what the block database itself
// stores. The block's lookup key is not part of it: Push derives that key
// with deriveBlockKeyFromHeader and does not return it.
type PoppedBlock struct {
	Header   [80]byte
	Height   uint32
	TxHashes [][32]byte
}

// Store is the data_base coordinator.
type Store struct {
	dir       string
	writeback WritebackMode

	lock *filelock.Lock

	blocksLookupFile  *mmfile.File
	blocksRowsFile    *mmfile.File
	txFile            *mmfile.File
	spendFile         *mmfile.File
	historyLookupFile *mmfile.File
	historyRowsFile   *mmfile.File
	stealthIndexFile  *mmfile.File
	stealthRowsFile   *mmfile.File

	blocks  *blockdb.Engine
	txs     *txdb.Engine
	spends  *spenddb.Engine
	history *historydb.Engine
	stealth *stealthdb.Engine

	writeMu sync.Mutex
	seq     seqlock.Lock
}

// New constructs a Store rooted at dir. It touches no files; call Create
// for a brand new directory or Start to resume an existing one.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

var tableFiles = [...]string{
	fileBlocksLookup, fileBlocksRows, fileTransactions, fileSpends,
	fileHistoryLookup, fileHistoryRows, fileStealthIndex, fileStealthRows,
}

// createTableFiles atomically brings every table file that does not yet
// exist into being as a zero-length file, via temp-write-then-rename, so a
// process that dies mid-create leaves either nothing or a complete empty
// file at each path, never a partially written one. Mirrors the teacher's
// own atomic-replace idiom (used there for the ticket store's config/index
// writes), applied here to this engine's one-shot file creation instead.
func createTableFiles(dir string) error {
	for _, name := range tableFiles {
		path := filepath.Join(dir, name)

		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		if err := atomic.WriteFile(path, bytes.NewReader(nil)); err != nil {
			return fmt.Errorf("create %s: %w", path, errWrap(err))
		}
	}

	return nil
}

func errWrap(err error) error {
	return fmt.Errorf("%w: %w", err, chainerr.ErrIO)
}

func (s *Store) openFiles() error {
	paths := []struct {
		name string
		dst  **mmfile.File
	}{
		{fileBlocksLookup, &s.blocksLookupFile},
		{fileBlocksRows, &s.blocksRowsFile},
		{fileTransactions, &s.txFile},
		{fileSpends, &s.spendFile},
		{fileHistoryLookup, &s.historyLookupFile},
		{fileHistoryRows, &s.historyRowsFile},
		{fileStealthIndex, &s.stealthIndexFile},
		{fileStealthRows, &s.stealthRowsFile},
	}

	for _, p := range paths {
		f, err := mmfile.Open(filepath.Join(s.dir, p.name))
		if err != nil {
			return err
		}

		*p.dst = f
	}

	return nil
}

func (s *Store) wireEngines() error {
	var err error

	s.blocks, err = blockdb.New(s.blocksLookupFile, s.blocksRowsFile)
	if err != nil {
		return err
	}

	s.txs = txdb.New(s.txFile)
	s.spends = spenddb.New(s.spendFile)

	s.history, err = historydb.New(s.historyLookupFile, s.historyRowsFile)
	if err != nil {
		return err
	}

	s.stealth, err = stealthdb.New(s.stealthIndexFile, s.stealthRowsFile)

	return err
}

// Create initializes every header and allocator for a brand new database
// directory. Call once, before the first Start.
func (s *Store) Create() error {
	if err := createTableFiles(s.dir); err != nil {
		return err
	}

	if err := s.openFiles(); err != nil {
		return err
	}

	if err := s.wireEngines(); err != nil {
		return err
	}

	if err := s.blocks.Create(BlocksLookupBuckets); err != nil {
		return err
	}

	if err := s.txs.Create(TransactionsBuckets); err != nil {
		return err
	}

	if err := s.spends.Create(SpendsBuckets); err != nil {
		return err
	}

	if err := s.history.Create(HistoryLookupBuckets); err != nil {
		return err
	}

	return s.stealth.Create()
}

// Start acquires the directory's advisory file lock (failing with
// chainerr.ErrAlreadyOpen if another process holds it) and starts every engine
// from its on-disk state. The sequence lock begins at its zero value (even,
// no write in progress).
func (s *Store) Start() error {
	lock, err := filelock.Acquire(filepath.Join(s.dir, fileBlockLock))
	if err != nil {
		return err
	}

	if s.blocks == nil {
		if err := s.openFiles(); err != nil {
			_ = lock.Release()
			return err
		}

		if err := s.wireEngines(); err != nil {
			_ = lock.Release()
			return err
		}
	}

	if err := s.blocks.Start(); err != nil {
		_ = lock.Release()
		return err
	}

	if err := s.txs.Start(); err != nil {
		_ = lock.Release()
		return err
	}

	if err := s.spends.Start(); err != nil {
		_ = lock.Release()
		return err
	}

	if err := s.history.Start(); err != nil {
		_ = lock.Release()
		return err
	}

	if err := s.stealth.Start(); err != nil {
		_ = lock.Release()
		return err
	}

	s.lock = lock
	s.seq = seqlock.Lock{}

	return nil
}

// Stop releases the directory lock. It does not close the underlying
// files; callers that want a fully released Store should drop their
// reference after Stop.
func (s *Store) Stop() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.lock.Release()
}

func (s *Store) syncAll() error {
	if err := s.blocks.Sync(); err != nil {
		return err
	}
	if err := s.txs.Sync(); err != nil {
		return err
	}
	if err := s.spends.Sync(); err != nil {
		return err
	}
	if err := s.history.Sync(); err != nil {
		return err
	}
	if err := s.stealth.Sync(); err != nil {
		return err
	}

	if s.writeback == WritebackSync {
		for _, f := range []*mmfile.File{
			s.blocksLookupFile, s.blocksRowsFile, s.txFile, s.spendFile,
			s.historyLookupFile, s.historyRowsFile, s.stealthIndexFile, s.stealthRowsFile,
		} {
			if err := f.Flush(); err != nil {
				return err
			}
		}
	}

	return nil
}

// Push is the single write entry point: it assigns the next height,
// inserts every transaction's derived rows, appends the block itself, then
// publishes all allocators. The whole operation runs under the coordinator
// write lock and is wrapped in a single sequence-lock write epoch, so
// readers observe either none of it or all of it.
func (s *Store) Push(b Block) (uint32, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.seq.StartWrite()
	defer s.seq.EndWrite()

	txHashes := make([][32]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		txHashes[i] = tx.Hash
	}

	blockHash := deriveBlockKeyFromHeader(b.Header, txHashes)

	height, err := s.blocks.Store(blockHash, b.Header, txHashes)
	if err != nil {
		return 0, err
	}

	for i, tx := range b.Transactions {
		if err := s.txs.Store(tx.Hash, height, uint32(i), tx.Raw); err != nil {
			return 0, err
		}

		for k, out := range tx.Outputs {
			if !out.HasAddress {
				continue
			}

			outpoint := historydb.OutPoint{Hash: tx.Hash, Index: uint32(k)}

			if err := s.history.AddOutput(out.Address, outpoint, height, out.Value); err != nil {
				return 0, err
			}
		}

		for _, stealth := range tx.StealthOutputs {
			row := stealthdb.Row{
				PrefixBits:   stealth.PrefixBits,
				EphemeralKey: stealth.EphemeralKey,
				Address:      stealth.Address,
				TxHash:       tx.Hash,
			}

			if _, err := s.stealth.Store(row); err != nil {
				return 0, err
			}
		}

		if tx.IsCoinbase {
			continue
		}

		for j, in := range tx.Inputs {
			spentOutpoint := spenddb.OutPoint(in.PreviousOutpoint)
			spendingInput := spenddb.OutPoint{Hash: tx.Hash, Index: uint32(j)}

			if err := s.spends.Store(spentOutpoint, spendingInput); err != nil {
				return 0, err
			}

			if !in.HasAddress {
				continue
			}

			prevOutpoint := historydb.OutPoint(in.PreviousOutpoint)
			spendPoint := historydb.OutPoint{Hash: tx.Hash, Index: uint32(j)}

			if err := s.history.AddSpend(in.Address, prevOutpoint, spendPoint, height); err != nil {
				return 0, err
			}
		}
	}

	if _, err := s.blocks.Store(blockHash, b.Header, txHashes); err != nil {
		return 0, err
	}

	if err := s.syncAll(); err != nil {
		return 0, err
	}

	return height, nil
}

// deriveBlockKeyFromHeader is not a cryptographic block-hash computation
// (spec.md §1: hashing is assumed available externally); it is the
// deterministic key Push files every block under, since Block carries no
// hash of its own: the first 32 header bytes XORed with the first
// transaction hash. It is kept separate so a real hasher's output can be
// wired in by replacing this function.
func deriveBlockKeyFromHeader(header [80]byte, txHashes [][32]byte) [32]byte {
	var key [32]byte
	copy(key[:], header[:32])

	if len(txHashes) > 0 {
		for i := range key {
			key[i] ^= txHashes[0][i]
		}
	}

	return key
}

// Pop reverses the most recently pushed block, described by b (the same
// value originally passed to Push — this engine does not retain enough
// structure to reverse a push from on-disk state alone, since doing so
// would require re-parsing transaction wire bytes, which spec.md's
// Non-goals place out of scope). Derived entries are removed in the
// reverse of the order Push inserted them.
func (s *Store) Pop(b Block) (PoppedBlock, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.seq.StartWrite()
	defer s.seq.EndWrite()

	top, found := s.blocks.Top()
	if !found {
		return PoppedBlock{}, fmt.Errorf("pop: no blocks stored: %w", chainerr.ErrInvalidInput)
	}

	result, found, err := s.blocks.GetByHeight(top)
	if err != nil {
		return PoppedBlock{}, err
	}
	if !found {
		return PoppedBlock{}, fmt.Errorf("pop: top height %d has no stored block: %w", top, chainerr.ErrCorruptHeader)
	}

	txHashes := make([][32]byte, result.TxCount)
	for i := range txHashes {
		h, err := result.TxHash(i)
		if err != nil {
			return PoppedBlock{}, err
		}

		txHashes[i] = h
	}

	for i := len(b.Transactions) - 1; i >= 0; i-- {
		tx := b.Transactions[i]

		if !tx.IsCoinbase {
			for j := len(tx.Inputs) - 1; j >= 0; j-- {
				in := tx.Inputs[j]

				if _, err := s.spends.Remove(spenddb.OutPoint(in.PreviousOutpoint)); err != nil {
					return PoppedBlock{}, err
				}

				if in.HasAddress {
					if _, err := s.history.DeleteLastRow(in.Address); err != nil {
						return PoppedBlock{}, err
					}
				}
			}
		}

		for j := len(tx.Outputs) - 1; j >= 0; j-- {
			out := tx.Outputs[j]
			if !out.HasAddress {
				continue
			}

			if _, err := s.history.DeleteLastRow(out.Address); err != nil {
				return PoppedBlock{}, err
			}
		}

		if _, err := s.txs.Remove(tx.Hash); err != nil {
			return PoppedBlock{}, err
		}
	}

	if err := s.stealth.Unlink(top); err != nil {
		return PoppedBlock{}, err
	}

	if err := s.blocks.Unlink(top); err != nil {
		return PoppedBlock{}, err
	}

	if err := s.syncAll(); err != nil {
		return PoppedBlock{}, err
	}

	return PoppedBlock{Header: result.Header, Height: top, TxHashes: txHashes}, nil
}

// StartRead returns a snapshot handle. Pair with IsReadValid after reading.
func (s *Store) StartRead() uint64 {
	return s.seq.StartRead()
}

// IsReadValid reports whether handle is still valid: no write has
// committed or begun since it was taken.
func (s *Store) IsReadValid(handle uint64) bool {
	return s.seq.IsReadValid(handle)
}

// Stats aggregates every engine's read-only occupancy diagnostics:
// hash-table bucket fill ratio and sampled max chain length, plus
// allocator usage. Exposed for diagnostic tooling (cmd/dbstats); never
// touched by Push, Pop, or the write path.
type Stats struct {
	Blocks  blockdb.Stats
	Tx      txdb.Stats
	Spends  spenddb.Stats
	History historydb.Stats
	Stealth stealthdb.Stats
}

// Stats samples every engine. sampleSize bounds how many collision chains
// each hash table walks to find its sampled max; 0 walks every bucket.
func (s *Store) Stats(sampleSize uint32) (Stats, error) {
	blocks, err := s.blocks.Stats(sampleSize)
	if err != nil {
		return Stats{}, err
	}

	tx, err := s.txs.Stats(sampleSize)
	if err != nil {
		return Stats{}, err
	}

	spends, err := s.spends.Stats(sampleSize)
	if err != nil {
		return Stats{}, err
	}

	history, err := s.history.Stats(sampleSize)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Blocks:  blocks,
		Tx:      tx,
		Spends:  spends,
		History: history,
		Stealth: s.stealth.Stats(),
	}, nil
}

// Blocks, Transactions, Spends, History, and Stealth expose the underlying
// query engines directly for read access: each engine's own methods are
// already safe to call concurrently with Push (readers are wait-free, see
// internal/seqlock), so no additional locking is needed here. Callers that
// need snapshot consistency across multiple calls should wrap them with
// StartRead/IsReadValid.
func (s *Store) Blocks() *blockdb.Engine    { return s.blocks }
func (s *Store) Transactions() *txdb.Engine { return s.txs }
func (s *Store) Spends() *spenddb.Engine    { return s.spends }
func (s *Store) History() *historydb.Engine { return s.history }
func (s *Store) Stealth() *stealthdb.Engine { return s.stealth }
