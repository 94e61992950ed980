package blockdb_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/blockstore/blockdb"
	"github.com/ledgerforge/blockstore/internal/mmfile"
)

func newEngine(t *testing.T) *blockdb.Engine {
	t.Helper()

	dir := t.TempDir()

	lookupFile, err := mmfile.Open(filepath.Join(dir, "blocks_lookup"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lookupFile.Close() })

	rowsFile, err := mmfile.Open(filepath.Join(dir, "blocks_rows"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rowsFile.Close() })

	e, err := blockdb.New(lookupFile, rowsFile)
	require.NoError(t, err)
	require.NoError(t, e.Create(16))

	return e
}

func hash(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	return h
}

func TestStore_FirstBlockGetsHeightZero(t *testing.T) {
	e := newEngine(t)

	var header [80]byte
	header[0] = 0xAB

	height, err := e.Store(hash(1), header, []([32]byte){hash(10), hash(11)})
	require.NoError(t, err)
	require.Equal(t, uint32(0), height)
}

func TestGetByHash_RoundTripsHeaderAndTxHashes(t *testing.T) {
	e := newEngine(t)

	var header [80]byte
	header[5] = 0x42

	txs := []([32]byte){hash(10), hash(11), hash(12)}
	_, err := e.Store(hash(1), header, txs)
	require.NoError(t, err)

	r, found, err := e.GetByHash(hash(1))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, header, r.Header)
	require.Equal(t, uint32(3), r.TxCount)

	for i, want := range txs {
		got, err := r.TxHash(i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestGetByHeight_MatchesGetByHash(t *testing.T) {
	e := newEngine(t)

	var header [80]byte
	height, err := e.Store(hash(2), header, nil)
	require.NoError(t, err)

	byHeight, found, err := e.GetByHeight(height)
	require.NoError(t, err)
	require.True(t, found)

	byHash, found, err := e.GetByHash(hash(2))
	require.NoError(t, err)
	require.True(t, found)

	require.Equal(t, byHash.Header, byHeight.Header)
}

func TestGetByHeight_PastTopNotFound(t *testing.T) {
	e := newEngine(t)

	_, found, err := e.GetByHeight(0)
	require.NoError(t, err)
	require.False(t, found)
}

func TestTop_EmptyDatabaseHasNoTop(t *testing.T) {
	e := newEngine(t)

	_, found := e.Top()
	require.False(t, found)
}

func TestTop_TracksLastStoredHeight(t *testing.T) {
	e := newEngine(t)

	var header [80]byte
	for range 3 {
		_, err := e.Store(hash(1), header, nil)
		require.NoError(t, err)
	}

	top, found := e.Top()
	require.True(t, found)
	require.Equal(t, uint32(2), top)
}

func TestUnlink_OrphansHeightsWithoutReclaimingSpace(t *testing.T) {
	e := newEngine(t)

	var header [80]byte
	for i := byte(0); i < 5; i++ {
		_, err := e.Store(hash(i), header, nil)
		require.NoError(t, err)
	}

	require.NoError(t, e.Unlink(2))

	top, found := e.Top()
	require.True(t, found)
	require.Equal(t, uint32(1), top)

	_, found, err := e.GetByHeight(3)
	require.NoError(t, err)
	require.False(t, found)

	// Hash lookup for the orphaned block still resolves — space wasn't reclaimed.
	_, found, err = e.GetByHash(hash(3))
	require.NoError(t, err)
	require.True(t, found)
}

func TestSync_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	lookupPath := filepath.Join(dir, "blocks_lookup")
	rowsPath := filepath.Join(dir, "blocks_rows")

	lookupFile, err := mmfile.Open(lookupPath)
	require.NoError(t, err)

	rowsFile, err := mmfile.Open(rowsPath)
	require.NoError(t, err)

	e, err := blockdb.New(lookupFile, rowsFile)
	require.NoError(t, err)
	require.NoError(t, e.Create(16))

	var header [80]byte
	header[0] = 7
	_, err = e.Store(hash(1), header, nil)
	require.NoError(t, err)
	require.NoError(t, e.Sync())

	require.NoError(t, lookupFile.Close())
	require.NoError(t, rowsFile.Close())

	lookupFile2, err := mmfile.Open(lookupPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lookupFile2.Close() })

	rowsFile2, err := mmfile.Open(rowsPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rowsFile2.Close() })

	e2, err := blockdb.New(lookupFile2, rowsFile2)
	require.NoError(t, err)
	require.NoError(t, e2.Start())

	r, found, err := e2.GetByHash(hash(1))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, header, r.Header)
}
