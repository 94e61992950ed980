package txdb_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/blockstore/internal/mmfile"
	"github.com/ledgerforge/blockstore/txdb"
)

func newEngine(t *testing.T) *txdb.Engine {
	t.Helper()

	f, err := mmfile.Open(filepath.Join(t.TempDir(), "transactions"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	e := txdb.New(f)
	require.NoError(t, e.Create(8))

	return e
}

func hash(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	return h
}

func TestStoreThenGet_RoundTrips(t *testing.T) {
	e := newEngine(t)

	require.NoError(t, e.Store(hash(1), 100, 3, []byte("raw-tx-bytes")))

	r, found, err := e.Get(hash(1))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(100), r.Height)
	require.Equal(t, uint32(3), r.IndexInBlock)
	require.Equal(t, []byte("raw-tx-bytes"), r.Tx)
}

func TestGet_MissingHashNotFound(t *testing.T) {
	e := newEngine(t)

	_, found, err := e.Get(hash(9))
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemove_UnlinksFromLookup(t *testing.T) {
	e := newEngine(t)

	require.NoError(t, e.Store(hash(1), 1, 0, []byte("tx")))

	ok, err := e.Remove(hash(1))
	require.NoError(t, err)
	require.True(t, ok)

	_, found, err := e.Get(hash(1))
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemove_MissingHashReturnsFalse(t *testing.T) {
	e := newEngine(t)

	ok, err := e.Remove(hash(9))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_MultipleTransactionsCoexist(t *testing.T) {
	e := newEngine(t)

	require.NoError(t, e.Store(hash(1), 1, 0, []byte("first")))
	require.NoError(t, e.Store(hash(2), 1, 1, []byte("second")))

	r1, found, err := e.Get(hash(1))
	require.NoError(t, err)
	require.True(t, found)
	// Tx runs to the end of the slab, so it also covers the second record.
	require.Equal(t, []byte("first"), r1.Tx[:len("first")])

	r2, found, err := e.Get(hash(2))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("second"), r2.Tx)
}
