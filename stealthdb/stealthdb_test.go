package stealthdb_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/blockstore/internal/mmfile"
	"github.com/ledgerforge/blockstore/stealthdb"
)

func newEngine(t *testing.T) *stealthdb.Engine {
	t.Helper()

	dir := t.TempDir()

	indexFile, err := mmfile.Open(filepath.Join(dir, "stealth_index"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = indexFile.Close() })

	rowsFile, err := mmfile.Open(filepath.Join(dir, "stealth_rows"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rowsFile.Close() })

	e, err := stealthdb.New(indexFile, rowsFile)
	require.NoError(t, err)
	require.NoError(t, e.Create())

	return e
}

func row(prefix byte, txByte byte) stealthdb.Row {
	var r stealthdb.Row
	r.PrefixBits[0] = prefix
	r.TxHash[0] = txByte

	return r
}

func TestStoreAndSync_ScanAtHeightZeroFindsRows(t *testing.T) {
	e := newEngine(t)

	_, err := e.Store(row(0b10100000, 1))
	require.NoError(t, err)
	_, err = e.Store(row(0b10100000, 2))
	require.NoError(t, err)

	require.NoError(t, e.Sync())

	rows, err := e.Scan([]byte{0b10100000}, 4, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestScan_PrefixFilterExcludesNonMatching(t *testing.T) {
	e := newEngine(t)

	_, err := e.Store(row(0b10100000, 1))
	require.NoError(t, err)
	_, err = e.Store(row(0b01010000, 2))
	require.NoError(t, err)
	require.NoError(t, e.Sync())

	rows, err := e.Scan([]byte{0b10100000}, 4, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, byte(1), rows[0].TxHash[0])
}

func TestScan_SecondBlockSkipsFirstBlockRows(t *testing.T) {
	e := newEngine(t)

	_, err := e.Store(row(0b10100000, 1))
	require.NoError(t, err)
	require.NoError(t, e.Sync()) // height 0

	_, err = e.Store(row(0b10100000, 2))
	require.NoError(t, err)
	require.NoError(t, e.Sync()) // height 1

	rows, err := e.Scan([]byte{0b10100000}, 4, 1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, byte(2), rows[0].TxHash[0])
}

func TestScan_FromHeightPastIndexCountReturnsEmpty(t *testing.T) {
	e := newEngine(t)

	rows, err := e.Scan([]byte{0}, 4, 5, 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestScan_LimitCapsResults(t *testing.T) {
	e := newEngine(t)

	for i := byte(0); i < 5; i++ {
		_, err := e.Store(row(0b10100000, i))
		require.NoError(t, err)
	}
	require.NoError(t, e.Sync())

	rows, err := e.Scan([]byte{0b10100000}, 4, 0, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestUnlink_TruncatesIndexWithoutTruncatingRows(t *testing.T) {
	e := newEngine(t)

	_, err := e.Store(row(0b10100000, 1))
	require.NoError(t, err)
	require.NoError(t, e.Sync())

	_, err = e.Store(row(0b10100000, 2))
	require.NoError(t, err)
	require.NoError(t, e.Sync())

	require.NoError(t, e.Unlink(1))

	rows, err := e.Scan([]byte{0b10100000}, 4, 1, 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}
