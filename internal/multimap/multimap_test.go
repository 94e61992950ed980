package multimap_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/blockstore/internal/bucketdisk"
	"github.com/ledgerforge/blockstore/internal/htdb"
	"github.com/ledgerforge/blockstore/internal/linkrec"
	"github.com/ledgerforge/blockstore/internal/mmfile"
	"github.com/ledgerforge/blockstore/internal/multimap"
	"github.com/ledgerforge/blockstore/internal/recalloc"
)

const addrKeySize = 4

func addr(b byte) []byte {
	return []byte{b, 0, 0, 0}
}

func newMultimap(t *testing.T, rowPayloadSize int) *multimap.Multimap {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mm")
	f, err := mmfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	const bucketCount = 4
	buckets := bucketdisk.NewRecordBuckets(f, 0)
	require.NoError(t, buckets.Create(bucketCount))

	headerEnd := 4 + bucketCount*4
	headCells, err := recalloc.New(f, headerEnd, addrKeySize+4+4)
	require.NoError(t, err)
	require.NoError(t, headCells.Create())

	heads, err := htdb.NewRecordTable(buckets, headCells, addrKeySize)
	require.NoError(t, err)

	rowsFile, err := mmfile.Open(filepath.Join(t.TempDir(), "mm_rows"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rowsFile.Close() })

	rowCells, err := recalloc.New(rowsFile, 0, 4+rowPayloadSize)
	require.NoError(t, err)
	require.NoError(t, rowCells.Create())

	rows, err := linkrec.New(rowCells)
	require.NoError(t, err)

	mm, err := multimap.New(heads, rows)
	require.NoError(t, err)

	return mm
}

func collect(t *testing.T, mm *multimap.Multimap, key []byte) [][]byte {
	t.Helper()

	var out [][]byte
	err := mm.Walk(key, func(payload []byte) (bool, error) {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		out = append(out, cp)
		return true, nil
	})
	require.NoError(t, err)

	return out
}

func TestAddRow_SingleRowIsWalkable(t *testing.T) {
	mm := newMultimap(t, 4)

	require.NoError(t, mm.AddRow(addr(1), func(p []byte) error { copy(p, "row1"); return nil }))

	rows := collect(t, mm, addr(1))
	require.Equal(t, [][]byte{[]byte("row1")}, rows)
}

func TestAddRow_MultipleRowsAreNewestFirst(t *testing.T) {
	mm := newMultimap(t, 4)

	require.NoError(t, mm.AddRow(addr(1), func(p []byte) error { copy(p, "row1"); return nil }))
	require.NoError(t, mm.AddRow(addr(1), func(p []byte) error { copy(p, "row2"); return nil }))
	require.NoError(t, mm.AddRow(addr(1), func(p []byte) error { copy(p, "row3"); return nil }))

	rows := collect(t, mm, addr(1))
	require.Equal(t, [][]byte{[]byte("row3"), []byte("row2"), []byte("row1")}, rows)
}

func TestWalk_UnknownKeyVisitsNothing(t *testing.T) {
	mm := newMultimap(t, 4)

	rows := collect(t, mm, addr(9))
	require.Empty(t, rows)
}

func TestAddRow_DistinctKeysHaveIndependentChains(t *testing.T) {
	mm := newMultimap(t, 4)

	require.NoError(t, mm.AddRow(addr(1), func(p []byte) error { copy(p, "a___"); return nil }))
	require.NoError(t, mm.AddRow(addr(2), func(p []byte) error { copy(p, "b___"); return nil }))

	require.Equal(t, [][]byte{[]byte("a___")}, collect(t, mm, addr(1)))
	require.Equal(t, [][]byte{[]byte("b___")}, collect(t, mm, addr(2)))
}

func TestDeleteLastRow_UnlinksKeyWhenChainBecomesEmpty(t *testing.T) {
	mm := newMultimap(t, 4)

	require.NoError(t, mm.AddRow(addr(1), func(p []byte) error { copy(p, "only"); return nil }))

	ok, err := mm.DeleteLastRow(addr(1))
	require.NoError(t, err)
	require.True(t, ok)

	require.Empty(t, collect(t, mm, addr(1)))

	ok, err = mm.DeleteLastRow(addr(1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteLastRow_DecapitatesWithoutDisturbingOlderRows(t *testing.T) {
	mm := newMultimap(t, 4)

	require.NoError(t, mm.AddRow(addr(1), func(p []byte) error { copy(p, "row1"); return nil }))
	require.NoError(t, mm.AddRow(addr(1), func(p []byte) error { copy(p, "row2"); return nil }))

	ok, err := mm.DeleteLastRow(addr(1))
	require.NoError(t, err)
	require.True(t, ok)

	rows := collect(t, mm, addr(1))
	require.Equal(t, [][]byte{[]byte("row1")}, rows)
}

func TestDeleteLastRow_UnknownKeyReturnsFalse(t *testing.T) {
	mm := newMultimap(t, 4)

	ok, err := mm.DeleteLastRow(addr(9))
	require.NoError(t, err)
	require.False(t, ok)
}
