package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/blockstore/chainstore"
)

func seedStore(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	store, err := chainstore.New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Create())
	require.NoError(t, store.Start())

	_, err = store.Push(chainstore.Block{
		Header: [80]byte{1},
		Transactions: []chainstore.Tx{
			{Hash: [32]byte{2}, Raw: []byte{0xAA}, IsCoinbase: true},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.Stop())

	return dir
}

func TestRun_DumpsBlockByHeight(t *testing.T) {
	dir := seedStore(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"blockdump", "--dir", dir, "--height", "0"}, &stdout, &stderr)

	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "height: 0")
	require.True(t, strings.Contains(stdout.String(), "tx_count: 1"))
}

func TestRun_MissingDirReportsError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"blockdump"}, &stdout, &stderr)

	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "--dir is required")
}
