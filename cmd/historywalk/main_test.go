package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/blockstore/chainstore"
)

func TestRun_WalksAddressHistory(t *testing.T) {
	dir := t.TempDir()

	store, err := chainstore.New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Create())
	require.NoError(t, store.Start())

	addr := [20]byte{7}

	_, err = store.Push(chainstore.Block{
		Header: [80]byte{1},
		Transactions: []chainstore.Tx{
			{
				Hash:       [32]byte{1},
				IsCoinbase: true,
				Outputs: []chainstore.TxOutput{
					{Address: addr, HasAddress: true, Value: 100},
				},
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.Stop())

	hexAddr := "07" + strings.Repeat("00", 19)

	var stdout, stderr bytes.Buffer
	code := run([]string{"historywalk", "--dir", dir, "--address", hexAddr}, &stdout, &stderr)

	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "output")
	require.Contains(t, stdout.String(), "height=0")
}

func TestRun_MissingAddressReportsError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"historywalk", "--dir", t.TempDir()}, &stdout, &stderr)

	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "--address")
}
