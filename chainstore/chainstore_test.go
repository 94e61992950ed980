package chainstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/blockstore/chainstore"
	"github.com/ledgerforge/blockstore/spenddb"
)

func newStore(t *testing.T) *chainstore.Store {
	t.Helper()

	dir := t.TempDir()

	s, err := chainstore.New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Create())
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func sampleBlock(headerByte byte, txByte byte) chainstore.Block {
	var header [80]byte
	header[0] = headerByte

	var txHash [32]byte
	txHash[0] = txByte

	return chainstore.Block{
		Header: header,
		Transactions: []chainstore.Tx{
			{
				Hash:       txHash,
				Raw:        []byte{0x01, 0x02, 0x03},
				IsCoinbase: true,
				Outputs: []chainstore.TxOutput{
					{Address: [20]byte{txByte}, HasAddress: true, Value: 5000},
				},
			},
		},
	}
}

func TestPush_AssignsSequentialHeights(t *testing.T) {
	s := newStore(t)

	h0, err := s.Push(sampleBlock(1, 1))
	require.NoError(t, err)
	require.Equal(t, uint32(0), h0)

	h1, err := s.Push(sampleBlock(2, 2))
	require.NoError(t, err)
	require.Equal(t, uint32(1), h1)
}

func TestPush_TransactionIsRetrievableByHash(t *testing.T) {
	s := newStore(t)

	blk := sampleBlock(1, 1)
	_, err := s.Push(blk)
	require.NoError(t, err)

	res, found, err := s.Transactions().Get(blk.Transactions[0].Hash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(0), res.Height)
	require.Equal(t, blk.Transactions[0].Raw, res.Tx)
}

func TestPush_OutputIsVisibleInHistory(t *testing.T) {
	s := newStore(t)

	blk := sampleBlock(1, 1)
	_, err := s.Push(blk)
	require.NoError(t, err)

	rows, err := s.History().Get(blk.Transactions[0].Outputs[0].Address, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestPop_RemovesTopBlockTransactionAndHistoryRow(t *testing.T) {
	s := newStore(t)

	blk := sampleBlock(1, 1)
	_, err := s.Push(blk)
	require.NoError(t, err)

	popped, err := s.Pop(blk)
	require.NoError(t, err)
	require.Equal(t, uint32(0), popped.Height)

	_, found := s.Blocks().Top()
	require.False(t, found)

	_, found, err = s.Transactions().Get(blk.Transactions[0].Hash)
	require.NoError(t, err)
	require.False(t, found)

	rows, err := s.History().Get(blk.Transactions[0].Outputs[0].Address, 0, 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestPop_EmptyDatabaseReturnsError(t *testing.T) {
	s := newStore(t)

	_, err := s.Pop(sampleBlock(1, 1))
	require.Error(t, err)
}

func TestSpendTracking_RecordsSpendingInputAndHistoryRow(t *testing.T) {
	s := newStore(t)

	prevBlock := sampleBlock(1, 1)
	_, err := s.Push(prevBlock)
	require.NoError(t, err)

	prevTxHash := prevBlock.Transactions[0].Hash
	spenderTxHash := [32]byte{9}

	spendBlock := chainstore.Block{
		Header: [80]byte{2},
		Transactions: []chainstore.Tx{
			{
				Hash: spenderTxHash,
				Raw:  []byte{0xAA},
				Inputs: []chainstore.TxInput{
					{
						PreviousOutpoint: chainstore.OutPoint{Hash: prevTxHash, Index: 0},
						Address:          prevBlock.Transactions[0].Outputs[0].Address,
						HasAddress:       true,
					},
				},
			},
		},
	}

	_, err = s.Push(spendBlock)
	require.NoError(t, err)

	spender, found, err := s.Spends().Get(spenddb.OutPoint{Hash: prevTxHash, Index: 0})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, spenderTxHash, spender.Hash)

	rows, err := s.History().Get(prevBlock.Transactions[0].Outputs[0].Address, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestStartRead_InvalidatedDuringWrite(t *testing.T) {
	s := newStore(t)

	handle := s.StartRead()
	require.True(t, s.IsReadValid(handle))

	_, err := s.Push(sampleBlock(1, 1))
	require.NoError(t, err)

	require.False(t, s.IsReadValid(handle))
}

func TestStealthOutput_ScannableAfterPush(t *testing.T) {
	s := newStore(t)

	blk := sampleBlock(1, 1)
	blk.Transactions[0].StealthOutputs = []chainstore.StealthOutput{
		{PrefixBits: [4]byte{0b11110000}, EphemeralKey: [32]byte{7}, Address: [20]byte{8}},
	}

	_, err := s.Push(blk)
	require.NoError(t, err)

	rows, err := s.Stealth().Scan([]byte{0b11110000}, 4, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
