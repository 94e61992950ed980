package bucketdisk_test

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/blockstore/internal/bucketdisk"
	"github.com/ledgerforge/blockstore/internal/chainerr"
	"github.com/ledgerforge/blockstore/internal/mmfile"
)

func openFile(t *testing.T) *mmfile.File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "buckets")

	f, err := mmfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	return f
}

func TestRecordBuckets_CreateFillsSentinel(t *testing.T) {
	f := openFile(t)

	b := bucketdisk.NewRecordBuckets(f, 0)
	require.NoError(t, b.Create(16))

	for i := range uint32(16) {
		v, err := b.Read(i)
		require.NoError(t, err)
		require.Equal(t, bucketdisk.EmptyRecord, v)
	}
}

func TestRecordBuckets_WriteAndReadRoundTrip(t *testing.T) {
	f := openFile(t)

	b := bucketdisk.NewRecordBuckets(f, 0)
	require.NoError(t, b.Create(4))

	require.NoError(t, b.Write(2, 77))

	v, err := b.Read(2)
	require.NoError(t, err)
	require.Equal(t, uint32(77), v)

	v, err = b.Read(0)
	require.NoError(t, err)
	require.Equal(t, bucketdisk.EmptyRecord, v)
}

func TestRecordBuckets_ReadWriteOutOfRangeRejected(t *testing.T) {
	f := openFile(t)

	b := bucketdisk.NewRecordBuckets(f, 0)
	require.NoError(t, b.Create(4))

	_, err := b.Read(4)
	require.Error(t, err)

	require.Error(t, b.Write(4, 1))
}

func TestRecordBuckets_StartRejectsCountBeyondFileSize(t *testing.T) {
	f := openFile(t)

	b := bucketdisk.NewRecordBuckets(f, 0)
	require.NoError(t, b.Create(4))

	b2 := bucketdisk.NewRecordBuckets(f, 0)
	require.NoError(t, b2.Start())
	require.Equal(t, uint32(4), b2.BucketCount())

	// A bucket_count needing more bytes than the file holds is rejected.
	binary.LittleEndian.PutUint32(f.Data()[0:], 1000)

	b3 := bucketdisk.NewRecordBuckets(f, 0)
	require.ErrorIs(t, b3.Start(), chainerr.ErrCorruptHeader)
}

func TestRecordBuckets_BucketIndexIsStableModuloCount(t *testing.T) {
	f := openFile(t)

	b := bucketdisk.NewRecordBuckets(f, 0)
	require.NoError(t, b.Create(7))

	key := []byte{0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB}

	i1, err := b.BucketIndex(key)
	require.NoError(t, err)
	i2, err := b.BucketIndex(key)
	require.NoError(t, err)

	require.Equal(t, i1, i2)
	require.Less(t, i1, uint32(7))
}

func TestSlabBuckets_CreateFillsSentinel(t *testing.T) {
	f := openFile(t)

	b := bucketdisk.NewSlabBuckets(f, 0)
	require.NoError(t, b.Create(8))

	for i := range uint32(8) {
		v, err := b.Read(i)
		require.NoError(t, err)
		require.Equal(t, bucketdisk.EmptySlab, v)
	}
}

func TestSlabBuckets_WriteAndReadRoundTrip(t *testing.T) {
	f := openFile(t)

	b := bucketdisk.NewSlabBuckets(f, 0)
	require.NoError(t, b.Create(4))

	require.NoError(t, b.Write(1, 0x1122334455667788))

	v, err := b.Read(1)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1122334455667788), v)
}

func TestSlabBuckets_ReadWriteOutOfRangeRejected(t *testing.T) {
	f := openFile(t)

	b := bucketdisk.NewSlabBuckets(f, 0)
	require.NoError(t, b.Create(4))

	_, err := b.Read(4)
	require.Error(t, err)

	require.Error(t, b.Write(4, 1))
}

func TestBuckets_NonOverlappingAtSharedOffsetBase(t *testing.T) {
	f := openFile(t)

	rec := bucketdisk.NewRecordBuckets(f, 0)
	require.NoError(t, rec.Create(4))

	// A second header placed right after the first must not clobber it.
	slabOffset := 4 + 4*4
	slab := bucketdisk.NewSlabBuckets(f, slabOffset)
	require.NoError(t, slab.Create(2))

	require.NoError(t, rec.Write(0, 9))
	require.NoError(t, slab.Write(0, 123))

	v, err := rec.Read(0)
	require.NoError(t, err)
	require.Equal(t, uint32(9), v)

	sv, err := slab.Read(0)
	require.NoError(t, err)
	require.Equal(t, uint64(123), sv)
}
