package seqlock_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/blockstore/internal/seqlock"
)

func TestZeroValue_StartsEvenAndValid(t *testing.T) {
	var l seqlock.Lock

	h := l.StartRead()
	require.Equal(t, uint64(0), h)
	require.True(t, l.IsReadValid(h))
}

func TestStartWrite_MakesInFlightHandleInvalid(t *testing.T) {
	var l seqlock.Lock

	h := l.StartRead()
	l.StartWrite()

	require.False(t, l.IsReadValid(h))
}

func TestEndWrite_RestoresValidityForNewReaders(t *testing.T) {
	var l seqlock.Lock

	l.StartWrite()
	require.False(t, l.IsReadValid(l.StartRead()))

	l.EndWrite()

	h := l.StartRead()
	require.True(t, l.IsReadValid(h))
}

func TestIsReadValid_RejectsStaleHandleAfterWrite(t *testing.T) {
	var l seqlock.Lock

	h := l.StartRead()

	l.StartWrite()
	l.EndWrite()

	require.False(t, l.IsReadValid(h))
}

func TestConcurrentReadersNeverBlockOnWriter(t *testing.T) {
	var l seqlock.Lock

	const readers = 50
	var wg sync.WaitGroup
	wg.Add(readers + 1)

	results := make([]bool, readers)

	go func() {
		defer wg.Done()
		for range 1000 {
			l.StartWrite()
			l.EndWrite()
		}
	}()

	for i := range readers {
		go func(i int) {
			defer wg.Done()
			for range 1000 {
				h := l.StartRead()
				_ = l.IsReadValid(h)
			}
			results[i] = true
		}(i)
	}

	wg.Wait()

	for _, done := range results {
		require.True(t, done)
	}
}
