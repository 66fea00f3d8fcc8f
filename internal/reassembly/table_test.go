package reassembly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minor-way/perfectsock/internal/batch"
	"github.com/minor-way/perfectsock/internal/fec"
	"github.com/minor-way/perfectsock/internal/wire"
)

func encodeMessage(t *testing.T, data []byte) (batch.Batch, fec.Codec) {
	codec := fec.NewReedSolomon()
	b, err := batch.Encode(codec, data, batch.DefaultParams())
	require.NoError(t, err)
	return b, codec
}

func TestTableDecodesAtThreshold(t *testing.T) {
	data := []byte("hello, reassembly")
	b, codec := encodeMessage(t, data)

	table := NewTable()
	now := time.Now()
	var ready bool
	var ent interface {
		Fragments() (int, int, int, [][]byte, []int)
	}
	for i := 0; i < b.K; i++ {
		h := wire.Header{ClientID: 1, BatchID: 9, Idx: uint8(i), K: uint8(b.K), N: uint8(b.N), OrigLen: uint16(b.OrigLen)}
		r, e := table.Insert(h, b.Fragments[i], now)
		ready = r
		ent = e
	}
	require.True(t, ready)
	got, err := Decode(codec, ent)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestTableAnyKSubsetRecovers(t *testing.T) {
	data := []byte("any k of n fragments must suffice to reconstruct this message")
	b, codec := encodeMessage(t, data)

	table := NewTable()
	now := time.Now()
	// Deliver k-1 parity fragments (k..2k-2) then fragment 0 (arbitrary
	// k-subset, out of order).
	var ready bool
	var ent interface {
		Fragments() (int, int, int, [][]byte, []int)
	}
	order := append([]int{}, rangeSkipFirst(b.K, b.N)...)
	order = append(order, 0)
	for _, i := range order {
		h := wire.Header{ClientID: 1, BatchID: 1, Idx: uint8(i), K: uint8(b.K), N: uint8(b.N), OrigLen: uint16(b.OrigLen)}
		r, e := table.Insert(h, b.Fragments[i], now)
		if r {
			ready = true
			ent = e
			break
		}
	}
	require.True(t, ready)
	got, err := Decode(codec, ent)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func rangeSkipFirst(k, n int) []int {
	var out []int
	for i := k; i < n && len(out) < k-1; i++ {
		out = append(out, i)
	}
	return out
}

func TestTableDropsOutOfRangeIndex(t *testing.T) {
	table := NewTable()
	h := wire.Header{ClientID: 1, BatchID: 1, Idx: 5, K: 2, N: 4, OrigLen: 1}
	ready, ent := table.Insert(h, []byte("x"), time.Now())
	require.False(t, ready)
	require.Nil(t, ent)
	require.Equal(t, 0, table.Len())
}

func TestTableConflictingHeaderDropped(t *testing.T) {
	table := NewTable()
	now := time.Now()
	h1 := wire.Header{ClientID: 1, BatchID: 1, Idx: 0, K: 2, N: 4, OrigLen: 1}
	table.Insert(h1, []byte("a"), now)

	h2 := wire.Header{ClientID: 1, BatchID: 1, Idx: 1, K: 3, N: 6, OrigLen: 1}
	ready, _ := table.Insert(h2, []byte("b"), now)
	require.False(t, ready)
	require.Equal(t, 1, table.Len())
}

func TestSweepExpired(t *testing.T) {
	table := NewTable()
	h := wire.Header{ClientID: 1, BatchID: 1, Idx: 0, K: 4, N: 8, OrigLen: 1}
	old := time.Now().Add(-time.Hour)
	table.Insert(h, []byte("a"), old)
	require.Equal(t, 1, table.Len())

	evicted := table.SweepExpired(time.Now(), time.Second)
	require.Equal(t, 0, table.Len())
	require.Equal(t, []Key{{ClientID: 1, BatchID: 1}}, evicted)
}

func TestProcessedWindowBoundedAndDedups(t *testing.T) {
	w := NewProcessedWindow(3)
	keys := []Key{{BatchID: 1}, {BatchID: 2}, {BatchID: 3}, {BatchID: 4}}
	for _, k := range keys {
		w.Add(k)
	}
	require.Equal(t, 3, w.Len())
	require.False(t, w.Contains(Key{BatchID: 1})) // evicted
	require.True(t, w.Contains(Key{BatchID: 4}))
}
