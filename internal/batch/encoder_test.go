package batch

import (
	"bytes"
	"testing"

	"github.com/minor-way/perfectsock/internal/fec"
	"github.com/stretchr/testify/require"
)

func TestEncodeTinyMessageDefaults(t *testing.T) {
	codec := fec.NewReedSolomon()
	b, err := Encode(codec, []byte("hi"), DefaultParams())
	require.NoError(t, err)
	require.Equal(t, 4, b.K)
	require.Equal(t, 8, b.N)
	require.Equal(t, 2, b.OrigLen)
	require.Len(t, b.Fragments, 8)
	for _, f := range b.Fragments {
		require.Len(t, f, 1) // ceil(2/4) == 1
	}
}

func TestEncodeLargeMessageKFromMTU(t *testing.T) {
	codec := fec.NewReedSolomon()
	data := bytes.Repeat([]byte("A"), 6000)
	b, err := Encode(codec, data, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, 5, b.K) // ceil(6000/1400) == 5
	require.Equal(t, 10, b.N)
}

func TestEncodeClampsToByteRange(t *testing.T) {
	codec := fec.NewReedSolomon()
	p := Params{MTU: 1, MinK: 4, RedundancyRatio: 200}
	data := bytes.Repeat([]byte("x"), 10)
	b, err := Encode(codec, data, p)
	require.NoError(t, err)
	require.LessOrEqual(t, b.K, 255)
	require.LessOrEqual(t, b.N, 255)
}

func TestFailureProbabilityMonotonicInP(t *testing.T) {
	low := FailureProbability(10, 5, 0.01)
	high := FailureProbability(10, 5, 0.3)
	require.Less(t, low, high)
}
