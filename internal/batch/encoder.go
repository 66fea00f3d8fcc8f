// Package batch implements the erasure-coded batch encoder: choosing k and
// n from message size and policy, padding and slicing the message into
// data blocks, and invoking the external codec to produce fragments.
package batch

import (
	"fmt"

	"github.com/minor-way/perfectsock/internal/fec"
)

// Params controls how a message is split into a batch.
type Params struct {
	MTU             int // default 1400
	MinK            int // default 4
	RedundancyRatio int // default 2
}

// DefaultParams returns the default batch parameters.
func DefaultParams() Params {
	return Params{MTU: 1400, MinK: 4, RedundancyRatio: 2}
}

// Batch is the result of encoding one message. It carries no batch id; the
// caller (the send worker) assigns one under its own counter lock.
type Batch struct {
	K, N      int
	OrigLen   int
	Fragments [][]byte
}

// Encode splits data into k blocks per Params and produces n fragments via
// codec. k and n are clamped to the wire format's 8-bit range (<=255).
func Encode(codec fec.Codec, data []byte, p Params) (Batch, error) {
	minK := p.MinK
	if minK <= 0 {
		minK = 4
	}
	ratio := p.RedundancyRatio
	if ratio <= 0 {
		ratio = 2
	}
	mtu := p.MTU
	if mtu <= 0 {
		mtu = 1400
	}

	k := minK
	if ceil := ceilDiv(len(data), mtu); ceil > k {
		k = ceil
	}
	if k > 255 {
		k = 255
	}
	if k < 1 {
		k = 1
	}

	n := k * ratio
	if n > 255 {
		n = 255
	}
	if n < k {
		n = k
	}

	blockSize := ceilDiv(len(data), k)
	if blockSize == 0 {
		blockSize = 1
	}
	padded := make([]byte, blockSize*k)
	copy(padded, data)

	blocks := make([][]byte, k)
	for i := 0; i < k; i++ {
		blocks[i] = padded[i*blockSize : (i+1)*blockSize]
	}

	fragments, err := codec.Encode(k, n, blocks)
	if err != nil {
		return Batch{}, fmt.Errorf("batch: encode: %w", err)
	}

	return Batch{K: k, N: n, OrigLen: len(data), Fragments: fragments}, nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
