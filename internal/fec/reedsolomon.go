package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// ReedSolomon implements Codec using klauspost/reedsolomon, a pure-Go
// systematic Reed-Solomon erasure coder. It is stateless and safe for
// concurrent use; a fresh reedsolomon.Encoder is built per call since k/n
// vary per batch.
type ReedSolomon struct{}

// NewReedSolomon returns the default ReedSolomon codec adapter.
func NewReedSolomon() ReedSolomon { return ReedSolomon{} }

func (ReedSolomon) Encode(k, n int, blocks [][]byte) ([][]byte, error) {
	if len(blocks) != k {
		return nil, fmt.Errorf("fec: expected %d blocks, got %d", k, len(blocks))
	}
	enc, err := reedsolomon.New(k, n-k)
	if err != nil {
		return nil, fmt.Errorf("fec: new encoder: %w", err)
	}

	shardSize := 0
	if k > 0 {
		shardSize = len(blocks[0])
	}
	shards := make([][]byte, n)
	copy(shards, blocks)
	for i := k; i < n; i++ {
		shards[i] = make([]byte, shardSize)
	}

	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: encode: %w", err)
	}
	return shards, nil
}

func (ReedSolomon) Decode(k, n int, fragments [][]byte, ids []int) ([][]byte, error) {
	if len(fragments) != len(ids) {
		return nil, fmt.Errorf("fec: fragments/ids length mismatch")
	}
	if len(fragments) < k {
		return nil, fmt.Errorf("fec: need at least %d fragments, got %d", k, len(fragments))
	}

	enc, err := reedsolomon.New(k, n-k)
	if err != nil {
		return nil, fmt.Errorf("fec: new encoder: %w", err)
	}

	shards := make([][]byte, n)
	for i, id := range ids {
		if id < 0 || id >= n {
			continue
		}
		shards[id] = fragments[i]
	}

	if err := enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("fec: reconstruct: %w", err)
	}
	return shards[:k], nil
}
