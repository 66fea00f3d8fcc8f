// Package dnscarrier demonstrates that psock.Socket's underlying transport
// need not be a literal UDP socket: any net.PacketConn-shaped collaborator
// works, including one that tunnels datagrams over DNS TXT queries and
// responses.
//
// A perfectsock fragment (13-byte header + block) can still exceed what
// fits in one DNS query's label budget, so this package applies its own,
// independent chunk-and-reassemble framing underneath, carrying psock
// fragments as opaque chunked payloads.
package dnscarrier

import (
	"encoding/binary"
	"math/rand"
	"time"
)

// newRandSource returns a fresh, unshared *rand.Rand seeded from the wall
// clock, for call sites (e.g. ServerConn.WriteTo) that don't hold a
// longer-lived generator of their own.
func newRandSource() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// chunkHeaderLen is [PacketID:2][TotalChunks:1][SeqNum:1].
const chunkHeaderLen = 4

// maxChunkSize keeps each DNS-carried chunk within a safe QNAME budget.
const maxChunkSize = 124

// splitIntoChunks slices data into chunkHeaderLen-prefixed pieces, each
// carrying a shared random packet id so the far end can reassemble them
// regardless of arrival order.
func splitIntoChunks(data []byte, rng *rand.Rand) [][]byte {
	packetID := uint16(rng.Intn(65536))
	total := (len(data) + maxChunkSize - 1) / maxChunkSize
	if total == 0 {
		total = 1
	}
	if total > 255 {
		total = 255
	}

	chunks := make([][]byte, total)
	for i := 0; i < total; i++ {
		start := i * maxChunkSize
		end := start + maxChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, chunkHeaderLen+(end-start))
		binary.BigEndian.PutUint16(chunk[0:2], packetID)
		chunk[2] = uint8(total)
		chunk[3] = uint8(i)
		copy(chunk[4:], data[start:end])
		chunks[i] = chunk
	}
	return chunks
}

// chunkReassembler reassembles chunks produced by splitIntoChunks, keyed
// by packet id, with recently-completed ids remembered briefly to drop
// late duplicates.
type chunkReassembler struct {
	pending   map[uint16]*pendingChunks
	completed map[uint16]struct{}
	order     []uint16
}

type pendingChunks struct {
	parts    [][]byte
	total    int
	received int
}

func newChunkReassembler() *chunkReassembler {
	return &chunkReassembler{
		pending:   make(map[uint16]*pendingChunks),
		completed: make(map[uint16]struct{}),
	}
}

// ingest processes one chunk and returns the full packet once all of its
// chunks have arrived.
func (r *chunkReassembler) ingest(data []byte) []byte {
	if len(data) < chunkHeaderLen {
		return nil
	}
	id := binary.BigEndian.Uint16(data[0:2])
	total := int(data[2])
	seq := int(data[3])
	payload := data[4:]

	if _, done := r.completed[id]; done {
		return nil
	}

	pkt, ok := r.pending[id]
	if !ok {
		if len(r.pending) > 1000 {
			r.pending = make(map[uint16]*pendingChunks)
		}
		pkt = &pendingChunks{parts: make([][]byte, total), total: total}
		r.pending[id] = pkt
	}

	if seq < total && pkt.parts[seq] == nil {
		pkt.parts[seq] = payload
		pkt.received++
	}

	if pkt.received < pkt.total {
		return nil
	}

	delete(r.pending, id)
	r.markCompleted(id)

	var full []byte
	for _, part := range pkt.parts {
		full = append(full, part...)
	}
	return full
}

func (r *chunkReassembler) markCompleted(id uint16) {
	r.completed[id] = struct{}{}
	r.order = append(r.order, id)
	const maxRemembered = 256
	if len(r.order) > maxRemembered {
		old := r.order[0]
		r.order = r.order[1:]
		delete(r.completed, old)
	}
}
