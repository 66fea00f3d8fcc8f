// Package reassembly implements the receiver-side batch reassembler (C4)
// and its companion processed-batch duplicate-suppression window (C5).
package reassembly

import (
	"time"

	"github.com/minor-way/perfectsock/internal/wire"
)

// Key identifies a batch across the wire: client_id disambiguates batch_id
// collisions between independent senders sharing one receiver.
type Key struct {
	ClientID uint32
	BatchID  uint32
}

type entry struct {
	k, n        int
	origLen     int
	fragments   map[int][]byte
	firstSeenAt time.Time
}

// Table holds in-flight reassembly state. It is not safe for concurrent
// use: RecvFrom is single-threaded cooperative, and the Table is owned
// exclusively by the caller driving it.
type Table struct {
	entries map[Key]*entry
}

// NewTable returns an empty reassembly table.
func NewTable() *Table {
	return &Table{entries: make(map[Key]*entry)}
}

// Insert adds a fragment for the batch named by h, creating the entry on
// first sight. If k/n conflict with an already-seen header for the same
// key, the new fragment is dropped (first header governs). Later arrivals
// at an already-populated index replace the earlier one (later-wins).
// Returns the entry and whether it has now reached its decode threshold.
func (t *Table) Insert(h wire.Header, fragment []byte, now time.Time) (ready bool, e *entry) {
	key := Key{ClientID: h.ClientID, BatchID: h.BatchID}
	if int(h.Idx) >= int(h.N) {
		return false, nil
	}

	ent, ok := t.entries[key]
	if !ok {
		ent = &entry{
			k:           int(h.K),
			n:           int(h.N),
			origLen:     int(h.OrigLen),
			fragments:   make(map[int][]byte),
			firstSeenAt: now,
		}
		t.entries[key] = ent
	} else if ent.k != int(h.K) || ent.n != int(h.N) {
		// Conflicting header for an already-seen batch: drop.
		return false, ent
	}

	ent.fragments[int(h.Idx)] = fragment
	return len(ent.fragments) >= ent.k, ent
}

// KeyOf returns the (client_id, batch_id) pair for a header, mirroring
// Insert's key derivation for callers that need it independently (e.g. to
// check the processed window before inserting).
func KeyOf(h wire.Header) Key {
	return Key{ClientID: h.ClientID, BatchID: h.BatchID}
}

// Delete removes a batch's reassembly state, e.g. after a successful or
// failed decode.
func (t *Table) Delete(key Key) {
	delete(t.entries, key)
}

// Fragments returns what is needed to invoke the external codec: k, n,
// orig_len, the collected fragment payloads, and their original indices
// (order-matched).
func (e *entry) Fragments() (k, n, origLen int, fragments [][]byte, ids []int) {
	fragments = make([][]byte, 0, len(e.fragments))
	ids = make([]int, 0, len(e.fragments))
	for idx, frag := range e.fragments {
		fragments = append(fragments, frag)
		ids = append(ids, idx)
	}
	return e.k, e.n, e.origLen, fragments, ids
}

// SweepExpired evicts every entry whose age exceeds timeout and returns
// the evicted keys. Intended to be called once per RecvFrom iteration.
//
// Evicted keys are the caller's responsibility to fold into the processed
// window: once expired, a batch must not complete even if enough of its
// remaining fragments later arrive — recovering it would require a fresh
// batch_id. Table itself has no notion of the window; see
// psock.Socket.RecvFrom for the wiring.
func (t *Table) SweepExpired(now time.Time, timeout time.Duration) []Key {
	var evicted []Key
	for key, ent := range t.entries {
		if now.Sub(ent.firstSeenAt) > timeout {
			delete(t.entries, key)
			evicted = append(evicted, key)
		}
	}
	return evicted
}

// Len reports the number of in-flight reassembly entries (for tests/stats).
func (t *Table) Len() int { return len(t.entries) }
