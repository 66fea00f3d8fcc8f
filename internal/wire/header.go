// Package wire implements the 13-byte fragment header described by the
// transport's on-wire framing: [client_id:4][batch_id:4][idx:1][k:1][n:1][orig_len:2],
// all big-endian.
package wire

import (
	"encoding/binary"
	"errors"
)

// HeaderLen is the fixed size of a fragment header in bytes.
const HeaderLen = 13

// MaxOrigLen is the largest orig_len the 2-byte field can carry.
const MaxOrigLen = 65535

var (
	// ErrShortPacket is returned by Unpack when the input is smaller than HeaderLen.
	ErrShortPacket = errors.New("wire: packet shorter than header")
	// ErrInconsistentHeader is returned when k > n or k == 0.
	ErrInconsistentHeader = errors.New("wire: inconsistent k/n in header")
	// ErrFieldOverflow is returned by Pack when a field does not fit its width.
	ErrFieldOverflow = errors.New("wire: field exceeds header width")
)

// Header is the parsed form of a fragment's 13-byte header.
type Header struct {
	ClientID uint32
	BatchID  uint32
	Idx      uint8
	K        uint8
	N        uint8
	OrigLen  uint16
}

// Pack validates h and appends its 13-byte wire representation to dst,
// returning the extended slice. It fails with ErrInconsistentHeader if
// k == 0 or k > n; all other fields are already width-constrained by their
// Go types.
func Pack(dst []byte, h Header) ([]byte, error) {
	if h.K == 0 || h.K > h.N {
		return nil, ErrInconsistentHeader
	}
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.ClientID)
	binary.BigEndian.PutUint32(buf[4:8], h.BatchID)
	buf[8] = h.Idx
	buf[9] = h.K
	buf[10] = h.N
	binary.BigEndian.PutUint16(buf[11:13], h.OrigLen)
	return append(dst, buf...), nil
}

// Unpack parses the leading 13 bytes of packet as a Header and returns the
// remaining bytes as the fragment payload.
func Unpack(packet []byte) (Header, []byte, error) {
	if len(packet) < HeaderLen {
		return Header{}, nil, ErrShortPacket
	}
	h := Header{
		ClientID: binary.BigEndian.Uint32(packet[0:4]),
		BatchID:  binary.BigEndian.Uint32(packet[4:8]),
		Idx:      packet[8],
		K:        packet[9],
		N:        packet[10],
		OrigLen:  binary.BigEndian.Uint16(packet[11:13]),
	}
	if h.K == 0 || h.K > h.N {
		return Header{}, nil, ErrInconsistentHeader
	}
	return h, packet[HeaderLen:], nil
}
