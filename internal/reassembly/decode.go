package reassembly

import "github.com/minor-way/perfectsock/internal/fec"

// fragmentSource is satisfied by *entry; expressed as an interface so
// callers outside this package can decode the entry Table.Insert handed
// them without this package exposing the unexported entry type.
type fragmentSource interface {
	Fragments() (k, n, origLen int, fragments [][]byte, ids []int)
}

// Decode reconstructs the original message from a reassembly entry's
// collected fragments via codec, truncating the result to orig_len.
func Decode(codec fec.Codec, e fragmentSource) ([]byte, error) {
	k, n, origLen, fragments, ids := e.Fragments()
	blocks, err := codec.Decode(k, n, fragments, ids)
	if err != nil {
		return nil, err
	}
	var full []byte
	for _, b := range blocks {
		full = append(full, b...)
	}
	if origLen > len(full) {
		origLen = len(full)
	}
	return full[:origLen], nil
}
