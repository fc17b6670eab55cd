package ledger

import (
	"bytes"
	"fmt"
)

// EncodeBytes32 left-aligns s in a bytes32, padding with NULs.
func EncodeBytes32(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) > len(out) {
		return out, fmt.Errorf("%q is %d bytes, bytes32 holds at most 32", s, len(s))
	}
	copy(out[:], s)
	return out, nil
}

// DecodeBytes32 is the inverse of EncodeBytes32: trailing NULs are trimmed.
func DecodeBytes32(b [32]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}

func encodeAll(values []string) ([][32]byte, error) {
	out := make([][32]byte, len(values))
	for i, v := range values {
		enc, err := EncodeBytes32(v)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}
