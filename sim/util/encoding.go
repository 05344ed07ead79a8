package util

import (
	"encoding/binary"
	"fmt"
)

func EncodeUint32LE(u uint32) []byte {
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], u)
	return out[:]
}

func DecodeUint32LE(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("expected 4 bytes for 32-bit value, not %d", len(data))
	}
	return binary.LittleEndian.Uint32(data), nil
}

// PutWordLE writes the low len(into) bytes of word into the slice, least significant byte first.
func PutWordLE(into []byte, word uint64) {
	for i := range into {
		into[i] = byte(word >> (8 * i))
	}
}

// WordLE reads up to eight bytes into a word, least significant byte first.
func WordLE(from []byte) uint64 {
	if len(from) > 8 {
		panic("word too wide")
	}
	var word uint64
	for i, b := range from {
		word |= uint64(b) << (8 * i)
	}
	return word
}
