package util

import "strings"

const BitsPerByte = 8

// BitsToBytes packs bits least-significant first; a trailing partial byte is zero-filled.
func BitsToBytes(bits []bool) []byte {
	output := make([]byte, (len(bits)+BitsPerByte-1)/BitsPerByte)
	for i, bit := range bits {
		if bit {
			output[i/BitsPerByte] |= 1 << (i % BitsPerByte)
		}
	}
	return output
}

// FlipBit returns a copy of data with the given bit (numbered from the least significant bit of byte 0) inverted.
func FlipBit(data []byte, bit int) []byte {
	if bit < 0 || bit >= len(data)*BitsPerByte {
		panic("bit index out of range")
	}
	out := append([]byte{}, data...)
	out[bit/BitsPerByte] ^= 1 << (bit % BitsPerByte)
	return out
}

// StringBits renders bits as a string of '1' and '0' characters, oldest first.
func StringBits(data []bool) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, bit := range data {
		if bit {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
