// Package stream models the ready/valid streaming handshake used between every harness component: beats, ports with
// their per-cycle commit rule and protocol checks, and the serialization of packets to and from beats.
package stream

import (
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/celskeggs/ethsim/sim/util"
)

// MaxWidth is the widest supported word, in bytes.
const MaxWidth = 8

// Beat is one cycle's worth of data on a port. Byte i of the word occupies bits [8i, 8i+8) of Data; bit i of Mask
// marks byte i as valid.
type Beat struct {
	Data  uint64
	Mask  uint8
	First bool
	Last  bool
}

func ValidateWidth(width int) error {
	switch width {
	case 1, 2, 4, 8:
		return nil
	default:
		return fmt.Errorf("unsupported word width of %d bytes; must be 1, 2, 4 or 8", width)
	}
}

func mustWidth(width int) {
	if err := ValidateWidth(width); err != nil {
		panic(err.Error())
	}
}

// FullMask is the mask with every byte of a word of the given width valid.
func FullMask(width int) uint8 {
	mustWidth(width)
	return uint8((uint16(1) << width) - 1)
}

// PrefixMask is the mask with the first n bytes valid.
func PrefixMask(n int) uint8 {
	if n < 0 || n > MaxWidth {
		panic("invalid prefix length")
	}
	return uint8((uint16(1) << n) - 1)
}

// IsPrefixMask reports whether the mask is non-empty and marks a contiguous run of bytes starting at byte 0.
func IsPrefixMask(mask uint8) bool {
	return mask != 0 && mask&(mask+1) == 0
}

// ValidCount is the number of bytes the mask marks valid.
func (b Beat) ValidCount() int {
	return bits.OnesCount8(b.Mask)
}

// Bytes returns the valid bytes of the beat in order. Only meaningful for prefix masks.
func (b Beat) Bytes() []byte {
	out := make([]byte, b.ValidCount())
	util.PutWordLE(out, b.Data)
	return out
}

// MakeBeat packs up to eight bytes into a beat whose mask marks exactly those bytes valid.
func MakeBeat(data []byte, first, last bool) Beat {
	if len(data) == 0 || len(data) > MaxWidth {
		panic("beat must carry between 1 and 8 bytes")
	}
	return Beat{
		Data:  util.WordLE(data),
		Mask:  PrefixMask(len(data)),
		First: first,
		Last:  last,
	}
}

func (b Beat) String() string {
	flags := ""
	if b.First {
		flags += "F"
	}
	if b.Last {
		flags += "L"
	}
	return fmt.Sprintf("Beat{%s mask=%02x %s}", hex.EncodeToString(b.Bytes()), b.Mask, flags)
}
