package util

import (
	"math/rand"
	"testing"
)

func TestBitConversion(t *testing.T) {
	bits := make([]bool, 8192)
	r := rand.New(rand.NewSource(345))
	for i := range bits {
		bits[i] = r.Intn(2) == 1
	}

	packed := BitsToBytes(bits)

	if len(packed) != len(bits)/BitsPerByte {
		t.Error("incorrect length")
	}
	for i, bit := range bits {
		if (packed[i/BitsPerByte]>>(i%BitsPerByte))&1 == 1 != bit {
			t.Fatalf("mismatched bit %d", i)
		}
	}
}

func TestPartialBitsPacking(t *testing.T) {
	packed := BitsToBytes([]bool{true, false, true, true, false, false, false, false, true, true})
	if len(packed) != 2 || packed[0] != 0x0D || packed[1] != 0x03 {
		t.Errorf("unexpected packing: %x", packed)
	}
	if s := StringBits([]bool{true, false, true}); s != "101" {
		t.Errorf("unexpected rendering %q", s)
	}
}

func TestFlipBit(t *testing.T) {
	orig := []byte{0x00, 0xFF}
	flipped := FlipBit(orig, 9)
	if flipped[0] != 0x00 || flipped[1] != 0xFD {
		t.Errorf("unexpected flip result: %x", flipped)
	}
	if orig[1] != 0xFF {
		t.Error("FlipBit must not modify its input")
	}
}
