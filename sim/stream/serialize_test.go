package stream

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/google/go-cmp/cmp"
)

func TestSerializeRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	var packets []packet.Packet
	for i := 0; i < 20; i++ {
		packets = append(packets, packet.RandPacket(r, 1, 100))
	}
	for _, width := range []int{1, 2, 4, 8} {
		t.Run(fmt.Sprintf("width%d", width), func(t *testing.T) {
			count := 0
			for b := range Beats(packets, width, true) {
				if b.Mask == 0 || b.Mask&^FullMask(width) != 0 {
					t.Fatalf("bad mask on %v", b)
				}
				count += 1
			}
			expected := 0
			for _, p := range packets {
				expected += BeatCount(p.Len(), width)
			}
			if count != expected {
				t.Errorf("expected %d beats, got %d", expected, count)
			}
			if !packet.EqualSequences(Collect(Beats(packets, width, true)), packets) {
				t.Errorf("round trip through width %d did not preserve packets", width)
			}
		})
	}
}

func TestBeatsRestartable(t *testing.T) {
	seq := Beats([]packet.Packet{packet.Sequential(10), packet.Sequential(3)}, 4, true)
	var first, second []Beat
	for b := range seq {
		first = append(first, b)
	}
	for b := range seq {
		second = append(second, b)
		if len(second) == 2 {
			break
		}
	}
	if len(first) != 4 {
		t.Fatalf("expected 4 beats, got %d", len(first))
	}
	if diff := cmp.Diff(first[:2], second); diff != "" {
		t.Errorf("second iteration did not restart (-first +second):\n%s", diff)
	}
}

func TestFinalWordLayout(t *testing.T) {
	s := NewSerializer(4, true, packet.Sequential(6))
	b1, _ := s.Next()
	b2, _ := s.Next()
	_, more := s.Next()
	expected := []Beat{
		{Data: 0x03020100, Mask: 0xF, First: true},
		{Data: 0x0504, Mask: 0x3, Last: true},
	}
	if diff := cmp.Diff(expected, []Beat{b1, b2}); diff != "" {
		t.Errorf("wrong beats (-want +got):\n%s", diff)
	}
	if more || s.Pending() {
		t.Error("serializer should be exhausted")
	}
}

func TestUnmaskedAlignment(t *testing.T) {
	if err := CheckPacket(packet.Sequential(6), 4, false); err == nil {
		t.Error("expected an unaligned packet to be rejected on an unmasked port")
	}
	if err := CheckPacket(packet.Sequential(6), 4, true); err != nil {
		t.Errorf("unexpected error on a masked port: %v", err)
	}
	if err := CheckPacket(packet.Sequential(8), 4, false); err != nil {
		t.Errorf("unexpected error for an aligned packet: %v", err)
	}
	if err := CheckPacket(packet.New(nil), 1, true); err == nil {
		t.Error("expected an empty packet to be rejected")
	}
	s := NewSerializer(4, false, packet.Sequential(8))
	s.Next()
	b, _ := s.Next()
	if b.Mask != 0xF || !b.Last || b.Data != 0x07060504 {
		t.Errorf("expected a full final word, got %v", b)
	}
}

func TestSingleBeatPacket(t *testing.T) {
	s := NewSerializer(8, true, packet.Sequential(3))
	b, ok := s.Next()
	if !ok || !b.First || !b.Last || b.Mask != 0x7 {
		t.Errorf("expected a single first+last beat, got %v", b)
	}
}

func TestEmptyPacketRejected(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for an empty packet")
		}
	}()
	NewSerializer(1, true, packet.New(nil))
}

func TestAssemblerRejectsOrphanBeat(t *testing.T) {
	var a Assembler
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for a beat outside a frame")
		}
	}()
	a.Push(Beat{Data: 1, Mask: 1})
}
