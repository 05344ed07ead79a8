package stream

import (
	"errors"
	"fmt"
	"iter"

	"github.com/celskeggs/ethsim/sim/packet"
)

// Serializer splits packets into beats, width-major: each beat carries the next width bytes of the packet, byte 0 in
// the least significant segment. The final beat of a packet carries a prefix mask covering the remaining bytes, so
// unmasked ports only accept packets that fill whole words (see CheckPacket).
type Serializer struct {
	width   int
	packets []packet.Packet
	index   int
	offset  int
}

func NewSerializer(width int, masked bool, packets ...packet.Packet) *Serializer {
	mustWidth(width)
	for _, p := range packets {
		if p.Len() == 0 {
			panic("cannot serialize an empty packet")
		}
		if !masked && p.Len()%width != 0 {
			panic("unmasked ports can only carry whole words")
		}
	}
	return &Serializer{
		width:   width,
		packets: packets,
	}
}

// Next returns the next beat, or false once every packet has been serialized.
func (s *Serializer) Next() (Beat, bool) {
	if s.index >= len(s.packets) {
		return Beat{}, false
	}
	p := s.packets[s.index]
	var chunk [MaxWidth]byte
	n := p.CopyOut(chunk[:s.width], s.offset)
	b := MakeBeat(chunk[:n], s.offset == 0, s.offset+n >= p.Len())
	s.offset += n
	if b.Last {
		s.index += 1
		s.offset = 0
	}
	return b, true
}

// Pending reports whether any beats remain.
func (s *Serializer) Pending() bool {
	return s.index < len(s.packets)
}

// BeatCount is the number of beats a packet of the given length occupies at the given width.
func BeatCount(length, width int) int {
	mustWidth(width)
	return (length + width - 1) / width
}

// Beats returns a lazy sequence of the beats serializing the packets in order. Each range over the sequence starts
// again from the first packet.
func Beats(packets []packet.Packet, width int, masked bool) iter.Seq[Beat] {
	return func(yield func(Beat) bool) {
		s := NewSerializer(width, masked, packets...)
		for b, ok := s.Next(); ok; b, ok = s.Next() {
			if !yield(b) {
				return
			}
		}
	}
}

// Assembler rebuilds packets from committed beats by concatenating the valid bytes from a start-of-frame beat to
// an end-of-frame beat. Beats are assumed to have passed a port's protocol checks.
type Assembler struct {
	current []byte
	open    bool
}

// Push adds one committed beat, returning the completed packet when the beat ends a frame.
func (a *Assembler) Push(b Beat) (packet.Packet, bool) {
	if b.First {
		if a.open {
			panic("start of frame while a frame is open")
		}
		a.open = true
		a.current = a.current[:0]
	} else if !a.open {
		panic("beat outside of any frame")
	}
	a.current = append(a.current, b.Bytes()...)
	if b.Last {
		a.open = false
		return packet.New(a.current), true
	}
	return packet.Packet{}, false
}

// Open reports whether a frame is partially assembled.
func (a *Assembler) Open() bool {
	return a.open
}

// Partial returns how many bytes of the open frame have been assembled.
func (a *Assembler) Partial() int {
	if !a.open {
		return 0
	}
	return len(a.current)
}

func (a *Assembler) Reset() {
	a.open = false
	a.current = a.current[:0]
}

// Collect assembles a complete beat sequence into packets, for use outside of a running simulation.
func Collect(beats iter.Seq[Beat]) []packet.Packet {
	var a Assembler
	var out []packet.Packet
	for b := range beats {
		if p, ok := a.Push(b); ok {
			out = append(out, p)
		}
	}
	if a.Open() {
		panic("beat sequence ended inside a frame")
	}
	return out
}

// CheckPacket reports whether a packet can be carried on a port of the given width and masking mode.
func CheckPacket(p packet.Packet, width int, masked bool) error {
	if err := ValidateWidth(width); err != nil {
		return err
	}
	if p.Len() == 0 {
		return errors.New("cannot stream an empty packet")
	}
	if !masked && p.Len()%width != 0 {
		return fmt.Errorf("packet of %d bytes does not fill whole %d-byte words and the port has no final-word masking",
			p.Len(), width)
	}
	return nil
}
