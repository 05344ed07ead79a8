// Package packet holds the harness's model of an Ethernet-layer message: an immutable byte sequence with derived
// header fields for reference checks.
package packet

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// HeaderLength is the length of the destination address, source address and EtherType fields.
const HeaderLength = 14

// Packet is immutable once constructed. The zero value is the empty packet.
type Packet struct {
	data []byte
}

func New(data []byte) Packet {
	return Packet{data: append([]byte{}, data...)}
}

func (p Packet) Len() int {
	return len(p.data)
}

// Bytes returns a copy of the packet contents.
func (p Packet) Bytes() []byte {
	return append([]byte{}, p.data...)
}

// At returns the byte at index i.
func (p Packet) At(i int) byte {
	return p.data[i]
}

// CopyOut copies bytes starting at offset from into the destination slice and returns the count copied.
func (p Packet) CopyOut(into []byte, from int) int {
	if from >= len(p.data) {
		return 0
	}
	return copy(into, p.data[from:])
}

func (p Packet) Equal(o Packet) bool {
	return bytes.Equal(p.data, o.data)
}

// CRC is the IEEE 802.3 CRC-32 of the packet contents, which cover addresses, type and payload.
func (p Packet) CRC() uint32 {
	return crc32.ChecksumIEEE(p.data)
}

func (p Packet) String() string {
	const preview = 16
	if len(p.data) <= preview {
		return fmt.Sprintf("Packet[%d]{%s}", len(p.data), hex.EncodeToString(p.data))
	}
	return fmt.Sprintf("Packet[%d]{%s...}", len(p.data), hex.EncodeToString(p.data[:preview]))
}

// Annotation holds fields derived from a packet, used only by reference-model checks.
type Annotation struct {
	Destination net.HardwareAddr
	Source      net.HardwareAddr
	EtherType   layers.EthernetType
	CRC         uint32
	PayloadLen  int
}

func (a Annotation) String() string {
	return fmt.Sprintf("%v -> %v type=%v len=%d crc=%08x", a.Source, a.Destination, a.EtherType, a.PayloadLen, a.CRC)
}

// Annotate decodes the Ethernet header of the packet. Packets shorter than a header cannot be annotated.
func (p Packet) Annotate() (Annotation, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(p.data, gopacket.NilDecodeFeedback); err != nil {
		return Annotation{}, fmt.Errorf("cannot annotate %v: %w", p, err)
	}
	return Annotation{
		Destination: append(net.HardwareAddr{}, eth.DstMAC...),
		Source:      append(net.HardwareAddr{}, eth.SrcMAC...),
		EtherType:   eth.EthernetType,
		CRC:         p.CRC(),
		PayloadLen:  len(eth.Payload),
	}, nil
}

// Build serializes an Ethernet header followed by the payload into a packet.
func Build(dst, src net.HardwareAddr, etherType layers.EthernetType, payload []byte) (Packet, error) {
	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{
		DstMAC:       dst,
		SrcMAC:       src,
		EthernetType: etherType,
	}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)); err != nil {
		return Packet{}, fmt.Errorf("cannot build packet: %w", err)
	}
	return Packet{data: buf.Bytes()}, nil
}

// EqualSequences compares two packet sequences element by element.
func EqualSequences(a, b []Packet) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Compare counts mismatched bytes between two packets, and reports whether their lengths agree.
func Compare(actual, expected Packet) (mismatches int, lengthOk bool) {
	n := len(actual.data)
	if len(expected.data) < n {
		n = len(expected.data)
	}
	for i := 0; i < n; i++ {
		if actual.data[i] != expected.data[i] {
			mismatches++
		}
	}
	return mismatches, len(actual.data) == len(expected.data)
}
