// Package ethmac is a software reference model of Ethernet link-layer framing: preamble, start-of-frame delimiter,
// minimum-length padding and the frame check sequence. It is used standalone to validate bytes seen at the PHY.
package ethmac

import (
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/util"
)

const (
	PreambleByte   byte = 0x55
	PreambleLength      = 7
	SFD            byte = 0xD5
	// PrefixLength is the preamble plus the start-of-frame delimiter.
	PrefixLength = PreambleLength + 1
	FCSLength    = 4
	HeaderLength = packet.HeaderLength
	// MinFrameLength is the shortest frame, excluding the FCS, a compliant MAC transmits.
	MinFrameLength = 60
	// InterFrameGap is the standard idle time between frames, in bytes.
	InterFrameGap = 12
)

// Options selects which framing fields are produced by Generate and expected by Check.
type Options struct {
	Preamble bool
	CRC      bool
	// Pad extends short frames with zeros to MinFrameLength before the FCS is computed.
	Pad bool
	// MinLength is the shortest acceptable frame, excluding preamble and FCS. Zero means the Ethernet header length.
	MinLength int
}

// WireOptions is the full framing a compliant MAC places on the wire.
func WireOptions() Options {
	return Options{Preamble: true, CRC: true}
}

func (o Options) minLength() int {
	if o.MinLength > HeaderLength {
		return o.MinLength
	}
	return HeaderLength
}

// Framing selects who inserts and strips the preamble, SFD and FCS.
type Framing int

const (
	// FramingHardware: the device under test frames and deframes; the harness streams raw packets.
	FramingHardware Framing = iota
	// FramingSoftware: the harness frames packets with Generate before streaming and checks the logged bytes with
	// Check; the device under test passes bytes through.
	FramingSoftware
)

func (f Framing) String() string {
	switch f {
	case FramingHardware:
		return "hardware"
	case FramingSoftware:
		return "software"
	default:
		panic(fmt.Sprintf("invalid framing mode: %d", int(f)))
	}
}

func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hardware", "hw":
		return FramingHardware, nil
	case "software", "sw":
		return FramingSoftware, nil
	default:
		return 0, fmt.Errorf("unknown framing mode %q; expected hardware or software", s)
	}
}

func (f Framing) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Framing) UnmarshalText(text []byte) error {
	parsed, err := ParseFraming(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// HarnessOptions is the framing the harness itself must apply around the device under test: everything in software
// mode, nothing in hardware mode.
func (f Framing) HarnessOptions() Options {
	if f == FramingSoftware {
		return WireOptions()
	}
	return Options{}
}

// CRC32 is the IEEE 802.3 frame check sequence.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Generate produces the exact bytes a compliant MAC would transmit for a packet: preamble and SFD, the packet (padded
// if requested) and the FCS, least significant byte first, each per options.
func Generate(p packet.Packet, opts Options) ([]byte, error) {
	if p.Len() < HeaderLength {
		return nil, fmt.Errorf("packet of %d bytes is shorter than an Ethernet header", p.Len())
	}
	body := p.Bytes()
	if opts.Pad && len(body) < MinFrameLength {
		body = append(body, make([]byte, MinFrameLength-len(body))...)
	}
	var out []byte
	if opts.Preamble {
		out = append(out, Prefix()...)
	}
	out = append(out, body...)
	if opts.CRC {
		out = append(out, util.EncodeUint32LE(CRC32(body))...)
	}
	return out, nil
}

// Prefix returns the preamble followed by the start-of-frame delimiter.
func Prefix() []byte {
	prefix := make([]byte, PrefixLength)
	for i := 0; i < PreambleLength; i++ {
		prefix[i] = PreambleByte
	}
	prefix[PreambleLength] = SFD
	return prefix
}
