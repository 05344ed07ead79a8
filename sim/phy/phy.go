// Package phy models the physical layer next to the device under test: the byte-serial pins the device transmits and
// receives on, and the frame-level wire the rest of the harness sees on the far side.
package phy

import (
	"fmt"

	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/packetlink"
	"github.com/celskeggs/ethsim/sim/stream"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	// Width of the pin word in bytes. 1 models an 8-bit PHY interface.
	Width int `yaml:"width" json:"width"`
	// InterFrameGap is the number of idle cycles inserted after each frame driven into the device.
	InterFrameGap int `yaml:"inter_frame_gap" json:"inter_frame_gap"`
	// LineRate caps the bytes per clock cycle the far end of the link takes back. Zero leaves the link unmetered.
	LineRate int `yaml:"line_rate,omitempty" json:"line_rate,omitempty"`
	// Debug records every byte forwarded in either direction.
	Debug bool `yaml:"debug" json:"debug"`
}

func DefaultConfig() Config {
	return Config{
		Width:         1,
		InterFrameGap: ethmac.InterFrameGap,
		Debug:         true,
	}
}

func (c Config) Validate() error {
	if err := stream.ValidateWidth(c.Width); err != nil {
		return fmt.Errorf("phy: %w", err)
	}
	if c.InterFrameGap < 0 {
		return fmt.Errorf("phy: negative inter-frame gap %d", c.InterFrameGap)
	}
	if c.LineRate < 0 {
		return fmt.Errorf("phy: negative line rate %d", c.LineRate)
	}
	return nil
}

type Direction int

const (
	// FromDevice: bytes the device transmitted on its TX pins.
	FromDevice Direction = iota
	// ToDevice: bytes the PHY drove onto the device's RX pins.
	ToDevice
)

func (d Direction) String() string {
	switch d {
	case FromDevice:
		return "tx"
	case ToDevice:
		return "rx"
	default:
		panic(fmt.Sprintf("invalid direction: %d", int(d)))
	}
}

// CapturedByte is one byte forwarded across the pins, as recorded in debug mode.
type CapturedByte struct {
	Cycle     model.Cycle
	Direction Direction
	Value     byte
	// Start marks the first byte of a frame; End marks the last.
	Start bool
	End   bool
}

// Clock supplies the cycle and time of the current tick.
type Clock interface {
	Now() model.VirtualTime
	Cycle() model.Cycle
}

// Model consumes frames from the device's TX pins (always ready, as a real PHY cannot push back) and drives frames
// into the device's RX pins, separated by the inter-frame gap.
type Model struct {
	name   string
	clock  Clock
	config Config
	txPins *stream.Port
	rxPins *stream.Port

	assembler stream.Assembler
	received  *packetlink.Queue

	inject    *packetlink.Queue
	injecting []byte
	beats     *stream.Serializer
	current   stream.Beat
	loaded    bool
	gap       int

	capture []CapturedByte
	pcap    *pcapDump
}

// MakeModel binds the consumer end of txPins and the producer end of rxPins.
func MakeModel(ctx model.SimContext, name string, clock Clock, config Config, txPins, rxPins *stream.Port) *Model {
	if err := config.Validate(); err != nil {
		panic(err.Error())
	}
	for _, pins := range []*stream.Port{txPins, rxPins} {
		if pins.Width() != config.Width {
			panic(fmt.Sprintf("pin port %s has width %d; phy configured for %d", pins.Name(), pins.Width(), config.Width))
		}
		if pins.Width() > 1 && !pins.Masked() {
			panic(fmt.Sprintf("pin port %s must mask partial words", pins.Name()))
		}
	}
	txPins.BindConsumer(name)
	rxPins.BindProducer(name)
	return &Model{
		name:     name,
		clock:    clock,
		config:   config,
		txPins:   txPins,
		rxPins:   rxPins,
		received: packetlink.MakeQueue(ctx, 0),
		inject:   packetlink.MakeQueue(ctx, 0),
	}
}

// Wire is the frame-level side of the PHY: its source yields frames the device transmitted, and frames sent into its
// sink are driven into the device.
func (m *Model) Wire() model.PacketWire {
	return model.PacketWire{
		Source: m.received,
		Sink:   m.inject,
	}
}

func (m *Model) Reset() {
	m.txPins.SetReady(false)
	m.rxPins.Withdraw()
	m.assembler.Reset()
	m.loaded = false
}

func (m *Model) Drive() {
	m.txPins.SetReady(true)

	if !m.loaded {
		if m.gap > 0 {
			m.gap -= 1
		} else {
			if (m.beats == nil || !m.beats.Pending()) && m.inject.HasPacketAvailable() {
				m.injecting = m.inject.ReceivePacket()
				if len(m.injecting) > 0 {
					m.beats = stream.NewSerializer(m.config.Width, m.rxPins.Masked(), packet.New(m.injecting))
				}
			}
			if m.beats != nil {
				m.current, m.loaded = m.beats.Next()
			}
		}
	}
	if m.loaded {
		m.rxPins.Present(m.current)
	} else {
		m.rxPins.Withdraw()
	}
}

func (m *Model) Clock() {
	if b, fired := m.txPins.Fired(); fired {
		m.captureBeat(FromDevice, b)
		if frame, complete := m.assembler.Push(b); complete {
			m.frameFromDevice(frame)
		}
	}
	if b, fired := m.rxPins.Fired(); fired {
		if !m.loaded {
			panic("pins committed a beat the phy never presented")
		}
		m.captureBeat(ToDevice, b)
		m.loaded = false
		if b.Last {
			m.gap = m.config.InterFrameGap
			log.Debugf("%v [%s] frame of %d bytes into device", m.clock.Now(), m.name, len(m.injecting))
			if m.pcap != nil {
				m.pcap.write(m.clock.Now(), m.injecting)
			}
		}
	}
}

func (m *Model) frameFromDevice(frame packet.Packet) {
	log.Debugf("%v [%s] frame of %d bytes from device", m.clock.Now(), m.name, frame.Len())
	data := frame.Bytes()
	if m.pcap != nil {
		m.pcap.write(m.clock.Now(), data)
	}
	m.received.SendPacket(data)
}

func (m *Model) captureBeat(dir Direction, b stream.Beat) {
	if !m.config.Debug {
		return
	}
	for i, value := range b.Bytes() {
		m.capture = append(m.capture, CapturedByte{
			Cycle:     m.clock.Cycle(),
			Direction: dir,
			Value:     value,
			Start:     b.First && i == 0,
			End:       b.Last && i == b.ValidCount()-1,
		})
	}
}

// Backlog reports the frames waiting at the frame-level side: transmitted by the device but not yet taken from the
// wire, and sent into the wire but not yet driven into the device.
func (m *Model) Backlog() (fromDevice, toDevice int) {
	return m.received.Len(), m.inject.Len()
}

// Captured returns every byte forwarded so far in debug mode, in the order forwarded.
func (m *Model) Captured() []CapturedByte {
	return append([]CapturedByte(nil), m.capture...)
}

// CapturedFrames groups the captured bytes of one direction into frames, including any preamble and FCS. An
// unterminated final frame is omitted.
func (m *Model) CapturedFrames(dir Direction) [][]byte {
	var frames [][]byte
	var current []byte
	for _, c := range m.capture {
		if c.Direction != dir {
			continue
		}
		if c.Start {
			current = nil
		}
		current = append(current, c.Value)
		if c.End {
			frames = append(frames, current)
			current = nil
		}
	}
	return frames
}
