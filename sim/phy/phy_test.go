package phy

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/celskeggs/ethsim/sim/clock"
	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/stream"
	"github.com/celskeggs/ethsim/sim/testpoint"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bench struct {
	sim    *component.SimController
	orch   *clock.Orchestrator
	phy    *Model
	device *testpoint.Streamer
	pins   *testpoint.Logger
}

func buildBench(t *testing.T, config Config) *bench {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	orch := clock.MakeOrchestrator(sim, 10*time.Nanosecond, 1)
	txPins := stream.MakePort("tx_pins", config.Width, true)
	rxPins := stream.MakePort("rx_pins", config.Width, true)
	orch.AttachPort(txPins)
	orch.AttachPort(rxPins)
	b := &bench{
		sim:    sim,
		orch:   orch,
		phy:    MakeModel(sim, "PHY", orch, config, txPins, rxPins),
		device: testpoint.MakeStreamer(sim, "DEVICE-TX", txPins),
		pins:   testpoint.MakeLogger(sim, "DEVICE-RX", rxPins, orch.Cycle),
	}
	sys := orch.AddDomain("sys")
	sys.Attach(b.phy)
	sys.Attach(b.device)
	sys.Attach(b.pins)
	require.NoError(t, orch.Start())
	return b
}

func (b *bench) run(cycles int) {
	b.sim.Advance(model.EdgeTime(model.Cycle(cycles), b.orch.Period()))
}

func TestFramesFromDevice(t *testing.T) {
	b := buildBench(t, DefaultConfig())
	frame, err := ethmac.Generate(packet.Sequential(64), ethmac.WireOptions())
	require.NoError(t, err)
	b.device.SendAll([]packet.Packet{packet.New(frame), packet.New(frame)}, nil)
	b.run(500)

	fromDevice, toDevice := b.phy.Backlog()
	assert.Equal(t, 2, fromDevice)
	assert.Zero(t, toDevice)
	wire := b.phy.Wire()
	var got [][]byte
	for wire.Source.HasPacketAvailable() {
		got = append(got, wire.Source.ReceivePacket())
	}
	require.Len(t, got, 2)
	assert.Equal(t, frame, got[0])
	assert.Equal(t, frame, got[1])

	captured := b.phy.CapturedFrames(FromDevice)
	require.Len(t, captured, 2)
	assert.Equal(t, frame, captured[0])
	assert.True(t, b.phy.Captured()[0].Start)
	assert.Equal(t, ethmac.PreambleByte, b.phy.Captured()[0].Value)
}

func TestFramesIntoDeviceWithGap(t *testing.T) {
	config := DefaultConfig()
	config.Width = 4
	config.InterFrameGap = 12
	b := buildBench(t, config)
	wire := b.phy.Wire()
	wire.Sink.SendPacket(packet.Sequential(30).Bytes())
	wire.Sink.SendPacket(packet.Sequential(31).Bytes())
	b.run(200)

	received := b.pins.Received()
	require.Len(t, received, 2)
	assert.True(t, packet.Sequential(30).Equal(received[0].Packet))
	assert.True(t, packet.Sequential(31).Equal(received[1].Packet))
	// the second frame needs eight beats, after twelve idle cycles
	assert.GreaterOrEqual(t, int(received[1].Cycle-received[0].Cycle), 12+8)
	assert.Len(t, b.phy.CapturedFrames(ToDevice), 2)
	_, toDevice := b.phy.Backlog()
	assert.Zero(t, toDevice)
}

func TestDebugOff(t *testing.T) {
	config := DefaultConfig()
	config.Debug = false
	b := buildBench(t, config)
	b.phy.Wire().Sink.SendPacket([]byte{1, 2, 3})
	b.run(50)
	assert.Equal(t, 1, b.pins.Count())
	assert.Empty(t, b.phy.Captured())
}

func TestPcapExport(t *testing.T) {
	b := buildBench(t, DefaultConfig())
	var buf bytes.Buffer
	require.NoError(t, b.phy.EnablePcap(&buf))
	frame, err := ethmac.Generate(packet.Sequential(64), ethmac.WireOptions())
	require.NoError(t, err)
	b.device.Send(packet.New(frame), nil)
	b.phy.Wire().Sink.SendPacket(frame)
	b.run(500)
	require.NoError(t, b.phy.PcapError())

	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())
	count := 0
	for {
		data, _, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, frame[ethmac.PrefixLength:], data)
		count += 1
	}
	assert.Equal(t, 2, count)
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Width: 3}.Validate())
	assert.Error(t, Config{Width: 1, InterFrameGap: -1}.Validate())
	assert.Error(t, Config{Width: 1, LineRate: -1}.Validate())
}
