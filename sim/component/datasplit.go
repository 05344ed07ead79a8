package component

import (
	"github.com/celskeggs/ethsim/sim/model"
)

type teeSinkHelper struct {
	sink    model.PacketSink
	pending []byte
	held    bool
}

type teePacketSinks struct {
	*EventDispatcher
	sinks []*teeSinkHelper
}

var _ model.PacketSink = &teePacketSinks{}

// TeePacketSinks copies every frame into each of the sinks. A sink that cannot take a frame right away holds it until
// it can, and the tee accepts no further frames until every copy has been delivered.
func TeePacketSinks(ctx model.SimContext, sinks ...model.PacketSink) model.PacketSink {
	tps := &teePacketSinks{
		EventDispatcher: MakeEventDispatcher(ctx, "sim.component.TeePacketSinks"),
		sinks:           make([]*teeSinkHelper, len(sinks)),
	}
	for i, sink := range sinks {
		tps.sinks[i] = &teeSinkHelper{
			sink: sink,
		}
		i := i
		sink.Subscribe(func() {
			tps.onEvent(i)
		})
	}
	return tps
}

func (t *teePacketSinks) CanAcceptPacket() bool {
	for _, ts := range t.sinks {
		if ts.held {
			return false
		}
	}
	return true
}

func (t *teePacketSinks) SendPacket(frame []byte) {
	if !t.CanAcceptPacket() {
		panic("tee still holds an undelivered frame")
	}
	for _, ts := range t.sinks {
		if ts.sink.CanAcceptPacket() {
			ts.sink.SendPacket(frame)
		} else {
			ts.pending = append([]byte(nil), frame...)
			ts.held = true
		}
	}
}

func (t *teePacketSinks) onEvent(i int) {
	ts := t.sinks[i]
	if ts.held && ts.sink.CanAcceptPacket() {
		frame := ts.pending
		ts.pending, ts.held = nil, false
		ts.sink.SendPacket(frame)
		if t.CanAcceptPacket() {
			t.DispatchLater()
		}
	}
}
