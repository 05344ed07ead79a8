package packetlink

import (
	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
)

// Stamp supplies the cycle and time recorded with each frame.
type Stamp interface {
	Now() model.VirtualTime
	Cycle() model.Cycle
}

func recordFrame(r *component.CSVTraceRecorder, stamp Stamp, channel string) func(frame []byte) {
	return func(frame []byte) {
		r.Record(component.TraceEntry{
			Cycle:     stamp.Cycle(),
			Timestamp: stamp.Now(),
			Channel:   channel,
			First:     true,
			Last:      true,
			Bytes:     frame,
		})
	}
}

func RecordSink(r *component.CSVTraceRecorder, stamp Stamp, channel string, sink model.PacketSink) model.PacketSink {
	if r.IsRecording() {
		return TapSink(sink, recordFrame(r, stamp, channel))
	} else {
		return sink
	}
}

func RecordSource(r *component.CSVTraceRecorder, stamp Stamp, channel string, source model.PacketSource) model.PacketSource {
	if r.IsRecording() {
		return TapSource(source, recordFrame(r, stamp, channel))
	} else {
		return source
	}
}

func RecordWire(r *component.CSVTraceRecorder, stamp Stamp, channelSource, channelSink string, wire model.PacketWire) model.PacketWire {
	return model.PacketWire{
		Source: RecordSource(r, stamp, channelSource, wire.Source),
		Sink:   RecordSink(r, stamp, channelSink, wire.Sink),
	}
}
