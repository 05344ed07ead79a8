// Package packetlink connects frame-level sources and sinks: patch cables that move whole frames as soon as both ends
// permit, and taps that observe or record frames in passing.
package packetlink

import "github.com/celskeggs/ethsim/sim/model"

// PatchLinks moves every frame from source to sink as soon as the source has one and the sink can take it.
func PatchLinks(ctx model.SimContext, source model.PacketSource, sink model.PacketSink) {
	pump := func() {
		for source.HasPacketAvailable() && sink.CanAcceptPacket() {
			sink.SendPacket(source.ReceivePacket())
		}
	}
	source.Subscribe(pump)
	sink.Subscribe(pump)
	ctx.Later("sim.packetlink.PatchCable/Start", pump)
}
