package packetlink

import "github.com/celskeggs/ethsim/sim/model"

type tappedSink struct {
	model.PacketSink
	cb func(frame []byte)
}

func (t *tappedSink) SendPacket(frame []byte) {
	t.cb(frame)
	t.PacketSink.SendPacket(frame)
}

// TapSink calls cb with every frame sent into the sink, before the sink sees it.
func TapSink(sink model.PacketSink, cb func(frame []byte)) model.PacketSink {
	return &tappedSink{
		PacketSink: sink,
		cb:         cb,
	}
}

type tappedSource struct {
	model.PacketSource
	cb func(frame []byte)
}

func (t *tappedSource) ReceivePacket() []byte {
	frame := t.PacketSource.ReceivePacket()
	t.cb(frame)
	return frame
}

// TapSource calls cb with every frame received from the source.
func TapSource(source model.PacketSource, cb func(frame []byte)) model.PacketSource {
	return &tappedSource{
		PacketSource: source,
		cb:           cb,
	}
}
