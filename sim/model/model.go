package model

import "math/rand"

type SimContext interface {
	Now() VirtualTime
	SetTimer(expireAt VirtualTime, name string, callback func()) (cancel func())
	Later(name string, callback func()) (cancel func())
	// Rand is seeded from the scenario seed and supplies the contents of generated packets. Components that must be
	// reproducible on their own, like ack randomizers, own a separately seeded generator instead.
	Rand() *rand.Rand
}

type EventSource interface {
	Subscribe(callback func()) (cancel func())
}

// at the packet level of abstraction, only complete frames (terminated by an end-of-frame beat) are passed around.

type PacketSource interface {
	EventSource
	HasPacketAvailable() bool
	ReceivePacket() []byte
}

type PacketSink interface {
	EventSource
	CanAcceptPacket() bool
	SendPacket(packetData []byte)
}

type PacketWire struct {
	Source PacketSource
	Sink   PacketSink
}
