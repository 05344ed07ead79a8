package packetlink

import (
	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
)

// Queue is an in-memory frame FIFO usable as both a source and a sink. A capacity of zero means unbounded.
type Queue struct {
	*component.EventDispatcher
	frames   [][]byte
	capacity int
}

var _ model.PacketSource = &Queue{}
var _ model.PacketSink = &Queue{}

func MakeQueue(ctx model.SimContext, capacity int) *Queue {
	return &Queue{
		EventDispatcher: component.MakeEventDispatcher(ctx, "sim.packetlink.Queue"),
		capacity:        capacity,
	}
}

func (q *Queue) HasPacketAvailable() bool {
	return len(q.frames) > 0
}

func (q *Queue) ReceivePacket() []byte {
	if len(q.frames) == 0 {
		panic("no frame available")
	}
	frame := q.frames[0]
	q.frames = q.frames[1:]
	q.DispatchLater()
	return frame
}

func (q *Queue) CanAcceptPacket() bool {
	return q.capacity == 0 || len(q.frames) < q.capacity
}

func (q *Queue) SendPacket(frame []byte) {
	if !q.CanAcceptPacket() {
		panic("queue is full")
	}
	q.frames = append(q.frames, append([]byte(nil), frame...))
	q.DispatchLater()
}

func (q *Queue) Len() int {
	return len(q.frames)
}

// Wire presents the queue as a wire whose source and sink are both this queue.
func (q *Queue) Wire() model.PacketWire {
	return model.PacketWire{Source: q, Sink: q}
}
