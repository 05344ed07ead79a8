package testpoint

import (
	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/stream"
	log "github.com/sirupsen/logrus"
)

// Received is a packet reassembled by a Logger, with the cycle on which its final beat committed.
type Received struct {
	Packet packet.Packet
	Cycle  model.Cycle
}

// Logger consumes beats from a port and reassembles them into packets. It is always ready once out of reset, so any
// stalls seen by the producer come from elements inserted in front of it.
type Logger struct {
	*component.EventDispatcher
	ctx       model.SimContext
	name      string
	port      *stream.Port
	cycle     func() model.Cycle
	assembler stream.Assembler
	received  []Received
	observer  func(r Received)
}

var _ model.EventSource = &Logger{}

// MakeLogger binds the consumer end of the port. cycle reports the current cycle number for timestamps.
func MakeLogger(ctx model.SimContext, name string, port *stream.Port, cycle func() model.Cycle) *Logger {
	port.BindConsumer(name)
	return &Logger{
		EventDispatcher: component.MakeEventDispatcher(ctx, "sim.testpoint.Logger"),
		ctx:             ctx,
		name:            name,
		port:            port,
		cycle:           cycle,
	}
}

func (l *Logger) Reset() {
	l.port.SetReady(false)
	l.assembler.Reset()
}

func (l *Logger) Drive() {
	l.port.SetReady(true)
}

func (l *Logger) Clock() {
	b, fired := l.port.Fired()
	if !fired {
		return
	}
	p, complete := l.assembler.Push(b)
	if !complete {
		return
	}
	log.Debugf("%v [%s] received packet %d: %v", l.ctx.Now(), l.name, len(l.received)+1, p)
	r := Received{
		Packet: p,
		Cycle:  l.cycle(),
	}
	l.received = append(l.received, r)
	if l.observer != nil {
		l.observer(r)
	}
	l.DispatchLater()
}

// Observe registers a callback for each packet as soon as it is reassembled.
func (l *Logger) Observe(fn func(r Received)) {
	l.observer = fn
}

// Packets returns the reassembled packets in arrival order.
func (l *Logger) Packets() []packet.Packet {
	out := make([]packet.Packet, len(l.received))
	for i, r := range l.received {
		out[i] = r.Packet
	}
	return out
}

func (l *Logger) Received() []Received {
	return append([]Received(nil), l.received...)
}

func (l *Logger) Count() int {
	return len(l.received)
}

// PartialBytes is how many bytes of an unfinished packet have been collected.
func (l *Logger) PartialBytes() int {
	return l.assembler.Partial()
}

// WaitForCount suspends a scenario script until at least n packets have been received.
func (l *Logger) WaitForCount(ti *component.TwixtIO, n int) {
	ti.WaitFor(func() bool { return len(l.received) >= n }, l)
}
