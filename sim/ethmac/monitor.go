package ethmac

import (
	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	log "github.com/sirupsen/logrus"
)

// Observation is the classification of one frame seen on the wire.
type Observation struct {
	Time   model.VirtualTime
	Frame  []byte
	Result Result
	// Header is decoded from the payload of a valid frame long enough to carry an Ethernet header.
	Header *packet.Annotation
}

// Monitor classifies every frame it observes. It is a sink that never refuses a frame, so it can sit on one leg of a
// tee without affecting the traffic it checks.
type Monitor struct {
	*component.EventDispatcher
	ctx          model.SimContext
	name         string
	opts         Options
	observations []Observation
	counts       map[Status]int
	observer     func(o Observation)
}

var _ model.PacketSink = &Monitor{}

func MakeMonitor(ctx model.SimContext, name string, opts Options) *Monitor {
	return &Monitor{
		EventDispatcher: component.MakeEventDispatcher(ctx, "sim.ethmac.Monitor"),
		ctx:             ctx,
		name:            name,
		opts:            opts,
		counts:          map[Status]int{},
	}
}

func (m *Monitor) CanAcceptPacket() bool {
	return true
}

func (m *Monitor) SendPacket(frame []byte) {
	m.Observe(frame)
}

// Observe checks one frame; its signature matches a packet tap callback.
func (m *Monitor) Observe(frame []byte) {
	result := Check(frame, m.opts)
	o := Observation{
		Time:   m.ctx.Now(),
		Frame:  append([]byte(nil), frame...),
		Result: result,
	}
	if result.Status == StatusValid && result.Payload.Len() >= packet.HeaderLength {
		if header, err := result.Payload.Annotate(); err == nil {
			o.Header = &header
		}
	}
	m.observations = append(m.observations, o)
	m.counts[result.Status] += 1
	if o.Header != nil {
		log.Debugf("%v [%s] frame %d: %v (%v)", m.ctx.Now(), m.name, len(m.observations), result, o.Header)
	} else if result.Status == StatusValid {
		log.Debugf("%v [%s] frame %d: %v", m.ctx.Now(), m.name, len(m.observations), result)
	} else {
		log.Warnf("%v [%s] frame %d: %v", m.ctx.Now(), m.name, len(m.observations), result)
	}
	if m.observer != nil {
		m.observer(o)
	}
	m.DispatchLater()
}

// OnObservation registers a callback for each classified frame.
func (m *Monitor) OnObservation(fn func(o Observation)) {
	m.observer = fn
}

func (m *Monitor) Observations() []Observation {
	return append([]Observation(nil), m.observations...)
}

func (m *Monitor) Count(status Status) int {
	return m.counts[status]
}

func (m *Monitor) Total() int {
	return len(m.observations)
}

// Payloads returns the recovered contents of every valid frame, in order.
func (m *Monitor) Payloads() []packet.Packet {
	var out []packet.Packet
	for _, o := range m.observations {
		if o.Result.Status == StatusValid {
			out = append(out, o.Result.Payload)
		}
	}
	return out
}
