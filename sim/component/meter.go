package component

import (
	"time"

	"github.com/celskeggs/ethsim/sim/model"
)

// meteredSink passes whole frames to the underlying sink while its byte allowance is positive. A frame larger than
// the remaining allowance is still passed, and the excess is paid back from later refills.
type meteredSink struct {
	*EventDispatcher
	sink         model.PacketSink
	bytesAllowed int
	interval     time.Duration

	currentAllowance int
	cancelTimer      func()
}

var _ model.PacketSink = &meteredSink{}

func (m *meteredSink) CanAcceptPacket() bool {
	return m.currentAllowance > 0 && m.sink.CanAcceptPacket()
}

func (m *meteredSink) SendPacket(frame []byte) {
	if !m.CanAcceptPacket() {
		panic("metered sink cannot accept a frame right now")
	}
	m.sink.SendPacket(frame)
	m.currentAllowance -= len(frame)
	m.armRefill()
}

func (m *meteredSink) armRefill() {
	if m.cancelTimer == nil && m.currentAllowance < m.bytesAllowed {
		m.cancelTimer = m.ctx.SetTimer(m.ctx.Now().Add(m.interval), "sim.component.MeteredSink/Refill", m.refill)
	}
}

func (m *meteredSink) refill() {
	m.cancelTimer = nil
	wasBlocked := m.currentAllowance <= 0
	m.currentAllowance += m.bytesAllowed
	if m.currentAllowance > m.bytesAllowed {
		m.currentAllowance = m.bytesAllowed
	}
	// still in debt after a large frame
	m.armRefill()
	if wasBlocked && m.currentAllowance > 0 {
		m.DispatchLater()
	}
}

func (m *meteredSink) underlyingReady() {
	// the underlying sink may have been the reason a writer gave up
	if m.currentAllowance > 0 {
		m.DispatchLater()
	}
}

// MakeMeteredSink limits the sink to bytesAllowed bytes of frames per interval.
func MakeMeteredSink(ctx model.SimContext, sink model.PacketSink, bytesAllowed int, perInterval time.Duration) model.PacketSink {
	if bytesAllowed <= 0 || perInterval <= 0 {
		panic("metered sink needs a positive rate")
	}
	m := &meteredSink{
		EventDispatcher:  MakeEventDispatcher(ctx, "sim.component.MeteredSink"),
		sink:             sink,
		bytesAllowed:     bytesAllowed,
		interval:         perInterval,
		currentAllowance: bytesAllowed,
	}
	sink.Subscribe(m.underlyingReady)
	return m
}
