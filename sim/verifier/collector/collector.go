// Package collector defines the observation interface a run reports its activity through, and an activity log
// renderer that can be layered over any collector.
package collector

import (
	"io"

	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/stream"
)

type ActivityCollector interface {
	OnPacketSent(index int, p packet.Packet, cycle model.Cycle)
	OnPacketLogged(p packet.Packet, cycle model.Cycle)
	OnWireFrame(o ethmac.Observation)
	OnViolation(pv *stream.ProtocolViolation)
}

// ActivityLog is a collector that writes to an output which must be closed at the end of the run.
type ActivityLog interface {
	ActivityCollector
	io.Closer
}
