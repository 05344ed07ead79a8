// Package dut defines the boundary of the device under test and provides a software stand-in that honours it.
package dut

import (
	"github.com/celskeggs/ethsim/sim/clock"
	"github.com/celskeggs/ethsim/sim/stream"
)

// Domain names every device is clocked in. The harness creates them all on the master clock.
const (
	DomainSys = "sys"
	DomainTX  = "eth_tx"
	DomainRX  = "eth_rx"
)

// DUT is a pipeline stage reached only through its streaming ports: Sink accepts packets to transmit on its TX pins,
// and Source yields packets received on its RX pins.
type DUT interface {
	Name() string
	Sink() *stream.Port
	Source() *stream.Port
	// HandlesFraming reports whether the device inserts and strips preamble, SFD and FCS itself.
	HandlesFraming() bool
	// Attach registers the device's clocked parts with the orchestrator's domains and its ports for resolution.
	Attach(o *clock.Orchestrator)
}
