package stream

import (
	"fmt"

	"github.com/celskeggs/ethsim/sim/model"
)

type ViolationKind int

const (
	// ViolationUnstable: the beat changed between a stalled presentation and the next presentation.
	ViolationUnstable ViolationKind = iota
	// ViolationFraming: start/end-of-frame flags out of sequence.
	ViolationFraming
	// ViolationMask: validity mask inconsistent with the word width, the beat's position or the port's masking mode.
	ViolationMask
	// ViolationReset: valid asserted before every domain left reset.
	ViolationReset
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationUnstable:
		return "unstable-while-stalled"
	case ViolationFraming:
		return "framing"
	case ViolationMask:
		return "mask"
	case ViolationReset:
		return "traffic-during-reset"
	default:
		panic(fmt.Sprintf("invalid violation kind: %d", int(k)))
	}
}

// ProtocolViolation is raised as a panic by a port that observes broken handshake rules. It means the harness or the
// DUT model is broken, so the run is aborted rather than recorded as a data error.
type ProtocolViolation struct {
	Port   string
	Cycle  model.Cycle
	Kind   ViolationKind
	Beat   Beat
	Detail string
}

func (pv *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation (%v) on port %s at cycle %v: %s [%v]", pv.Kind, pv.Port, pv.Cycle, pv.Detail, pv.Beat)
}
