// Package clock sequences every clocked component of a run from one master clock, holding all clock domains in reset
// for the initial cycles and then releasing them together.
package clock

import "fmt"

// Clocked is a register-like component. Drive computes this cycle's outputs from private state only; Clock observes
// the transfers that committed and updates private state. Reset replaces Drive (and suppresses Clock) while the
// component's domain is held in reset.
type Clocked interface {
	Reset()
	Drive()
	Clock()
}

type DomainState int

const (
	DomainReset DomainState = iota
	DomainRunning
)

func (s DomainState) String() string {
	switch s {
	case DomainReset:
		return "RESET"
	case DomainRunning:
		return "RUNNING"
	default:
		panic(fmt.Sprintf("invalid domain state: %d", int(s)))
	}
}

// Domain is a named clock/reset pair. All domains share the orchestrator's master clock.
type Domain struct {
	name       string
	state      DomainState
	components []Clocked
}

func (d *Domain) Name() string {
	return d.name
}

func (d *Domain) State() DomainState {
	return d.state
}

// Attach adds a component clocked by this domain. Components are driven in attachment order.
func (d *Domain) Attach(c Clocked) {
	d.components = append(d.components, c)
}

func (d *Domain) release() {
	if d.state != DomainReset {
		panic("domain " + d.name + " released twice")
	}
	d.state = DomainRunning
}

func (d *Domain) String() string {
	return fmt.Sprintf("%s[%v]", d.name, d.state)
}
