package clock

import (
	"errors"
	"fmt"
	"time"

	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/stream"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Orchestrator advances the run one master clock edge at a time. Each tick runs these phases in order:
//
//  1. domain states update (all domains leave reset on the same edge);
//  2. every component is driven, or reset while its domain is in reset;
//  3. every port resolves its handshake for the cycle;
//  4. every component in a running domain is clocked;
//  5. the tick event is dispatched.
type Orchestrator struct {
	ctx         model.SimContext
	period      time.Duration
	resetCycles int

	domains []*Domain
	byName  map[string]*Domain
	ports   []*stream.Port
	tracer  stream.Tracer

	cycle    model.Cycle
	running  bool
	started  bool
	cancel   func()
	ticks    *component.EventDispatcher
	released *component.EventDispatcher
}

func MakeOrchestrator(ctx model.SimContext, period time.Duration, resetCycles int) *Orchestrator {
	if period <= 0 {
		panic("clock period must be positive")
	}
	if resetCycles < 1 {
		panic("reset must be held for at least one cycle")
	}
	return &Orchestrator{
		ctx:         ctx,
		period:      period,
		resetCycles: resetCycles,
		byName:      map[string]*Domain{},
		ticks:       component.MakeEventDispatcher(ctx, "sim.clock.Orchestrator/Tick"),
		released:    component.MakeEventDispatcher(ctx, "sim.clock.Orchestrator/Released"),
	}
}

// AddDomain creates a new domain, held in reset until the orchestrator releases every domain.
func (o *Orchestrator) AddDomain(name string) *Domain {
	if o.started {
		panic("cannot add domains after start")
	}
	if _, found := o.byName[name]; found {
		panic("duplicate domain: " + name)
	}
	d := &Domain{name: name, state: DomainReset}
	o.domains = append(o.domains, d)
	o.byName[name] = d
	return d
}

func (o *Orchestrator) Domain(name string) *Domain {
	d, found := o.byName[name]
	if !found {
		panic("unknown domain: " + name)
	}
	return d
}

func (o *Orchestrator) Domains() []*Domain {
	return append([]*Domain(nil), o.domains...)
}

// Attach adds a component to the named domain.
func (o *Orchestrator) Attach(domain string, c Clocked) {
	o.Domain(domain).Attach(c)
}

// SetTracer selects where ports attached afterwards record their committed beats.
func (o *Orchestrator) SetTracer(tracer stream.Tracer) {
	o.tracer = tracer
}

// AttachPort registers a port to be resolved every cycle. The port refuses traffic until every domain is running.
func (o *Orchestrator) AttachPort(p *stream.Port) {
	if o.started {
		panic("cannot add ports after start")
	}
	p.SetGuard(o.AllRunning)
	if o.tracer != nil {
		p.SetTracer(o.tracer)
	}
	o.ports = append(o.ports, p)
}

func (o *Orchestrator) Ports() []*stream.Port {
	return append([]*stream.Port(nil), o.ports...)
}

// CheckWiring reports every port that lacks a producer or a consumer.
func (o *Orchestrator) CheckWiring() error {
	var result error
	seen := map[string]bool{}
	for _, p := range o.ports {
		if seen[p.Name()] {
			result = multierror.Append(result, fmt.Errorf("duplicate port name %q", p.Name()))
		}
		seen[p.Name()] = true
		producer, consumer := p.Endpoints()
		if producer == "" {
			result = multierror.Append(result, fmt.Errorf("port %s has no producer", p.Name()))
		}
		if consumer == "" {
			result = multierror.Append(result, fmt.Errorf("port %s has no consumer", p.Name()))
		}
	}
	if len(o.domains) == 0 {
		result = multierror.Append(result, errors.New("no clock domains defined"))
	}
	return result
}

// Start schedules the first clock edge at time zero; edges follow every period.
func (o *Orchestrator) Start() error {
	if o.started {
		panic("orchestrator already started")
	}
	if err := o.CheckWiring(); err != nil {
		return err
	}
	o.started = true
	o.scheduleNext()
	return nil
}

// Stop cancels any further ticks.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

func (o *Orchestrator) scheduleNext() {
	o.cancel = o.ctx.SetTimer(model.EdgeTime(o.cycle, o.period), "sim.clock.Orchestrator/Edge", o.tick)
}

// Cycle is the number of the cycle currently executing, or of the next one to execute between ticks.
func (o *Orchestrator) Cycle() model.Cycle {
	return o.cycle
}

func (o *Orchestrator) Now() model.VirtualTime {
	return o.ctx.Now()
}

func (o *Orchestrator) Period() time.Duration {
	return o.period
}

// AllRunning reports whether every domain has left reset.
func (o *Orchestrator) AllRunning() bool {
	return o.running
}

// Subscribe notifies the callback at the end of every tick.
func (o *Orchestrator) Subscribe(callback func()) (cancel func()) {
	return o.ticks.Subscribe(callback)
}

// Released is dispatched on the tick that releases the domains from reset.
func (o *Orchestrator) Released() model.EventSource {
	return o.released
}

// WaitRunning suspends a scenario script until every domain has left reset.
func (o *Orchestrator) WaitRunning(ti *component.TwixtIO) {
	ti.WaitFor(o.AllRunning, o)
}

// WaitCycles suspends a scenario script for the given number of ticks.
func (o *Orchestrator) WaitCycles(ti *component.TwixtIO, n int) {
	target := o.cycle + model.Cycle(n)
	ti.WaitFor(func() bool { return o.cycle >= target }, o)
}

func (o *Orchestrator) tick() {
	cycle := o.cycle
	now := o.ctx.Now()

	if !o.running && cycle >= model.Cycle(o.resetCycles) {
		for _, d := range o.domains {
			d.release()
		}
		o.running = true
		log.Printf("%v [ORCHESTRATOR] released %d domains from reset at cycle %v", now, len(o.domains), cycle)
		o.released.Dispatch()
	}

	for _, d := range o.domains {
		for _, c := range d.components {
			if d.state == DomainReset {
				c.Reset()
			} else {
				c.Drive()
			}
		}
	}

	for _, p := range o.ports {
		if !o.running {
			p.Reset()
		}
		p.Resolve(cycle, now)
	}

	for _, d := range o.domains {
		if d.state == DomainRunning {
			for _, c := range d.components {
				c.Clock()
			}
		}
	}

	// scripts woken by this tick observe the number of the next cycle
	o.cycle = cycle + 1
	o.scheduleNext()
	o.ticks.Dispatch()
}
