package clock

import (
	"testing"
	"time"

	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/stream"
)

type phaseRecorder struct {
	name   string
	events *[]string
}

func (p phaseRecorder) Reset() {
	*p.events = append(*p.events, p.name+":reset")
}

func (p phaseRecorder) Drive() {
	*p.events = append(*p.events, p.name+":drive")
}

func (p phaseRecorder) Clock() {
	*p.events = append(*p.events, p.name+":clock")
}

func TestResetThenRunPhases(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	o := MakeOrchestrator(sim, 10*time.Nanosecond, 2)
	var events []string
	o.AddDomain("eth_tx").Attach(phaseRecorder{"tx", &events})
	o.AddDomain("eth_rx").Attach(phaseRecorder{"rx", &events})
	o.Subscribe(func() {
		events = append(events, "tick")
	})
	if err := o.Start(); err != nil {
		t.Fatal(err)
	}
	sim.Advance(model.TimeZero.Add(25 * time.Nanosecond))

	expected := []string{
		"tx:reset", "rx:reset", "tick",
		"tx:reset", "rx:reset", "tick",
		"tx:drive", "rx:drive", "tx:clock", "rx:clock", "tick",
	}
	if len(events) != len(expected) {
		t.Fatalf("expected events %v, got %v", expected, events)
	}
	for i := range expected {
		if events[i] != expected[i] {
			t.Errorf("event %d: expected %s, got %s", i, expected[i], events[i])
		}
	}
	if o.Cycle() != 3 {
		t.Errorf("expected three cycles to have run, got %v", o.Cycle())
	}
	for _, d := range o.Domains() {
		if d.State() != DomainRunning {
			t.Errorf("domain %v should be running", d)
		}
	}
}

func TestDomainsReleaseTogether(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	o := MakeOrchestrator(sim, 10*time.Nanosecond, 3)
	a := o.AddDomain("a")
	b := o.AddDomain("b")
	var releasedAt model.Cycle
	o.Released().Subscribe(func() {
		releasedAt = o.Cycle()
		if a.State() != DomainRunning || b.State() != DomainRunning {
			t.Error("domains released on different edges")
		}
	})
	if err := o.Start(); err != nil {
		t.Fatal(err)
	}
	sim.Advance(model.TimeZero.Add(100 * time.Nanosecond))
	if releasedAt != 3 {
		t.Errorf("expected release on cycle 3, got %v", releasedAt)
	}
}

type eagerProducer struct {
	port *stream.Port
}

func (e eagerProducer) Reset() {
	// broken on purpose: drives valid while held in reset
	e.port.Present(stream.MakeBeat([]byte{1}, true, true))
}

func (e eagerProducer) Drive() {}

func (e eagerProducer) Clock() {}

type sink struct {
	port *stream.Port
}

func (s sink) Reset() {}
func (s sink) Drive() { s.port.SetReady(true) }
func (s sink) Clock() {}

func TestTrafficDuringResetIsViolation(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	o := MakeOrchestrator(sim, 10*time.Nanosecond, 1)
	port := stream.MakePort("p", 1, true)
	port.BindProducer("eager")
	port.BindConsumer("sink")
	o.AttachPort(port)
	o.AddDomain("sys").Attach(eagerProducer{port})
	o.Domain("sys").Attach(sink{port})
	if err := o.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		pv, ok := recover().(*stream.ProtocolViolation)
		if !ok || pv.Kind != stream.ViolationReset || pv.Cycle != 0 {
			t.Errorf("expected a reset violation on cycle 0, got %v", pv)
		}
	}()
	sim.Advance(model.TimeZero.Add(100 * time.Nanosecond))
}

func TestUnboundPortRejected(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	o := MakeOrchestrator(sim, 10*time.Nanosecond, 1)
	o.AddDomain("sys")
	port := stream.MakePort("p", 1, true)
	port.BindProducer("x")
	o.AttachPort(port)
	if err := o.Start(); err == nil {
		t.Error("expected a wiring error for a port without a consumer")
	}
}

func TestWaitCycles(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	o := MakeOrchestrator(sim, 10*time.Nanosecond, 1)
	o.AddDomain("sys")
	var runningAt, afterAt model.Cycle
	component.BuildTwixt(sim, "script", nil, func(ti *component.TwixtIO) {
		o.WaitRunning(ti)
		runningAt = o.Cycle()
		o.WaitCycles(ti, 5)
		afterAt = o.Cycle()
	})
	if err := o.Start(); err != nil {
		t.Fatal(err)
	}
	sim.Advance(model.TimeZero.Add(time.Microsecond))
	if runningAt != 2 || afterAt != 7 {
		t.Errorf("unexpected wake cycles: running at %v, after at %v", runningAt, afterAt)
	}
}
