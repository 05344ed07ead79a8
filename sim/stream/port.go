package stream

import (
	"fmt"

	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
)

// PortState is the outcome of the most recent resolved cycle on a port.
type PortState int

const (
	// PortIdle: valid deasserted.
	PortIdle PortState = iota
	// PortWaiting: valid asserted but not accepted; the beat is stalled and must be presented again unchanged.
	PortWaiting
	// PortCommitted: valid and ready both asserted; the beat transferred.
	PortCommitted
)

func (s PortState) String() string {
	switch s {
	case PortIdle:
		return "IDLE"
	case PortWaiting:
		return "VALID-WAITING"
	case PortCommitted:
		return "COMMITTED"
	default:
		panic(fmt.Sprintf("invalid port state: %d", int(s)))
	}
}

type Tracer interface {
	Record(entry component.TraceEntry)
}

type PortStats struct {
	Beats       uint64
	Frames      uint64
	StallCycles uint64
	// WaitHistogram[n] counts beats that were presented (valid asserted) for n cycles, including the committing
	// cycle. Index 0 is never populated.
	WaitHistogram map[int]uint64
	MaxWait       int
}

// Port connects exactly one producer to exactly one consumer. Producers and consumers either drive registered
// signals from their Drive phase (Present/Withdraw, SetReady) or attach combinational functions that are evaluated
// lazily while the port resolves (DriveFrom, AcceptFrom).
type Port struct {
	name   string
	width  int
	masked bool

	producer string
	consumer string

	valid   bool
	beat    Beat
	validFn func() (Beat, bool)
	ready   bool
	readyFn func() bool

	guard  func() bool
	tracer Tracer

	cycle     model.Cycle
	state     PortState
	fired     bool
	firedBeat Beat

	holding    bool
	heldBeat   Beat
	inFrame    bool
	waitCycles int

	stats PortStats
}

func MakePort(name string, width int, masked bool) *Port {
	mustWidth(width)
	return &Port{
		name:   name,
		width:  width,
		masked: masked,
		state:  PortIdle,
		stats: PortStats{
			WaitHistogram: map[int]uint64{},
		},
	}
}

func (p *Port) Name() string {
	return p.name
}

func (p *Port) Width() int {
	return p.width
}

func (p *Port) Masked() bool {
	return p.masked
}

// BindProducer claims the producer end of the port.
func (p *Port) BindProducer(owner string) {
	if p.producer != "" {
		panic(fmt.Sprintf("port %s already has producer %s; cannot bind %s", p.name, p.producer, owner))
	}
	p.producer = owner
}

// BindConsumer claims the consumer end of the port.
func (p *Port) BindConsumer(owner string) {
	if p.consumer != "" {
		panic(fmt.Sprintf("port %s already has consumer %s; cannot bind %s", p.name, p.consumer, owner))
	}
	p.consumer = owner
}

// Endpoints reports the bound producer and consumer names; empty strings mark unbound ends.
func (p *Port) Endpoints() (producer, consumer string) {
	return p.producer, p.consumer
}

// Present asserts valid with the given beat until changed.
func (p *Port) Present(b Beat) {
	if p.validFn != nil {
		panic("port " + p.name + " has a combinational producer")
	}
	p.valid = true
	p.beat = b
}

// Withdraw deasserts valid.
func (p *Port) Withdraw() {
	if p.validFn != nil {
		panic("port " + p.name + " has a combinational producer")
	}
	p.valid = false
	p.beat = Beat{}
}

func (p *Port) SetReady(ready bool) {
	if p.readyFn != nil {
		panic("port " + p.name + " has a combinational consumer")
	}
	p.ready = ready
}

// DriveFrom makes valid and the beat a combinational function of other signals.
func (p *Port) DriveFrom(fn func() (Beat, bool)) {
	p.validFn = fn
}

// AcceptFrom makes ready a combinational function of other signals.
func (p *Port) AcceptFrom(fn func() bool) {
	p.readyFn = fn
}

// SetGuard installs the check that traffic is currently permitted (every domain out of reset).
func (p *Port) SetGuard(guard func() bool) {
	p.guard = guard
}

func (p *Port) SetTracer(tracer Tracer) {
	p.tracer = tracer
}

// Valid reports the current producer-side signals.
func (p *Port) Valid() (Beat, bool) {
	if p.validFn != nil {
		return p.validFn()
	}
	return p.beat, p.valid
}

// Ready reports the current consumer-side signal.
func (p *Port) Ready() bool {
	if p.readyFn != nil {
		return p.readyFn()
	}
	return p.ready
}

// Fired reports whether a beat committed on the most recently resolved cycle, and which.
func (p *Port) Fired() (Beat, bool) {
	return p.firedBeat, p.fired
}

func (p *Port) State() PortState {
	return p.state
}

// InFrame reports whether a start-of-frame beat has committed without its end-of-frame beat.
func (p *Port) InFrame() bool {
	return p.inFrame
}

func (p *Port) Stats() PortStats {
	stats := p.stats
	stats.WaitHistogram = map[int]uint64{}
	for k, v := range p.stats.WaitHistogram {
		stats.WaitHistogram[k] = v
	}
	return stats
}

func (p *Port) String() string {
	return fmt.Sprintf("%s[%s inFrame=%v beats=%d frames=%d]", p.name, p.state, p.inFrame, p.stats.Beats, p.stats.Frames)
}

func (p *Port) violate(kind ViolationKind, b Beat, detail string, args ...interface{}) {
	panic(&ProtocolViolation{
		Port:   p.name,
		Cycle:  p.cycle,
		Kind:   kind,
		Beat:   b,
		Detail: fmt.Sprintf(detail, args...),
	})
}

func (p *Port) checkBeat(b Beat) {
	full := FullMask(p.width)
	if b.Mask == 0 {
		p.violate(ViolationMask, b, "empty validity mask")
	}
	if b.Mask&^full != 0 {
		p.violate(ViolationMask, b, "mask marks bytes beyond width %d", p.width)
	}
	if !IsPrefixMask(b.Mask) {
		p.violate(ViolationMask, b, "mask is not a prefix")
	}
	if b.Mask != full {
		if !b.Last {
			p.violate(ViolationMask, b, "partial word on a non-final beat")
		}
		if !p.masked {
			p.violate(ViolationMask, b, "partial word on a port without final-word masking")
		}
	}
	if b.First && p.inFrame {
		p.violate(ViolationFraming, b, "start of frame while a frame is open")
	}
	if !b.First && !p.inFrame {
		p.violate(ViolationFraming, b, "beat outside of any frame")
	}
}

// Resolve evaluates the port's signals for the given cycle, decides whether a transfer commits, and applies the
// protocol checks. It is called exactly once per cycle, after every component has driven its outputs.
func (p *Port) Resolve(cycle model.Cycle, now model.VirtualTime) {
	p.cycle = cycle
	b, valid := p.Valid()
	ready := p.Ready()

	p.fired = false
	p.firedBeat = Beat{}

	if !valid {
		p.state = PortIdle
		return
	}
	if p.guard != nil && !p.guard() {
		p.violate(ViolationReset, b, "valid asserted before reset release")
	}
	if p.holding && b != p.heldBeat {
		p.violate(ViolationUnstable, b, "beat changed while stalled; held %v", p.heldBeat)
	}
	p.checkBeat(b)
	p.waitCycles += 1

	if !ready {
		p.state = PortWaiting
		p.holding = true
		p.heldBeat = b
		p.stats.StallCycles += 1
		return
	}

	p.state = PortCommitted
	p.fired = true
	p.firedBeat = b
	p.stats.Beats += 1
	p.stats.WaitHistogram[p.waitCycles] += 1
	if p.waitCycles > p.stats.MaxWait {
		p.stats.MaxWait = p.waitCycles
	}
	p.waitCycles = 0
	p.holding = false
	if b.First {
		p.inFrame = true
	}
	if b.Last {
		p.inFrame = false
		p.stats.Frames += 1
	}
	if p.tracer != nil {
		p.tracer.Record(component.TraceEntry{
			Cycle:     cycle,
			Timestamp: now,
			Channel:   p.name,
			First:     b.First,
			Last:      b.Last,
			Mask:      b.Mask,
			Bytes:     b.Bytes(),
		})
	}
}

// Reset drops any in-progress handshake state, as when the owning domains are held in reset.
func (p *Port) Reset() {
	p.state = PortIdle
	p.fired = false
	p.firedBeat = Beat{}
	p.holding = false
	p.inFrame = false
	p.waitCycles = 0
}
