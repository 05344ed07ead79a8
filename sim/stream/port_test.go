package stream

import (
	"errors"
	"testing"

	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
)

type sliceTracer struct {
	entries []component.TraceEntry
}

func (s *sliceTracer) Record(entry component.TraceEntry) {
	s.entries = append(s.entries, entry)
}

func expectViolation(t *testing.T, kind ViolationKind, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a %v violation", kind)
		}
		var pv *ProtocolViolation
		err, ok := r.(error)
		if !ok || !errors.As(err, &pv) {
			panic(r)
		}
		if pv.Kind != kind {
			t.Errorf("expected a %v violation, got %v", kind, pv)
		}
	}()
	fn()
}

func TestCommitRule(t *testing.T) {
	p := MakePort("p", 1, true)
	beat := MakeBeat([]byte{7}, true, true)

	p.Resolve(0, model.TimeZero)
	if p.State() != PortIdle {
		t.Errorf("expected idle, got %v", p.State())
	}

	p.Present(beat)
	p.Resolve(1, model.TimeZero)
	if p.State() != PortWaiting {
		t.Errorf("expected waiting, got %v", p.State())
	}
	if _, fired := p.Fired(); fired {
		t.Error("should not fire without ready")
	}

	p.SetReady(true)
	p.Resolve(2, model.TimeZero)
	got, fired := p.Fired()
	if !fired || got != beat || p.State() != PortCommitted {
		t.Errorf("expected commit of %v, got %v (%v)", beat, got, p.State())
	}

	p.Withdraw()
	p.Resolve(3, model.TimeZero)
	if _, fired := p.Fired(); fired {
		t.Error("ready alone must not commit")
	}

	stats := p.Stats()
	if stats.Beats != 1 || stats.Frames != 1 || stats.StallCycles != 1 || stats.WaitHistogram[2] != 1 || stats.MaxWait != 2 {
		t.Errorf("wrong stats: %+v", stats)
	}
}

func TestStalledBeatMustHold(t *testing.T) {
	p := MakePort("p", 1, true)
	p.Present(MakeBeat([]byte{1}, true, false))
	p.Resolve(0, model.TimeZero)
	p.Present(MakeBeat([]byte{2}, true, false))
	expectViolation(t, ViolationUnstable, func() {
		p.Resolve(1, model.TimeZero)
	})
}

func TestStalledBeatMayWithdrawAndReturn(t *testing.T) {
	p := MakePort("p", 1, true)
	held := MakeBeat([]byte{1}, true, true)
	p.Present(held)
	p.Resolve(0, model.TimeZero)
	p.Withdraw()
	p.Resolve(1, model.TimeZero)
	p.Present(held)
	p.SetReady(true)
	p.Resolve(2, model.TimeZero)
	if b, fired := p.Fired(); !fired || b != held {
		t.Errorf("expected held beat to commit, got %v", b)
	}

	// a different beat after withdrawal still counts as changing the stalled beat
	q := MakePort("q", 1, true)
	q.Present(held)
	q.Resolve(0, model.TimeZero)
	q.Withdraw()
	q.Resolve(1, model.TimeZero)
	q.Present(MakeBeat([]byte{2}, true, true))
	expectViolation(t, ViolationUnstable, func() {
		q.Resolve(2, model.TimeZero)
	})
}

func TestFramingChecks(t *testing.T) {
	p := MakePort("p", 1, true)
	p.SetReady(true)
	p.Present(MakeBeat([]byte{1}, false, false))
	expectViolation(t, ViolationFraming, func() {
		p.Resolve(0, model.TimeZero)
	})

	q := MakePort("q", 1, true)
	q.SetReady(true)
	q.Present(MakeBeat([]byte{1}, true, false))
	q.Resolve(0, model.TimeZero)
	if !q.InFrame() {
		t.Error("expected to be in a frame")
	}
	q.Present(MakeBeat([]byte{2}, true, false))
	expectViolation(t, ViolationFraming, func() {
		q.Resolve(1, model.TimeZero)
	})
}

func TestMaskChecks(t *testing.T) {
	cases := []struct {
		name   string
		masked bool
		beat   Beat
	}{
		{"empty", true, Beat{Data: 0, Mask: 0, First: true, Last: true}},
		{"beyond-width", true, Beat{Data: 0, Mask: 0x1F, First: true, Last: true}},
		{"not-prefix", true, Beat{Data: 0, Mask: 0x5, First: true, Last: true}},
		{"partial-non-final", true, Beat{Data: 0, Mask: 0x3, First: true}},
		{"partial-unmasked", false, Beat{Data: 0, Mask: 0x3, First: true, Last: true}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := MakePort("p", 4, c.masked)
			p.Present(c.beat)
			expectViolation(t, ViolationMask, func() {
				p.Resolve(0, model.TimeZero)
			})
		})
	}
}

func TestGuardBlocksTrafficDuringReset(t *testing.T) {
	released := false
	p := MakePort("p", 1, true)
	p.SetGuard(func() bool { return released })
	p.Resolve(0, model.TimeZero)
	p.Present(MakeBeat([]byte{1}, true, true))
	expectViolation(t, ViolationReset, func() {
		p.Resolve(1, model.TimeZero)
	})
	released = true
	p.Resolve(2, model.TimeZero)
	if p.State() != PortWaiting {
		t.Errorf("expected waiting after release, got %v", p.State())
	}
}

func TestCombinationalSignalsAndTracer(t *testing.T) {
	tracer := &sliceTracer{}
	p := MakePort("p", 2, true)
	p.SetTracer(tracer)
	allow := false
	p.DriveFrom(func() (Beat, bool) {
		return MakeBeat([]byte{0xAB}, true, true), allow
	})
	p.AcceptFrom(func() bool { return true })
	p.Resolve(0, model.TimeZero)
	allow = true
	p.Resolve(1, model.TimeZero.Add(8))
	if len(tracer.entries) != 1 {
		t.Fatalf("expected one trace entry, got %d", len(tracer.entries))
	}
	e := tracer.entries[0]
	if e.Cycle != 1 || e.Channel != "p" || !e.First || !e.Last || e.Mask != 0x1 || e.Bytes[0] != 0xAB {
		t.Errorf("unexpected trace entry %+v", e)
	}
	defer func() {
		if recover() == nil {
			t.Error("expected Present to panic on a combinational port")
		}
	}()
	p.Present(Beat{})
}

func TestDoubleBindPanics(t *testing.T) {
	p := MakePort("p", 1, true)
	p.BindProducer("a")
	defer func() {
		if recover() == nil {
			t.Error("expected panic on second producer")
		}
	}()
	p.BindProducer("b")
}
