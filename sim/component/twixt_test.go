package component

import (
	"testing"
	"time"

	"github.com/celskeggs/ethsim/sim/model"
)

func TestTwixtSequencing(t *testing.T) {
	sim := MakeSimControllerSeeded(1, model.TimeZero)
	var stamps []model.VirtualTime
	ti := BuildTwixt(sim, "script", nil, func(io *TwixtIO) {
		for i := 1; i <= 3; i++ {
			io.YieldUntil(model.TimeZero.Add(time.Duration(i) * time.Microsecond))
			stamps = append(stamps, io.Now())
		}
	})
	finished := false
	ti.Subscribe(func() {
		finished = true
	})
	sim.Advance(model.TimeZero.Add(10 * time.Microsecond))
	if !ti.Done() || !finished {
		t.Fatal("script should have completed")
	}
	for i, stamp := range stamps {
		if stamp != model.TimeZero.Add(time.Duration(i+1)*time.Microsecond) {
			t.Errorf("step %d ran at %v", i, stamp)
		}
	}
}

func TestTwixtAbort(t *testing.T) {
	sim := MakeSimControllerSeeded(1, model.TimeZero)
	ed := MakeEventDispatcher(sim, "never")
	reachedEnd := false
	ti := BuildTwixt(sim, "stuck", nil, func(io *TwixtIO) {
		io.YieldWait(ed)
		reachedEnd = true
	})
	sim.Advance(model.TimeZero.Add(time.Microsecond))
	if ti.Done() {
		t.Fatal("script should still be waiting")
	}
	ti.Abort()
	if !ti.Done() {
		t.Error("script should be halted after abort")
	}
	if reachedEnd {
		t.Error("aborted script should not have continued")
	}
}

func TestTwixtPanicRelayed(t *testing.T) {
	sim := MakeSimControllerSeeded(1, model.TimeZero)
	BuildTwixt(sim, "broken", nil, func(io *TwixtIO) {
		panic("script failure")
	})
	defer func() {
		if r := recover(); r != "script failure" {
			t.Errorf("expected relayed panic, got %v", r)
		}
	}()
	sim.Advance(model.TimeZero.Add(time.Microsecond))
	t.Error("should have panicked")
}
