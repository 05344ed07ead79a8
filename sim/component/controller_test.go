package component

import (
	"testing"
	"time"

	"github.com/celskeggs/ethsim/sim/model"
)

func TestTimersFireInOrder(t *testing.T) {
	sim := MakeSimControllerSeeded(1, model.TimeZero)

	var order []string
	sim.SetTimer(model.TimeZero.Add(20*time.Nanosecond), "b", func() { order = append(order, "b") })
	sim.SetTimer(model.TimeZero.Add(10*time.Nanosecond), "a", func() { order = append(order, "a") })
	sim.SetTimer(model.TimeZero.Add(20*time.Nanosecond), "c", func() { order = append(order, "c") })
	cancel := sim.SetTimer(model.TimeZero.Add(15*time.Nanosecond), "x", func() { order = append(order, "x") })
	cancel()

	next := sim.Advance(model.TimeZero.Add(100 * time.Nanosecond))
	if next != model.TimeNever {
		t.Errorf("expected no pending timers, got %v", next)
	}
	expected := []string{"a", "b", "c"}
	if len(order) != len(expected) {
		t.Fatalf("wrong number of callbacks: %v", order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("callback %d: expected %s, got %s", i, expected[i], order[i])
		}
	}
	if sim.Now() != model.TimeZero.Add(100*time.Nanosecond) {
		t.Errorf("wrong final time %v", sim.Now())
	}
}

func TestLaterRunsAtSameInstant(t *testing.T) {
	sim := MakeSimControllerSeeded(1, model.TimeZero)
	var seen []model.VirtualTime
	sim.SetTimer(model.TimeZero.Add(time.Microsecond), "outer", func() {
		sim.Later("inner", func() {
			seen = append(seen, sim.Now())
		})
	})
	sim.Advance(model.TimeZero.Add(time.Millisecond))
	if len(seen) != 1 || seen[0] != model.TimeZero.Add(time.Microsecond) {
		t.Errorf("later callback ran at wrong time: %v", seen)
	}
}

func TestDispatcherCancel(t *testing.T) {
	sim := MakeSimControllerSeeded(1, model.TimeZero)
	ed := MakeEventDispatcher(sim, "test")
	var calls []int
	cancel0 := ed.Subscribe(func() { calls = append(calls, 0) })
	ed.Subscribe(func() { calls = append(calls, 1) })
	cancel0()
	ed.DispatchLater()
	ed.DispatchLater()
	sim.Advance(sim.Now())
	if len(calls) != 1 || calls[0] != 1 {
		t.Errorf("unexpected dispatch calls: %v", calls)
	}
}
