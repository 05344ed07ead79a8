package component

import (
	"fmt"

	"github.com/celskeggs/ethsim/sim/model"
)

type marker struct{}

type twixtAbort struct{}

// TwixtIO is the handle an imperative script uses to hand control back to the simulation. Exactly one of the
// script and the simulation runs at any moment, so scripts observe the same deterministic ordering as callbacks.
type TwixtIO struct {
	ctx      model.SimContext
	name     string
	waitCh   chan marker
	doneCh   chan marker
	runOk    bool
	halted   bool
	aborting bool
	failure  interface{}
	finished *EventDispatcher
}

func (ti *TwixtIO) enter() {
	if !ti.halted {
		ti.runOk = true
		ti.waitCh <- marker{}
		<-ti.doneCh
		if !ti.runOk {
			panic("should have been running")
		}
		ti.runOk = false
		if ti.failure != nil {
			failure := ti.failure
			ti.failure = nil
			// re-raise on the simulation goroutine, where the run boundary can recover it
			panic(failure)
		}
	}
}

func (ti *TwixtIO) Yield() {
	if !ti.runOk {
		panic("should be running")
	}
	ti.doneCh <- marker{}
	<-ti.waitCh
	if ti.aborting {
		panic(twixtAbort{})
	}
	if !ti.runOk {
		panic("should be running")
	}
}

func subscribeAll(events []model.EventSource, cb func()) (cancel func()) {
	var cancels []func()
	for _, e := range events {
		cancels = append(cancels, e.Subscribe(cb))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (ti *TwixtIO) YieldWait(events ...model.EventSource) {
	cancel := subscribeAll(events, ti.enter)
	defer cancel()

	ti.Yield()
}

func (ti *TwixtIO) YieldUntil(time model.VirtualTime) {
	cancel := ti.ctx.SetTimer(time, "sim.component.Twixt/Until", ti.enter)
	defer cancel()

	ti.Yield()
}

// WaitFor yields on the given events until cond holds. cond is checked before the first yield.
func (ti *TwixtIO) WaitFor(cond func() bool, events ...model.EventSource) {
	for !cond() {
		ti.YieldWait(events...)
	}
}

func (ti *TwixtIO) Now() model.VirtualTime {
	return ti.ctx.Now()
}

// Done reports whether the script has returned (or was aborted).
func (ti *TwixtIO) Done() bool {
	return ti.halted
}

// Subscribe notifies the callback once the script has returned.
func (ti *TwixtIO) Subscribe(callback func()) (cancel func()) {
	return ti.finished.Subscribe(callback)
}

// Abort unwinds a script that is still suspended, so that its goroutine does not outlive the run.
func (ti *TwixtIO) Abort() {
	if ti.halted {
		return
	}
	ti.aborting = true
	ti.runOk = true
	ti.waitCh <- marker{}
	<-ti.doneCh
	ti.runOk = false
	ti.failure = nil
}

type TwixtFunc func(*TwixtIO)

// BuildTwixt runs a function in an imperative side thread, returning to the simulation on each Yield().
func BuildTwixt(ctx model.SimContext, name string, events []model.EventSource, main TwixtFunc) *TwixtIO {
	ti := &TwixtIO{
		ctx:      ctx,
		name:     name,
		waitCh:   make(chan marker),
		doneCh:   make(chan marker),
		finished: MakeEventDispatcher(ctx, fmt.Sprintf("sim.component.Twixt[%s]", name)),
	}
	go func() {
		<-ti.waitCh
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(twixtAbort); !ok {
					ti.failure = r
				}
			}
			ti.halted = true
			if !ti.aborting {
				ti.finished.DispatchLater()
			}
			ti.doneCh <- marker{}
		}()
		if ti.aborting {
			return
		}
		main(ti)
	}()
	ctx.Later("sim.component.Twixt/Enter", ti.enter)
	_ = subscribeAll(events, ti.enter)
	return ti
}
