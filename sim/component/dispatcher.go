package component

import (
	"fmt"
	"sort"

	"github.com/celskeggs/ethsim/sim/model"
)

type EventDispatcher struct {
	ctx          model.SimContext
	laterName    string
	subscribers  map[uint64]func()
	sorted       []uint64
	nextIndex    uint64
	pendingLater bool
}

var _ model.EventSource = &EventDispatcher{}

func MakeEventDispatcher(ctx model.SimContext, name string) *EventDispatcher {
	return &EventDispatcher{
		ctx:         ctx,
		laterName:   fmt.Sprintf("%s/DispatchLater", name),
		subscribers: map[uint64]func(){},
		sorted:      nil,
		nextIndex:   0,
	}
}

func (ed *EventDispatcher) rebuildSorted() {
	var ints []uint64
	for k := range ed.subscribers {
		ints = append(ints, k)
	}
	sort.Slice(ints, func(i, j int) bool {
		return ints[i] < ints[j]
	})
	ed.sorted = ints
}

func (ed *EventDispatcher) Subscribe(callback func()) (cancel func()) {
	index := ed.nextIndex
	ed.subscribers[index] = callback
	ed.nextIndex += 1
	ed.rebuildSorted()
	return func() {
		if _, ok := ed.subscribers[index]; ok {
			delete(ed.subscribers, index)
			ed.rebuildSorted()
		}
	}
}

// Dispatch calls every subscriber in subscription order. Subscribers added during a dispatch are first called on
// the next one; subscribers cancelled during a dispatch are not called again.
func (ed *EventDispatcher) Dispatch() {
	for _, k := range ed.sorted {
		if f, ok := ed.subscribers[k]; ok {
			f()
		}
	}
}

func (ed *EventDispatcher) DispatchLater() {
	if !ed.pendingLater {
		ed.pendingLater = true
		ed.ctx.Later(ed.laterName, func() {
			ed.pendingLater = false
			ed.Dispatch()
		})
	}
}
