package verifier

import (
	"fmt"
	"sort"

	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/stream"
)

type Event interface {
	Timestamp() model.VirtualTime
}

// SentEvent: the final beat of a packet committed on the streamer's port.
type SentEvent struct {
	Index  int
	Packet packet.Packet
	Time   model.VirtualTime
	Cycle  model.Cycle
}

func (e SentEvent) Timestamp() model.VirtualTime {
	return e.Time
}

// LoggedEvent: the logger reassembled a packet.
type LoggedEvent struct {
	Index  int
	Packet packet.Packet
	Time   model.VirtualTime
	Cycle  model.Cycle
}

func (e LoggedEvent) Timestamp() model.VirtualTime {
	return e.Time
}

// WireEvent: the reference MAC classified a frame seen at the PHY.
type WireEvent struct {
	Index       int
	Observation ethmac.Observation
}

func (e WireEvent) Timestamp() model.VirtualTime {
	return e.Observation.Time
}

func (e WireEvent) String() string {
	return fmt.Sprintf("WireEvt{%d at %v: %v}", e.Index, e.Observation.Time, e.Observation.Result)
}

// ViolationEvent: a port raised a protocol violation and the run aborted.
type ViolationEvent struct {
	Violation *stream.ProtocolViolation
	Time      model.VirtualTime
}

func (e ViolationEvent) Timestamp() model.VirtualTime {
	return e.Time
}

type tracker struct {
	sim    model.SimContext
	Events []Event
}

func (a *tracker) insert(event Event) {
	if event.Timestamp() != a.sim.Now() {
		panic("invalid timestamp for new event")
	}
	if len(a.Events) > 0 {
		if a.Events[len(a.Events)-1].Timestamp().After(event.Timestamp()) {
			panic("events not in order")
		}
	}
	a.Events = append(a.Events, event)
}

// search returns all events in the specified range of times [startTime, endTime) that match the predicate.
func (a *tracker) search(startTime, endTime model.VirtualTime, predicate func(Event) bool) []Event {
	startIdx := sort.Search(len(a.Events), func(i int) bool {
		return a.Events[i].Timestamp().AtOrAfter(startTime)
	})
	endIdx := startIdx + sort.Search(len(a.Events)-startIdx, func(i int) bool {
		return a.Events[i+startIdx].Timestamp().AtOrAfter(endTime)
	})
	var all []Event
	for i := startIdx; i < endIdx; i++ {
		if predicate(a.Events[i]) {
			all = append(all, a.Events[i])
		}
	}
	return all
}

// searchLast returns the most recent element that matches the predicate.
func (a *tracker) searchLast(predicate func(Event) bool) Event {
	for i := len(a.Events) - 1; i >= 0; i-- {
		if predicate(a.Events[i]) {
			return a.Events[i]
		}
	}
	return nil
}

// sentEvent finds when the packet with the given index finished sending.
func (a *tracker) sentEvent(index int) (SentEvent, bool) {
	found := a.searchLast(func(e Event) bool {
		se, ok := e.(SentEvent)
		return ok && se.Index == index
	})
	if found == nil {
		return SentEvent{}, false
	}
	return found.(SentEvent), true
}

func (a *tracker) count(predicate func(Event) bool) int {
	return len(a.search(model.TimeZero, a.sim.Now().Add(1), predicate))
}
