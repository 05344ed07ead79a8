// Package verifier decides whether a run conforms: it compares every logged packet with the packet sent, checks the
// frames seen at the PHY against the reference MAC, and tracks the run's requirements.
package verifier

import (
	"fmt"
	"sort"

	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/stream"
	"github.com/celskeggs/ethsim/sim/verifier/collector"
	log "github.com/sirupsen/logrus"
)

type Verifier struct {
	sim     model.SimContext
	framing ethmac.Framing
	tracker tracker
	rqt     *ReqTracker

	expected  []packet.Packet
	pending   []func(success bool)
	verdicts  []PacketVerdict
	logged    int
	wire      int
	frames    []packet.Packet
	violation *stream.ProtocolViolation
	finished  bool
}

var _ collector.ActivityCollector = &Verifier{}

// MakeVerifier builds a verifier for the given framing mode. onFailure, if not nil, is called once, on the first
// requirement failure.
func MakeVerifier(sim model.SimContext, framing ethmac.Framing, onFailure func(explanation string)) *Verifier {
	v := &Verifier{
		sim:     sim,
		framing: framing,
		tracker: tracker{
			sim: sim,
		},
		rqt: MakeReqTracker(sim),
	}
	hasReportedFailure := false
	var prevExplanation string
	v.rqt.Subscribe(func() {
		if !v.rqt.Failed() {
			return
		}
		explanation := v.rqt.ExplainFailure()
		if !hasReportedFailure {
			hasReportedFailure = true
			if onFailure != nil {
				onFailure(explanation)
			}
		}
		if explanation != prevExplanation {
			log.Printf("[%v] Hit requirement failure condition:\n%s", sim.Now(), explanation)
			prevExplanation = explanation
		}
	})
	return v
}

func (v *Verifier) Requirements() *ReqTracker {
	return v.rqt
}

// Expect declares the packets the scenario will send, in order. Each opens a delivery requirement that is decided
// when the matching packet is logged, or failed when the run ends first.
func (v *Verifier) Expect(packets []packet.Packet) {
	for _, p := range packets {
		v.expected = append(v.expected, p)
		v.pending = append(v.pending, v.rqt.Start(ReqDelivery))
	}
}

func (v *Verifier) OnPacketSent(index int, p packet.Packet, cycle model.Cycle) {
	v.tracker.insert(SentEvent{
		Index:  index,
		Packet: p,
		Time:   v.sim.Now(),
		Cycle:  cycle,
	})
}

func (v *Verifier) OnPacketLogged(p packet.Packet, cycle model.Cycle) {
	index := v.logged
	v.logged += 1
	v.tracker.insert(LoggedEvent{
		Index:  index,
		Packet: p,
		Time:   v.sim.Now(),
		Cycle:  cycle,
	})
	if index >= len(v.expected) {
		log.Warnf("%v [VERIFIER] unexpected packet %d of %d bytes", v.sim.Now(), index, p.Len())
		v.verdicts = append(v.verdicts, PacketVerdict{
			Index:        index,
			Verdict:      VerdictUnexpected,
			LoggedLength: p.Len(),
			LoggedCycle:  cycle,
		})
		v.rqt.Immediate(ReqNoUnexpected, false)
		return
	}
	pv := Classify(index, v.expected[index], p, v.framing)
	pv.LoggedCycle = cycle
	if se, ok := v.tracker.sentEvent(index); ok {
		pv.SentCycle = se.Cycle
		pv.LatencyCycles = uint64(cycle - se.Cycle)
	}
	if !pv.Passed() {
		log.Warnf("%v [VERIFIER] %v", v.sim.Now(), pv)
	}
	v.verdicts = append(v.verdicts, pv)
	v.pending[index](pv.Passed())
	v.pending[index] = nil
}

func (v *Verifier) OnWireFrame(o ethmac.Observation) {
	index := v.wire
	v.wire += 1
	v.tracker.insert(WireEvent{
		Index:       index,
		Observation: o,
	})
	v.frames = append(v.frames, packet.New(o.Frame))
	valid := o.Result.Status == ethmac.StatusValid
	v.rqt.Immediate(ReqWireFraming, valid)
	if valid && index < len(v.expected) {
		v.rqt.Immediate(ReqWireContent, o.Result.Payload.Equal(v.expected[index]))
	}
}

// CheckPinCapture checks the frames reassembled from the bytes the PHY captured on the device's TX pins. Frames still
// queued behind the wire when the run stopped have not been observed yet, so the observed frames need only be a prefix
// of the captured ones.
func (v *Verifier) CheckPinCapture(captured [][]byte) {
	var frames []packet.Packet
	for i, frame := range captured {
		result := ethmac.Check(frame, ethmac.WireOptions())
		if result.Status != ethmac.StatusValid {
			log.Warnf("%v [VERIFIER] captured frame %d: %v", v.sim.Now(), i, result)
		}
		v.rqt.Immediate(ReqPinCapture, result.Status == ethmac.StatusValid)
		frames = append(frames, packet.New(frame))
	}
	consistent := len(v.frames) <= len(frames) && packet.EqualSequences(v.frames, frames[:len(v.frames)])
	if !consistent {
		log.Warnf("%v [VERIFIER] %d frames on the wire disagree with %d captured at the pins",
			v.sim.Now(), len(v.frames), len(frames))
	}
	v.rqt.Immediate(ReqPinCapture, consistent)
}

func (v *Verifier) OnViolation(pv *stream.ProtocolViolation) {
	v.violation = pv
	v.tracker.insert(ViolationEvent{
		Violation: pv,
		Time:      v.sim.Now(),
	})
	v.rqt.Immediate(ReqProtocol, false)
}

// Finish closes every requirement still open and returns the verdict for every packet, in index order. completed
// reports whether the scenario script finished within the cycle budget.
func (v *Verifier) Finish(completed bool) []PacketVerdict {
	if v.finished {
		panic("verifier already finished")
	}
	v.finished = true
	for index := v.logged; index < len(v.expected); index++ {
		pv := PacketVerdict{
			Index:      index,
			SentLength: v.expected[index].Len(),
		}
		if v.violation != nil {
			pv.Verdict = VerdictProtocolViolation
			pv.Detail = v.violation.Error()
		} else {
			pv.Verdict = VerdictTimeout
		}
		if se, ok := v.tracker.sentEvent(index); ok {
			pv.SentCycle = se.Cycle
		} else if pv.Detail == "" {
			pv.Detail = "never fully sent"
		}
		v.verdicts = append(v.verdicts, pv)
		v.pending[index](false)
		v.pending[index] = nil
	}
	if v.violation == nil {
		v.rqt.Immediate(ReqProtocol, true)
	}
	v.rqt.Immediate(ReqCompletion, completed)
	sort.SliceStable(v.verdicts, func(i, j int) bool {
		return v.verdicts[i].Index < v.verdicts[j].Index
	})
	return v.Verdicts()
}

func (v *Verifier) Verdicts() []PacketVerdict {
	return append([]PacketVerdict(nil), v.verdicts...)
}

// Passed reports whether every requirement held and every packet matched.
func (v *Verifier) Passed() bool {
	if v.rqt.Failed() {
		return false
	}
	for _, pv := range v.verdicts {
		if !pv.Passed() {
			return false
		}
	}
	return true
}

type WireSummary struct {
	Frames    int `json:"frames"`
	Valid     int `json:"valid"`
	CRCErrors int `json:"crc_errors"`
	Malformed int `json:"malformed"`
}

func (v *Verifier) WireSummary() WireSummary {
	byStatus := func(status ethmac.Status) int {
		return v.tracker.count(func(e Event) bool {
			we, ok := e.(WireEvent)
			return ok && we.Observation.Result.Status == status
		})
	}
	return WireSummary{
		Frames:    v.wire,
		Valid:     byStatus(ethmac.StatusValid),
		CRCErrors: byStatus(ethmac.StatusCRCError),
		Malformed: byStatus(ethmac.StatusMalformed),
	}
}

func (v *Verifier) String() string {
	return fmt.Sprintf("Verifier[expected=%d logged=%d wire=%d violation=%v]", len(v.expected), v.logged, v.wire, v.violation != nil)
}
