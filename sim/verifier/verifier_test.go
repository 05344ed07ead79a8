package verifier

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/stream"
	"github.com/celskeggs/ethsim/sim/util"
	"github.com/celskeggs/ethsim/sim/verifier/collector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func step(sim *component.SimController) {
	sim.Advance(sim.Now().Add(10 * time.Nanosecond))
}

func TestAllDelivered(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	failed := false
	v := MakeVerifier(sim, ethmac.FramingHardware, func(string) { failed = true })
	packets := []packet.Packet{packet.Sequential(64), packet.Sequential(30)}
	v.Expect(packets)

	for i, p := range packets {
		v.OnPacketSent(i, p, model.Cycle(10*i+5))
		step(sim)
		frame, err := ethmac.Generate(p, ethmac.WireOptions())
		require.NoError(t, err)
		v.OnWireFrame(ethmac.Observation{Time: sim.Now(), Frame: frame, Result: ethmac.Check(frame, ethmac.WireOptions())})
		step(sim)
		v.OnPacketLogged(p, model.Cycle(10*i+9))
	}
	verdicts := v.Finish(true)
	step(sim)

	require.Len(t, verdicts, 2)
	for _, pv := range verdicts {
		assert.Equal(t, VerdictMatch, pv.Verdict, "%v", pv)
		assert.Equal(t, uint64(4), pv.LatencyCycles)
	}
	assert.True(t, v.Passed())
	assert.False(t, failed)
	assert.Equal(t, WireSummary{Frames: 2, Valid: 2}, v.WireSummary())
	assert.Equal(t, map[string]int{"match": 2}, Tally(verdicts))
}

func TestMismatchMissingAndUnexpected(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	var explanation string
	v := MakeVerifier(sim, ethmac.FramingHardware, func(e string) { explanation = e })
	v.Expect([]packet.Packet{packet.Sequential(16), packet.Sequential(16)})
	v.OnPacketLogged(packet.New(util.FlipBit(packet.Sequential(16).Bytes(), 3)), 20)
	verdicts := v.Finish(false)
	step(sim)

	require.Len(t, verdicts, 2)
	assert.Equal(t, VerdictMismatch, verdicts[0].Verdict)
	assert.Equal(t, 1, verdicts[0].Mismatches)
	assert.Equal(t, VerdictTimeout, verdicts[1].Verdict)
	assert.False(t, v.Passed())
	assert.Contains(t, explanation, ReqDelivery)

	v2 := MakeVerifier(sim, ethmac.FramingHardware, nil)
	v2.Expect([]packet.Packet{packet.Sequential(16)})
	v2.OnPacketLogged(packet.Sequential(16), 1)
	v2.OnPacketLogged(packet.Sequential(16), 2)
	verdicts = v2.Finish(true)
	require.Len(t, verdicts, 2)
	assert.Equal(t, VerdictUnexpected, verdicts[1].Verdict)
}

func TestSoftwareFramingVerdicts(t *testing.T) {
	p := packet.Sequential(64)
	frame, err := ethmac.Generate(p, ethmac.WireOptions())
	require.NoError(t, err)

	assert.Equal(t, VerdictMatch, Classify(0, p, packet.New(frame), ethmac.FramingSoftware).Verdict)
	assert.Equal(t, VerdictCRCError, Classify(0, p, packet.New(util.FlipBit(frame, 200)), ethmac.FramingSoftware).Verdict)
	assert.Equal(t, VerdictMalformed, Classify(0, p, packet.New(frame[1:]), ethmac.FramingSoftware).Verdict)
	// the raw frame is not the packet when the harness expects the device to deframe
	assert.Equal(t, VerdictMismatch, Classify(0, p, packet.New(frame), ethmac.FramingHardware).Verdict)
}

func TestViolationVerdicts(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	v := MakeVerifier(sim, ethmac.FramingHardware, nil)
	v.Expect([]packet.Packet{packet.Sequential(16)})
	v.OnViolation(&stream.ProtocolViolation{Port: "p", Kind: stream.ViolationUnstable})
	verdicts := v.Finish(false)
	require.Len(t, verdicts, 1)
	assert.Equal(t, VerdictProtocolViolation, verdicts[0].Verdict)
	for _, summary := range v.Requirements().Summaries() {
		if summary.Requirement == ReqProtocol {
			assert.Equal(t, 1, summary.Failed)
		}
		assert.Zero(t, summary.Outstanding)
	}
}

func TestRequirementLogAndRenderer(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	v := MakeVerifier(sim, ethmac.FramingHardware, nil)
	reqLog := &bufferCloser{}
	v.Requirements().LogTo(reqLog)
	activity := &bufferCloser{}
	c := collector.MakeActivityRenderer(sim, activity, false, v)
	v.Expect([]packet.Packet{packet.Sequential(16)})
	c.OnPacketSent(0, packet.Sequential(16), 3)
	c.OnPacketLogged(packet.Sequential(16), 7)
	v.Finish(true)
	require.NoError(t, c.Close())
	require.NoError(t, v.Requirements().Close())

	assert.True(t, activity.closed)
	assert.Contains(t, activity.String(), "SEND #0")
	assert.Contains(t, activity.String(), "LOGGED")
	assert.True(t, strings.HasPrefix(reqLog.String(), "REQUIREMENTS,"+ReqDelivery))
	assert.Contains(t, reqLog.String(), "RETIRE")
	assert.True(t, reqLog.closed)
}

func TestVerdictText(t *testing.T) {
	var verdict Verdict
	require.NoError(t, verdict.UnmarshalText([]byte("crc_error")))
	assert.Equal(t, VerdictCRCError, verdict)
	assert.Error(t, verdict.UnmarshalText([]byte("bogus")))
}

func TestPinCapture(t *testing.T) {
	var frames [][]byte
	for _, n := range []int{64, 30, 48} {
		frame, err := ethmac.Generate(packet.Sequential(n), ethmac.WireOptions())
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	observe := func(observed ...[]byte) *Verifier {
		sim := component.MakeSimControllerSeeded(1, model.TimeZero)
		v := MakeVerifier(sim, ethmac.FramingHardware, nil)
		for _, frame := range observed {
			v.OnWireFrame(ethmac.Observation{Time: sim.Now(), Frame: frame, Result: ethmac.Check(frame, ethmac.WireOptions())})
		}
		return v
	}
	pinFailures := func(v *Verifier) int {
		for _, summary := range v.Requirements().Summaries() {
			if summary.Requirement == ReqPinCapture {
				return summary.Failed
			}
		}
		t.Fatal("pin capture requirement not tracked")
		return 0
	}

	// the last captured frame may still be queued behind the wire
	v := observe(frames[0], frames[1])
	v.CheckPinCapture(frames)
	assert.Zero(t, pinFailures(v))

	v = observe(frames[1], frames[0])
	v.CheckPinCapture(frames)
	assert.Equal(t, 1, pinFailures(v), "out of order")

	v = observe(frames...)
	v.CheckPinCapture(frames[:2])
	assert.Equal(t, 1, pinFailures(v), "more observed than captured")

	v = observe(frames[0])
	v.CheckPinCapture([][]byte{util.FlipBit(frames[0], 100)})
	assert.Equal(t, 2, pinFailures(v), "corrupt capture")
}
