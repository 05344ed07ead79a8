package harness

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/celskeggs/ethsim/sim/clock"
	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/dut"
	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/packetlink"
	"github.com/celskeggs/ethsim/sim/phy"
	"github.com/celskeggs/ethsim/sim/stream"
	"github.com/celskeggs/ethsim/sim/testpoint"
	"github.com/celskeggs/ethsim/sim/util"
	"github.com/celskeggs/ethsim/sim/verifier"
	"github.com/celskeggs/ethsim/sim/verifier/collector"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/natefinch/atomic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// Options selects the outputs of a run. Empty paths disable the corresponding output.
type Options struct {
	// Cycles overrides the scenario's cycle budget when positive.
	Cycles int
	// TracePath receives a CSV record of every committed beat and every frame crossing the PHY wire.
	TracePath string
	// PcapPath receives every frame crossing the PHY pins.
	PcapPath string
	// ActivityPath receives a human-readable activity log.
	ActivityPath string
	Color        bool
	// RequirementsPath receives a CSV log of requirement outcomes.
	RequirementsPath string
}

type bench struct {
	sim  *component.SimController
	orch *clock.Orchestrator

	streamer *testpoint.Streamer
	txRand   *testpoint.AckRandomizer
	core     *dut.CoreMAC
	phy      *phy.Model
	monitor  *ethmac.Monitor
	rxRand   *testpoint.AckRandomizer
	logger   *testpoint.Logger

	verifier *verifier.Verifier
	activity collector.ActivityCollector
}

func expand(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return homedir.Expand(path)
}

// assemble builds the bench for a validated scenario. The meter is only present when the PHY has a line rate.
//
//	streamer -> tx randomizer -> core sink ... core tx pins -> phy -> tee -> monitor
//	                                                                   |
//	logger <- rx randomizer <- core source ... core rx pins <- phy <- meter
func assemble(s Scenario, tracer *component.CSVTraceRecorder) *bench {
	b := &bench{
		sim: component.MakeSimControllerSeeded(s.Seed, model.TimeZero),
	}
	b.orch = clock.MakeOrchestrator(b.sim, s.ClockPeriod(), s.ResetCycles)
	for _, name := range []string{dut.DomainSys, dut.DomainTX, dut.DomainRX} {
		b.orch.AddDomain(name)
	}
	b.orch.SetTracer(tracer)

	streamOut := stream.MakePort("streamer.out", s.Width, s.Masked)
	loggerIn := stream.MakePort("logger.in", s.Width, s.Masked)
	txPins := stream.MakePort("phy.tx_pins", s.PHY.Width, true)
	rxPins := stream.MakePort("phy.rx_pins", s.PHY.Width, true)
	for _, p := range []*stream.Port{streamOut, loggerIn, txPins, rxPins} {
		b.orch.AttachPort(p)
	}

	b.core = dut.NewCoreMAC(b.sim, "MAC", dut.Config{
		Width:           s.Width,
		Masked:          s.Masked,
		HardwareFraming: s.Framing == ethmac.FramingHardware,
		FIFOBytes:       s.FIFOBytes,
		InterFrameGap:   s.PHY.InterFrameGap,
	}, txPins, rxPins)
	b.core.Attach(b.orch)

	b.phy = phy.MakeModel(b.sim, "PHY", b.orch, s.PHY, txPins, rxPins)
	b.monitor = ethmac.MakeMonitor(b.sim, "MONITOR", ethmac.WireOptions())
	wire := packetlink.RecordWire(tracer, b.orch, "wire.tx", "wire.rx", b.phy.Wire())
	loopback := wire.Sink
	if s.PHY.LineRate > 0 {
		loopback = component.MakeMeteredSink(b.sim, loopback, s.PHY.LineRate, s.ClockPeriod())
	}
	packetlink.PatchLinks(b.sim, wire.Source, component.TeePacketSinks(b.sim, b.monitor, loopback))

	b.streamer = testpoint.MakeStreamer(b.sim, "STREAMER", streamOut)
	b.txRand = testpoint.MakeAckRandomizer("TXRAND", streamOut, b.core.Sink(), s.TX.Level, s.TX.Seed)
	b.rxRand = testpoint.MakeAckRandomizer("RXRAND", b.core.Source(), loggerIn, s.RX.Level, s.RX.Seed)
	b.logger = testpoint.MakeLogger(b.sim, "LOGGER", loggerIn, b.orch.Cycle)
	for _, c := range []clock.Clocked{b.streamer, b.txRand, b.rxRand, b.logger, b.phy} {
		b.orch.Attach(dut.DomainSys, c)
	}
	return b
}

// connect routes every observation of the bench into the collector.
func (b *bench) connect(activity collector.ActivityCollector) {
	b.activity = activity
	b.streamer.Observe(func(index int, p packet.Packet) {
		activity.OnPacketSent(index, p, b.orch.Cycle())
	})
	b.logger.Observe(func(r testpoint.Received) {
		activity.OnPacketLogged(r.Packet, r.Cycle)
	})
	b.monitor.OnObservation(activity.OnWireFrame)
}

// step executes one tick, converting a protocol violation into a return value.
func (b *bench) step() (violation *stream.ProtocolViolation) {
	defer func() {
		if r := recover(); r != nil {
			pv, ok := r.(*stream.ProtocolViolation)
			if !ok {
				panic(r)
			}
			violation = pv
		}
	}()
	b.sim.Advance(model.EdgeTime(b.orch.Cycle(), b.orch.Period()))
	return nil
}

// lastState describes where the bench stands, for diagnosing runs that did not complete.
func (b *bench) lastState(expected int) string {
	var ports []string
	for _, p := range b.orch.Ports() {
		ports = append(ports, fmt.Sprintf("%s=%v", p.Name(), p.State()))
	}
	fromDevice, toDevice := b.phy.Backlog()
	return fmt.Sprintf("cycle %v: streamer has %d packets pending; logger has %d of %d packets (%d partial bytes); %v; phy backlog %d out, %d in; ports: %s; %d timers pending",
		b.orch.Cycle(), b.streamer.Pending(), b.logger.Count(), expected, b.logger.PartialBytes(), b.core,
		fromDevice, toDevice, strings.Join(ports, " "), b.sim.PendingTimers())
}

func stallDigest(randomizers ...*testpoint.AckRandomizer) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	for _, ar := range randomizers {
		d := ar.Digest()
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func summarizePorts(ports []*stream.Port) []PortSummary {
	var out []PortSummary
	for _, p := range ports {
		st := p.Stats()
		out = append(out, PortSummary{
			Name:          p.Name(),
			Beats:         st.Beats,
			Frames:        st.Frames,
			StallCycles:   st.StallCycles,
			MaxWait:       st.MaxWait,
			WaitHistogram: st.WaitHistogram,
		})
	}
	return out
}

func summarizeRandomizer(ar *testpoint.AckRandomizer) RandomizerSummary {
	d := ar.Digest()
	return RandomizerSummary{
		Name:     ar.Name(),
		Level:    ar.Level(),
		Seed:     ar.Seed(),
		Cycles:   len(ar.Pattern()),
		Withheld: ar.Withheld(),
		Digest:   hex.EncodeToString(d[:16]),
	}
}

// Run executes the scenario until every packet has been logged, the cycle budget runs out, a protocol violation
// aborts the run, or ctx is cancelled. Data errors and timeouts are reported in the Result; only configuration
// problems, output failures and cancellation are returned as errors.
func Run(ctx context.Context, s Scenario, opts Options) (result *Result, re error) {
	if opts.Cycles > 0 {
		s.Cycles = opts.Cycles
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", s.Name, err)
	}
	runID := uuid.New().String()
	logger := log.WithFields(log.Fields{
		"run":      runID,
		"scenario": s.Name,
	})

	var closers []func() error
	defer func() {
		var errs error
		for _, c := range closers {
			if err := c(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if errs != nil && re == nil {
			result, re = nil, errs
		}
	}()

	tracer := component.MakeNullTraceRecorder()
	if path, err := expand(opts.TracePath); err != nil {
		return nil, err
	} else if path != "" {
		tracer, err = component.MakeCSVTraceRecorderAt(path)
		if err != nil {
			return nil, err
		}
		closers = append(closers, tracer.Close)
	}

	b := assemble(s, tracer)
	packets, err := s.GenerateIn(b.sim)
	if err != nil {
		return nil, err
	}
	streamed, err := s.Streamed(packets)
	if err != nil {
		return nil, err
	}

	var pcap bytes.Buffer
	pcapPath, err := expand(opts.PcapPath)
	if err != nil {
		return nil, err
	}
	if pcapPath != "" {
		if err := b.phy.EnablePcap(&pcap); err != nil {
			return nil, err
		}
	}

	b.verifier = verifier.MakeVerifier(b.sim, s.Framing, func(explanation string) {
		logger.WithField("cycle", b.orch.Cycle()).Warnf("requirement failed:\n%s", explanation)
	})
	if path, err := expand(opts.RequirementsPath); err != nil {
		return nil, err
	} else if path != "" {
		if err := b.verifier.Requirements().LogToPath(path); err != nil {
			return nil, err
		}
	}
	closers = append(closers, b.verifier.Requirements().Close)

	var activity collector.ActivityCollector = b.verifier
	if path, err := expand(opts.ActivityPath); err != nil {
		return nil, err
	} else if path != "" {
		renderer, err := collector.MakeActivityRendererAt(b.sim, path, opts.Color, b.verifier)
		if err != nil {
			return nil, err
		}
		closers = append(closers, renderer.Close)
		activity = renderer
	}
	b.connect(activity)
	b.verifier.Expect(packets)

	script := component.BuildTwixt(b.sim, "scenario", nil, func(ti *component.TwixtIO) {
		b.orch.WaitRunning(ti)
		b.streamer.SendAndWait(ti, streamed...)
		b.logger.WaitForCount(ti, len(streamed))
	})

	if err := b.orch.Start(); err != nil {
		script.Abort()
		return nil, err
	}
	logger.Infof("running %d packets at width %d (%v framing, stall levels %d/%d) with a budget of %d cycles",
		len(packets), s.Width, s.Framing, s.TX.Level, s.RX.Level, s.Cycles)

	var violation *stream.ProtocolViolation
	for !script.Done() && int(b.orch.Cycle()) < s.Cycles {
		if err := ctx.Err(); err != nil {
			b.orch.Stop()
			script.Abort()
			logger.WithField("cycle", b.orch.Cycle()).Warn("run cancelled")
			return nil, err
		}
		if violation = b.step(); violation != nil {
			logger.WithField("cycle", violation.Cycle).Error(violation.Error())
			b.activity.OnViolation(violation)
			break
		}
	}
	b.orch.Stop()
	completed := script.Done()
	script.Abort()

	for _, ar := range []*testpoint.AckRandomizer{b.txRand, b.rxRand} {
		logger.Debugf("%v stall pattern: %s", ar, util.StringBits(ar.Pattern()))
	}
	if s.PHY.Debug {
		b.verifier.CheckPinCapture(b.phy.CapturedFrames(phy.FromDevice))
	}
	verdicts := b.verifier.Finish(completed)
	result = &Result{
		RunID:          runID,
		Scenario:       s.Name,
		ScenarioDigest: s.Digest(),
		Framing:        s.Framing,
		Completed:      completed,
		Cycles:         b.orch.Cycle(),
		Budget:         s.Cycles,
		Verdicts:       verdicts,
		Tally:          verifier.Tally(verdicts),
		Requirements:   b.verifier.Requirements().Summaries(),
		Wire:           b.verifier.WireSummary(),
		Ports:          summarizePorts(b.orch.Ports()),
		Randomizers:    []RandomizerSummary{summarizeRandomizer(b.txRand), summarizeRandomizer(b.rxRand)},
		StallDigest:    stallDigest(b.txRand, b.rxRand),
		DUT:            b.core.Stats(),
		TraceEntries:   tracer.Count(),
	}
	if violation != nil {
		result.Violation = violation.Error()
	}
	if !completed {
		result.LastState = b.lastState(len(packets))
	}
	result.Passed = b.verifier.Passed() && completed && violation == nil

	if pcapPath != "" {
		if err := b.phy.PcapError(); err != nil {
			return nil, err
		}
		if err := atomic.WriteFile(pcapPath, &pcap); err != nil {
			return nil, err
		}
	}

	fields := log.Fields{
		"cycle":     result.Cycles,
		"completed": completed,
		"stalls":    result.StallDigest,
	}
	for verdict, n := range result.Tally {
		fields[verdict] = n
	}
	if result.Passed {
		logger.WithFields(fields).Info("run passed")
	} else {
		if !completed {
			logger.WithFields(fields).Warnf("run did not complete: %s", result.LastState)
		}
		logger.WithFields(fields).Warn("run failed")
	}
	return result, nil
}
