package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/celskeggs/ethsim/sim/dut"
	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/verifier"
	"github.com/mitchellh/go-homedir"
	"github.com/natefinch/atomic"
)

type PortSummary struct {
	Name          string         `json:"name"`
	Beats         uint64         `json:"beats"`
	Frames        uint64         `json:"frames"`
	StallCycles   uint64         `json:"stall_cycles"`
	MaxWait       int            `json:"max_wait"`
	WaitHistogram map[int]uint64 `json:"wait_histogram"`
}

type RandomizerSummary struct {
	Name     string `json:"name"`
	Level    int    `json:"level"`
	Seed     int64  `json:"seed"`
	Cycles   int    `json:"cycles"`
	Withheld uint64 `json:"withheld"`
	Digest   string `json:"digest"`
}

// Result is the outcome of one run.
type Result struct {
	RunID          string         `json:"run_id"`
	Scenario       string         `json:"scenario"`
	ScenarioDigest string         `json:"scenario_digest"`
	Framing        ethmac.Framing `json:"framing"`
	Passed         bool           `json:"passed"`
	// Completed reports whether every packet was sent and logged within the budget.
	Completed    bool                     `json:"completed"`
	Cycles       model.Cycle              `json:"cycles"`
	Budget       int                      `json:"budget"`
	Verdicts     []verifier.PacketVerdict `json:"verdicts"`
	Tally        map[string]int           `json:"tally"`
	Requirements []verifier.ReqSummary    `json:"requirements"`
	Wire         verifier.WireSummary     `json:"wire"`
	Ports        []PortSummary            `json:"ports"`
	Randomizers  []RandomizerSummary      `json:"randomizers"`
	// StallDigest identifies the combined stall patterns of both randomizers.
	StallDigest  string    `json:"stall_digest"`
	DUT          dut.Stats `json:"dut"`
	TraceEntries int       `json:"trace_entries"`
	Violation    string    `json:"violation,omitempty"`
	LastState    string    `json:"last_state,omitempty"`
}

// Outcome is a short, stable description of the verdicts, used to compare runs of the same configuration.
func (r *Result) Outcome() string {
	var names []string
	for name := range r.Tally {
		names = append(names, name)
	}
	sort.Strings(names)
	var parts []string
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, r.Tally[name]))
	}
	if !r.Completed {
		parts = append(parts, "incomplete")
	}
	return strings.Join(parts, ",")
}

// Failures lists every failed packet verdict and requirement.
func (r *Result) Failures() []string {
	var out []string
	if r.Violation != "" {
		out = append(out, r.Violation)
	}
	for _, pv := range r.Verdicts {
		if !pv.Passed() {
			out = append(out, pv.String())
		}
	}
	for _, rs := range r.Requirements {
		if rs.Failed > 0 {
			out = append(out, fmt.Sprintf("requirement %s failed %d times", rs.Requirement, rs.Failed))
		}
	}
	return out
}

// Summarize writes a human-readable report.
func (r *Result) Summarize(w io.Writer) error {
	var buf bytes.Buffer
	status := "PASSED"
	if !r.Passed {
		status = "FAILED"
	}
	fmt.Fprintf(&buf, "%s: scenario %s (run %s) after %d of %d cycles\n", status, r.Scenario, r.RunID, r.Cycles, r.Budget)
	fmt.Fprintf(&buf, "  verdicts: %s\n", r.Outcome())
	fmt.Fprintf(&buf, "  wire: %d frames, %d valid, %d crc errors, %d malformed\n",
		r.Wire.Frames, r.Wire.Valid, r.Wire.CRCErrors, r.Wire.Malformed)
	for _, p := range r.Ports {
		fmt.Fprintf(&buf, "  port %-16s %6d beats %4d frames %6d stall cycles (max wait %d)\n",
			p.Name, p.Beats, p.Frames, p.StallCycles, p.MaxWait)
	}
	for _, ar := range r.Randomizers {
		fmt.Fprintf(&buf, "  %s: level %d seed %d withheld %d of %d cycles\n", ar.Name, ar.Level, ar.Seed, ar.Withheld, ar.Cycles)
	}
	fmt.Fprintf(&buf, "  stall digest: %s\n", r.StallDigest)
	if r.LastState != "" {
		fmt.Fprintf(&buf, "  last state: %s\n", r.LastState)
	}
	for _, f := range r.Failures() {
		fmt.Fprintf(&buf, "  - %s\n", f)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteReport writes the result as indented JSON, atomically.
func (r *Result) WriteReport(path string) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(expanded, bytes.NewReader(append(data, '\n')))
}

func ReadReport(path string) (*Result, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}
	r := &Result{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("report %s: %w", path, err)
	}
	return r, nil
}
