// Package harness assembles a complete conformance run around a device under test: streamer, ack randomizers, PHY
// loopback, reference MAC monitor, logger and verifier, all clocked by one orchestrator within a cycle budget.
package harness

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/phy"
	"github.com/celskeggs/ethsim/sim/stream"
	"github.com/celskeggs/ethsim/sim/testpoint"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

type RandomizerConfig struct {
	// Level is the stall probability in percent.
	Level int   `yaml:"level" json:"level"`
	Seed  int64 `yaml:"seed" json:"seed"`
}

// PacketSpec describes one or more packets of a scenario. Exactly one of the content fields must be set.
type PacketSpec struct {
	// Sequential is the length of a packet counting up from zero.
	Sequential int `yaml:"sequential,omitempty" json:"sequential,omitempty"`
	// Hex is literal packet contents.
	Hex string `yaml:"hex,omitempty" json:"hex,omitempty"`
	// Random draws contents and a length within [MinLength, MaxLength] from the scenario seed.
	Random *RandomPacket `yaml:"random,omitempty" json:"random,omitempty"`
	// Ethernet builds a well-formed Ethernet packet with random addresses and a payload of this many bytes.
	Ethernet int `yaml:"ethernet,omitempty" json:"ethernet,omitempty"`
	// Count repeats the packet; zero means once. Random packets are drawn afresh for every repetition.
	Count int `yaml:"count,omitempty" json:"count,omitempty"`
}

type RandomPacket struct {
	MinLength int `yaml:"min_length" json:"min_length"`
	MaxLength int `yaml:"max_length" json:"max_length"`
}

type Scenario struct {
	Name string `yaml:"name" json:"name"`
	// Width of the streaming ports around the device, in bytes.
	Width  int  `yaml:"width" json:"width"`
	Masked bool `yaml:"masked" json:"masked"`
	// Framing selects whether the device or the harness applies preamble, SFD and FCS.
	Framing ethmac.Framing `yaml:"framing" json:"framing"`
	// TX sits between the streamer and the device's sink; RX between the device's source and the logger.
	TX          RandomizerConfig `yaml:"tx_randomizer" json:"tx_randomizer"`
	RX          RandomizerConfig `yaml:"rx_randomizer" json:"rx_randomizer"`
	ResetCycles int              `yaml:"reset_cycles" json:"reset_cycles"`
	// Cycles is the budget: the scenario must complete within this many master clock cycles.
	Cycles        int          `yaml:"cycles" json:"cycles"`
	ClockPeriodNS int          `yaml:"clock_period_ns" json:"clock_period_ns"`
	Seed          int64        `yaml:"seed" json:"seed"`
	FIFOBytes     int          `yaml:"fifo_bytes" json:"fifo_bytes"`
	PHY           phy.Config   `yaml:"phy" json:"phy"`
	Packets       []PacketSpec `yaml:"packets" json:"packets"`
}

// DefaultScenario sends eight 64-byte packets counting from zero through a device with 32-bit ports that handles
// framing itself, with no added backpressure, one reset cycle and a budget of 1000 cycles.
func DefaultScenario() Scenario {
	return Scenario{
		Name:          "mac_core",
		Width:         4,
		Masked:        true,
		Framing:       ethmac.FramingHardware,
		TX:            RandomizerConfig{Level: 0, Seed: 1},
		RX:            RandomizerConfig{Level: 0, Seed: 2},
		ResetCycles:   1,
		Cycles:        1000,
		ClockPeriodNS: 10,
		Seed:          0,
		FIFOBytes:     2048,
		PHY:           phy.DefaultConfig(),
		Packets: []PacketSpec{
			{Sequential: 64, Count: 8},
		},
	}
}

func (s Scenario) ClockPeriod() time.Duration {
	return time.Duration(s.ClockPeriodNS) * time.Nanosecond
}

func (ps PacketSpec) count() int {
	if ps.Count == 0 {
		return 1
	}
	return ps.Count
}

func (ps PacketSpec) validate() error {
	set := 0
	if ps.Sequential != 0 {
		set++
	}
	if ps.Hex != "" {
		set++
	}
	if ps.Random != nil {
		set++
	}
	if ps.Ethernet != 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of sequential, hex, random or ethernet must be set (found %d)", set)
	}
	if ps.Count < 0 {
		return fmt.Errorf("negative count %d", ps.Count)
	}
	if ps.Sequential < 0 || ps.Ethernet < 0 {
		return errors.New("negative packet length")
	}
	if ps.Hex != "" {
		if _, err := hex.DecodeString(ps.Hex); err != nil {
			return fmt.Errorf("invalid hex: %w", err)
		}
	}
	if ps.Random != nil && (ps.Random.MinLength < 0 || ps.Random.MaxLength < ps.Random.MinLength) {
		return fmt.Errorf("invalid random length range [%d, %d]", ps.Random.MinLength, ps.Random.MaxLength)
	}
	return nil
}

func (ps PacketSpec) generate(r *rand.Rand) []packet.Packet {
	switch {
	case ps.Sequential != 0:
		return packet.Repeat(packet.Sequential(ps.Sequential), ps.count())
	case ps.Hex != "":
		data, err := hex.DecodeString(ps.Hex)
		if err != nil {
			panic("unvalidated packet spec: " + err.Error())
		}
		return packet.Repeat(packet.New(data), ps.count())
	}
	var out []packet.Packet
	for i := 0; i < ps.count(); i++ {
		if ps.Random != nil {
			out = append(out, packet.RandPacket(r, ps.Random.MinLength, ps.Random.MaxLength))
		} else {
			out = append(out, packet.RandEthernet(r, ps.Ethernet))
		}
	}
	return out
}

// GenerateIn builds the scenario's packets, drawing random contents from the simulation's random source.
func (s Scenario) GenerateIn(ctx model.SimContext) ([]packet.Packet, error) {
	r := ctx.Rand()
	var out []packet.Packet
	for i, ps := range s.Packets {
		if err := ps.validate(); err != nil {
			return nil, fmt.Errorf("packet spec %d: %w", i, err)
		}
		out = append(out, ps.generate(r)...)
	}
	return out, nil
}

// Generate builds the packets a run of the scenario sends. The simulation is seeded from the scenario seed, so the
// same scenario always yields the same packets.
func (s Scenario) Generate() ([]packet.Packet, error) {
	return s.GenerateIn(component.MakeSimControllerSeeded(s.Seed, model.TimeZero))
}

// Streamed returns the bytes the streamer sends for each packet: the packet itself with hardware framing, or the
// complete wire frame with software framing.
func (s Scenario) Streamed(packets []packet.Packet) ([]packet.Packet, error) {
	opts := s.Framing.HarnessOptions()
	out := make([]packet.Packet, len(packets))
	for i, p := range packets {
		framed, err := ethmac.Generate(p, opts)
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
		out[i] = packet.New(framed)
	}
	return out, nil
}

// Validate reports every problem with the scenario.
func (s Scenario) Validate() error {
	var result error
	if s.Name == "" {
		result = multierror.Append(result, errors.New("scenario needs a name"))
	}
	if err := stream.ValidateWidth(s.Width); err != nil {
		result = multierror.Append(result, err)
	}
	for _, rc := range []struct {
		name string
		cfg  RandomizerConfig
	}{{"tx_randomizer", s.TX}, {"rx_randomizer", s.RX}} {
		if err := testpoint.ValidateLevel(rc.cfg.Level); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", rc.name, err))
		}
	}
	if s.ResetCycles < 1 {
		result = multierror.Append(result, fmt.Errorf("reset must be held for at least one cycle, not %d", s.ResetCycles))
	}
	if s.Cycles < 1 {
		result = multierror.Append(result, fmt.Errorf("cycle budget must be positive, not %d", s.Cycles))
	}
	if s.ClockPeriodNS < 1 {
		result = multierror.Append(result, fmt.Errorf("clock period must be positive, not %dns", s.ClockPeriodNS))
	}
	if s.FIFOBytes < s.Width {
		result = multierror.Append(result, fmt.Errorf("fifo of %d bytes cannot hold one word", s.FIFOBytes))
	}
	if err := s.PHY.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if len(s.Packets) == 0 {
		result = multierror.Append(result, errors.New("scenario sends no packets"))
	}
	packets, err := s.Generate()
	if err != nil {
		return multierror.Append(result, err)
	}
	for i, p := range packets {
		if p.Len() < packet.HeaderLength {
			result = multierror.Append(result, fmt.Errorf("packet %d: %d bytes is shorter than an Ethernet header", i, p.Len()))
		}
	}
	if result != nil {
		return result
	}
	streamed, err := s.Streamed(packets)
	if err != nil {
		return multierror.Append(result, err)
	}
	for i, p := range streamed {
		if err := stream.CheckPacket(p, s.Width, s.Masked); err != nil {
			result = multierror.Append(result, fmt.Errorf("packet %d: %w", i, err))
		}
	}
	return result
}

// Digest identifies the scenario's configuration: runs of scenarios with equal digests must behave identically.
func (s Scenario) Digest() string {
	canonical, err := json.Marshal(s)
	if err != nil {
		panic("scenario not serializable: " + err.Error())
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:16])
}

type format int

const (
	formatYAML format = iota
	formatJSON
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".json", ".jsonc", ".hujson":
		return formatJSON, nil
	default:
		return 0, fmt.Errorf("cannot tell scenario format of %q; use .yaml, .yml, .json, .jsonc or .hujson", path)
	}
}

// ParseScenario decodes a scenario layered over the defaults, so omitted fields keep their default values.
func ParseScenario(data []byte, asJSON bool) (Scenario, error) {
	s, err := parseScenario(data, asJSON)
	if err == nil && s.Name == "" {
		s.Name = DefaultScenario().Name
	}
	return s, err
}

func parseScenario(data []byte, asJSON bool) (Scenario, error) {
	s := DefaultScenario()
	s.Name = ""
	s.Packets = nil
	if asJSON {
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return Scenario{}, fmt.Errorf("invalid JSONC: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(standardized))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return Scenario{}, err
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return Scenario{}, err
		}
	}
	if s.Packets == nil {
		s.Packets = DefaultScenario().Packets
	}
	return s, nil
}

// LoadScenario reads a YAML or JSON-with-comments scenario file, chosen by extension. A leading ~ in the path names
// the home directory. A scenario without a name is named after its file.
func LoadScenario(path string) (Scenario, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Scenario{}, err
	}
	f, err := formatOf(expanded)
	if err != nil {
		return Scenario{}, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return Scenario{}, err
	}
	s, err := parseScenario(data, f == formatJSON)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(expanded), filepath.Ext(expanded))
	}
	return s, nil
}

// Encode renders the scenario in the format implied by the path's extension.
func (s Scenario) Encode(path string) ([]byte, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	if f == formatJSON {
		return json.MarshalIndent(s, "", "  ")
	}
	return yaml.Marshal(s)
}

// WriteScenario writes the scenario atomically.
func WriteScenario(path string, s Scenario) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	data, err := s.Encode(expanded)
	if err != nil {
		return err
	}
	return atomic.WriteFile(expanded, bytes.NewReader(data))
}
