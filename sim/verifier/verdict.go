package verifier

import (
	"fmt"

	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
)

type Verdict int

const (
	VerdictMatch Verdict = iota
	VerdictMismatch
	VerdictCRCError
	VerdictMalformed
	// VerdictTimeout: the packet was sent (or queued) but never logged within the cycle budget.
	VerdictTimeout
	// VerdictUnexpected: a packet was logged beyond the number sent.
	VerdictUnexpected
	// VerdictProtocolViolation: the run aborted on a protocol violation before the packet was logged.
	VerdictProtocolViolation
)

var verdictNames = map[Verdict]string{
	VerdictMatch:             "match",
	VerdictMismatch:          "mismatch",
	VerdictCRCError:          "crc_error",
	VerdictMalformed:         "malformed",
	VerdictTimeout:           "timeout",
	VerdictUnexpected:        "unexpected",
	VerdictProtocolViolation: "protocol_violation",
}

func (v Verdict) String() string {
	name, ok := verdictNames[v]
	if !ok {
		panic(fmt.Sprintf("invalid verdict: %d", int(v)))
	}
	return name
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	for verdict, name := range verdictNames {
		if name == string(text) {
			*v = verdict
			return nil
		}
	}
	return fmt.Errorf("unknown verdict %q", string(text))
}

// PacketVerdict is the outcome for one packet of the scenario.
type PacketVerdict struct {
	Index         int         `json:"index"`
	Verdict       Verdict     `json:"verdict"`
	SentLength    int         `json:"sent_length,omitempty"`
	LoggedLength  int         `json:"logged_length,omitempty"`
	Mismatches    int         `json:"mismatched_bytes,omitempty"`
	SentCycle     model.Cycle `json:"sent_cycle,omitempty"`
	LoggedCycle   model.Cycle `json:"logged_cycle,omitempty"`
	LatencyCycles uint64      `json:"latency_cycles,omitempty"`
	Detail        string      `json:"detail,omitempty"`
}

func (pv PacketVerdict) Passed() bool {
	return pv.Verdict == VerdictMatch
}

func (pv PacketVerdict) String() string {
	if pv.Detail != "" {
		return fmt.Sprintf("packet %d: %v (%s)", pv.Index, pv.Verdict, pv.Detail)
	}
	return fmt.Sprintf("packet %d: %v", pv.Index, pv.Verdict)
}

// Classify compares one logged packet against the packet sent. With software framing the logged bytes are a
// complete wire frame, which is checked and deframed by the reference model first.
func Classify(index int, sent, logged packet.Packet, framing ethmac.Framing) PacketVerdict {
	pv := PacketVerdict{
		Index:        index,
		SentLength:   sent.Len(),
		LoggedLength: logged.Len(),
	}
	payload := logged
	if framing == ethmac.FramingSoftware {
		result := ethmac.Check(logged.Bytes(), ethmac.WireOptions())
		switch result.Status {
		case ethmac.StatusCRCError:
			pv.Verdict = VerdictCRCError
			pv.Detail = result.String()
			return pv
		case ethmac.StatusMalformed:
			pv.Verdict = VerdictMalformed
			pv.Detail = result.Reason
			return pv
		}
		payload = result.Payload
	}
	mismatches, lengthOk := packet.Compare(payload, sent)
	pv.Mismatches = mismatches
	if mismatches == 0 && lengthOk {
		pv.Verdict = VerdictMatch
	} else {
		pv.Verdict = VerdictMismatch
		pv.Detail = fmt.Sprintf("%d bytes differ; lengths %d sent, %d logged", mismatches, sent.Len(), payload.Len())
	}
	return pv
}

// Tally counts verdicts by name.
func Tally(verdicts []PacketVerdict) map[string]int {
	counts := map[string]int{}
	for _, v := range verdicts {
		counts[v.Verdict.String()] += 1
	}
	return counts
}
