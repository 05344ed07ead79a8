package ethmac

import (
	"bytes"
	"fmt"

	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/util"
)

type Status int

const (
	StatusValid Status = iota
	StatusCRCError
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusCRCError:
		return "crc_error"
	case StatusMalformed:
		return "malformed"
	default:
		panic(fmt.Sprintf("invalid status: %d", int(s)))
	}
}

// Result classifies one received frame. Payload is the frame with preamble, SFD and FCS removed (as configured), and
// is only set when the frame is not malformed.
type Result struct {
	Status   Status
	Payload  packet.Packet
	Reason   string
	Computed uint32
	Received uint32
}

func (r Result) String() string {
	switch r.Status {
	case StatusValid:
		return fmt.Sprintf("valid frame of %d bytes", r.Payload.Len())
	case StatusCRCError:
		return fmt.Sprintf("crc_error: computed %08x, received %08x", r.Computed, r.Received)
	default:
		return "malformed: " + r.Reason
	}
}

func malformed(reason string, args ...interface{}) Result {
	return Result{
		Status: StatusMalformed,
		Reason: fmt.Sprintf(reason, args...),
	}
}

// Check strips the preamble and SFD if configured, verifies the FCS if configured, and classifies the frame.
func Check(frame []byte, opts Options) Result {
	body := frame
	if opts.Preamble {
		if len(body) < PrefixLength {
			return malformed("frame of %d bytes too short for preamble", len(body))
		}
		sfd := bytes.IndexByte(body[:PrefixLength], SFD)
		if sfd < 0 {
			return malformed("missing start-of-frame delimiter")
		}
		if sfd != PreambleLength || !bytes.Equal(body[:PreambleLength], Prefix()[:PreambleLength]) {
			return malformed("bad preamble %x", body[:sfd+1])
		}
		body = body[PrefixLength:]
	}
	trailer := 0
	if opts.CRC {
		trailer = FCSLength
	}
	if len(body) < opts.minLength()+trailer {
		return malformed("frame of %d bytes shorter than minimum of %d", len(body), opts.minLength()+trailer)
	}
	if !opts.CRC {
		return Result{Status: StatusValid, Payload: packet.New(body)}
	}
	content := body[:len(body)-FCSLength]
	received, err := util.DecodeUint32LE(body[len(content):])
	if err != nil {
		panic(err)
	}
	computed := CRC32(content)
	result := Result{
		Payload:  packet.New(content),
		Computed: computed,
		Received: received,
	}
	if computed == received {
		result.Status = StatusValid
	} else {
		result.Status = StatusCRCError
	}
	return result
}
