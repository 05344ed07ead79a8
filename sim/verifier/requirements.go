package verifier

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

const (
	// ReqDelivery requires:
	// Every packet sent shall be logged on the far side of the device, byte for byte, in the order sent.
	ReqDelivery = "ReqDelivery"
	// ReqNoUnexpected requires:
	// No packet shall be logged beyond those sent.
	ReqNoUnexpected = "ReqNoUnexpected"
	// ReqWireFraming requires:
	// Every frame observed at the PHY shall carry a correct preamble, start-of-frame delimiter and frame check
	// sequence.
	ReqWireFraming = "ReqWireFraming"
	// ReqWireContent requires:
	// The contents of every frame observed at the PHY shall match the corresponding packet sent.
	ReqWireContent = "ReqWireContent"
	// ReqPinCapture requires:
	// Every frame reassembled from the bytes captured at the PHY pins shall pass the reference MAC check, and the
	// frames observed on the wire shall be exactly those captured, in order.
	ReqPinCapture = "ReqPinCapture"
	// ReqProtocol requires:
	// No port shall observe a handshake protocol violation, including traffic before every domain leaves reset.
	ReqProtocol = "ReqProtocol"
	// ReqCompletion requires:
	// The scenario shall complete within its cycle budget.
	ReqCompletion = "ReqCompletion"
)

var requirements = []string{
	ReqDelivery,
	ReqNoUnexpected,
	ReqWireFraming,
	ReqWireContent,
	ReqPinCapture,
	ReqProtocol,
	ReqCompletion,
}

// Requirements lists every requirement tracked, in report order.
func Requirements() []string {
	return append([]string(nil), requirements...)
}

type ReqTracker struct {
	sim         model.SimContext
	outstanding map[string]int
	succeeded   map[string]int
	failed      map[string]int
	disp        *component.EventDispatcher
	logFile     io.Closer
	logFileCSV  *csv.Writer
}

func (rt *ReqTracker) Subscribe(callback func()) (cancel func()) {
	return rt.disp.Subscribe(callback)
}

func assertReq(req string) {
	for _, check := range requirements {
		if check == req {
			return
		}
	}
	panic("not a valid requirement: " + req)
}

// Start opens an instance of a requirement that is decided later by calling complete exactly once.
func (rt *ReqTracker) Start(req string) (complete func(success bool)) {
	assertReq(req)
	origTime := rt.sim.Now().Nanoseconds()
	rt.log("BEGIN", strconv.FormatUint(origTime, 10), req)
	rt.outstanding[req] += 1
	var done bool
	return func(success bool) {
		if done {
			panic("cannot complete twice")
		}
		endTime := rt.sim.Now().Nanoseconds()
		rt.log("RETIRE", strconv.FormatUint(origTime, 10), strconv.FormatUint(endTime, 10), req)
		rt.outstanding[req] -= 1
		rt.Immediate(req, success)
		done = true
	}
}

func (rt *ReqTracker) Immediate(req string, success bool) {
	assertReq(req)
	if success {
		rt.log("SUCCEED", strconv.FormatUint(rt.sim.Now().Nanoseconds(), 10), req)
		rt.succeeded[req] += 1
	} else {
		rt.log("FAIL", strconv.FormatUint(rt.sim.Now().Nanoseconds(), 10), req)
		rt.failed[req] += 1
	}
	rt.disp.DispatchLater()
}

func (rt *ReqTracker) Failed() bool {
	for _, v := range rt.failed {
		if v > 0 {
			return true
		}
	}
	return false
}

func (rt *ReqTracker) CountSuccesses() (n int) {
	for _, c := range rt.succeeded {
		n += c
	}
	return n
}

// ReqSummary is the tally for one requirement.
type ReqSummary struct {
	Requirement string `json:"requirement"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Outstanding int    `json:"outstanding"`
}

func (rt *ReqTracker) Summaries() []ReqSummary {
	var out []ReqSummary
	for _, req := range requirements {
		out = append(out, ReqSummary{
			Requirement: req,
			Succeeded:   rt.succeeded[req],
			Failed:      rt.failed[req],
			Outstanding: rt.outstanding[req],
		})
	}
	return out
}

func leftPad(x string, width int) string {
	if len(x) < width {
		return strings.Repeat(" ", width-len(x)) + x
	} else {
		return x
	}
}

func (rt *ReqTracker) ExplainFailure() string {
	lines := []string{"Requirements tracked:"}
	maxReqLen := 1
	for _, req := range requirements {
		if len(req) > maxReqLen {
			maxReqLen = len(req)
		}
	}
	for _, req := range requirements {
		line := fmt.Sprintf(
			"  [%s] Succeeded: %5d, Failed: %5d, Outstanding: %5d",
			leftPad(req, maxReqLen), rt.succeeded[req], rt.failed[req], rt.outstanding[req])
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (rt *ReqTracker) log(parts ...string) {
	if rt.logFile != nil {
		err := rt.logFileCSV.Write(parts)
		if err == nil {
			rt.logFileCSV.Flush()
			err = rt.logFileCSV.Error()
		}
		if err != nil {
			log.Printf("Logging error: %v", err)
			err = rt.logFile.Close()
			if err != nil {
				log.Printf("Logfile closing error: %v", err)
			}
			rt.logFile = nil
			rt.logFileCSV = nil
		}
	}
}

// LogTo streams every requirement event to w as CSV; the tracker closes w.
func (rt *ReqTracker) LogTo(w io.WriteCloser) {
	if rt.logFile != nil {
		panic("already set up for logging")
	}
	rt.logFile = w
	rt.logFileCSV = csv.NewWriter(w)
	rt.log(append([]string{"REQUIREMENTS"}, requirements...)...)
}

func (rt *ReqTracker) LogToPath(outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	rt.LogTo(f)
	return nil
}

// Close finishes the requirement log, if any.
func (rt *ReqTracker) Close() (re error) {
	if rt.logFile == nil {
		return nil
	}
	rt.logFileCSV.Flush()
	if err := rt.logFileCSV.Error(); err != nil {
		re = multierror.Append(re, err)
	}
	if err := rt.logFile.Close(); err != nil {
		re = multierror.Append(re, err)
	}
	rt.logFile = nil
	rt.logFileCSV = nil
	return re
}

func MakeReqTracker(ctx model.SimContext) *ReqTracker {
	return &ReqTracker{
		sim:         ctx,
		outstanding: map[string]int{},
		succeeded:   map[string]int{},
		failed:      map[string]int{},
		disp:        component.MakeEventDispatcher(ctx, "sim.verifier.ReqTracker"),
	}
}
