package collector

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/stream"
	log "github.com/sirupsen/logrus"
)

const WIDTH = 117

type renderer struct {
	sim        model.SimContext
	underlying ActivityCollector
	output     io.WriteCloser
	color      bool
}

const (
	ColorBlack   = "0"
	ColorRed     = "1"
	ColorGreen   = "2"
	ColorYellow  = "3"
	ColorBlue    = "4"
	ColorMagenta = "5"
	ColorCyan    = "6"
	ColorWhite   = "7"
)

func WithColor(text string, color string) string {
	return fmt.Sprintf("\033[1;3%sm%s\033[0m", color, text)
}

func (a *renderer) display(color, left, mid, right string) {
	if a.output != nil {
		padding := WIDTH - len(left) - len(mid) - len(right)
		if padding < 0 {
			padding = 0
		}
		padLeft := strings.Repeat(" ", padding/2)
		padRight := strings.Repeat(" ", padding-len(padLeft))
		line := left + padLeft + mid + padRight + right
		if a.color {
			line = WithColor(line, color)
		}
		_, err := fmt.Fprintln(a.output, line)
		if err != nil {
			log.Printf("Activity log print error: %v", err)
			err = a.output.Close()
			if err != nil {
				log.Printf("Activity log close error: %v", err)
			}
			a.output = nil
		}
	}
}

func v(timestamp model.VirtualTime) string {
	return fmt.Sprintf("[%v]", timestamp)
}

func vL(timestamp model.VirtualTime, text string, a ...interface{}) string {
	return fmt.Sprintf("[%v] %s", timestamp, fmt.Sprintf(text, a...))
}

func vR(timestamp model.VirtualTime, text string, a ...interface{}) string {
	return fmt.Sprintf("%s [%v]", fmt.Sprintf(text, a...), timestamp)
}

func (a *renderer) OnPacketSent(index int, p packet.Packet, cycle model.Cycle) {
	a.display(ColorMagenta, vL(a.sim.Now(), "SEND #%d (%d bytes) -------->", index, p.Len()), "", cycle.String())
	a.underlying.OnPacketSent(index, p, cycle)
}

func (a *renderer) OnPacketLogged(p packet.Packet, cycle model.Cycle) {
	a.display(ColorCyan, cycle.String(), "", vR(a.sim.Now(), "--------> LOGGED (%d bytes)", p.Len()))
	a.underlying.OnPacketLogged(p, cycle)
}

func (a *renderer) OnWireFrame(o ethmac.Observation) {
	color := ColorGreen
	if o.Result.Status != ethmac.StatusValid {
		color = ColorRed
	}
	detail := fmt.Sprintf("PHY %v", o.Result)
	if o.Header != nil {
		detail = fmt.Sprintf("PHY %v %v -> %v", o.Result, o.Header.Source, o.Header.Destination)
	}
	a.display(color, "", detail, v(o.Time))
	a.underlying.OnWireFrame(o)
}

func (a *renderer) OnViolation(pv *stream.ProtocolViolation) {
	a.display(ColorRed, v(a.sim.Now()), pv.Error(), "")
	a.underlying.OnViolation(pv)
}

// Close ends the activity log.
func (a *renderer) Close() error {
	if a.output == nil {
		return nil
	}
	a.display(ColorYellow, v(a.sim.Now()), "ACTIVITY LOG ENDS", v(a.sim.Now()))
	err := a.output.Close()
	a.output = nil
	return err
}

// MakeActivityRenderer writes a one-line-per-event activity log to w before forwarding every event to underlying.
// Colors are ANSI escapes, for viewing in a terminal.
func MakeActivityRenderer(sim model.SimContext, w io.WriteCloser, color bool, underlying ActivityCollector) ActivityLog {
	a := &renderer{
		sim:        sim,
		underlying: underlying,
		output:     w,
		color:      color,
	}
	a.display(ColorYellow, v(a.sim.Now()), "ACTIVITY LOG STARTS NOW", v(a.sim.Now()))
	return a
}

func MakeActivityRendererAt(sim model.SimContext, logPath string, color bool, underlying ActivityCollector) (ActivityLog, error) {
	logOutput, err := os.Create(logPath)
	if err != nil {
		return nil, err
	}
	return MakeActivityRenderer(sim, logOutput, color, underlying), nil
}
