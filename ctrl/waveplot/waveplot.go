package waveplot

import (
	"errors"
	"sort"

	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
)

type Options struct {
	Title string
	// FromCycle and ToCycle bound the rendered window; a zero ToCycle means through the end of the trace.
	FromCycle model.Cycle
	ToCycle   model.Cycle
	// Channels selects and orders the rows; empty means every channel, in order of first appearance.
	Channels []string
}

// Row is the timeline of one channel.
type Row struct {
	Channel   string
	Bursts    []Burst
	FrameEnds []FrameEnd
}

func (o Options) includes(c model.Cycle) bool {
	return c >= o.FromCycle && (o.ToCycle == 0 || c < o.ToCycle)
}

// rowOf folds one channel's beats, in cycle order, into bursts. A burst ends at a gap in the cycles or at a frame
// boundary, so two frames committed back to back still get separate boxes.
func rowOf(channel string, beats []component.TraceEntry) Row {
	row := Row{Channel: channel}
	frame, frameBytes := 0, 0
	var open *Burst
	flush := func() {
		if open != nil {
			row.Bursts = append(row.Bursts, *open)
			open = nil
		}
	}
	for _, e := range beats {
		if e.First || (open != nil && open.End != e.Cycle) {
			flush()
		}
		if e.First {
			frameBytes = 0
		}
		if open == nil {
			open = &Burst{Start: e.Cycle, End: e.Cycle, Frame: frame}
		}
		open.End = e.Cycle + 1
		open.Beats += 1
		frameBytes += len(e.Bytes)
		if e.Last {
			flush()
			row.FrameEnds = append(row.FrameEnds, FrameEnd{Cycle: e.Cycle + 1, Frame: frame, Bytes: frameBytes})
			frame += 1
		}
	}
	flush()
	return row
}

// Rows groups the trace by channel, keeping only beats inside the window.
func Rows(entries []component.TraceEntry, opts Options) []Row {
	byChannel := map[string][]component.TraceEntry{}
	var order []string
	for _, e := range entries {
		if !opts.includes(e.Cycle) {
			continue
		}
		if _, seen := byChannel[e.Channel]; !seen {
			order = append(order, e.Channel)
		}
		byChannel[e.Channel] = append(byChannel[e.Channel], e)
	}
	if len(opts.Channels) > 0 {
		order = opts.Channels
	}
	var rows []Row
	for _, channel := range order {
		beats := byChannel[channel]
		sort.SliceStable(beats, func(i, j int) bool {
			return beats[i].Cycle < beats[j].Cycle
		})
		rows = append(rows, rowOf(channel, beats))
	}
	return rows
}

// Build lays the trace out as a plot with one labelled row per channel and the cycle number along the X axis.
func Build(entries []component.TraceEntry, opts Options) (*plot.Plot, error) {
	rows := Rows(entries, opts)
	if len(rows) == 0 {
		return nil, errors.New("no trace entries in the selected window")
	}
	var last model.Cycle
	for _, row := range rows {
		for _, b := range row.Bursts {
			if b.End > last {
				last = b.End
			}
		}
	}
	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "cycle"
	var names []string
	// the first row is drawn at the top
	for i, row := range rows {
		loc := float64(len(rows) - 1 - i)
		p.Add(newRowPlot(row, loc, vg.Points(14), last))
	}
	for i := len(rows) - 1; i >= 0; i-- {
		names = append(names, rows[i].Channel)
	}
	p.NominalY(names...)
	return p, nil
}

// Height is a plot height that leaves room for every row.
func Height(rows int) vg.Length {
	return vg.Points(60 + 24*float64(rows))
}
