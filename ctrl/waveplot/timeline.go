// Package waveplot renders a beat trace as a timeline: one row per port or wire channel, one box per run of
// consecutive committed beats, and a marker on each frame's final beat.
package waveplot

import (
	"fmt"
	"image/color"
	"math"
	"sort"

	"github.com/celskeggs/ethsim/sim/model"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Burst is a run of beats of one frame, committed on the consecutive cycles [Start, End).
type Burst struct {
	Start model.Cycle
	End   model.Cycle
	Frame int
	Beats int
}

// FrameEnd falls on the cycle after a frame's last beat.
type FrameEnd struct {
	Cycle model.Cycle
	Frame int
	Bytes int
}

var frameEndGlyph = draw.GlyphStyle{
	Color:  color.Black,
	Radius: vg.Points(3),
	Shape:  draw.PyramidGlyph{},
}

// rowPlot draws one channel on a fixed Y location: bursts as boxes colored by frame, and a glyph over each frame end
// labelled with the frame's length where the space up to the next frame end allows.
type rowPlot struct {
	row       Row
	y         float64
	height    vg.Length
	lastCycle model.Cycle
	box       draw.LineStyle
	label     draw.TextStyle
}

var _ plot.Plotter = &rowPlot{}
var _ plot.DataRanger = &rowPlot{}

func newRowPlot(row Row, y float64, height vg.Length, lastCycle model.Cycle) *rowPlot {
	return &rowPlot{
		row:       row,
		y:         y,
		height:    height,
		lastCycle: lastCycle,
		box:       plotter.DefaultLineStyle,
		label: text.Style{
			Font:    font.From(plotter.DefaultFont, plotter.DefaultFontSize),
			XAlign:  draw.XCenter,
			YAlign:  draw.YCenter,
			Handler: plot.DefaultTextHandler,
		},
	}
}

// fitText shrinks the style until the label fits, giving up below a legible size.
func fitText(style draw.TextStyle, label string, maxWidth vg.Length) (draw.TextStyle, bool) {
	for style.Width(label) > maxWidth {
		style.Font.Size *= 0.5
		if style.Font.Size < vg.Points(3) {
			return style, false
		}
	}
	return style, true
}

func (r *rowPlot) drawBurst(c draw.Canvas, x func(float64) vg.Length, y vg.Length, b Burst) {
	left, right := x(float64(b.Start)), x(float64(b.End))
	bottom, top := y-r.height/2, y+r.height/2
	outline := []vg.Point{{X: left, Y: bottom}, {X: right, Y: bottom}, {X: right, Y: top}, {X: left, Y: top}, {X: left, Y: bottom}}
	c.FillPolygon(plotutil.Color(b.Frame), c.ClipPolygonX(outline[:4]))
	c.StrokeLines(r.box, c.ClipLinesX(outline)...)
	beats := fmt.Sprint(b.Beats)
	if c.ContainsX(left) && r.label.Width(beats) <= right-left {
		c.FillText(r.label, vg.Point{X: (left + right) / 2, Y: y}, beats)
	}
}

func (r *rowPlot) Plot(c draw.Canvas, plt *plot.Plot) {
	x, yOf := plt.Transforms(&c)
	y := yOf(r.y)
	if !c.ContainsY(y) {
		return
	}
	for _, b := range r.row.Bursts {
		r.drawBurst(c, x, y, b)
	}

	// labels run right, up to the next frame end
	ends := append([]FrameEnd(nil), r.row.FrameEnds...)
	sort.Slice(ends, func(i, j int) bool {
		return ends[i].Cycle > ends[j].Cycle
	})
	limit := x(float64(r.lastCycle))
	for _, fe := range ends {
		at := x(float64(fe.Cycle))
		c.DrawGlyph(frameEndGlyph, vg.Point{X: at, Y: y + r.height/2})
		from, to := at+frameEndGlyph.Radius, limit-frameEndGlyph.Radius
		length := fmt.Sprintf("%dB", fe.Bytes)
		if from < to {
			if style, ok := fitText(r.label, length, to-from); ok {
				c.FillText(style, vg.Point{X: from + style.Width(length)/2, Y: y + r.height/2}, length)
			}
		}
		limit = at
	}
}

func (r *rowPlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	xmin, xmax = math.Inf(1), math.Inf(-1)
	for _, b := range r.row.Bursts {
		xmin = math.Min(xmin, float64(b.Start))
		xmax = math.Max(xmax, float64(b.End))
	}
	for _, fe := range r.row.FrameEnds {
		xmin = math.Min(xmin, float64(fe.Cycle))
		xmax = math.Max(xmax, float64(fe.Cycle))
	}
	return xmin, xmax, r.y, r.y
}
