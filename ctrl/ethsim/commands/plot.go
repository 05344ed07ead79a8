package commands

import (
	"path/filepath"

	"github.com/celskeggs/ethsim/ctrl/waveplot"
	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"
)

var (
	plotFrom     uint64
	plotTo       uint64
	plotChannels []string
	plotInches   float64
)

func init() {
	f := plotCmd.Flags()
	f.Uint64Var(&plotFrom, "from", 0, "first cycle to draw")
	f.Uint64Var(&plotTo, "to", 0, "cycle to stop drawing at; 0 draws through the end")
	f.StringSliceVar(&plotChannels, "channel", nil, "channels to draw, in order (default all)")
	f.Float64Var(&plotInches, "inches", 12, "plot width in inches")
}

var plotCmd = &cobra.Command{
	Use:   "plot trace.csv output.{png,svg,pdf}",
	Short: "draws a timeline of the beats in a trace written by 'run --trace'",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		tracePath, err := homedir.Expand(args[0])
		if err != nil {
			return err
		}
		entries, err := component.DecodeTraceFile(tracePath)
		if err != nil {
			return err
		}
		opts := waveplot.Options{
			Title:     filepath.Base(tracePath),
			FromCycle: model.Cycle(plotFrom),
			ToCycle:   model.Cycle(plotTo),
			Channels:  plotChannels,
		}
		p, err := waveplot.Build(entries, opts)
		if err != nil {
			return err
		}
		rows := len(waveplot.Rows(entries, opts))
		if err := waveplot.SavePlot(p, vg.Length(plotInches)*vg.Inch, waveplot.Height(rows), args[1]); err != nil {
			return err
		}
		log.Infof("plotted %d trace entries across %d channels to %s", len(entries), rows, args[1])
		return nil
	},
}
