package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/harness"
	"github.com/celskeggs/ethsim/sim/history"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	runOpts     harness.Options
	reportPath  string
	historyPath string
	noHistory   bool
	width       int
	txLevel     int
	rxLevel     int
	framing     string
	seed        int64
	lineRate    int
)

func init() {
	f := runCmd.Flags()
	f.IntVarP(&runOpts.Cycles, "cycles", "c", 0, "cycle budget; overrides the scenario's")
	f.StringVar(&runOpts.TracePath, "trace", "", "write a CSV trace of every committed beat")
	f.StringVar(&runOpts.PcapPath, "pcap", "", "write every frame crossing the PHY pins as pcap")
	f.StringVar(&runOpts.ActivityPath, "activity", "", "write a readable activity log")
	f.BoolVar(&runOpts.Color, "color", false, "colorize the activity log")
	f.StringVar(&runOpts.RequirementsPath, "requirements", "", "write a CSV log of requirement outcomes")
	f.StringVarP(&reportPath, "report", "o", "", "write the JSON run report")
	f.StringVar(&historyPath, "history", "", "run history database (default ~/.ethsim/history.db)")
	f.BoolVar(&noHistory, "no-history", false, "do not record the run in the history database")
	f.IntVar(&width, "width", 0, "port width in bytes; overrides the scenario's")
	f.IntVar(&txLevel, "tx-level", 0, "stall level in percent ahead of the device; overrides the scenario's")
	f.IntVar(&rxLevel, "rx-level", 0, "stall level in percent behind the device; overrides the scenario's")
	f.StringVar(&framing, "framing", "", "hardware or software; overrides the scenario's")
	f.Int64Var(&seed, "seed", 0, "seed for packet contents; overrides the scenario's")
	f.IntVar(&lineRate, "line-rate", 0, "bytes per cycle the far end of the link takes back; overrides the scenario's")
}

func applyOverrides(f *pflag.FlagSet, s *harness.Scenario) error {
	if f.Changed("width") {
		s.Width = width
	}
	if f.Changed("tx-level") {
		s.TX.Level = txLevel
	}
	if f.Changed("rx-level") {
		s.RX.Level = rxLevel
	}
	if f.Changed("seed") {
		s.Seed = seed
	}
	if f.Changed("line-rate") {
		s.PHY.LineRate = lineRate
	}
	if f.Changed("framing") {
		mode, err := ethmac.ParseFraming(framing)
		if err != nil {
			return err
		}
		s.Framing = mode
	}
	return nil
}

func recordHistory(result *harness.Result) error {
	path := historyPath
	if path == "" {
		var err error
		if path, err = history.DefaultPath(); err != nil {
			return err
		}
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close history")
		}
	}()
	return store.Record(history.FromResult(result, time.Now()))
}

var runCmd = &cobra.Command{
	Use:   "run [scenario]",
	Short: "runs a scenario against the MAC core and reports conformance",
	Long: "Runs a scenario file (.yaml, .yml, .json, .jsonc) or, without one, the default scenario of eight " +
		"64-byte packets. Exits non-zero when any packet or requirement fails.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenario := harness.DefaultScenario()
		if len(args) > 0 {
			var err error
			if scenario, err = harness.LoadScenario(args[0]); err != nil {
				return err
			}
		}
		if err := applyOverrides(cmd.Flags(), &scenario); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		result, err := harness.Run(ctx, scenario, runOpts)
		if err != nil {
			return err
		}
		if err := result.Summarize(os.Stdout); err != nil {
			return err
		}
		if reportPath != "" {
			if err := result.WriteReport(reportPath); err != nil {
				return err
			}
		}
		if !noHistory {
			var regression *history.Regression
			if err := recordHistory(result); errors.As(err, &regression) {
				return regression
			} else if err != nil {
				log.WithError(err).Warn("failed to record run history")
			}
		}
		if !result.Passed {
			return fmt.Errorf("scenario %s failed", result.Scenario)
		}
		return nil
	},
}
