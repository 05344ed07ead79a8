package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/celskeggs/ethsim/sim/history"
	"github.com/spf13/cobra"
)

func init() {
	historyCmd.Flags().StringVar(&historyPath, "history", "", "run history database (default ~/.ethsim/history.db)")
}

var historyCmd = &cobra.Command{
	Use:   "history [scenario]",
	Short: "lists recorded runs, of one scenario or of all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
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
		defer store.Close()

		scenario := ""
		if len(args) > 0 {
			scenario = args[0]
		}
		entries, err := store.List(scenario)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RECORDED\tSCENARIO\tDIGEST\tCYCLES\tOUTCOME\tSTALLS\tPASSED\tRUN")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%v\t%s\n",
				e.Recorded.Local().Format("2006-01-02 15:04:05"), e.Scenario, e.Digest, e.Cycles, e.Outcome,
				e.StallDigest, e.Passed, e.RunID)
		}
		return tw.Flush()
	},
}
