package commands

import (
	"fmt"
	"os"

	"github.com/celskeggs/ethsim/sim/harness"
	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	output  string
	replace bool
)

func init() {
	genConfigCmd.Flags().StringVarP(&output, "output", "o", "scenario.yaml", "path of output scenario file; .yaml or .json")
	genConfigCmd.Flags().BoolVarP(&replace, "replace", "r", false, "whether to allow rewrite of a file that already exists.")
}

var genConfigCmd = &cobra.Command{
	Use:   "gen-config",
	Short: "writes the default scenario, as a starting point for new scenarios",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		expanded, err := homedir.Expand(output)
		if err != nil {
			return err
		}
		if _, err := os.Stat(expanded); err == nil && !replace {
			return fmt.Errorf("%s already exists; pass --replace to overwrite it", output)
		}
		if err := harness.WriteScenario(expanded, harness.DefaultScenario()); err != nil {
			return err
		}
		log.Infof("wrote default scenario to %s", output)
		return nil
	},
}
