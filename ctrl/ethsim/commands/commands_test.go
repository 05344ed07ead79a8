package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/celskeggs/ethsim/sim/harness"
	"github.com/celskeggs/ethsim/sim/history"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI as if freshly started, since flag values persist between invocations.
func execute(args ...string) error {
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				_ = sv.Replace(nil)
			} else {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestGenConfigThenRun(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "scenario.yaml")
	historyDB := filepath.Join(dir, "history.db")
	reportFile := filepath.Join(dir, "report.json")
	traceFile := filepath.Join(dir, "trace.csv")
	plotFile := filepath.Join(dir, "trace.svg")

	require.NoError(t, execute("gen-config", "-o", scenarioPath))
	assert.Error(t, execute("gen-config", "-o", scenarioPath))
	require.NoError(t, execute("gen-config", "-o", scenarioPath, "--replace"))

	require.NoError(t, execute("run", scenarioPath, "--history", historyDB, "--report", reportFile,
		"--trace", traceFile, "--rx-level", "20", "--cycles", "3000"))
	report, err := harness.ReadReport(reportFile)
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, harness.DefaultScenario().Name, report.Scenario)
	assert.Equal(t, 20, report.Randomizers[1].Level)

	require.NoError(t, execute("run", scenarioPath, "--no-history", "--report", reportFile, "--line-rate", "2",
		"--cycles", "3000"))
	metered, err := harness.ReadReport(reportFile)
	require.NoError(t, err)
	assert.True(t, metered.Passed)
	assert.NotEqual(t, report.ScenarioDigest, metered.ScenarioDigest)

	store, err := history.Open(historyDB)
	require.NoError(t, err)
	runs, err := store.List(report.Scenario)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	require.NoError(t, store.Close())

	require.NoError(t, execute("plot", traceFile, plotFile, "--to", "300"))
	info, err := os.Stat(plotFile)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	require.NoError(t, execute("history", "--history", historyDB))
}

func TestFailingRunExitsWithError(t *testing.T) {
	dir := t.TempDir()
	err := execute("run", "--history", filepath.Join(dir, "history.db"), "--cycles", "100")
	assert.Error(t, err)
}
