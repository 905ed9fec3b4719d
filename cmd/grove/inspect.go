package main

import (
	"github.com/spf13/cobra"
)

var flagInspectSweeps int

var inspectCmd = &cobra.Command{
	Use:   "inspect [path]",
	Short: "List cache entries and counters",
	Long:  "Opens the cache without scanning anything. Frozen entries written by previous runs are recovered and listed with their tier, size, and access history.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().IntVar(&flagInspectSweeps, "sweeps", 0, "run this many sweep passes before listing")
}

func runInspect(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return err
	}

	c, err := openCache(targetDir)
	if err != nil {
		return outputError("inspect", err)
	}
	defer c.Close()

	for i := 0; i < flagInspectSweeps; i++ {
		c.SweepNow()
	}

	return outputResult(CLIResult{
		Command: "inspect",
		Results: CLIInspect{
			CacheDir: resolveCacheDir(targetDir),
			Entries:  c.Entries(),
			Stats:    cliStatsFrom(c.Stats()),
		},
	})
}
