// Command ddsim generates dislocation networks, runs dislocation dynamics on
// them and reports network statistics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ddsim: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ddsim",
		Short:         "Discrete dislocation dynamics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newGenerateCmd(), newStatsCmd())
	return root
}
