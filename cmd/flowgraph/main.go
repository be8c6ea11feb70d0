package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootFlags struct {
	verbose bool
	jsonLog bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "flowgraph",
		Short: "Validate, plan and run directed-graph workflows",
		Long: "flowgraph executes workflow graphs of registered node types.\n" +
			"Cyclic regions run iteratively until an exit condition or iteration bound.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	pf := root.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVar(&flags.jsonLog, "json-log", false, "Write logs as JSON")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newValidateCmd(flags))
	root.AddCommand(newPlanCmd(flags))
	root.AddCommand(newTypesCmd(flags))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
