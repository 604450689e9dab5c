package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd *cobra.Command

func Root() *cobra.Command {
	if rootCmd != nil {
		return rootCmd
	}

	rootCmd = &cobra.Command{
		Use:   "snaptex",
		Short: "snaptex — sandboxed typeset-markup rendering with a content cache",
		Long: `snaptex renders LaTeX-like markup to PNG images inside disposable,
resource-limited worker processes. Results are cached by content hash, so
identical input is rendered exactly once.

Quick start:
  snaptex init            Initialize config and storage
  snaptex render 'x = 1'  Render once from the command line
  snaptex up              Start the render daemon
  snaptex cache stats     Inspect the render cache`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Register all subcommands
	rootCmd.AddCommand(
		versionCmd(),
		initCmd(),
		upCmd(),
		downCmd(),
		statusCmd(),
		doctorCmd(),
		renderCmd(),
		cacheCmd(),
		tailCmd(),
		workerCmd(),
		DaemonRunCmd(),
	)

	return rootCmd
}
