package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snaptexdev/snaptex/internal/render"
	"github.com/snaptexdev/snaptex/internal/sandbox"
	"github.com/snaptexdev/snaptex/internal/texmath"
)

// workerCmd is the disposable render process. It applies OS resource limits
// to itself before doing any work, renders exactly one input, and reports
// the outcome through its exit code: 0 success, 1 limit or input violation,
// 2 or higher internal failure. Diagnostics go to stdout so the parent can
// classify the outcome.
func workerCmd() *cobra.Command {
	var cpuSeconds int
	var memoryBytes int64

	cmd := &cobra.Command{
		Use:    "worker <text> <output-path>",
		Hidden: true,
		Args:   cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			text, outPath := args[0], args[1]

			limits := sandbox.Limits{
				CPUSeconds:  cpuSeconds,
				MemoryBytes: memoryBytes,
			}

			r, err := texmath.NewRenderer(texmath.DefaultStyle())
			if err != nil {
				fmt.Fprintf(os.Stdout, "renderer setup failed: %v", err)
				os.Exit(2)
			}

			img, err := sandbox.Execute(limits, func(b *sandbox.Budget) ([]byte, error) {
				return r.Render(text, b)
			})
			if err != nil {
				diag, code := sandbox.Describe(err)
				fmt.Fprint(os.Stdout, diag)
				os.Exit(code)
			}

			if err := os.WriteFile(outPath, img, 0644); err != nil {
				fmt.Fprintf(os.Stdout, "write output: %v", err)
				os.Exit(2)
			}
		},
	}
	cmd.Flags().IntVar(&cpuSeconds, "cpu-seconds", render.DefaultCPUSeconds, "CPU time limit in seconds")
	cmd.Flags().Int64Var(&memoryBytes, "memory-bytes", render.DefaultMemoryBytes, "address space limit in bytes")
	return cmd
}
