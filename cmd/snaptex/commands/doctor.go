package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/snaptexdev/snaptex/client"
	"github.com/snaptexdev/snaptex/internal/sandbox"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check snaptex installation health",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("  snaptex doctor\n\n")

			ok := true
			check := func(name string, pass bool, detail string) {
				status := "PASS"
				if !pass {
					status = "FAIL"
					ok = false
				}
				fmt.Printf("  [%s] %-24s %s\n", status, name, detail)
			}

			cfg, err := LoadConfig()
			if err != nil {
				check("config", false, fmt.Sprintf("%v — run: snaptex init", err))
				return nil
			}
			check("config", true, ConfigPath())

			// Storage writable
			probe := filepath.Join(cfg.BaseDir, ".doctor-probe")
			if werr := os.WriteFile(probe, []byte("ok"), 0644); werr != nil {
				check("storage", false, fmt.Sprintf("%s not writable: %v", cfg.BaseDir, werr))
			} else {
				os.Remove(probe)
				check("storage", true, cfg.BaseDir)
			}

			// Sandbox capability
			if sandbox.Supported() {
				check("resource limits", true, "OS rlimit enforcement available")
			} else if cfg.AllowUnsandboxed {
				check("resource limits", true, "unavailable — degraded in-process mode allowed")
			} else {
				check("resource limits", false, "unavailable and allow_unsandboxed is off — rendering disabled")
			}

			// Daemon
			pid := readPID(cfg)
			if pid > 0 && isRunning(pid) {
				check("daemon", true, fmt.Sprintf("running (pid %d)", pid))

				c := client.New(DaemonURL(cfg), cfg.APIToken)
				if herr := c.Health(cmd.Context()); herr != nil {
					check("health", false, fmt.Sprintf("%s unreachable", DaemonURL(cfg)))
				} else {
					check("health", true, DaemonURL(cfg))
				}
			} else {
				check("daemon", true, "not running — start with: snaptex up")
			}

			fmt.Println()
			if ok {
				fmt.Println("  All checks passed.")
			} else {
				fmt.Println("  Some checks failed — see above.")
			}
			return nil
		},
	}
}
