package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/snaptexdev/snaptex/client"
)

func tailCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent render events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			if pid := readPID(cfg); pid > 0 && isRunning(pid) {
				c := client.New(DaemonURL(cfg), cfg.APIToken)
				evs, err := c.Events(cmd.Context(), limit)
				if err != nil {
					return err
				}
				for _, ev := range evs {
					printEvent(ev.Timestamp, ev.Type, ev.Scope, ev.Key, ev.Detail, ev.Duration)
				}
				if len(evs) == 0 {
					fmt.Println("  no events yet")
				}
				return nil
			}

			svc, err := openLocalService()
			if err != nil {
				return err
			}
			defer svc.Close()

			evs, err := svc.RecentEvents(limit)
			if err != nil {
				return err
			}
			for _, ev := range evs {
				printEvent(ev.Timestamp, string(ev.Type), ev.Scope, ev.Key, ev.Detail, ev.Duration)
			}
			if len(evs) == 0 {
				fmt.Println("  no events yet")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	return cmd
}

func printEvent(ts time.Time, etype, scope, key, detail string, dur time.Duration) {
	line := fmt.Sprintf("  %s  %-18s scope=%s", ts.Local().Format("15:04:05"), etype, scope)
	if key != "" {
		line += " key=" + key[:8]
	}
	if dur > 0 {
		line += fmt.Sprintf(" %s", dur.Round(time.Millisecond))
	}
	if detail != "" {
		line += "  " + detail
	}
	fmt.Println(line)
}
