package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/snaptexdev/snaptex/internal/render"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the render cache",
	}
	cmd.AddCommand(cacheStatsCmd())
	cmd.AddCommand(cachePurgeCmd())
	return cmd
}

func cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show render cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openLocalService()
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.CacheStats()
			if err != nil {
				return err
			}
			fmt.Printf("  render cache\n\n")
			fmt.Printf("  %-12s %d\n", "entries", stats.Entries)
			fmt.Printf("  %-12s %d bytes\n", "size", stats.TotalBytes)
			fmt.Printf("  %-12s %d\n", "hits", stats.TotalHits)
			return nil
		},
	}
}

func cachePurgeCmd() *cobra.Command {
	var maxAgeHours int
	var maxBytes int64

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Evict old and excess render cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			if maxAgeHours == 0 {
				maxAgeHours = cfg.CacheMaxAgeHours
			}
			if maxBytes == 0 {
				maxBytes = cfg.CacheMaxBytes
			}

			svc, err := openLocalService()
			if err != nil {
				return err
			}
			defer svc.Close()

			removed, err := svc.PurgeCache(time.Duration(maxAgeHours)*time.Hour, maxBytes)
			if err != nil {
				return err
			}
			fmt.Printf("  purged %d cache entries\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeHours, "max-age-hours", 0, "evict entries older than this (0 uses config)")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "evict least-used entries above this total size (0 uses config)")
	return cmd
}

func openLocalService() (*render.Service, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if pid := readPID(cfg); pid > 0 && isRunning(pid) {
		return nil, fmt.Errorf("daemon is running (pid %d) — stop it first with: snaptex down", pid)
	}
	svcCfg := serviceConfig(cfg)
	svcCfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	return render.Open(svcCfg)
}
