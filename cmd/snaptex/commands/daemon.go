package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snaptexdev/snaptex/client"
	"github.com/snaptexdev/snaptex/internal/daemon"
	"github.com/snaptexdev/snaptex/internal/render"
	"github.com/snaptexdev/snaptex/internal/sandbox"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize snaptex config and storage directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := DefaultConfig()
			if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
				return fmt.Errorf("create base dir: %w", err)
			}
			if err := os.MkdirAll(filepath.Join(cfg.BaseDir, "renders"), 0755); err != nil {
				return fmt.Errorf("create render dir: %w", err)
			}
			if err := SaveConfig(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("  snaptex initialized\n")
			fmt.Printf("  storage: %s\n", cfg.BaseDir)
			fmt.Printf("  config:  %s\n\n", ConfigPath())
			if !sandbox.Supported() {
				fmt.Printf("  NOTE: OS resource limits unavailable on this host.\n")
				fmt.Printf("  Rendering stays disabled unless allow_unsandboxed is set.\n\n")
			}
			fmt.Printf("  Next: snaptex up\n")
			return nil
		},
	}
}

func upCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the snaptex daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			// Check if already running
			if pid := readPID(cfg); pid > 0 {
				if isRunning(pid) {
					fmt.Printf("  snaptex daemon already running (pid %d)\n", pid)
					fmt.Printf("  url: %s\n", DaemonURL(cfg))
					return nil
				}
			}

			// Determine port, handle conflicts
			port := cfg.Port
			for i := 0; i < 10; i++ {
				if !portInUse(port) {
					break
				}
				port++
			}
			cfg.Port = port

			// Start daemon in background
			self, err := os.Executable()
			if err != nil {
				self = os.Args[0]
			}

			logPath := filepath.Join(cfg.BaseDir, "daemon.log")

			daemonCmd := exec.Command(self, "daemon-run",
				"--port", strconv.Itoa(port),
				"--base-dir", cfg.BaseDir,
			)
			daemonCmd.Stdout, _ = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			daemonCmd.Stderr = daemonCmd.Stdout

			if err := daemonCmd.Start(); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			writePID(cfg, daemonCmd.Process.Pid)

			url := DaemonURL(cfg)
			if !waitForDaemon(url, 10*time.Second) {
				return fmt.Errorf("daemon did not start within 10s — check %s", logPath)
			}

			fmt.Printf("  snaptex daemon started\n")
			fmt.Printf("  url:     %s\n", url)
			fmt.Printf("  pid:     %d\n", daemonCmd.Process.Pid)
			fmt.Printf("  storage: %s\n", cfg.BaseDir)
			fmt.Printf("  log:     %s\n\n", logPath)
			fmt.Printf("  snaptex render 'x = 1'  # render once\n")
			fmt.Printf("  snaptex down            # stop the daemon\n")
			return nil
		},
	}
	return cmd
}

// DaemonRunCmd is the internal command that actually runs the daemon (not
// exposed to users).
func DaemonRunCmd() *cobra.Command {
	var port int
	var baseDir string

	cmd := &cobra.Command{
		Use:    "daemon-run",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				cfg = DefaultConfig()
			}
			if port > 0 {
				cfg.Port = port
			}
			if baseDir != "" {
				cfg.BaseDir = baseDir
			}

			log := slog.New(slog.NewTextHandler(os.Stderr, nil))

			svcCfg := serviceConfig(cfg)
			svcCfg.Logger = log
			svc, err := render.Open(svcCfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			srv := daemon.New(svc, daemon.Config{
				APIToken: cfg.APIToken,
				Version:  Version,
				Logger:   log,
			})

			addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
			httpSrv := &http.Server{
				Addr:    addr,
				Handler: srv,
			}

			// Graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpSrv.Shutdown(shutCtx)
			}()

			log.Info("snaptex daemon listening", "addr", addr, "strategy", svc.StrategyName())
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", DefaultPort, "port to listen on")
	cmd.Flags().StringVar(&baseDir, "base-dir", "", "base directory for storage")
	return cmd
}

func downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop the snaptex daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			pid := readPID(cfg)
			if pid <= 0 {
				fmt.Println("  snaptex daemon is not running")
				return nil
			}

			proc, err := os.FindProcess(pid)
			if err != nil {
				fmt.Println("  snaptex daemon is not running")
				clearPID(cfg)
				return nil
			}

			if err := proc.Signal(syscall.SIGTERM); err != nil {
				fmt.Printf("  failed to stop daemon (pid %d): %v\n", pid, err)
				return nil
			}

			clearPID(cfg)
			fmt.Printf("  snaptex daemon stopped (pid %d)\n", pid)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, version, and storage info",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("  snaptex status\n\n")
			fmt.Printf("  %-16s %s\n", "version", Version)
			fmt.Printf("  %-16s %s\n", "storage", cfg.BaseDir)
			fmt.Printf("  %-16s %s\n", "url", DaemonURL(cfg))
			fmt.Printf("  %-16s %d\n", "port", cfg.Port)
			fmt.Printf("  %-16s %ds cpu / %d bytes memory\n", "limits",
				cfg.CPULimitSeconds, cfg.MemoryLimitBytes)

			pid := readPID(cfg)
			if pid > 0 && isRunning(pid) {
				fmt.Printf("  %-16s running (pid %d)\n", "daemon", pid)
			} else {
				fmt.Printf("  %-16s stopped\n", "daemon")
			}

			c := client.New(DaemonURL(cfg), cfg.APIToken)
			if err := c.Health(cmd.Context()); err != nil {
				fmt.Printf("  %-16s unreachable\n", "health")
			} else {
				fmt.Printf("  %-16s ok\n", "health")
			}

			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("snaptex version %s\n", Version)
			fmt.Printf("built for %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func writePID(cfg *Config, pid int) {
	os.WriteFile(PIDFile(cfg), []byte(strconv.Itoa(pid)), 0644)
}

func readPID(cfg *Config) int {
	data, err := os.ReadFile(PIDFile(cfg))
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

func clearPID(cfg *Config) {
	os.Remove(PIDFile(cfg))
}

func isRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

func portInUse(port int) bool {
	addr := fmt.Sprintf("localhost:%d", port)
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func waitForDaemon(url string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	c := &http.Client{Timeout: 500 * time.Millisecond}
	for time.Now().Before(deadline) {
		resp, err := c.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}
