package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snaptexdev/snaptex/client"
	"github.com/snaptexdev/snaptex/internal/render"
	"github.com/snaptexdev/snaptex/internal/sandbox"
)

func renderCmd() *cobra.Command {
	var output string
	var scope string
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "render [text]",
		Short: "Render typeset markup to a PNG image",
		Long: `Render typeset markup to a PNG image.

Reads the input from the argument, or from stdin with --stdin. Uses the
running daemon when one is up, otherwise renders locally.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			switch {
			case fromStdin:
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			case len(args) == 1:
				text = args[0]
			default:
				return fmt.Errorf("provide markup as an argument or use --stdin")
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("nothing to render")
			}

			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			// Prefer the daemon when it is up; it owns the storage lock.
			if pid := readPID(cfg); pid > 0 && isRunning(pid) {
				c := client.New(DaemonURL(cfg), cfg.APIToken)
				img, rerr := c.Render(cmd.Context(), scope, text)
				if rerr != nil {
					var rf *client.RenderFailure
					if errors.As(rerr, &rf) {
						return fmt.Errorf("%s", rf.Message)
					}
					return rerr
				}
				return writeImage(output, img)
			}

			svcCfg := serviceConfig(cfg)
			svcCfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelWarn,
			}))
			svc, err := render.Open(svcCfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Render(cmd.Context(), scope, text)
			if err != nil {
				var le *sandbox.LimitError
				var ie *sandbox.InputError
				switch {
				case errors.As(err, &le):
					return fmt.Errorf("%s", le.Error())
				case errors.As(err, &ie):
					return fmt.Errorf("%s", ie.Msg)
				default:
					return fmt.Errorf("render failed: %w", err)
				}
			}
			return writeImage(output, res.Image)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "render.png", "output PNG path (- for stdout)")
	cmd.Flags().StringVar(&scope, "scope", "", "concurrency scope (defaults to a shared scope)")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read markup from stdin")
	return cmd
}

func writeImage(path string, img []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(img)
		return err
	}
	if err := os.WriteFile(path, img, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  wrote %s (%d bytes)\n", path, len(img))
	return nil
}
