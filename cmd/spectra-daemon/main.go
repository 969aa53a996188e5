// Spectra daemon. Runs on the user's desktop, maintains the control-plane
// connection to the server and launches terminal agents on demand.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spectra-assist/spectra/pkg/config"
	"github.com/spectra-assist/spectra/pkg/daemon"
	"github.com/spectra-assist/spectra/pkg/version"
)

func main() {
	root := &cobra.Command{
		Use:          "spectra-daemon",
		Short:        "Desktop daemon for the spectra assistant",
		SilenceUsage: true,
	}
	root.AddCommand(runCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the server and serve agent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil {
				slog.Warn("Could not load .env file, continuing with existing environment",
					"path", envFile, "error", err)
			}

			cfg, err := config.LoadDaemon()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			slog.Info("Starting spectra daemon",
				"version", version.Full(), "server", cfg.ServerURL)
			return daemon.New(cfg).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to .env file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	}
}
