// Package main is the entry point for the roundtable CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flemzord/roundtable/internal/config"
	"github.com/flemzord/roundtable/internal/core"
	"github.com/flemzord/roundtable/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "roundtable",
		Short:         "Fan a prompt out to several LLM backends and keep project context within budget",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	root.AddCommand(versionCmd(), serveCmd(), askCmd(), optimizeCmd(), configCmd())
	return root
}

// runParams reads the persistent flags shared by every command.
func runParams(cmd *cobra.Command, logs io.Writer) app.RunParams {
	cfgPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")
	return app.RunParams{ConfigPath: cfgPath, LogLevel: level, Version: version, LogOutput: logs}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled backend kinds",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "roundtable %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Fprintln(out, "\nBackend kinds:")
			for _, kind := range core.BackendKinds() {
				fmt.Fprintf(out, "  %s\n", kind)
			}
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, health checks and scheduled optimization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), runParams(cmd, cmd.ErrOrStderr()))
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit, _ := cmd.Flags().GetString("config")
			if len(args) == 1 {
				explicit = args[0]
			}
			cfg, path, err := app.LoadConfig(explicit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK: %s (%d backends, store %s)\n", path, len(cfg.Backends), cfg.Store.Driver)
			for _, b := range cfg.Backends {
				fmt.Fprintf(out, "  %s (%s)\n", b.ID, b.Kind)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "paths",
		Short: "List the locations searched for a configuration file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, p := range config.Candidates() {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
		},
	})
	return cmd
}
