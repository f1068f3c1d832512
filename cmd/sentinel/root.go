package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dandantas/sentinel/internal/app"
	"github.com/dandantas/sentinel/internal/config"
)

const version = "1.0.0"

var (
	cfg         *config.Config
	storeDriver string
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Distributed check scheduling and incident correlation",
	Long: `Sentinel probes endpoints on behalf of many teams, tracks each
monitor's health, opens and resolves incidents, and notifies the
configured channels exactly once per transition.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if storeDriver != "" {
			cfg.StoreDriver = storeDriver
		}
		config.InitLogger(cfg)
		return cfg.Validate()
	},
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "store driver: mongo, postgres or memory (overrides STORE_DRIVER)")
}

// openBackend connects to the configured store; callers close it
func openBackend(ctx context.Context) (*app.Backend, func(), error) {
	b, err := app.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := b.Close(context.Background()); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}
	return b, closeFn, nil
}

func printf(cmd *cobra.Command, format string, a ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, a...)
}
