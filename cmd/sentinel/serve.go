package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dandantas/sentinel/internal/app"
)

var migrateOnStart bool

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", true, "create indexes or tables before serving")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, scheduler and queue consumers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		slog.Info("Starting Sentinel", "version", version, "store", cfg.StoreDriver)

		b, closeBackend, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer closeBackend()

		if migrateOnStart {
			if err := b.Store.Migrate(ctx); err != nil {
				return err
			}
		}

		if err := app.New(cfg, b, version).Run(ctx); err != nil {
			return err
		}
		slog.Info("Sentinel stopped")
		return nil
	},
}
