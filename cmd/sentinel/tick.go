package main

import (
	"github.com/spf13/cobra"

	"github.com/dandantas/sentinel/internal/app"
	"github.com/dandantas/sentinel/internal/metrics"
)

func init() {
	rootCmd.AddCommand(tickCmd)
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler tick and exit",
	Long: `Claim every due monitor once and publish its check job. Intended for
external cron triggers when SCHEDULER_ENABLED=false on the serving
processes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, closeBackend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer closeBackend()

		stats := app.NewScheduler(cfg, b, metrics.Default).Tick(cmd.Context())
		printf(cmd, "listed=%d claimed=%d published=%d lost_race=%d failed=%d batches=%d\n",
			stats.Listed, stats.Claimed, stats.Published, stats.LostRace, stats.Failed, stats.Batches)
		return nil
	},
}
