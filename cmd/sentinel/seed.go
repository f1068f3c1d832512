package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/dandantas/sentinel/internal/seed"
)

var seedFile string

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML file of monitors, channels and policies")
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load monitors, channels and policies from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedFile == "" {
			return errors.New("--file is required")
		}
		f, err := seed.LoadFile(seedFile)
		if err != nil {
			return err
		}

		b, closeBackend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer closeBackend()

		sum, err := seed.Apply(cmd.Context(), b.Store, f)
		if err != nil {
			return err
		}
		printf(cmd, "seeded %d monitors, %d channels, %d policies\n", sum.Monitors, sum.Channels, sum.Policies)
		return nil
	},
}
