package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the indexes or tables for the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, closeBackend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer closeBackend()

		if err := b.Store.Migrate(cmd.Context()); err != nil {
			return err
		}
		printf(cmd, "%s store migrated\n", b.Driver)
		return nil
	},
}
