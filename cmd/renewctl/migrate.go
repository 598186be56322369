package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fieldflow/db"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				names, err := db.Migrations()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Dry run - no changes made")
				return nil
			}

			e, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			applied, err := db.Migrate(cmd.Context(), e.pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", len(applied))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the migrations without applying them")
	return cmd
}
