package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCmd applies pending schema migrations and reports the result.
// Store.Open already migrates to the latest version on every open, so this
// command is mainly useful for pre-warming a fresh database file and for
// operators who want migration output decoupled from `serve`.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", dbPath(cmd))
			return nil
		},
	}
}
