package commands

import (
	"fmt"

	"github.com/recinq/clowder/internal/seed"
	"github.com/spf13/cobra"
)

// NewSeedCmd loads a YAML template definition file into the store.
func NewSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <template.yaml>",
		Short: "Load a template definition file into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			doc, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := seed.Apply(cmd.Context(), s, doc); err != nil {
				return fmt.Errorf("apply template %s: %w", doc.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded template %s (%s)\n", doc.ID, doc.Name)
			return nil
		},
	}
}
