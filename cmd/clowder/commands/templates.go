package commands

import (
	"encoding/json"
	"fmt"

	"github.com/recinq/clowder/internal/clowdererr"
	"github.com/spf13/cobra"
)

// NewTemplatesCmd groups template inspection subcommands.
func NewTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect pipeline templates",
	}
	cmd.AddCommand(newTemplatesListCmd())
	cmd.AddCommand(newTemplatesShowCmd())
	return cmd
}

func newTemplatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known template IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ids, err := s.ListTemplateIDs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list templates: %w", err)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newTemplatesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show a template's stages, jobs, and dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			detail, err := s.LoadTemplate(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load template: %w", err)
			}
			if detail == nil {
				return fmt.Errorf("template %s: %w", args[0], clowdererr.ErrNotFound)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(detail)
		},
	}
}
