package commands

import (
	"fmt"

	"github.com/recinq/clowder/internal/instantiate"
	"github.com/recinq/clowder/internal/tui"
	"github.com/spf13/cobra"
)

// NewStartCmd instantiates a template into a new pipeline.
func NewStartCmd() *cobra.Command {
	var (
		workspacePath string
		interactive   bool
	)

	cmd := &cobra.Command{
		Use:   "start [template-id] [prompt]",
		Short: "Instantiate a template into a new pending pipeline",
		Long: `Instantiate a template into a new pipeline, ready for the scheduler
to pick up on its next tick. The prompt is substituted for
{{original_prompt}} in every job's prompt template.

With --interactive, template-id and prompt are omitted and picked from a
form instead.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if interactive {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			templateID, prompt := "", ""
			if interactive {
				sel, err := tui.PickTemplate(cmd.Context(), s)
				if err != nil {
					return fmt.Errorf("pick template: %w", err)
				}
				templateID, prompt = sel.TemplateID, sel.Prompt
			} else {
				templateID, prompt = args[0], args[1]
			}

			pipelineID, err := instantiate.Instantiate(cmd.Context(), s, instantiate.Request{
				TemplateID:     templateID,
				OriginalPrompt: prompt,
				WorkspacePath:  workspacePath,
			})
			if err != nil {
				return fmt.Errorf("start pipeline: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), pipelineID)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspacePath, "workspace", ".", "Workspace directory jobs in this pipeline run against")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Pick the template and prompt from an interactive form")
	return cmd
}
