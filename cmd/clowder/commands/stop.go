package commands

import (
	"fmt"

	"github.com/recinq/clowder/internal/clowdererr"
	"github.com/recinq/clowder/internal/store"
	"github.com/spf13/cobra"
)

// NewStopCmd cancels a running or pending pipeline.
func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <pipeline-id>",
		Short: "Cancel a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.GetPipeline(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load pipeline: %w", err)
			}
			if p == nil {
				return fmt.Errorf("pipeline %s: %w", args[0], clowdererr.ErrNotFound)
			}

			if err := s.SetPipelineStatus(cmd.Context(), args[0], store.PipelineStatusCancelled, nil); err != nil {
				return fmt.Errorf("cancel pipeline: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s cancelled\n", args[0])
			return nil
		},
	}
}
