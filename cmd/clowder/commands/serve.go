package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/recinq/clowder/internal/httpapi"
	"github.com/recinq/clowder/internal/scheduler"
	"github.com/spf13/cobra"
)

// NewServeCmd starts the scheduler loop and the HTTP surface together.
func NewServeCmd() *cobra.Command {
	var (
		port     int
		bind     string
		token    string
		interval time.Duration
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP API",
		Long: `Start the pipeline scheduler loop and the HTTP API together.

The scheduler promotes pending pipelines, dispatches ready jobs to
Executors bounded by --workers, and finalizes pipelines once every job
has reached a terminal state. The HTTP API exposes template listing,
pipeline start/stop, and pipeline/job inspection.`,
		Example: `  clowder serve
  clowder serve --port 9090 --workers 4
  clowder serve --bind 0.0.0.0 --token mysecret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			sched := scheduler.New(s, scheduler.Config{Interval: interval, Workers: workers})
			srv := httpapi.New(s, httpapi.Config{Bind: bind, Port: port, Token: token})

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			go sched.Run(ctx)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8000, "Port to listen on")
	cmd.Flags().StringVar(&bind, "bind", "127.0.0.1", "Address to bind to")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token required for non-localhost binding")
	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "Scheduler tick interval")
	cmd.Flags().IntVar(&workers, "workers", 1, "Maximum concurrently executing jobs")

	return cmd
}
