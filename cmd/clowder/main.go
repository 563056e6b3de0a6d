package main

import (
	"fmt"
	"os"

	"github.com/recinq/clowder/cmd/clowder/commands"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "clowder",
	Short: "Clowder pipeline orchestrator",
	Long: `
  ╔═╗╦  ╔═╗╦ ╦╔╦╗╔═╗╦═╗
  ║  ║  ║ ║║║║ ║║║╣ ╠╦╝
  ╚═╝╩═╝╚═╝╚╩╝═╩╝╚═╝╩╚═
  Pipeline orchestrator for multi-step LLM agent workflows

  Clowder runs declarative pipeline templates as DAGs of jobs, executing
  each job as a subprocess and scheduling them against their dependency
  graph.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

func init() {
	rootCmd.SetVersionTemplate("clowder version {{.Version}}\n")

	rootCmd.PersistentFlags().StringP("db", "d", ".clowder/state.db", "Path to the sqlite state database")

	rootCmd.AddCommand(commands.NewServeCmd())
	rootCmd.AddCommand(commands.NewMigrateCmd())
	rootCmd.AddCommand(commands.NewTemplatesCmd())
	rootCmd.AddCommand(commands.NewStartCmd())
	rootCmd.AddCommand(commands.NewStopCmd())
	rootCmd.AddCommand(commands.NewListCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewSeedCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
