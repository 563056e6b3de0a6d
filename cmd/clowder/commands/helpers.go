package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/recinq/clowder/internal/store"
	"github.com/spf13/cobra"
)

func dbPath(cmd *cobra.Command) string {
	p, err := cmd.Flags().GetString("db")
	if err != nil || p == "" {
		return ".clowder/state.db"
	}
	return p
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	p := dbPath(cmd)
	if dir := filepath.Dir(p); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory %s: %w", dir, err)
		}
	}
	return store.Open(p)
}
