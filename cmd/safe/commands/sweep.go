package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perdedora/safe/pkg/cleanup"
	"github.com/perdedora/safe/pkg/paths"
	"github.com/perdedora/safe/pkg/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired uploads once and exit",
	Long: `Run a single retention sweep: every upload past its expiry is removed
from the database and from disk. Useful from cron when the built-in
sweeper is disabled.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	p := paths.New(cfg.Paths.UploadsRoot, cfg.Paths.ErrorPages)
	deleter := cleanup.NewDeleter(st, p)
	sweeper := cleanup.NewSweeper(st, deleter, 0)

	removed, err := sweeper.Sweep(context.Background())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	fmt.Printf("swept %d expired upload(s)\n", removed)
	return nil
}
