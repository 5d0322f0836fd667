package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newBackfillCmd creates the 'backfill' subcommand: embeds vectors for
// already-archived papers that were stored without one.
func newBackfillCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Computes embedding vectors for papers archived without one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			enricher := a.NewEnricher()
			if enricher == nil {
				return errors.New("embedding is disabled; enable it in the config to backfill")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := a.NewPersister().Backfill(ctx, enricher, limit)
			if err != nil {
				return fmt.Errorf("backfill vectors: %w", err)
			}
			a.Logger.Info("backfill finished",
				zap.Int("vectors_applied", summary.VectorsApplied),
				zap.Int("failed", summary.Failed),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum papers to backfill (0 = all)")
	return cmd
}
