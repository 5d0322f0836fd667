package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/examarchive/paperingest/internal/app"
	"github.com/examarchive/paperingest/internal/progress"
)

// newIngestCmd creates the 'ingest' subcommand: a one-shot pipeline run
// against a single subject page.
func newIngestCmd() *cobra.Command {
	var (
		startYear   int
		endYear     int
		concurrency int
		embeddings  bool
		markerPath  string
	)

	cmd := &cobra.Command{
		Use:   "ingest <subject-url>",
		Short: "Runs one discover/download/index pass over a subject page",
		Long: `Walks the given subject page (and its year folders), downloads every
past-paper PDF not already archived and records it in the database. With
--marker the run is resumable: papers noted in the marker file are skipped
on the next invocation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if markerPath == "" {
				markerPath = a.Cfg.Pipeline.MarkerPath
			}
			var marker *progress.Marker
			if markerPath != "" {
				marker, err = progress.OpenMarker(markerPath)
				if err != nil {
					return err
				}
				defer func() {
					if cerr := marker.Close(); cerr != nil {
						a.Logger.Warn("closing progress marker", zap.Error(cerr))
					}
				}()
			}

			p := a.NewPipeline(app.RunOptions{
				StartYear:         startYear,
				EndYear:           endYear,
				Concurrency:       concurrency,
				DisableEmbeddings: !embeddings,
				Reporter:          progress.NewLogReporter(a.Logger),
				Marker:            marker,
			})
			summary, err := p.Run(ctx, args[0])
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run pipeline: %w", err)
			}

			a.Logger.Info("ingest finished",
				zap.Int("discovered", summary.Discovered),
				zap.Int("stored", summary.Stored),
				zap.Int("skipped", summary.Skipped),
				zap.Int("failed", summary.Failed),
				zap.Int("embedded", summary.Embedded),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&startYear, "start-year", 0, "newest year to include (0 = config default)")
	cmd.Flags().IntVar(&endYear, "end-year", 0, "oldest year to include (0 = config default)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel downloads per batch (0 = config default)")
	cmd.Flags().BoolVar(&embeddings, "embeddings", true, "compute embedding vectors (requires embedding config)")
	cmd.Flags().StringVar(&markerPath, "marker", "", "progress marker file for resumable runs")

	return cmd
}
