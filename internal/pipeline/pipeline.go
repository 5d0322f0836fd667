// Package pipeline chains discovery, download, enrichment and
// persistence into one run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/examarchive/paperingest/internal/discover"
	"github.com/examarchive/paperingest/internal/enrich"
	"github.com/examarchive/paperingest/internal/ingest"
	"github.com/examarchive/paperingest/internal/metrics"
	"github.com/examarchive/paperingest/internal/paper"
	"github.com/examarchive/paperingest/internal/persist"
	"github.com/examarchive/paperingest/internal/progress"
	"github.com/examarchive/paperingest/internal/publisher"
)

// Summary aggregates what one run did.
type Summary struct {
	RunID      uuid.UUID
	SubjectURL string
	Discovered int
	Stored     int
	Skipped    int
	Failed     int
	Embedded   int
	Persisted  persist.Summary
	StartedAt  time.Time
	FinishedAt time.Time
}

// Config controls run-level behavior.
type Config struct {
	// Topic names the bus topic for run-completion events. Empty disables
	// publishing.
	Topic string
}

// Pipeline owns the stage components for a run. The enricher and
// publisher are optional; the marker is optional and enables resume.
type Pipeline struct {
	discoverer *discover.Discoverer
	ingester   *ingest.Ingester
	enricher   *enrich.Enricher
	persister  *persist.Persister
	pub        publisher.Publisher
	reporter   progress.Reporter
	marker     *progress.Marker
	stats      *metrics.Metrics
	cfg        Config
	logger     *zap.Logger
}

// New wires a Pipeline from its stage components.
func New(
	discoverer *discover.Discoverer,
	ingester *ingest.Ingester,
	enricher *enrich.Enricher,
	persister *persist.Persister,
	pub publisher.Publisher,
	reporter progress.Reporter,
	marker *progress.Marker,
	stats *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if reporter == nil {
		reporter = progress.NopReporter{}
	}
	return &Pipeline{
		discoverer: discoverer,
		ingester:   ingester,
		enricher:   enricher,
		persister:  persister,
		pub:        pub,
		reporter:   reporter,
		marker:     marker,
		stats:      stats,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes the stages in order for one subject page. Discovery
// failure is fatal; every later stage degrades per paper instead of
// aborting the run.
func (p *Pipeline) Run(ctx context.Context, subjectURL string) (Summary, error) {
	summary := Summary{
		RunID:      uuid.New(),
		SubjectURL: subjectURL,
		StartedAt:  time.Now().UTC(),
	}
	log := p.logger.With(
		zap.String("run_id", summary.RunID.String()),
		zap.String("subject_url", subjectURL),
	)
	log.Info("pipeline run starting")

	results, err := p.discoverer.Discover(ctx, subjectURL)
	if err != nil {
		return summary, fmt.Errorf("discover papers: %w", err)
	}
	summary.Discovered = len(results)
	p.stats.PapersDiscovered.Add(float64(len(results)))
	p.report(summary.RunID, progress.StageDiscover, len(results), len(results), "")

	candidates := p.filterProcessed(results)
	if skipped := len(results) - len(candidates); skipped > 0 {
		log.Info("resuming run, skipping processed papers", zap.Int("skipped", skipped))
		summary.Skipped += skipped
	}

	outcomes := p.ingester.Run(ctx, candidates)
	for _, out := range outcomes {
		switch out.Status {
		case ingest.StatusStored:
			summary.Stored++
		case ingest.StatusSkipped, ingest.StatusCanceled:
			summary.Skipped++
		case ingest.StatusFailed:
			summary.Failed++
		}
	}
	p.report(summary.RunID, progress.StageIngest, len(outcomes), len(candidates), "")

	var embedded []enrich.Outcome
	if p.enricher != nil {
		embedded = p.enricher.Run(ctx, storedPapers(outcomes))
		for _, out := range embedded {
			if out.Status == enrich.StatusEmbedded {
				summary.Embedded++
			}
		}
		p.report(summary.RunID, progress.StageEnrich, len(embedded), summary.Stored, "")
	}

	summary.Persisted = p.persister.Run(ctx, outcomes, embedded)
	summary.Failed += summary.Persisted.Failed
	p.report(summary.RunID, progress.StagePersist, summary.Persisted.Inserted+summary.Persisted.AlreadyPresent, summary.Stored, "")

	p.markProcessed(outcomes)

	summary.FinishedAt = time.Now().UTC()
	p.publishCompletion(ctx, summary)
	log.Info("pipeline run finished",
		zap.Int("discovered", summary.Discovered),
		zap.Int("stored", summary.Stored),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("embedded", summary.Embedded),
	)
	return summary, ctx.Err()
}

// filterProcessed drops candidates the resume marker already recorded.
func (p *Pipeline) filterProcessed(results []discover.Result) []paper.Identity {
	candidates := make([]paper.Identity, 0, len(results))
	for _, res := range results {
		if p.marker != nil && p.marker.Contains(res.Metadata.NaturalKey()) {
			continue
		}
		candidates = append(candidates, res.Metadata)
	}
	return candidates
}

// markProcessed records papers that reached a terminal success state, so
// a rerun will not touch them again. Failures and candidates the run never
// dispatched (cancellation) stay unmarked and are retried next run.
func (p *Pipeline) markProcessed(outcomes []ingest.Outcome) {
	if p.marker == nil {
		return
	}
	for _, out := range outcomes {
		if out.Status != ingest.StatusStored && out.Status != ingest.StatusSkipped {
			continue
		}
		if err := p.marker.Add(out.Paper.NaturalKey()); err != nil {
			p.logger.Warn("progress marker write failed",
				zap.String("paper", out.Paper.NaturalKey()), zap.Error(err))
			return
		}
	}
}

func (p *Pipeline) publishCompletion(ctx context.Context, summary Summary) {
	if p.pub == nil || p.cfg.Topic == "" {
		return
	}
	payload := publisher.RunCompleted{
		RunID:      summary.RunID.String(),
		SubjectURL: summary.SubjectURL,
		Discovered: summary.Discovered,
		Stored:     summary.Stored,
		Skipped:    summary.Skipped,
		Failed:     summary.Failed,
		Embedded:   summary.Embedded,
		FinishedAt: summary.FinishedAt.Format(time.RFC3339),
	}
	if _, err := p.pub.Publish(ctx, p.cfg.Topic, payload); err != nil {
		p.logger.Warn("run completion publish failed", zap.Error(err))
	}
}

func (p *Pipeline) report(runID uuid.UUID, stage progress.Stage, done, total int, note string) {
	p.reporter.Report(progress.Event{
		RunID: runID,
		Stage: stage,
		Done:  done,
		Total: total,
		TS:    time.Now().UTC(),
		Note:  note,
	})
}

func storedPapers(outcomes []ingest.Outcome) []paper.Identity {
	papers := make([]paper.Identity, 0, len(outcomes))
	for _, out := range outcomes {
		if out.Status == ingest.StatusStored {
			papers = append(papers, out.Paper)
		}
	}
	return papers
}
