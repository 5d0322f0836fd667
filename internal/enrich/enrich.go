// Package enrich computes embedding vectors for stored papers.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/examarchive/paperingest/internal/metrics"
	"github.com/examarchive/paperingest/internal/paper"
	"github.com/examarchive/paperingest/internal/vectorizer"
)

// Status classifies the per-paper enrichment result.
type Status string

const (
	StatusEmbedded Status = "embedded"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome carries the vector for one paper, or why there is none.
type Outcome struct {
	Paper  paper.Identity
	Vector []float32
	Model  string
	Status Status
	Reason string
	Err    error
}

// Clock reports the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

// Config controls batching and provider pacing.
type Config struct {
	// BatchSize groups requests between longer pauses. Defaults to 10.
	BatchSize int
	// IntraBatchDelay separates consecutive requests inside a batch.
	IntraBatchDelay time.Duration
	// InterBatchDelay separates batches.
	InterBatchDelay time.Duration
	// RequestsPerMinute caps the rolling request rate. Defaults to 60.
	RequestsPerMinute int
	// MaxAttempts bounds retries per paper. Defaults to 3.
	MaxAttempts int
	// RateLimitBaseDelay seeds the exponential backoff after a 429.
	RateLimitBaseDelay time.Duration
	// TransientDelay is the flat wait after other retryable failures.
	TransientDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RateLimitBaseDelay <= 0 {
		c.RateLimitBaseDelay = time.Second
	}
	if c.TransientDelay <= 0 {
		c.TransientDelay = 500 * time.Millisecond
	}
	return c
}

// Enricher paces embedding calls against a provider's rate limits.
type Enricher struct {
	vec    vectorizer.Vectorizer
	model  string
	stats  *metrics.Metrics
	cfg    Config
	logger *zap.Logger
	clk    Clock

	// sleep is swapped out in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error

	recent []time.Time
}

// New constructs an Enricher. model is the tag persisted next to each
// vector.
func New(vec vectorizer.Vectorizer, model string, stats *metrics.Metrics, cfg Config, clk Clock, logger *zap.Logger) *Enricher {
	return &Enricher{
		vec:    vec,
		model:  model,
		stats:  stats,
		cfg:    cfg.withDefaults(),
		logger: logger,
		clk:    clk,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run embeds each indexable paper in order and returns one Outcome per
// input. Question papers and mark schemes are embedded; supporting
// documents are reported as skipped without touching the provider.
func (e *Enricher) Run(ctx context.Context, papers []paper.Identity) []Outcome {
	outcomes := make([]Outcome, len(papers))
	sinceBatchStart := 0

	for i, id := range papers {
		if !id.PaperType.Indexable() {
			e.stats.PapersSkipped.WithLabelValues("not_indexable").Inc()
			outcomes[i] = Outcome{Paper: id, Status: StatusSkipped, Reason: "document type not indexed"}
			continue
		}
		if ctx.Err() != nil {
			outcomes[i] = Outcome{Paper: id, Status: StatusSkipped, Reason: "canceled"}
			continue
		}

		if sinceBatchStart > 0 {
			pause := e.cfg.IntraBatchDelay
			if sinceBatchStart%e.cfg.BatchSize == 0 {
				pause = e.cfg.InterBatchDelay
			}
			if err := e.sleep(ctx, pause); err != nil {
				outcomes[i] = Outcome{Paper: id, Status: StatusSkipped, Reason: "canceled"}
				continue
			}
		}
		sinceBatchStart++

		outcomes[i] = e.embedOne(ctx, id)
	}
	return outcomes
}

func (e *Enricher) embedOne(ctx context.Context, id paper.Identity) Outcome {
	doc := BuildDocument(id)
	log := e.logger.With(zap.String("paper", id.NaturalKey()))

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if err := e.waitForRateWindow(ctx); err != nil {
			return Outcome{Paper: id, Status: StatusSkipped, Reason: "canceled"}
		}

		vec, err := e.vec.Embed(ctx, doc)
		if err == nil {
			if len(vec) != e.vec.Dimensions() {
				e.stats.PapersFailed.WithLabelValues("embed").Inc()
				return Outcome{
					Paper:  id,
					Status: StatusFailed,
					Reason: fmt.Sprintf("vector has %d dimensions, want %d", len(vec), e.vec.Dimensions()),
				}
			}
			e.stats.PapersEmbedded.Inc()
			return Outcome{Paper: id, Vector: vec, Model: e.model, Status: StatusEmbedded}
		}

		lastErr = err
		var invalid *vectorizer.InvalidInputError
		if errors.As(err, &invalid) {
			e.stats.PapersFailed.WithLabelValues("embed").Inc()
			return Outcome{Paper: id, Status: StatusFailed, Reason: "input rejected", Err: err}
		}
		if !vectorizer.Retryable(err) {
			break
		}

		var delay time.Duration
		if errors.Is(err, vectorizer.ErrRateLimited) {
			delay = e.cfg.RateLimitBaseDelay << attempt
			log.Warn("embedding rate limited", zap.Duration("backoff", delay))
		} else {
			delay = e.cfg.TransientDelay
			log.Warn("embedding attempt failed", zap.Error(err), zap.Duration("backoff", delay))
		}
		if err := e.sleep(ctx, delay); err != nil {
			return Outcome{Paper: id, Status: StatusSkipped, Reason: "canceled"}
		}
	}

	e.stats.PapersFailed.WithLabelValues("embed").Inc()
	return Outcome{Paper: id, Status: StatusFailed, Reason: "embedding failed", Err: lastErr}
}

// waitForRateWindow blocks until the rolling one-minute request count is
// below the configured ceiling, then records this request.
func (e *Enricher) waitForRateWindow(ctx context.Context) error {
	for {
		now := e.clk.Now()
		cutoff := now.Add(-time.Minute)
		kept := e.recent[:0]
		for _, t := range e.recent {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		e.recent = kept

		if len(e.recent) < e.cfg.RequestsPerMinute {
			e.recent = append(e.recent, now)
			return nil
		}
		wait := e.recent[0].Add(time.Minute).Sub(now)
		if err := e.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
