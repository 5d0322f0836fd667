// Package persist merges download and enrichment outcomes into the record
// store.
package persist

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/examarchive/paperingest/internal/database"
	"github.com/examarchive/paperingest/internal/enrich"
	"github.com/examarchive/paperingest/internal/ingest"
	"github.com/examarchive/paperingest/internal/metrics"
	"github.com/examarchive/paperingest/internal/paper"
)

// Summary counts what a persistence pass did.
type Summary struct {
	Inserted       int
	AlreadyPresent int
	VectorsApplied int
	Failed         int
}

// Persister writes merged outcomes into the record store.
type Persister struct {
	records database.Store
	stats   *metrics.Metrics
	// expectedDims rejects vectors of the wrong length. Zero disables the
	// length check.
	expectedDims int
	logger       *zap.Logger
}

// New constructs a Persister.
func New(records database.Store, stats *metrics.Metrics, expectedDims int, logger *zap.Logger) *Persister {
	return &Persister{
		records:      records,
		stats:        stats,
		expectedDims: expectedDims,
		logger:       logger,
	}
}

// Run inserts a record for every stored paper, pairing it with its vector
// when enrichment produced one. Records that already exist are left alone
// except for vector backfill. Failures are counted, never fatal for the
// rest of the batch.
func (p *Persister) Run(ctx context.Context, stored []ingest.Outcome, embedded []enrich.Outcome) Summary {
	vectors := make(map[string]enrich.Outcome, len(embedded))
	for _, out := range embedded {
		if out.Status == enrich.StatusEmbedded {
			vectors[out.Paper.NaturalKey()] = out
		}
	}

	var summary Summary
	for _, out := range stored {
		if out.Status != ingest.StatusStored {
			continue
		}
		log := p.logger.With(zap.String("paper", out.Paper.NaturalKey()))

		vec, hasVector := vectors[out.Paper.NaturalKey()]
		if hasVector {
			// An invalid vector fails the item outright; it is never coerced
			// into a vectorless row.
			if err := p.validateVector(vec.Vector); err != nil {
				summary.Failed++
				p.stats.PapersFailed.WithLabelValues("persist").Inc()
				log.Error("invalid vector", zap.Error(err))
				continue
			}
		}

		existing, err := p.records.FindByNaturalKey(ctx, out.Paper)
		if err != nil {
			summary.Failed++
			log.Error("record lookup failed", zap.Error(err))
			continue
		}

		if existing != nil {
			summary.AlreadyPresent++
			if hasVector && existing.Vector == nil {
				if err := p.records.UpdateVector(ctx, existing.ID, vec.Vector, vec.Model); err != nil {
					summary.Failed++
					log.Error("vector backfill failed", zap.Error(err))
					continue
				}
				summary.VectorsApplied++
			}
			continue
		}

		record := database.NewRecord(out.Paper, out.StorageURL)
		if hasVector {
			record.Vector = vec.Vector
			record.VectorModel = vec.Model
		}
		if _, err := p.records.Insert(ctx, record); err != nil {
			summary.Failed++
			p.stats.PapersFailed.WithLabelValues("persist").Inc()
			log.Error("record insert failed", zap.Error(err))
			continue
		}
		summary.Inserted++
		if hasVector {
			summary.VectorsApplied++
		}
	}
	return summary
}

// Backfill embeds records that were persisted without a vector and writes
// the vectors back. limit caps how many records are attempted; <= 0 means
// all of them.
func (p *Persister) Backfill(ctx context.Context, enricher *enrich.Enricher, limit int) (Summary, error) {
	records, err := p.records.ListMissingVectors(ctx, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("list records missing vectors: %w", err)
	}
	if len(records) == 0 {
		return Summary{}, nil
	}

	var summary Summary
	outcomes := enricher.Run(ctx, recordsToIdentities(records))
	for i, out := range outcomes {
		if out.Status != enrich.StatusEmbedded {
			if out.Status == enrich.StatusFailed {
				summary.Failed++
			}
			continue
		}
		if err := p.validateVector(out.Vector); err != nil {
			summary.Failed++
			p.logger.Warn("dropping invalid vector",
				zap.String("paper", out.Paper.NaturalKey()), zap.Error(err))
			continue
		}
		if err := p.records.UpdateVector(ctx, records[i].ID, out.Vector, out.Model); err != nil {
			summary.Failed++
			p.logger.Error("vector backfill failed",
				zap.String("paper", out.Paper.NaturalKey()), zap.Error(err))
			continue
		}
		summary.VectorsApplied++
	}
	return summary, nil
}

func (p *Persister) validateVector(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("vector is empty")
	}
	if p.expectedDims > 0 && len(vec) != p.expectedDims {
		return fmt.Errorf("vector has %d dimensions, want %d", len(vec), p.expectedDims)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("vector component %d is not finite", i)
		}
	}
	return nil
}

func recordsToIdentities(records []database.PaperRecord) []paper.Identity {
	out := make([]paper.Identity, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Identity())
	}
	return out
}
