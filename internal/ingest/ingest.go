// Package ingest downloads discovered papers into blob storage, skipping
// papers the archive already holds.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/examarchive/paperingest/internal/cache"
	"github.com/examarchive/paperingest/internal/database"
	"github.com/examarchive/paperingest/internal/fetch"
	"github.com/examarchive/paperingest/internal/hash/sha256"
	"github.com/examarchive/paperingest/internal/metrics"
	"github.com/examarchive/paperingest/internal/paper"
	"github.com/examarchive/paperingest/internal/storage"
)

// Status classifies what happened to a single candidate.
type Status string

const (
	StatusStored  Status = "stored"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	// StatusCanceled marks candidates never dispatched because the run was
	// canceled. They were not processed and must be retried next run.
	StatusCanceled Status = "canceled"
)

// Outcome is the per-candidate result of a run.
type Outcome struct {
	Paper      paper.Identity
	Status     Status
	StorageURL string
	Reason     string
	Err        error
}

// Config controls batching and download behavior.
type Config struct {
	// Concurrency is the fixed batch width. Defaults to 5.
	Concurrency int
	// SkipIfExists consults the record store before downloading.
	SkipIfExists bool
	// BatchPause is the politeness delay between batches.
	BatchPause time.Duration
	// MaxPayloadBytes rejects downloads larger than this. Defaults to 50 MiB.
	MaxPayloadBytes int
	// MaxAttempts bounds download retries. Defaults to 3.
	MaxAttempts int
	// RetryBaseDelay seeds the exponential backoff. Defaults to 250ms.
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = 50 << 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	return c
}

// Ingester runs the dedupe-and-download stage.
type Ingester struct {
	downloader fetch.Downloader
	blobs      storage.Provider
	records    database.Store
	downloaded cache.Cache
	stats      *metrics.Metrics
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Ingester. downloaded may be cache.Noop{} when local
// caching is disabled.
func New(
	downloader fetch.Downloader,
	blobs storage.Provider,
	records database.Store,
	downloaded cache.Cache,
	stats *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Ingester {
	return &Ingester{
		downloader: downloader,
		blobs:      blobs,
		records:    records,
		downloaded: downloaded,
		stats:      stats,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Run processes candidates in fixed-width batches and returns one Outcome
// per candidate, in input order. A failed candidate never stops the batch.
// Cancellation finishes the in-flight batch and starts no further ones;
// candidates never reached are reported as skipped.
func (in *Ingester) Run(ctx context.Context, candidates []paper.Identity) []Outcome {
	outcomes := make([]Outcome, len(candidates))

	for start := 0; start < len(candidates); start += in.cfg.Concurrency {
		if ctx.Err() != nil {
			for i := start; i < len(candidates); i++ {
				outcomes[i] = Outcome{Paper: candidates[i], Status: StatusCanceled, Reason: "canceled"}
			}
			return outcomes
		}

		end := start + in.cfg.Concurrency
		if end > len(candidates) {
			end = len(candidates)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				outcomes[idx] = in.processOne(ctx, candidates[idx])
			}(i)
		}
		wg.Wait()

		if end < len(candidates) && in.cfg.BatchPause > 0 {
			select {
			case <-time.After(in.cfg.BatchPause):
			case <-ctx.Done():
			}
		}
	}
	return outcomes
}

func (in *Ingester) processOne(ctx context.Context, id paper.Identity) Outcome {
	log := in.logger.With(zap.String("paper", id.NaturalKey()))

	if err := id.Validate(false); err != nil {
		in.stats.PapersFailed.WithLabelValues("validate").Inc()
		return Outcome{Paper: id, Status: StatusFailed, Reason: "invalid metadata", Err: err}
	}

	if in.cfg.SkipIfExists {
		existing, err := in.records.FindByNaturalKey(ctx, id)
		if err != nil {
			in.stats.PapersFailed.WithLabelValues("dedupe").Inc()
			return Outcome{Paper: id, Status: StatusFailed, Reason: "dedupe check failed", Err: err}
		}
		if existing != nil {
			if err := in.downloaded.Mark(ctx, id.DownloadURL, existing.StorageURL); err != nil {
				log.Warn("download cache update failed", zap.Error(err))
			}
			in.stats.PapersSkipped.WithLabelValues("duplicate").Inc()
			return Outcome{Paper: id, Status: StatusSkipped, Reason: "already archived", StorageURL: existing.StorageURL}
		}
	}

	// The cache can only save the network fetch. The record check above is
	// the sole dedup authority: a cached blob with no record still flows to
	// persistence so the row gets written.
	if cachedURL, ok, err := in.downloaded.Lookup(ctx, id.DownloadURL); err != nil {
		log.Warn("download cache lookup failed", zap.Error(err))
	} else if ok && cachedURL != "" {
		in.stats.PapersStored.Inc()
		log.Info("reusing cached download", zap.String("storage_url", cachedURL))
		return Outcome{Paper: id, Status: StatusStored, StorageURL: cachedURL}
	}

	data, err := in.download(ctx, id.DownloadURL)
	if err != nil {
		in.stats.PapersFailed.WithLabelValues("download").Inc()
		log.Error("download failed", zap.Error(err))
		return Outcome{Paper: id, Status: StatusFailed, Reason: "download failed", Err: err}
	}
	if len(data) == 0 {
		in.stats.PapersFailed.WithLabelValues("download").Inc()
		return Outcome{Paper: id, Status: StatusFailed, Reason: "empty payload"}
	}
	if len(data) > in.cfg.MaxPayloadBytes {
		in.stats.PapersFailed.WithLabelValues("download").Inc()
		return Outcome{
			Paper:  id,
			Status: StatusFailed,
			Reason: fmt.Sprintf("payload exceeds %d bytes", in.cfg.MaxPayloadBytes),
		}
	}

	md := blobMetadata(id)
	md["sha256"] = sha256.Sum(data)
	storageURL, err := in.blobs.Put(ctx, id.StorageKey(), data, "application/pdf", md)
	if err != nil {
		in.stats.PapersFailed.WithLabelValues("store").Inc()
		log.Error("blob store put failed", zap.Error(err))
		return Outcome{Paper: id, Status: StatusFailed, Reason: "blob store put failed", Err: err}
	}

	if err := in.downloaded.Mark(ctx, id.DownloadURL, storageURL); err != nil {
		log.Warn("download cache update failed", zap.Error(err))
	}

	in.stats.PapersStored.Inc()
	in.stats.DownloadBytes.Add(float64(len(data)))
	log.Info("paper stored",
		zap.String("storage_url", storageURL),
		zap.Int("bytes", len(data)),
	)
	return Outcome{Paper: id, Status: StatusStored, StorageURL: storageURL}
}

// download retries transient failures with exponential backoff. Permanent
// HTTP errors and context cancellation end the loop immediately.
func (in *Ingester) download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < in.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(in.backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		data, err := in.downloader.Download(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !fetch.Retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (in *Ingester) backoff(attempt int) time.Duration {
	delay := in.cfg.RetryBaseDelay << (attempt - 1)
	if max := 5 * time.Second; delay > max {
		delay = max
	}
	return delay
}

func blobMetadata(id paper.Identity) map[string]string {
	md := map[string]string{
		"level":        id.Level,
		"subject":      id.Subject,
		"subject_code": id.SubjectCode,
		"year":         fmt.Sprintf("%d", id.Year),
		"session":      id.Session,
		"paper_number": id.PaperNumber,
		"paper_type":   string(id.PaperType),
		"source_url":   id.DownloadURL,
	}
	if id.ExamBoard != "" {
		md["exam_board"] = id.ExamBoard
	}
	return md
}
