// Package app initializes and holds the long-lived service dependencies
// and wires pipelines from them.
package app

import (
	"context"
	"fmt"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/examarchive/paperingest/internal/api"
	"github.com/examarchive/paperingest/internal/cache"
	clocksystem "github.com/examarchive/paperingest/internal/clock/system"
	"github.com/examarchive/paperingest/internal/config"
	"github.com/examarchive/paperingest/internal/database"
	dbmemory "github.com/examarchive/paperingest/internal/database/memory"
	"github.com/examarchive/paperingest/internal/database/postgres"
	"github.com/examarchive/paperingest/internal/discover"
	"github.com/examarchive/paperingest/internal/enrich"
	"github.com/examarchive/paperingest/internal/fetch"
	collyfetch "github.com/examarchive/paperingest/internal/fetch/colly"
	"github.com/examarchive/paperingest/internal/fetch/headless"
	"github.com/examarchive/paperingest/internal/ingest"
	"github.com/examarchive/paperingest/internal/logging"
	"github.com/examarchive/paperingest/internal/metrics"
	"github.com/examarchive/paperingest/internal/persist"
	"github.com/examarchive/paperingest/internal/pipeline"
	"github.com/examarchive/paperingest/internal/progress"
	"github.com/examarchive/paperingest/internal/publisher"
	pubpubsub "github.com/examarchive/paperingest/internal/publisher/pubsub"
	"github.com/examarchive/paperingest/internal/storage"
	"github.com/examarchive/paperingest/internal/storage/gcs"
	"github.com/examarchive/paperingest/internal/storage/local"
	blobmemory "github.com/examarchive/paperingest/internal/storage/memory"
	"github.com/examarchive/paperingest/internal/vectorizer"
	"github.com/examarchive/paperingest/internal/vectorizer/openai"
)

// App holds the shared long-lived services, built once at startup.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger
	Stats  *metrics.Metrics

	Blobs      storage.Provider
	Records    database.Store
	Downloaded cache.Cache
	Publisher  publisher.Publisher
	Vectorizer vectorizer.Vectorizer

	fetcher    *collyfetch.Fetcher
	pageSource fetch.Fetcher
	headless   *headless.Fetcher
	pubClient  *pubsubv2.Client
}

// New builds the service container. Any dependency that cannot be
// initialized fails startup.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{
		Cfg:    cfg,
		Logger: logger,
		Stats:  metrics.New(),
	}

	a.fetcher = collyfetch.New(collyfetch.Config{
		UserAgent: cfg.Scrape.UserAgent,
		Timeout:   cfg.ScrapeTimeout(),
		HostRPS:   cfg.Scrape.HostRPS,
	}, logger)
	a.pageSource = a.fetcher

	if cfg.Headless.Enabled {
		hl, err := headless.New(headless.Config{
			UserAgent:         cfg.Scrape.UserAgent,
			NavigationTimeout: cfg.ScrapeTimeout(),
			MaxParallel:       cfg.Headless.MaxParallel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.headless = hl
		a.pageSource = fetch.NewFallbackFetcher(a.fetcher, hl, logger)
	}

	if err := a.initBlobs(ctx); err != nil {
		return nil, err
	}
	if err := a.initRecords(ctx); err != nil {
		return nil, err
	}
	if err := a.initCache(); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initVectorizer(); err != nil {
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("embedding", cfg.Embedding.Enabled),
		zap.Bool("headless", cfg.Headless.Enabled),
	)
	return a, nil
}

func (a *App) initBlobs(ctx context.Context) error {
	switch a.Cfg.Storage.Provider {
	case "gcs":
		store, err := gcs.New(ctx, gcs.Config{
			Bucket: a.Cfg.Storage.GCSBucket,
			Prefix: a.Cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.Blobs = store
	case "local":
		store, err := local.New(local.Config{BaseDir: a.Cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Blobs = store
	case "memory":
		a.Blobs = blobmemory.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage provider %q", a.Cfg.Storage.Provider)
	}
	return nil
}

func (a *App) initRecords(ctx context.Context) error {
	if a.Cfg.DB.DSN == "" {
		a.Logger.Warn("no database dsn configured, using in-memory record store")
		a.Records = dbmemory.New()
		return nil
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:      a.Cfg.DB.DSN,
		MaxConns: a.Cfg.DB.MaxConns,
		MinConns: a.Cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("init postgres record store: %w", err)
	}
	a.Records = store
	return nil
}

func (a *App) initCache() error {
	if !a.Cfg.Cache.Enabled {
		a.Downloaded = cache.Noop{}
		return nil
	}
	c, err := cache.Open(a.Cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("init download cache: %w", err)
	}
	a.Downloaded = c
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.Cfg.PubSub.ProjectID == "" || a.Cfg.PubSub.TopicName == "" {
		return nil
	}
	client, err := pubsubv2.NewClient(ctx, a.Cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	a.pubClient = client
	a.Publisher = pubpubsub.New(client.Publisher(a.Cfg.PubSub.TopicName))
	return nil
}

func (a *App) initVectorizer() error {
	if !a.Cfg.Embedding.Enabled {
		return nil
	}
	client, err := openai.New(openai.Config{
		APIKey:     a.Cfg.Embedding.APIKey,
		Model:      a.Cfg.Embedding.Model,
		BaseURL:    a.Cfg.Embedding.BaseURL,
		Dimensions: a.Cfg.Embedding.Dimensions,
	})
	if err != nil {
		return fmt.Errorf("init embeddings client: %w", err)
	}
	a.Vectorizer = client
	return nil
}

// RunOptions overrides configured defaults for one pipeline run. Zero
// values fall back to the config; Reporter and Marker may be nil.
type RunOptions struct {
	StartYear   int
	EndYear     int
	Concurrency int
	// DisableEmbeddings skips the enrichment stage even when embedding is
	// configured.
	DisableEmbeddings bool
	Reporter          progress.Reporter
	Marker            *progress.Marker
}

// NewPipeline wires a pipeline run.
func (a *App) NewPipeline(opts RunOptions) *pipeline.Pipeline {
	cfg := a.Cfg
	if opts.StartYear == 0 {
		opts.StartYear = cfg.Scrape.StartYear
	}
	if opts.EndYear == 0 {
		opts.EndYear = cfg.Scrape.EndYear
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = cfg.Download.Concurrency
	}

	var extractor discover.LinkExtractor = discover.DOMExtractor{}
	if cfg.Scrape.Strategy == "regex" {
		extractor = discover.RegexExtractor{}
	}
	discoverer := discover.New(a.pageSource, extractor, discover.Config{
		StartYear: opts.StartYear,
		EndYear:   opts.EndYear,
		YearDelay: cfg.YearDelay(),
	}, a.Logger)

	ingester := ingest.New(a.fetcher, a.Blobs, a.Records, a.Downloaded, a.Stats, ingest.Config{
		Concurrency:     opts.Concurrency,
		SkipIfExists:    cfg.Download.SkipIfExists,
		BatchPause:      cfg.BatchPause(),
		MaxPayloadBytes: cfg.Download.MaxPayloadMB << 20,
		MaxAttempts:     cfg.Download.MaxRetries,
	}, a.Logger)

	persister := persist.New(a.Records, a.Stats, a.Cfg.Embedding.Dimensions, a.Logger)

	var enricher *enrich.Enricher
	if !opts.DisableEmbeddings {
		enricher = a.NewEnricher()
	}

	return pipeline.New(
		discoverer,
		ingester,
		enricher,
		persister,
		a.Publisher,
		opts.Reporter,
		opts.Marker,
		a.Stats,
		pipeline.Config{Topic: cfg.PubSub.TopicName},
		a.Logger,
	)
}

// NewEnricher returns the embedding stage, or nil when embedding is
// disabled.
func (a *App) NewEnricher() *enrich.Enricher {
	if a.Vectorizer == nil {
		return nil
	}
	cfg := a.Cfg.Embedding
	return enrich.New(a.Vectorizer, cfg.Model, a.Stats, enrich.Config{
		BatchSize:         cfg.BatchSize,
		IntraBatchDelay:   millis(cfg.IntraBatchDelayMs),
		InterBatchDelay:   millis(cfg.InterBatchDelayMs),
		RequestsPerMinute: cfg.RequestsPerMinute,
	}, clocksystem.New(), a.Logger)
}

// NewPersister returns a persister wired to the record store.
func (a *App) NewPersister() *persist.Persister {
	return persist.New(a.Records, a.Stats, a.Cfg.Embedding.Dimensions, a.Logger)
}

// Runner adapts the pipeline factory to the HTTP job runner interface.
func (a *App) Runner() api.Runner {
	return runnerFunc(func(ctx context.Context, spec api.JobSpec, reporter progress.Reporter) (pipeline.Summary, error) {
		p := a.NewPipeline(RunOptions{
			StartYear: spec.StartYear,
			EndYear:   spec.EndYear,
			Reporter:  reporter,
		})
		return p.Run(ctx, spec.SubjectURL)
	})
}

type runnerFunc func(ctx context.Context, spec api.JobSpec, reporter progress.Reporter) (pipeline.Summary, error)

func (f runnerFunc) Run(ctx context.Context, spec api.JobSpec, reporter progress.Reporter) (pipeline.Summary, error) {
	return f(ctx, spec, reporter)
}

// Close shuts down the container's services.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.Downloaded != nil {
		if err := a.Downloaded.Close(); err != nil {
			a.Logger.Warn("closing download cache", zap.Error(err))
		}
	}
	if a.Records != nil {
		if err := a.Records.Close(); err != nil {
			a.Logger.Warn("closing record store", zap.Error(err))
		}
	}
	if a.pubClient != nil {
		if err := a.pubClient.Close(); err != nil {
			a.Logger.Warn("closing pubsub client", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
