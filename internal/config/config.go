// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Download  DownloadConfig  `mapstructure:"download"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScrapeConfig governs listing-page discovery.
type ScrapeConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	StartYear        int     `mapstructure:"start_year"`
	EndYear          int     `mapstructure:"end_year"`
	YearDelaySeconds int     `mapstructure:"year_delay_seconds"`
	HostRPS          float64 `mapstructure:"host_rps"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	// Strategy selects the link extractor: "dom" or "regex".
	Strategy string `mapstructure:"strategy"`
}

// DownloadConfig governs the PDF download stage.
type DownloadConfig struct {
	Concurrency       int  `mapstructure:"concurrency"`
	SkipIfExists      bool `mapstructure:"skip_if_exists"`
	BatchPauseSeconds int  `mapstructure:"batch_pause_seconds"`
	MaxPayloadMB      int  `mapstructure:"max_payload_mb"`
	MaxRetries        int  `mapstructure:"max_retries"`
}

// HeadlessConfig configures the headless browser fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	// Provider is one of "gcs", "local" or "memory".
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls access to the metadata database. An empty DSN selects
// the in-memory record store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// EmbeddingConfig configures the optional vector enrichment stage.
type EmbeddingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	Dimensions        int    `mapstructure:"dimensions"`
	BatchSize         int    `mapstructure:"batch_size"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	IntraBatchDelayMs int    `mapstructure:"intra_batch_delay_ms"`
	InterBatchDelayMs int    `mapstructure:"inter_batch_delay_ms"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CacheConfig controls the local download cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// PipelineConfig holds run-level settings.
type PipelineConfig struct {
	// MarkerPath enables resumable runs when non-empty.
	MarkerPath string `mapstructure:"marker_path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Validation failures are
// returned immediately so a misconfigured service never starts.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAPERINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scrape.user_agent", "paperingest-bot/1.0")
	v.SetDefault("scrape.year_delay_seconds", 1)
	v.SetDefault("scrape.host_rps", 2.0)
	v.SetDefault("scrape.timeout_seconds", 15)
	v.SetDefault("scrape.strategy", "dom")
	v.SetDefault("download.concurrency", 5)
	v.SetDefault("download.skip_if_exists", true)
	v.SetDefault("download.batch_pause_seconds", 1)
	v.SetDefault("download.max_payload_mb", 50)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "data/papers")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 10)
	v.SetDefault("embedding.requests_per_minute", 60)
	v.SetDefault("embedding.intra_batch_delay_ms", 200)
	v.SetDefault("embedding.inter_batch_delay_ms", 2000)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("logging.development", true)
}

// yearBounds mirrors the sanity window applied to parsed paper years.
const (
	minYear = 1980
	maxYear = 2030
)

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Download.Concurrency <= 0 || c.Download.Concurrency > 64 {
		return fmt.Errorf("download.concurrency must be in 1..64")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if err := validateYear("scrape.start_year", c.Scrape.StartYear); err != nil {
		return err
	}
	if err := validateYear("scrape.end_year", c.Scrape.EndYear); err != nil {
		return err
	}
	if c.Scrape.StartYear != 0 && c.Scrape.EndYear != 0 && c.Scrape.EndYear > c.Scrape.StartYear {
		return fmt.Errorf("scrape.end_year must not be after scrape.start_year")
	}
	switch c.Scrape.Strategy {
	case "dom", "regex":
	default:
		return fmt.Errorf("scrape.strategy must be dom or regex, got %q", c.Scrape.Strategy)
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local provider")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider must be gcs, local or memory, got %q", c.Storage.Provider)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Embedding.Enabled {
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding.api_key must be set when embedding is enabled")
		}
		if c.Embedding.Dimensions <= 0 {
			return fmt.Errorf("embedding.dimensions must be > 0")
		}
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

func validateYear(field string, year int) error {
	if year == 0 {
		return nil
	}
	if year < minYear || year > maxYear {
		return fmt.Errorf("%s must be in %d..%d", field, minYear, maxYear)
	}
	return nil
}

// ScrapeTimeout converts the scrape timeout to a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// YearDelay converts the per-year politeness pause to a duration.
func (c Config) YearDelay() time.Duration {
	return time.Duration(c.Scrape.YearDelaySeconds) * time.Second
}

// BatchPause converts the inter-batch download pause to a duration.
func (c Config) BatchPause() time.Duration {
	return time.Duration(c.Download.BatchPauseSeconds) * time.Second
}
