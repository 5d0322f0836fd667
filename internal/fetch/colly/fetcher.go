// Package collyfetch implements the page fetcher using the Colly collector.
package collyfetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/examarchive/paperingest/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// HostRPS caps requests per second per source host. Zero disables
	// client-side pacing.
	HostRPS float64
}

// Fetcher fetches pages and binaries from the archive sites. A per-host
// token bucket keeps the crawler polite toward the source regardless of the
// caller's concurrency.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.CheckHead = false
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Fetch retrieves the markup of a listing page.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	body, err := f.visit(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Download retrieves a binary resource such as a PDF.
func (f *Fetcher) Download(ctx context.Context, url string) ([]byte, error) {
	return f.visit(ctx, url)
}

func (f *Fetcher) visit(ctx context.Context, url string) ([]byte, error) {
	if err := f.wait(ctx, url); err != nil {
		return nil, err
	}

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		switch {
		case status >= 400:
			return nil, &fetch.HTTPError{URL: url, Status: status}
		case fetchErr != nil:
			return nil, fmt.Errorf("fetch %s: %w", url, fetchErr)
		case err != nil:
			return nil, fmt.Errorf("visit %s: %w", url, err)
		}
	}
	f.logger.Debug("fetched",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Int("bytes", len(body)))
	return body, nil
}

func (f *Fetcher) wait(ctx context.Context, url string) error {
	if f.cfg.HostRPS <= 0 {
		return nil
	}
	host := hostOf(url)
	f.mu.Lock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.cfg.HostRPS), 1)
		f.limiters[host] = limiter
	}
	f.mu.Unlock()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
