package fetch

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Challenge-page markers: archive sites front some listings with bot
// interstitials that a plain HTTP client cannot pass.
var challengeMarkers = []string{
	"cf-challenge",
	"just a moment",
	"enable javascript and cookies",
	"checking your browser",
}

// Blocked reports whether a response looks like a bot challenge rather than
// a real listing page.
func Blocked(body string) bool {
	if len(body) == 0 {
		return true
	}
	lower := strings.ToLower(body)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// FallbackFetcher tries the plain HTTP fetcher first and escalates to the
// headless fetcher when the source blocks plain HTTP (403, 429, or challenge
// markup). The headless path is optional; without it the primary error is
// returned as-is.
type FallbackFetcher struct {
	primary  Fetcher
	headless Fetcher
	logger   *zap.Logger
}

// NewFallbackFetcher wires the two strategies together. headless may be nil.
func NewFallbackFetcher(primary, headless Fetcher, logger *zap.Logger) *FallbackFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackFetcher{primary: primary, headless: headless, logger: logger}
}

// Fetch implements Fetcher.
func (f *FallbackFetcher) Fetch(ctx context.Context, url string) (string, error) {
	body, err := f.primary.Fetch(ctx, url)
	if err == nil && !Blocked(body) {
		return body, nil
	}
	if f.headless == nil || !f.shouldEscalate(err, body) {
		return body, err
	}

	f.logger.Info("plain fetch blocked, escalating to headless browser",
		zap.String("url", url),
		zap.Error(err))
	rendered, renderErr := f.headless.Fetch(ctx, url)
	if renderErr != nil {
		if err != nil {
			return "", err
		}
		return "", renderErr
	}
	return rendered, nil
}

func (f *FallbackFetcher) shouldEscalate(err error, body string) bool {
	if err == nil {
		return Blocked(body)
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 403 || httpErr.Status == 429 || httpErr.Status == 503
	}
	return false
}
