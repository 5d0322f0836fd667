// Package fetch defines the page-fetcher capability used by discovery and
// download, plus its error taxonomy.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

// Fetcher retrieves the markup of a listing page. Implementations may use a
// plain HTTP client or a headless browser.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Downloader retrieves a binary resource such as a PDF.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// HTTPError reports a non-2xx response.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d fetching %s", e.Status, e.URL)
}

// Retryable reports whether the failure is transient. 5xx and 429 are
// retryable; other 4xx responses are not.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// RateLimited reports whether err is an HTTP 429.
func RateLimited(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == 429
}

// Retryable classifies an arbitrary fetch error. Non-HTTP errors (timeouts,
// connection resets) are assumed transient; HTTP errors defer to the status.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return true
}
