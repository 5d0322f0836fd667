package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	body  string
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.body, s.err
}

func TestBlocked(t *testing.T) {
	assert.True(t, Blocked(""))
	assert.True(t, Blocked("<html><title>Just a moment...</title></html>"))
	assert.True(t, Blocked("Please enable JavaScript and cookies to continue"))
	assert.False(t, Blocked("<html><body><a href=\"2024-may-june\">2024 May June</a></body></html>"))
}

func TestFallbackUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubFetcher{body: "<html>listing</html>"}
	headless := &stubFetcher{body: "rendered"}
	f := NewFallbackFetcher(primary, headless, nil)

	body, err := f.Fetch(context.Background(), "https://site/papers")
	require.NoError(t, err)
	assert.Equal(t, "<html>listing</html>", body)
	assert.Zero(t, headless.calls)
}

func TestFallbackEscalatesOnForbidden(t *testing.T) {
	primary := &stubFetcher{err: &HTTPError{URL: "u", Status: 403}}
	headless := &stubFetcher{body: "<html>rendered listing</html>"}
	f := NewFallbackFetcher(primary, headless, nil)

	body, err := f.Fetch(context.Background(), "https://site/papers")
	require.NoError(t, err)
	assert.Equal(t, "<html>rendered listing</html>", body)
	assert.Equal(t, 1, headless.calls)
}

func TestFallbackEscalatesOnChallengeMarkup(t *testing.T) {
	primary := &stubFetcher{body: "checking your browser before accessing"}
	headless := &stubFetcher{body: "<html>real page</html>"}
	f := NewFallbackFetcher(primary, headless, nil)

	body, err := f.Fetch(context.Background(), "https://site/papers")
	require.NoError(t, err)
	assert.Equal(t, "<html>real page</html>", body)
}

func TestFallbackReturnsPrimaryErrorWithoutHeadless(t *testing.T) {
	primary := &stubFetcher{err: &HTTPError{URL: "u", Status: 403}}
	f := NewFallbackFetcher(primary, nil, nil)

	_, err := f.Fetch(context.Background(), "https://site/papers")
	assert.Error(t, err)
}

func TestFallbackDoesNotEscalateOnNotFound(t *testing.T) {
	primary := &stubFetcher{err: &HTTPError{URL: "u", Status: 404}}
	headless := &stubFetcher{body: "rendered"}
	f := NewFallbackFetcher(primary, headless, nil)

	_, err := f.Fetch(context.Background(), "https://site/papers")
	assert.Error(t, err)
	assert.Zero(t, headless.calls)
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, Retryable(&HTTPError{Status: 500}))
	assert.True(t, Retryable(&HTTPError{Status: 429}))
	assert.False(t, Retryable(&HTTPError{Status: 404}))
	assert.False(t, Retryable(&HTTPError{Status: 403}))
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, RateLimited(&HTTPError{Status: 429}))
	assert.False(t, RateLimited(&HTTPError{Status: 503}))
}
