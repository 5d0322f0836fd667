package ingest

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/examarchive/paperingest/internal/cache"
	"github.com/examarchive/paperingest/internal/database"
	dbmemory "github.com/examarchive/paperingest/internal/database/memory"
	"github.com/examarchive/paperingest/internal/fetch"
	"github.com/examarchive/paperingest/internal/hash/sha256"
	"github.com/examarchive/paperingest/internal/metrics"
	"github.com/examarchive/paperingest/internal/paper"
	blobmemory "github.com/examarchive/paperingest/internal/storage/memory"
)

type fakeDownloader struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	failures map[string]int
	attempts map[string]int
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{
		payloads: map[string][]byte{},
		errs:     map[string]error{},
		failures: map[string]int{},
		attempts: map[string]int{},
	}
}

func (f *fakeDownloader) Download(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[url]++
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if f.failures[url] > 0 {
		f.failures[url]--
		return nil, &fetch.HTTPError{URL: url, Status: http.StatusServiceUnavailable}
	}
	return f.payloads[url], nil
}

func (f *fakeDownloader) attemptCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

func candidate(num string) paper.Identity {
	return paper.Identity{
		Level:       "IGCSE",
		Subject:     "Mathematics",
		SubjectCode: "0580",
		Year:        2024,
		Session:     "may-june",
		PaperNumber: num,
		PaperType:   paper.TypeMarkScheme,
		DownloadURL: "https://papers.example.com/0580_s24_ms_" + num + ".pdf",
	}
}

type env struct {
	downloader *fakeDownloader
	blobs      *blobmemory.BlobStore
	records    *dbmemory.Store
	ingester   *Ingester
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	e := &env{
		downloader: newFakeDownloader(),
		blobs:      blobmemory.NewBlobStore(),
		records:    dbmemory.New(),
	}
	e.ingester = New(e.downloader, e.blobs, e.records, cache.Noop{}, metrics.New(), cfg, zap.NewNop())
	return e
}

func TestRunStoresNewPaper(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{SkipIfExists: true})
	id := candidate("12")
	e.downloader.payloads[id.DownloadURL] = []byte("%PDF-1.4 fake")

	outcomes := e.ingester.Run(context.Background(), []paper.Identity{id})
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusStored, outcomes[0].Status)
	assert.Equal(t, "memory://igcse/0580/2024/may-june/12_ms.pdf", outcomes[0].StorageURL)

	exists, err := e.blobs.Exists(context.Background(), id.StorageKey())
	require.NoError(t, err)
	assert.True(t, exists)

	md := e.blobs.Metadata(id.StorageKey())
	assert.Equal(t, "0580", md["subject_code"])
	assert.Equal(t, sha256.Sum([]byte("%PDF-1.4 fake")), md["sha256"])
}

func TestRunSkipsArchivedPaper(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{SkipIfExists: true})
	id := candidate("12")
	_, err := e.records.Insert(context.Background(), database.NewRecord(id, "gs://papers/existing.pdf"))
	require.NoError(t, err)

	outcomes := e.ingester.Run(context.Background(), []paper.Identity{id})
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusSkipped, outcomes[0].Status)
	assert.Equal(t, "gs://papers/existing.pdf", outcomes[0].StorageURL)
	assert.Zero(t, e.downloader.attemptCount(id.DownloadURL))
}

func TestRunRedownloadsWhenSkipDisabled(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{SkipIfExists: false})
	id := candidate("12")
	_, err := e.records.Insert(context.Background(), database.NewRecord(id, "gs://papers/existing.pdf"))
	require.NoError(t, err)
	e.downloader.payloads[id.DownloadURL] = []byte("fresh")

	outcomes := e.ingester.Run(context.Background(), []paper.Identity{id})
	assert.Equal(t, StatusStored, outcomes[0].Status)
	assert.Equal(t, 1, e.downloader.attemptCount(id.DownloadURL))
}

// A cached download with no record row must still reach persistence: the
// cache saves the fetch, the record store alone decides dedup. Otherwise a
// run that crashed between blob put and record insert loses the paper.
func TestRunCachedDownloadWithoutRecordIsStored(t *testing.T) {
	t.Parallel()

	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	e := newEnv(t, Config{})
	e.ingester = New(e.downloader, e.blobs, e.records, c, metrics.New(), Config{SkipIfExists: true}, zap.NewNop())

	id := candidate("12")
	require.NoError(t, c.Mark(context.Background(), id.DownloadURL, "gs://papers/cached.pdf"))

	outcomes := e.ingester.Run(context.Background(), []paper.Identity{id})
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusStored, outcomes[0].Status)
	assert.Equal(t, "gs://papers/cached.pdf", outcomes[0].StorageURL)
	assert.Zero(t, e.downloader.attemptCount(id.DownloadURL))
}

// With a record row present the dedup skip wins and the cache changes nothing.
func TestRunCachedDownloadWithRecordIsSkipped(t *testing.T) {
	t.Parallel()

	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	e := newEnv(t, Config{})
	e.ingester = New(e.downloader, e.blobs, e.records, c, metrics.New(), Config{SkipIfExists: true}, zap.NewNop())

	id := candidate("12")
	_, err = e.records.Insert(context.Background(), database.NewRecord(id, "gs://papers/existing.pdf"))
	require.NoError(t, err)
	require.NoError(t, c.Mark(context.Background(), id.DownloadURL, "gs://papers/cached.pdf"))

	outcomes := e.ingester.Run(context.Background(), []paper.Identity{id})
	assert.Equal(t, StatusSkipped, outcomes[0].Status)
	assert.Equal(t, "already archived", outcomes[0].Reason)
	assert.Equal(t, "gs://papers/existing.pdf", outcomes[0].StorageURL)
	assert.Zero(t, e.downloader.attemptCount(id.DownloadURL))
}

func TestRunRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{})
	id := candidate("12")
	e.downloader.payloads[id.DownloadURL] = nil

	outcomes := e.ingester.Run(context.Background(), []paper.Identity{id})
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Equal(t, "empty payload", outcomes[0].Reason)
	assert.Equal(t, 0, e.blobs.Len())
}

func TestRunRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{MaxPayloadBytes: 4})
	id := candidate("12")
	e.downloader.payloads[id.DownloadURL] = []byte("too large")

	outcomes := e.ingester.Run(context.Background(), []paper.Identity{id})
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Reason, "exceeds")
}

func TestRunRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{RetryBaseDelay: 1})
	id := candidate("12")
	e.downloader.failures[id.DownloadURL] = 2
	e.downloader.payloads[id.DownloadURL] = []byte("eventually")

	outcomes := e.ingester.Run(context.Background(), []paper.Identity{id})
	assert.Equal(t, StatusStored, outcomes[0].Status)
	assert.Equal(t, 3, e.downloader.attemptCount(id.DownloadURL))
}

func TestRunDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{RetryBaseDelay: 1})
	id := candidate("12")
	e.downloader.errs[id.DownloadURL] = &fetch.HTTPError{URL: id.DownloadURL, Status: http.StatusNotFound}

	outcomes := e.ingester.Run(context.Background(), []paper.Identity{id})
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Equal(t, 1, e.downloader.attemptCount(id.DownloadURL))
}

func TestRunIsolatesFailuresWithinBatch(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{Concurrency: 5, RetryBaseDelay: 1})
	var candidates []paper.Identity
	for i := 1; i <= 5; i++ {
		id := candidate(strconv.Itoa(i))
		candidates = append(candidates, id)
		if i == 3 {
			e.downloader.errs[id.DownloadURL] = &fetch.HTTPError{URL: id.DownloadURL, Status: http.StatusNotFound}
			continue
		}
		e.downloader.payloads[id.DownloadURL] = []byte("pdf")
	}

	outcomes := e.ingester.Run(context.Background(), candidates)
	require.Len(t, outcomes, 5)
	for i, out := range outcomes {
		if i == 2 {
			assert.Equal(t, StatusFailed, out.Status)
			continue
		}
		assert.Equal(t, StatusStored, out.Status, "candidate %d", i)
	}
	assert.Equal(t, 4, e.blobs.Len())
}

func TestRunStopsNewBatchesOnCancel(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{Concurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	candidates := []paper.Identity{candidate("1"), candidate("2"), candidate("3")}
	outcomes := e.ingester.Run(ctx, candidates)
	require.Len(t, outcomes, 3)
	for _, out := range outcomes {
		assert.Equal(t, StatusCanceled, out.Status)
		assert.Equal(t, "canceled", out.Reason)
	}
	assert.Zero(t, e.downloader.attemptCount(candidates[0].DownloadURL))
}

func TestRunFailsInvalidIdentity(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{})
	id := candidate("12")
	id.Year = 0

	outcomes := e.ingester.Run(context.Background(), []paper.Identity{id})
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Error(t, outcomes[0].Err)
}
