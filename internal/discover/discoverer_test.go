package discover

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examarchive/paperingest/internal/paper"
)

const subjectURL = "https://pastpapers.example.com/igcse-mathematics-0580"

const rootFixture = `<html><body>
<h1>IGCSE Mathematics 0580</h1>
<ul>
<li><a href="/igcse-mathematics-0580/2024-may-june">2024 May June</a></li>
<li><a href="/igcse-mathematics-0580/2024-may-june">2024 May June (duplicate)</a></li>
<li><a href="/igcse-mathematics-0580/2020-oct-nov">2020 Oct Nov</a></li>
<li><a href="/igcse-mathematics-0580/2019-march">2019 March</a></li>
<li><a href="/igcse-mathematics-0580/2025-march">2025 March</a></li>
<li><a href="/about">About us</a></li>
</ul>
</body></html>`

const yearFixture = `<html><body>
<table>
<tr><td><a href="0580_s24_qp_12.pdf">0580_s24_qp_12.pdf</a></td></tr>
<tr><td><a href="0580_s24_ms_12.pdf">0580_s24_ms_12.pdf</a></td></tr>
<tr><td><a href="0580_s24_ms_12.pdf">0580_s24_ms_12.pdf</a></td></tr>
<tr><td><a href="/download_file.php?files=0580_s24_gt.pdf">Grade Thresholds</a></td></tr>
<tr><td><a href="/igcse-mathematics-0580">Back</a></td></tr>
</table>
</body></html>`

type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	body, ok := f.pages[url]
	if !ok {
		return "", errors.New("unexpected url: " + url)
	}
	return body, nil
}

func newFixtureFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: map[string]string{
			subjectURL: rootFixture,
			"https://pastpapers.example.com/igcse-mathematics-0580/2024-may-june": yearFixture,
			"https://pastpapers.example.com/igcse-mathematics-0580/2020-oct-nov":  `<html><body><a href="0580_w20_qp_22.pdf">0580_w20_qp_22.pdf</a></body></html>`,
			"https://pastpapers.example.com/igcse-mathematics-0580/2019-march":    `<html><body><a href="0580_m19_qp_12.pdf">0580_m19_qp_12.pdf</a></body></html>`,
			"https://pastpapers.example.com/igcse-mathematics-0580/2025-march":    `<html><body><a href="0580_m25_qp_12.pdf">0580_m25_qp_12.pdf</a></body></html>`,
		},
		errs: map[string]error{},
	}
}

func TestDiscoverScenario(t *testing.T) {
	fetcher := newFixtureFetcher()
	d := New(fetcher, DOMExtractor{}, Config{StartYear: 2024, EndYear: 2020}, nil)

	results, err := d.Discover(context.Background(), subjectURL)
	require.NoError(t, err)

	// 2019 and 2025 fall outside [2020, 2024]; the 2024 folder carries three
	// distinct papers, the 2020 folder one.
	require.Len(t, results, 4)

	ms := results[1]
	assert.Equal(t, "https://pastpapers.example.com/igcse-mathematics-0580/0580_s24_ms_12.pdf", ms.DownloadURL)
	assert.Equal(t, paper.Identity{
		Level:       "IGCSE",
		Subject:     "Mathematics",
		SubjectCode: "0580",
		Year:        2024,
		Session:     "may-june",
		PaperNumber: "12",
		PaperType:   paper.TypeMarkScheme,
		OriginalURL: ms.DownloadURL,
		DownloadURL: ms.DownloadURL,
		Filename:    "0580_s24_ms_12.pdf",
	}, ms.Metadata)
	assert.Equal(t, "igcse/0580/2024/may-june/12_ms.pdf", ms.Metadata.StorageKey())

	// download_file.php indirection resolves to the embedded filename.
	gt := results[2]
	assert.Equal(t, "0580_s24_gt.pdf", gt.Metadata.Filename)
	assert.Equal(t, paper.TypeGradeThresh, gt.Metadata.PaperType)
}

// Exact window boundaries are included; years one past either bound are not.
func TestDiscoverYearWindowBoundary(t *testing.T) {
	fetcher := newFixtureFetcher()
	d := New(fetcher, DOMExtractor{}, Config{StartYear: 2024, EndYear: 2020}, nil)

	results, err := d.Discover(context.Background(), subjectURL)
	require.NoError(t, err)

	years := make(map[int]bool)
	for _, r := range results {
		years[r.Metadata.Year] = true
	}
	assert.True(t, years[2024])
	assert.True(t, years[2020])
	assert.False(t, years[2019])
	assert.False(t, years[2025])
	assert.NotContains(t, fetcher.calls, "https://pastpapers.example.com/igcse-mathematics-0580/2019-march")
}

func TestDiscoverMalformedSubjectURLFailsBeforeNetwork(t *testing.T) {
	fetcher := newFixtureFetcher()
	d := New(fetcher, DOMExtractor{}, Config{}, nil)

	_, err := d.Discover(context.Background(), "https://pastpapers.example.com/about-us")
	var formatErr *paper.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Empty(t, fetcher.calls)
}

func TestDiscoverRootFetchFailureIsFatal(t *testing.T) {
	fetcher := newFixtureFetcher()
	fetcher.errs[subjectURL] = errors.New("connection refused")
	d := New(fetcher, DOMExtractor{}, Config{}, nil)

	_, err := d.Discover(context.Background(), subjectURL)
	assert.Error(t, err)
}

func TestDiscoverYearFetchFailureSkipsFolderOnly(t *testing.T) {
	fetcher := newFixtureFetcher()
	fetcher.errs["https://pastpapers.example.com/igcse-mathematics-0580/2024-may-june"] = errors.New("timeout")
	d := New(fetcher, DOMExtractor{}, Config{StartYear: 2024, EndYear: 2020}, nil)

	results, err := d.Discover(context.Background(), subjectURL)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2020, results[0].Metadata.Year)
}

// The regex strategy must extract the same candidates as the DOM strategy
// from the same fixtures.
func TestExtractorEquivalence(t *testing.T) {
	for _, fixture := range []string{rootFixture, yearFixture} {
		domLinks := (DOMExtractor{}).Links(fixture)
		regexLinks := (RegexExtractor{}).Links(fixture)
		assert.Equal(t, domLinks, regexLinks)
	}

	domResults, err := New(newFixtureFetcher(), DOMExtractor{}, Config{StartYear: 2024, EndYear: 2020}, nil).
		Discover(context.Background(), subjectURL)
	require.NoError(t, err)
	regexResults, err := New(newFixtureFetcher(), RegexExtractor{}, Config{StartYear: 2024, EndYear: 2020}, nil).
		Discover(context.Background(), subjectURL)
	require.NoError(t, err)
	assert.Equal(t, domResults, regexResults)
}
