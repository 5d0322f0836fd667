package discover

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/examarchive/paperingest/internal/fetch"
	"github.com/examarchive/paperingest/internal/paper"
)

// Result pairs a download URL with the canonical identity parsed for it.
type Result struct {
	DownloadURL string
	Metadata    paper.Identity
}

// Config controls a discovery run.
type Config struct {
	// StartYear is the later bound of the inclusive year window (scrape
	// order is descending); EndYear the earlier. Zero disables the bound.
	StartYear int
	EndYear   int
	// YearDelay is the politeness pause after finishing each year folder.
	YearDelay time.Duration
}

// Discoverer walks a subject root one or two levels deep and yields the flat
// candidate list for the pipeline.
type Discoverer struct {
	fetcher   fetch.Fetcher
	extractor LinkExtractor
	cfg       Config
	logger    *zap.Logger
}

// New builds a Discoverer. A nil extractor defaults to DOM parsing.
func New(fetcher fetch.Fetcher, extractor LinkExtractor, cfg Config, logger *zap.Logger) *Discoverer {
	if extractor == nil {
		extractor = DOMExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, extractor: extractor, cfg: cfg, logger: logger}
}

// Discover materializes the candidate list under subjectURL. The subject URL
// is parsed before any network call; a malformed URL fails the run without
// touching the source site. A year page that cannot be fetched is logged and
// skipped; a single paper that cannot be parsed is logged and skipped; only
// a root-page fetch failure is fatal.
func (d *Discoverer) Discover(ctx context.Context, subjectURL string) ([]Result, error) {
	info, err := paper.ParseDirectoryURL(subjectURL)
	if err != nil {
		return nil, fmt.Errorf("parse subject url: %w", err)
	}
	base, err := url.Parse(subjectURL)
	if err != nil {
		return nil, &paper.FormatError{Input: subjectURL, Reason: "not a valid URL"}
	}

	rootHTML, err := d.fetcher.Fetch(ctx, subjectURL)
	if err != nil {
		return nil, fmt.Errorf("fetch subject root: %w", err)
	}

	years := d.yearFolders(base, rootHTML)
	d.logger.Info("discovered year folders",
		zap.String("subject", info.Subject),
		zap.String("syllabus", info.Syllabus),
		zap.Int("folders", len(years)))

	var results []Result
	for _, folder := range years {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		if !d.inWindow(folder.session.Year) {
			d.logger.Debug("year outside window, skipping",
				zap.Int("year", folder.session.Year),
				zap.String("url", folder.url))
			continue
		}

		pageHTML, err := d.fetcher.Fetch(ctx, folder.url)
		if err != nil {
			d.logger.Warn("year page fetch failed, skipping folder",
				zap.String("url", folder.url),
				zap.Error(err))
			continue
		}
		results = append(results, d.papersInFolder(folder, pageHTML, info)...)
		d.pause(ctx)
	}
	return results, nil
}

type yearFolder struct {
	url     string
	session paper.YearSession
}

// yearFolders extracts, resolves and deduplicates the year/session links on
// the subject root page.
func (d *Discoverer) yearFolders(base *url.URL, html string) []yearFolder {
	seen := make(map[string]struct{})
	var folders []yearFolder
	for _, link := range d.extractor.Links(html) {
		ys, err := paper.ParseYearSession(link.Href)
		if err != nil {
			if ys, err = paper.ParseYearSession(link.Text); err != nil {
				continue
			}
		}
		resolved := resolve(base, link.Href)
		if resolved == "" {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		folders = append(folders, yearFolder{url: resolved, session: ys})
	}
	return folders
}

// papersInFolder extracts PDF links from one year page and builds their
// identities. Relative hrefs resolve against the year-folder URL. Parse
// failures skip the single paper, never the folder.
func (d *Discoverer) papersInFolder(folder yearFolder, html string, info paper.DirectoryInfo) []Result {
	base, err := url.Parse(folder.url)
	if err != nil {
		d.logger.Warn("unparseable folder url, skipping", zap.String("url", folder.url))
		return nil
	}
	seen := make(map[string]struct{})
	var results []Result
	for _, link := range d.extractor.Links(html) {
		filename, ok := pdfFilename(link)
		if !ok {
			continue
		}
		resolved := resolve(base, link.Href)
		if resolved == "" {
			d.logger.Warn("unresolvable paper link, skipping",
				zap.String("href", link.Href))
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}

		meta := paper.ParseFilename(filename)
		id := paper.Identity{
			Level:       info.Level,
			Subject:     info.Subject,
			SubjectCode: info.Syllabus,
			Year:        folder.session.Year,
			Session:     folder.session.Session,
			PaperNumber: meta.PaperNumber,
			PaperType:   meta.PaperType,
			OriginalURL: resolved,
			DownloadURL: resolved,
			Filename:    filename,
		}
		if err := id.Validate(false); err != nil {
			d.logger.Warn("paper failed validation, skipping",
				zap.String("filename", filename),
				zap.String("url", resolved),
				zap.Error(err))
			continue
		}
		results = append(results, Result{DownloadURL: resolved, Metadata: id})
	}
	return results
}

func (d *Discoverer) inWindow(year int) bool {
	if d.cfg.EndYear > 0 && year < d.cfg.EndYear {
		return false
	}
	if d.cfg.StartYear > 0 && year > d.cfg.StartYear {
		return false
	}
	return true
}

func (d *Discoverer) pause(ctx context.Context) {
	if d.cfg.YearDelay <= 0 {
		return
	}
	timer := time.NewTimer(d.cfg.YearDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// pdfFilename recognizes direct .pdf hrefs, the download_file.php?files=...
// indirection, and PDF names in link text.
func pdfFilename(link Link) (string, bool) {
	href := link.Href
	if u, err := url.Parse(href); err == nil {
		if files := u.Query().Get("files"); strings.HasSuffix(strings.ToLower(files), ".pdf") {
			return path.Base(files), true
		}
		if strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
			return path.Base(u.Path), true
		}
	}
	if strings.HasSuffix(strings.ToLower(link.Text), ".pdf") {
		return path.Base(link.Text), true
	}
	return "", false
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
