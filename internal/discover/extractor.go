// Package discover walks archive directory listings and yields candidate
// papers with their canonical identities.
package discover

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is an anchor extracted from a listing page.
type Link struct {
	Href string
	Text string
}

// LinkExtractor pulls anchors out of listing markup. Two interchangeable
// strategies exist: DOM parsing, and raw regex for constrained runtimes.
// Both must extract the same links from the same fixture pages.
type LinkExtractor interface {
	Links(html string) []Link
}

// DOMExtractor extracts anchors with goquery.
type DOMExtractor struct{}

// Links implements LinkExtractor.
func (DOMExtractor) Links(html string) []Link {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var links []Link
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		links = append(links, Link{
			Href: strings.TrimSpace(href),
			Text: strings.TrimSpace(sel.Text()),
		})
	})
	return links
}

var (
	anchorPattern = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*["']([^"']+)["'][^>]*>(.*?)</a>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
)

// RegexExtractor extracts anchors with regular expressions. It exists for
// runtimes where a DOM parser is unavailable and must stay behaviorally
// equivalent to DOMExtractor on the shared fixtures.
type RegexExtractor struct{}

// Links implements LinkExtractor.
func (RegexExtractor) Links(html string) []Link {
	matches := anchorPattern.FindAllStringSubmatch(html, -1)
	if matches == nil {
		return nil
	}
	links := make([]Link, 0, len(matches))
	for _, m := range matches {
		text := tagPattern.ReplaceAllString(m[2], "")
		links = append(links, Link{
			Href: strings.TrimSpace(m[1]),
			Text: strings.TrimSpace(text),
		})
	}
	return links
}
