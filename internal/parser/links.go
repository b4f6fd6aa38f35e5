// Package parser discovers crawlable URLs in fetched documents.
package parser

import (
	"bytes"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

// LinkOptions tunes link discovery.
type LinkOptions struct {
	// MaxLinks caps links returned per page; zero means 500.
	MaxLinks int
	// SkipNofollow ignores anchors carrying rel="nofollow".
	SkipNofollow bool
}

var ignoredSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// IsHTML reports whether a Content-Type header names an HTML document.
func IsHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Links returns the canonical, de-duplicated absolute URLs referenced by
// anchors in body. Relative references resolve against <base href> when
// present, otherwise against pageURL.
func Links(pageURL string, body []byte, opts LinkOptions) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}

	maxLinks := opts.MaxLinks
	if maxLinks <= 0 {
		maxLinks = 500
	}
	seen := make(map[string]struct{})
	links := make([]string, 0)
	doc.Find("a[href], area[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if opts.SkipNofollow && hasNofollow(s) {
			return true
		}
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || ignoredScheme(href) {
			return true
		}
		canonical, err := crawler.ResolveURL(base, href)
		if err != nil {
			return true
		}
		if _, dup := seen[canonical]; dup {
			return true
		}
		seen[canonical] = struct{}{}
		links = append(links, canonical)
		return len(links) < maxLinks
	})
	return links, nil
}

func hasNofollow(s *goquery.Selection) bool {
	rel, ok := s.Attr("rel")
	if !ok {
		return false
	}
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if token == "nofollow" {
			return true
		}
	}
	return false
}

func ignoredScheme(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range ignoredSchemes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
