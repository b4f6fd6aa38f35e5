package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/parser"
)

// ContentTypeFilter drops artifacts whose media type is not in Allowed.
// An empty Allowed list accepts everything.
type ContentTypeFilter struct {
	Allowed []string
}

// Name implements Stage.
func (ContentTypeFilter) Name() string { return "content_type_filter" }

// Process implements Stage.
func (f ContentTypeFilter) Process(_ context.Context, artifact *crawler.Artifact) Outcome {
	if len(f.Allowed) == 0 {
		return Continue()
	}
	mediaType, _, err := mime.ParseMediaType(artifact.HTTP.ContentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(artifact.HTTP.ContentType))
	}
	for _, allowed := range f.Allowed {
		if strings.EqualFold(mediaType, allowed) {
			return Continue()
		}
	}
	return Drop(fmt.Sprintf("content type %q not allowed", mediaType))
}

// MetadataStage extracts document metadata from HTML into Extracted under
// the "metadata" key. Non-HTML artifacts pass through unchanged.
type MetadataStage struct{}

// Name implements Stage.
func (MetadataStage) Name() string { return "metadata" }

// Process implements Stage.
func (MetadataStage) Process(_ context.Context, artifact *crawler.Artifact) Outcome {
	if !parser.IsHTML(artifact.HTTP.ContentType) || len(artifact.Content.Body) == 0 {
		return Continue()
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(artifact.Content.Body))
	if err != nil {
		return Fail(fmt.Errorf("parse html: %w", err))
	}
	meta := map[string]any{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok && lang != "" {
		meta["lang"] = lang
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && href != "" {
		meta["canonical"] = strings.TrimSpace(href)
	}
	doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		content, _ := s.Attr("content")
		switch strings.ToLower(name) {
		case "description", "keywords", "author", "robots":
			meta[strings.ToLower(name)] = strings.TrimSpace(content)
		}
	})
	var headings []any
	doc.Find("h1").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			headings = append(headings, text)
		}
	})
	if len(headings) > 0 {
		meta["h1"] = headings
	}
	if artifact.Extracted == nil {
		artifact.Extracted = map[string]any{}
	}
	artifact.Extracted["metadata"] = meta
	return Continue()
}
