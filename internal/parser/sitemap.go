package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Sitemap is a parsed sitemaps.org document.
type Sitemap struct {
	// URLs are page locations from a <urlset>.
	URLs []string
	// Children are nested sitemap locations from a <sitemapindex>.
	Children []string
}

// ParseSitemap reads a <urlset> or <sitemapindex> document. Locations are
// returned as written; callers normalize them when offering.
func ParseSitemap(body []byte) (Sitemap, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return Sitemap{}, fmt.Errorf("parse sitemap: %w", err)
	}
	root := xmlquery.FindOne(doc, "/*")
	if root == nil {
		return Sitemap{}, fmt.Errorf("parse sitemap: empty document")
	}

	var out Sitemap
	switch root.Data {
	case "urlset":
		out.URLs = locs(root, "url")
	case "sitemapindex":
		out.Children = locs(root, "sitemap")
	default:
		return Sitemap{}, fmt.Errorf("parse sitemap: unexpected root element %q", root.Data)
	}
	return out, nil
}

// locs collects <loc> text under each child element named parent. Matching
// by local-name keeps the default sitemaps.org namespace out of the way.
func locs(root *xmlquery.Node, parent string) []string {
	expr := fmt.Sprintf("./*[local-name()='%s']/*[local-name()='loc']", parent)
	nodes := xmlquery.Find(root, expr)
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}
