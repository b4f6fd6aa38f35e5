package pipeline

import (
	"bytes"
	"context"
	"net/http"

	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/parser"
)

const (
	defaultThinBodyBytes = 2048
	scriptCoveragePct    = 25
)

// Client-side app mount points.
var appShellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// RenderHintStage flags HTML pages whose content is probably produced by
// JavaScript. The crawler never renders; downstream consumers can use the
// "render_hint" entry to route such pages to a browser.
type RenderHintStage struct {
	// ThinBodyBytes is the size below which a script-dominated page counts
	// as an app shell. Zero means 2048.
	ThinBodyBytes int
}

// Name implements Stage.
func (RenderHintStage) Name() string { return "render_hint" }

// Process implements Stage.
func (s RenderHintStage) Process(_ context.Context, artifact *crawler.Artifact) Outcome {
	if artifact.HTTP.StatusCode != http.StatusOK || !parser.IsHTML(artifact.HTTP.ContentType) {
		return Continue()
	}
	reason := s.reason(artifact.Content.Body)
	if reason == "" {
		return Continue()
	}
	if artifact.Extracted == nil {
		artifact.Extracted = map[string]any{}
	}
	artifact.Extracted["render_hint"] = map[string]any{"script_heavy": true, "reason": reason}
	return Continue()
}

func (s RenderHintStage) reason(body []byte) string {
	thin := s.ThinBodyBytes
	if thin <= 0 {
		thin = defaultThinBodyBytes
	}
	switch {
	case len(body) == 0:
		return "empty_body"
	case len(body) < thin && scriptCoverage(body) >= scriptCoveragePct:
		return "script_dominated"
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(body, marker) {
			return "app_shell_marker"
		}
	}
	return ""
}

// scriptCoverage returns the percentage of body bytes inside script
// elements. An unterminated tag covers the rest of the document.
func scriptCoverage(body []byte) int {
	lower := bytes.ToLower(body)
	total := len(lower)
	open, closing := []byte("<script"), []byte("</script>")
	covered, pos := 0, 0
	for pos < total {
		rel := bytes.Index(lower[pos:], open)
		if rel < 0 {
			break
		}
		start := pos + rel
		gt := bytes.IndexByte(lower[start:], '>')
		if gt < 0 {
			covered += total - start
			break
		}
		contentStart := start + gt + 1
		end := total
		if rel := bytes.Index(lower[contentStart:], closing); rel >= 0 {
			end = contentStart + rel + len(closing)
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
