package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

func htmlArtifact(status int, body string) *crawler.Artifact {
	return &crawler.Artifact{
		HTTP:    crawler.HTTPInfo{StatusCode: status, ContentType: "text/html; charset=utf-8"},
		Content: crawler.Content{Body: []byte(body)},
	}
}

func TestRenderHintStage(t *testing.T) {
	t.Parallel()

	prose := "<html><body><p>" + strings.Repeat("plain text ", 300) + "</p></body></html>"
	tests := []struct {
		name   string
		stage  RenderHintStage
		art    *crawler.Artifact
		reason string
	}{
		{name: "empty body", art: htmlArtifact(200, ""), reason: "empty_body"},
		{name: "app shell marker", art: htmlArtifact(200, `<div id="__next"></div>`+prose), reason: "app_shell_marker"},
		{name: "script dominated", stage: RenderHintStage{ThinBodyBytes: 1000}, art: htmlArtifact(200, `<html><script>var a=1;</script><p>t</p></html>`), reason: "script_dominated"},
		{name: "unterminated script", art: htmlArtifact(200, `<p>x</p><script src="a.js"`), reason: "script_dominated"},
		{name: "plain page", art: htmlArtifact(200, prose)},
		{name: "non 200", art: htmlArtifact(404, "")},
		{name: "not html", art: &crawler.Artifact{HTTP: crawler.HTTPInfo{StatusCode: 200, ContentType: "application/json"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := tt.stage.Process(context.Background(), tt.art)
			require.Equal(t, ActionContinue, out.Action)
			hint, ok := tt.art.Extracted["render_hint"].(map[string]any)
			if tt.reason == "" {
				require.False(t, ok)
				return
			}
			require.True(t, ok)
			require.Equal(t, tt.reason, hint["reason"])
		})
	}
}

func TestScriptCoverage(t *testing.T) {
	t.Parallel()
	require.Zero(t, scriptCoverage([]byte("<p>no scripts here</p>")))
	require.Equal(t, 100, scriptCoverage([]byte("<SCRIPT>x</SCRIPT>")))
}
