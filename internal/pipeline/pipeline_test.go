package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

func sampleArtifact() *crawler.Artifact {
	return &crawler.Artifact{
		SchemaVersion: crawler.SchemaVersion,
		URL:           "https://example.com/",
		HTTP: crawler.HTTPInfo{
			StatusCode:  200,
			Header:      http.Header{"Content-Type": {"text/html"}},
			ContentType: "text/html",
		},
		Content: crawler.Content{Body: []byte("<html><title>x</title></html>"), Size: 29},
		Links:   []string{"https://example.com/a"},
		Extracted: map[string]any{
			"nested": map[string]any{"list": []any{"one"}},
		},
		Crawl: crawler.CrawlMeta{Depth: 0, Method: crawler.DiscoverySeed, FetchedAt: time.Unix(1, 0)},
	}
}

type recordingSink struct {
	mu        sync.Mutex
	artifacts []*crawler.Artifact
	err       error
}

func (s *recordingSink) Accept(_ context.Context, artifact *crawler.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.artifacts = append(s.artifacts, artifact)
	return nil
}

// corrupting mutates every nested field and then fails.
func corrupting(outcome Outcome) Stage {
	return Func("corrupt", func(_ context.Context, a *crawler.Artifact) Outcome {
		a.URL = "corrupted"
		a.HTTP.Header.Set("Content-Type", "corrupted")
		a.Content.Body[0] = 'X'
		a.Links[0] = "corrupted"
		a.Extracted["nested"].(map[string]any)["list"].([]any)[0] = "corrupted"
		a.Extracted["added"] = true
		if outcome.Action == ActionFail && outcome.Reason == "panic" {
			panic("boom")
		}
		return outcome
	})
}

func TestRunContinuesThroughStages(t *testing.T) {
	t.Parallel()

	var order []string
	stage := func(name string) Stage {
		return Func(name, func(_ context.Context, a *crawler.Artifact) Outcome {
			order = append(order, name)
			a.Extracted[name] = true
			return Continue()
		})
	}
	engine := New([]Stage{stage("one"), stage("two")}, WithLogger(zap.NewNop()))
	input := sampleArtifact()

	res := engine.Run(context.Background(), input)

	require.False(t, res.Dropped)
	require.Empty(t, res.Failures)
	require.Equal(t, []string{"one", "two"}, order)
	require.Equal(t, true, res.Artifact.Extracted["one"])
	require.Equal(t, true, res.Artifact.Extracted["two"])
	require.Nil(t, res.Artifact.Error)
	require.NotContains(t, input.Extracted, "one")
	require.Equal(t, []string{"one", "two"}, engine.Stages())
}

func TestRunRestoresSnapshotOnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		outcome Outcome
	}{
		{name: "error", outcome: Fail(errors.New("extract failed"))},
		{name: "panic", outcome: Outcome{Action: ActionFail, Reason: "panic"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			input := sampleArtifact()
			want := sampleArtifact()
			var seen *crawler.Artifact
			observer := Func("observe", func(_ context.Context, a *crawler.Artifact) Outcome {
				seen = a.Clone()
				return Continue()
			})
			engine := New([]Stage{corrupting(tt.outcome), observer})

			res := engine.Run(context.Background(), input)

			require.Equal(t, want, seen)
			require.Equal(t, want, input)
			require.Len(t, res.Failures, 1)
			require.Equal(t, "corrupt", res.Failures[0].Stage)
			require.Equal(t, crawler.PipelineStageFailed, res.Failures[0].Kind)
			require.False(t, res.Aborted)
			require.Equal(t, res.Failures[0], res.Artifact.Error)
		})
	}
}

func TestRunAbortOnError(t *testing.T) {
	t.Parallel()

	called := false
	after := Func("after", func(context.Context, *crawler.Artifact) Outcome {
		called = true
		return Continue()
	})
	engine := New([]Stage{corrupting(Fail(errors.New("bad"))), after}, WithAbortOnError(true))

	res := engine.Run(context.Background(), sampleArtifact())

	require.True(t, res.Aborted)
	require.False(t, called)
	require.Equal(t, sampleArtifact(), res.Artifact, "aborted run returns the pre-stage artifact unchanged")
	require.Nil(t, res.Artifact.Error)
	require.Len(t, res.Failures, 1)
	require.Equal(t, "corrupt", res.Failures[0].Stage)
}

func TestExecuteAbortDeliversFailure(t *testing.T) {
	t.Parallel()

	engine := New([]Stage{corrupting(Fail(errors.New("bad")))}, WithAbortOnError(true))
	sink := &recordingSink{}

	res, err := engine.Execute(context.Background(), sampleArtifact(), sink)

	require.NoError(t, err)
	require.True(t, res.Aborted)
	require.Nil(t, res.Artifact.Error)
	require.Len(t, sink.artifacts, 1)
	require.Equal(t, res.Failures[0], sink.artifacts[0].Error)
	require.Equal(t, sampleArtifact().Content, sink.artifacts[0].Content)
}

func TestExecuteDropNeverReachesSink(t *testing.T) {
	t.Parallel()

	called := false
	after := Func("after", func(context.Context, *crawler.Artifact) Outcome {
		called = true
		return Continue()
	})
	engine := New([]Stage{corrupting(Drop("thin content")), after})
	sink := &recordingSink{}

	res, err := engine.Execute(context.Background(), sampleArtifact(), sink)

	require.NoError(t, err)
	require.True(t, res.Dropped)
	require.Nil(t, res.Artifact)
	require.Equal(t, "thin content", res.Drop.Reason)
	require.Equal(t, crawler.PipelineStageDropped, res.Drop.Kind)
	require.False(t, called)
	require.Empty(t, sink.artifacts)
}

func TestExecuteDeliversTerminalArtifact(t *testing.T) {
	t.Parallel()

	engine := New([]Stage{MetadataStage{}})
	sink := &recordingSink{}

	res, err := engine.Execute(context.Background(), sampleArtifact(), sink)
	require.NoError(t, err)
	require.Len(t, sink.artifacts, 1)
	require.Same(t, res.Artifact, sink.artifacts[0])

	sink.err = errors.New("disk full")
	_, err = engine.Execute(context.Background(), sampleArtifact(), sink)
	require.ErrorContains(t, err, "deliver artifact")

	_, err = engine.Execute(context.Background(), nil, sink)
	require.ErrorIs(t, err, ErrNilArtifact)
}

func TestFailWithoutErrorGetsOne(t *testing.T) {
	t.Parallel()

	engine := New([]Stage{Func("silent", func(context.Context, *crawler.Artifact) Outcome {
		return Outcome{Action: ActionFail}
	})})
	res := engine.Run(context.Background(), sampleArtifact())
	require.Len(t, res.Failures, 1)
	require.Error(t, res.Failures[0].Err)
}
