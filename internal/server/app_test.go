package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/politecrawl/internal/config"
	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/driver"
	memorypublisher "github.com/JakeFAU/politecrawl/internal/publisher/memory"
)

type site struct {
	mu   sync.Mutex
	hits map[string]int
}

func (s *site) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newSite(t *testing.T) (*httptest.Server, *site) {
	t.Helper()
	st := &site{hits: make(map[string]int)}
	pages := map[string]string{
		"/":          `<html><head><title>Home</title></head><body><a href="/a">a</a><a href="/b">b</a><a href="/private/x">x</a></body></html>`,
		"/a":         `<html><head><title>A</title></head><body>page a <a href="/">home</a></body></html>`,
		"/b":         `<html><head><title>B</title></head><body>page b</body></html>`,
		"/private/x": `<html><body>secret</body></html>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		st.hits[r.URL.Path]++
		st.mu.Unlock()
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, st
}

func baseConfig(seed string) config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			Seeds:         []string{seed},
			UserAgent:     "politecrawl-test",
			MaxDepth:      2,
			Concurrency:   2,
			Strategy:      "pool",
			ShutdownGrace: time.Second,
		},
		Scope:     config.ScopeConfig{SameSite: true, BlockedExtensions: []string{".pdf"}},
		Robots:    config.RobotsConfig{Enabled: true, CacheSize: 16, CacheTTL: time.Hour, FetchTimeout: time.Second},
		RateLimit: config.RateLimitConfig{DefaultDelay: time.Millisecond},
		HTTP:      config.HTTPConfig{Timeout: 5 * time.Second, MaxAttempts: 1},
		Dedup:     config.DedupConfig{Backend: "memory", DuplicatePolicy: "drop", NormalizeWhitespace: true},
		Pipeline:  config.PipelineConfig{AllowedContentTypes: []string{"text/html"}, ExtractMetadata: true},
	}
}

func TestBuildAndRunDryRun(t *testing.T) {
	t.Parallel()
	srv, st := newSite(t)
	ctx := context.Background()

	app, err := Build(ctx, baseConfig(srv.URL+"/"), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	stats, err := app.Run(ctx, false)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Fetched)
	require.EqualValues(t, 3, stats.Delivered)
	require.Zero(t, st.count("/private/x"), "robots-disallowed URL must never be requested")

	require.NotNil(t, app.DryRunBlobs())
	require.Len(t, app.DryRunBlobs().Paths(), 3)
}

func TestRunWritesSinksAndResumes(t *testing.T) {
	t.Parallel()
	srv, _ := newSite(t)
	ctx := context.Background()
	dir := t.TempDir()

	cfg := baseConfig(srv.URL + "/")
	cfg.Sink = config.SinkConfig{
		LocalDir:      filepath.Join(dir, "artifacts"),
		PubSubProject: "proj",
		PubSubTopic:   "pages",
	}
	cfg.State = config.StateConfig{Path: filepath.Join(dir, "state.json")}
	pub := memorypublisher.New()

	app, err := Build(ctx, cfg, WithLogger(zap.NewNop()), WithPublisher(pub))
	require.NoError(t, err)
	require.Nil(t, app.DryRunBlobs())

	stats, err := app.Run(ctx, false)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Delivered)
	runID := app.Driver().RunID()
	require.NoError(t, app.Close(ctx))

	entries, err := os.ReadDir(filepath.Join(dir, "artifacts", runID))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		require.Equal(t, "pages", m.Topic)
	}
	_, err = os.Stat(cfg.State.Path)
	require.NoError(t, err)

	resumed, err := Build(ctx, cfg, WithLogger(zap.NewNop()), WithPublisher(pub))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resumed.Close(ctx) })

	stats, err = resumed.Run(ctx, true)
	require.NoError(t, err)
	require.Equal(t, runID, resumed.Driver().RunID())
	require.EqualValues(t, 3, stats.Fetched, "resumed run carries counters and finds no new work")
	require.Len(t, pub.Messages(), 3)
}

func TestRunJournalsProgress(t *testing.T) {
	t.Parallel()
	srv, _ := newSite(t)
	ctx := context.Background()

	cfg := baseConfig(srv.URL + "/")
	cfg.Progress = config.ProgressConfig{Enabled: true, Log: true, MaxBatchEvents: 2}
	core, logs := observer.New(zapcore.DebugLevel)

	app, err := Build(ctx, cfg, WithLogger(zap.New(core)))
	require.NoError(t, err)
	_, err = app.Run(ctx, false)
	require.NoError(t, err)
	require.NoError(t, app.Close(ctx))

	runEvents := logs.FilterMessage("Run event").All()
	require.Len(t, runEvents, 2)
	require.Equal(t, "RUN_START", runEvents[0].ContextMap()["kind"])
	require.Equal(t, "RUN_DONE", runEvents[1].ContextMap()["kind"])
	require.Len(t, logs.FilterMessage("Page event").All(), 3)
}

func TestRunResumeWithoutStatePath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	app, err := Build(ctx, baseConfig("https://example.com/"), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	_, err = app.Run(ctx, true)
	require.ErrorIs(t, err, driver.ErrNoStateStore)
}

func TestBuildRejectsBadScope(t *testing.T) {
	t.Parallel()
	cfg := baseConfig("https://example.com/")
	cfg.Scope.BlockPatterns = []string{"("}

	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.ErrorContains(t, err, "scope init failed")
}

func TestShortPathPriority(t *testing.T) {
	t.Parallel()
	shallow := shortPathPriority(crawler.FrontierEntry{URL: "https://example.com/a"})
	deep := shortPathPriority(crawler.FrontierEntry{URL: "https://example.com/a/b/c"})
	require.Greater(t, shallow, deep)
}
