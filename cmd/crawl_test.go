package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawl/internal/config"
	"github.com/JakeFAU/politecrawl/internal/driver"
)

type fakeApp struct {
	resume bool
	closed bool
	err    error
}

func (f *fakeApp) Run(_ context.Context, resume bool) (driver.Stats, error) {
	f.resume = resume
	return driver.Stats{Fetched: 4, Delivered: 3}, f.err
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "crawler:\n  seeds: [\"https://example.com/\"]\nstate:\n  path: " +
		filepath.Join(t.TempDir(), "state.json") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func stubApp(t *testing.T, app *fakeApp) {
	t.Helper()
	orig := buildApp
	buildApp = func(context.Context, config.Config) (crawlApp, error) { return app, nil }
	t.Cleanup(func() { buildApp = orig })
}

func TestCrawlCommandRunsAndPrintsStats(t *testing.T) {
	app := &fakeApp{}
	stubApp(t, app)

	out, err := execute(t, "crawl", "--config", writeConfig(t), "--resume")
	require.NoError(t, err)
	require.True(t, app.resume)
	require.True(t, app.closed)

	var stats driver.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.EqualValues(t, 4, stats.Fetched)
	require.EqualValues(t, 3, stats.Delivered)
}

func TestCrawlCommandInterruptIsNotAnError(t *testing.T) {
	app := &fakeApp{err: fmt.Errorf("crawl interrupted: %w", context.Canceled)}
	stubApp(t, app)

	out, err := execute(t, "crawl", "--config", writeConfig(t))
	require.NoError(t, err)
	require.Contains(t, out, "crawl interrupted")
	require.True(t, app.closed)
}

func TestCrawlCommandReportsFailures(t *testing.T) {
	app := &fakeApp{err: errors.New("boom")}
	stubApp(t, app)

	_, err := execute(t, "crawl", "--config", writeConfig(t))
	require.ErrorContains(t, err, "run crawl: boom")
}

func TestCrawlCommandRejectsBadConfig(t *testing.T) {
	stubApp(t, &fakeApp{})
	_, err := execute(t, "crawl", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestValidateAndVersion(t *testing.T) {
	out, err := execute(t, "validate", "--config", writeConfig(t))
	require.NoError(t, err)
	require.Contains(t, out, "config ok: 1 seed(s), dedup backend memory")

	out, err = execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, "dev\n", out)
}
