// Package server is the composition root. It turns a config.Config into a
// wired crawl driver plus the admin HTTP server and owns their lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawl/internal/api"
	"github.com/JakeFAU/politecrawl/internal/checkpoint"
	"github.com/JakeFAU/politecrawl/internal/clock/system"
	"github.com/JakeFAU/politecrawl/internal/config"
	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/dedup"
	"github.com/JakeFAU/politecrawl/internal/dispatcher"
	"github.com/JakeFAU/politecrawl/internal/driver"
	"github.com/JakeFAU/politecrawl/internal/fetcher/httpfetch"
	"github.com/JakeFAU/politecrawl/internal/frontier"
	"github.com/JakeFAU/politecrawl/internal/hash/sha256"
	"github.com/JakeFAU/politecrawl/internal/id/uuid"
	"github.com/JakeFAU/politecrawl/internal/logging"
	"github.com/JakeFAU/politecrawl/internal/pipeline"
	"github.com/JakeFAU/politecrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/politecrawl/internal/policy/robots"
	"github.com/JakeFAU/politecrawl/internal/progress"
	"github.com/JakeFAU/politecrawl/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/politecrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/politecrawl/internal/scope"
	"github.com/JakeFAU/politecrawl/internal/sink"
	gcsstorage "github.com/JakeFAU/politecrawl/internal/storage/gcs"
	localstorage "github.com/JakeFAU/politecrawl/internal/storage/local"
	memorystorage "github.com/JakeFAU/politecrawl/internal/storage/memory"
	pgstore "github.com/JakeFAU/politecrawl/internal/storage/postgres"
	"github.com/JakeFAU/politecrawl/internal/storage/sqlite"
	"github.com/JakeFAU/politecrawl/internal/telemetry"
)

const (
	apiShutdownTimeout = 10 * time.Second
	checkpointWait     = 30 * time.Second
	journalDrainWait   = 15 * time.Second
)

// runMetrics is shared by every App in the process so the collectors are
// registered once against the default registry.
var runMetrics = sync.OnceValues(func() (*sinks.PrometheusSink, error) {
	return sinks.NewPrometheusSink(nil)
})

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger    *zap.Logger
	publisher sink.Publisher
	version   string
}

// WithLogger replaces the logger built from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithPublisher replaces the Pub/Sub client used for sink.pubsub_topic.
func WithPublisher(p sink.Publisher) Option {
	return func(o *buildOptions) { o.publisher = p }
}

// WithVersion stamps the service version on trace resources.
func WithVersion(version string) Option {
	return func(o *buildOptions) { o.version = version }
}

type closer struct {
	name  string
	close func() error
}

// App holds the wired crawl and everything it must release on exit.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	driver         *driver.Driver
	apiServer      *api.Server
	blobs          *memorystorage.BlobStore
	closers        []closer
	tracerShutdown telemetry.ShutdownFunc
}

// Driver exposes the wired crawl driver.
func (a *App) Driver() *driver.Driver { return a.driver }

// DryRunBlobs returns the in-memory store used when no sink is configured.
// It is nil otherwise.
func (a *App) DryRunBlobs() *memorystorage.BlobStore { return a.blobs }

// Build creates every component named in cfg. On error, whatever was already
// opened is closed before returning.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	app.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     o.version,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	logger.Info("Building crawl",
		zap.Strings("seeds", cfg.Crawler.Seeds),
		zap.String("strategy", cfg.Crawler.Strategy),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.String("dedup_backend", cfg.Dedup.Backend),
	)

	clock := system.New()
	politeness := robots.New(robots.Config{
		Enabled:      cfg.Robots.Enabled,
		UserAgent:    cfg.Crawler.UserAgent,
		CacheSize:    cfg.Robots.CacheSize,
		CacheTTL:     cfg.Robots.CacheTTL,
		FetchTimeout: cfg.Robots.FetchTimeout,
		MaxBytes:     cfg.Robots.MaxBytes,
	}, logger.Named("robots"), robots.WithClock(clock))

	limiter := ratelimit.New(ratelimit.Config{
		DefaultDelay:      cfg.RateLimit.DefaultDelay,
		MaxDelay:          cfg.RateLimit.MaxDelay,
		BackoffFactor:     cfg.RateLimit.BackoffFactor,
		DecayFactor:       cfg.RateLimit.DecayFactor,
		DecayAfter:        cfg.RateLimit.DecayAfter,
		RetryAfterCap:     cfg.RateLimit.RetryAfterCap,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, ratelimit.WithClock(clock), ratelimit.WithLogger(logger.Named("ratelimit")))

	predicate, err := buildScope(cfg, politeness)
	if err != nil {
		return nil, err
	}
	frontierOpts := []frontier.Option{
		frontier.WithScope(predicate),
		frontier.WithLogger(logger.Named("frontier")),
	}
	if cfg.Crawler.PreferShortPaths {
		frontierOpts = append(frontierOpts, frontier.WithPriority(shortPathPriority))
	}
	front := frontier.New(frontier.Config{
		MaxDepth: cfg.Crawler.MaxDepth,
		MaxPages: cfg.Crawler.MaxPages,
	}, frontierOpts...)

	dedupSvc, err := app.setupDedup(ctx, clock)
	if err != nil {
		return nil, err
	}

	transport := httpfetch.New(httpfetch.Config{
		Timeout:      cfg.HTTP.Timeout,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		MaxRedirects: cfg.HTTP.MaxRedirects,
		UserAgent:    cfg.Crawler.UserAgent,
		Robots:       politeness,
	}, logger.Named("http"))
	disp := dispatcher.New(transport, politeness, limiter, dispatcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Retry: dispatcher.RetryPolicy{
			MaxAttempts:         cfg.HTTP.MaxAttempts,
			MaxRateLimitRetries: cfg.HTTP.MaxRateLimitRetries,
			BaseDelay:           cfg.HTTP.BackoffInitial,
			MaxDelay:            cfg.HTTP.BackoffMax,
			Jitter:              true,
		},
		ForceRefresh: cfg.Dedup.ForceRefresh,
	},
		dispatcher.WithClock(clock),
		dispatcher.WithLogger(logger.Named("dispatcher")),
		dispatcher.WithConditionalStore(dedupSvc),
	)

	engine := pipeline.New(buildStages(cfg.Pipeline),
		pipeline.WithAbortOnError(cfg.Pipeline.AbortOnError),
		pipeline.WithLogger(logger.Named("pipeline")),
	)

	out, err := app.setupSinks(ctx, o.publisher)
	if err != nil {
		return nil, err
	}

	journal, err := app.setupProgress(ctx)
	if err != nil {
		return nil, err
	}

	var state *checkpoint.FileStore
	if cfg.State.Path != "" {
		state = checkpoint.NewFileStore(cfg.State.Path)
	}

	app.driver, err = driver.New(driver.Config{
		Seeds:           cfg.Crawler.Seeds,
		UserAgent:       cfg.Crawler.UserAgent,
		Concurrency:     cfg.Crawler.Concurrency,
		Strategy:        driver.Strategy(cfg.Crawler.Strategy),
		ShutdownGrace:   cfg.Crawler.ShutdownGrace,
		DuplicatePolicy: driver.DuplicatePolicy(cfg.Dedup.DuplicatePolicy),
		FollowSitemaps:  cfg.Robots.FollowSitemaps,
		MaxLinksPerPage: cfg.Crawler.MaxLinksPerPage,
		SkipNofollow:    cfg.Crawler.SkipNofollow,
		MaxDuration:     cfg.Crawler.MaxDuration,
		MaxBytes:        cfg.Crawler.MaxBytes,
	}, driver.Deps{
		Frontier:   front,
		Dispatcher: disp,
		Pipeline:   engine,
		Dedup:      dedupSvc,
		Sink:       out,
		Robots:     politeness,
		Limiter:    limiter,
		State:      state,
		IDs:        uuid.New(),
		Clock:      clock,
		Logger:     logger.Named("driver"),
		Progress:   journal,
	})
	if err != nil {
		return nil, fmt.Errorf("driver init failed: %w", err)
	}

	if cfg.API.Addr != "" {
		app.apiServer = api.NewServer(app.driver, api.Config{APIKey: cfg.API.APIKey}, logger.Named("api"))
	}
	return app, nil
}

func buildScope(cfg config.Config, politeness crawler.Politeness) (scope.Predicate, error) {
	preds := []scope.Predicate{
		scope.BlockExtensions(cfg.Scope.BlockedExtensions),
		scope.BlockDomains(cfg.Scope.BlockedDomains),
		scope.AllowDomains(cfg.Scope.AllowedDomains),
	}
	if cfg.Scope.SameSite {
		sameSite, err := scope.SameSite(cfg.Crawler.Seeds)
		if err != nil {
			return nil, fmt.Errorf("scope init failed: %w", err)
		}
		preds = append(preds, sameSite)
	}
	patterns, err := scope.Patterns(cfg.Scope.AllowPatterns, cfg.Scope.BlockPatterns)
	if err != nil {
		return nil, fmt.Errorf("scope init failed: %w", err)
	}
	preds = append(preds, patterns)
	// Robots last: it may fetch robots.txt.
	if cfg.Robots.Enabled {
		preds = append(preds, scope.Robots(politeness, cfg.Crawler.UserAgent))
	}
	return scope.All(preds...), nil
}

func shortPathPriority(entry crawler.FrontierEntry) float64 {
	u, err := url.Parse(entry.URL)
	if err != nil {
		return 0
	}
	return -float64(strings.Count(strings.Trim(u.Path, "/"), "/"))
}

func buildStages(cfg config.PipelineConfig) []pipeline.Stage {
	var stages []pipeline.Stage
	if len(cfg.AllowedContentTypes) > 0 {
		stages = append(stages, pipeline.ContentTypeFilter{Allowed: cfg.AllowedContentTypes})
	}
	if cfg.ExtractMetadata {
		stages = append(stages, pipeline.MetadataStage{})
	}
	if cfg.RenderHints {
		stages = append(stages, pipeline.RenderHintStage{})
	}
	return stages
}

func (a *App) setupDedup(ctx context.Context, clock crawler.Clock) (*dedup.Service, error) {
	names, err := sha256.Normalizers(a.cfg.Dedup.Normalizers())
	if err != nil {
		return nil, fmt.Errorf("dedup init failed: %w", err)
	}
	hasher := sha256.New(names...)

	var backend dedup.Backend
	switch a.cfg.Dedup.Backend {
	case "sqlite":
		store, err := sqlite.Open(ctx, a.cfg.Dedup.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite dedup store init failed: %w", err)
		}
		backend = store
		a.logger.Info("Using sqlite dedup store", zap.String("path", a.cfg.Dedup.SQLitePath))
	case "postgres":
		store, err := pgstore.NewDedupStore(ctx, pgstore.PoolConfig{DSN: a.cfg.Dedup.PostgresDSN})
		if err != nil {
			return nil, fmt.Errorf("postgres dedup store init failed: %w", err)
		}
		backend = store
		a.logger.Info("Using postgres dedup store")
	default:
		backend = memorystorage.NewDedupStore()
		a.logger.Info("Using in-memory dedup store")
	}
	a.closers = append(a.closers, closer{name: "dedup store", close: backend.Close})

	return dedup.New(backend, hasher, dedup.Config{MinContentLength: a.cfg.Dedup.MinContentLength},
		dedup.WithClock(clock),
		dedup.WithLogger(a.logger.Named("dedup")),
	), nil
}

func (a *App) setupSinks(ctx context.Context, publisher sink.Publisher) (crawler.Sink, error) {
	sc := a.cfg.Sink
	var targets []sink.Target

	if sc.LocalDir != "" {
		store, err := localstorage.New(localstorage.Config{BaseDir: sc.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		targets = append(targets, sink.Target{Name: "local", Sink: sink.NewBlobSink(store)})
		a.logger.Info("Using local sink", zap.String("dir", sc.LocalDir))
	}

	if sc.GCSBucket != "" {
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: sc.GCSBucket, Prefix: sc.GCSPrefix}, a.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.closers = append(a.closers, closer{name: "gcs client", close: store.Close})
		targets = append(targets, sink.Target{Name: "gcs", Sink: sink.NewBlobSink(store)})
		a.logger.Info("Using GCS sink", zap.String("bucket", sc.GCSBucket))
	}

	if sc.PostgresDSN != "" {
		store, err := pgstore.NewArtifactStore(ctx, pgstore.ArtifactStoreConfig{
			PoolConfig: pgstore.PoolConfig{DSN: sc.PostgresDSN, MaxConns: sc.PostgresMaxConns},
			Table:      sc.PostgresTable,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres artifact store init failed: %w", err)
		}
		a.closers = append(a.closers, closer{name: "artifact store", close: func() error {
			store.Close()
			return nil
		}})
		targets = append(targets, sink.Target{Name: "postgres", Sink: store})
		a.logger.Info("Using postgres sink", zap.String("table", sc.PostgresTable))
	}

	if sc.PubSubTopic != "" {
		if publisher == nil {
			pub, err := gcppublisher.Open(ctx, sc.PubSubProject)
			if err != nil {
				return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
			}
			a.closers = append(a.closers, closer{name: "pubsub client", close: pub.Close})
			publisher = pub
		}
		targets = append(targets, sink.Target{Name: "pubsub", Sink: sink.NewNotifySink(publisher, sc.PubSubTopic)})
		a.logger.Info("Using Pub/Sub notifications",
			zap.String("project", sc.PubSubProject),
			zap.String("topic", sc.PubSubTopic),
		)
	}

	if len(targets) == 0 {
		a.logger.Warn("No sink configured, artifacts are kept in memory only")
		a.blobs = memorystorage.NewBlobStore()
		targets = append(targets, sink.Target{Name: "memory", Sink: sink.NewBlobSink(a.blobs)})
	}
	return sink.NewFanout(a.logger.Named("sink"), targets...), nil
}

// setupProgress builds the run journal hub. A nil emitter disables it.
func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	pc := a.cfg.Progress
	if !pc.Enabled {
		return nil, nil
	}
	var targets []progress.Sink
	if pc.Log {
		targets = append(targets, sinks.NewLogSink(a.logger.Named("journal")))
	}
	promSink, err := runMetrics()
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	targets = append(targets, promSink)

	if pc.PostgresDSN != "" {
		repo, err := pgstore.NewRunStore(ctx, pgstore.PoolConfig{DSN: pc.PostgresDSN})
		if err != nil {
			return nil, fmt.Errorf("postgres run store init failed: %w", err)
		}
		// Registered before the hub so the hub drains into it first.
		a.closers = append(a.closers, closer{name: "run store", close: func() error {
			repo.Close()
			return nil
		}})
		targets = append(targets, sinks.NewStoreSink(repo, a.logger.Named("journal")))
		a.logger.Info("Recording runs in postgres")
	}

	hub := progress.NewHub(progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.MaxBatchEvents,
		MaxBatchWait:   pc.MaxBatchWait,
		SinkTimeout:    pc.SinkTimeout,
		Logger:         a.logger.Named("progress"),
	}, targets...)
	a.closers = append(a.closers, closer{name: "progress hub", close: func() error {
		ctx, cancel := context.WithTimeout(context.Background(), journalDrainWait)
		defer cancel()
		if err := hub.Close(ctx); err != nil {
			return err
		}
		if n := hub.Dropped(); n > 0 {
			a.logger.Warn("Progress events dropped during run", zap.Int64("dropped", n))
		}
		return nil
	}})
	return hub, nil
}

// Run crawls until the frontier is exhausted or ctx is canceled. With resume
// set, a saved state file is loaded first; a missing file starts fresh.
func (a *App) Run(ctx context.Context, resume bool) (driver.Stats, error) {
	if resume {
		ok, err := a.driver.LoadState(ctx)
		switch {
		case errors.Is(err, driver.ErrNoStateStore):
			return driver.Stats{}, fmt.Errorf("resume requires state.path: %w", err)
		case err != nil:
			return driver.Stats{}, err
		case !ok:
			a.logger.Info("No saved state found, starting fresh", zap.String("path", a.cfg.State.Path))
		}
	}

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              a.cfg.API.Addr,
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("Admin server started", zap.String("addr", a.cfg.API.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Admin server error", zap.Error(err))
			}
		}()
	}

	checkpointDone := make(chan struct{})
	checkpointCtx, stopCheckpoints := context.WithCancel(ctx)
	go func() {
		defer close(checkpointDone)
		a.checkpointLoop(checkpointCtx)
	}()

	stats, runErr := a.driver.Run(ctx)
	stopCheckpoints()
	<-checkpointDone

	if a.cfg.State.Path != "" {
		if err := a.driver.SaveState(context.WithoutCancel(ctx)); err != nil {
			a.logger.Error("Final checkpoint failed", zap.Error(err))
			runErr = errors.Join(runErr, err)
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apiShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Admin server shutdown error", zap.Error(err))
		}
		cancel()
	}
	return stats, runErr
}

// checkpointLoop saves state every State.SaveInterval. Each save pauses
// dispatch and waits for in-flight work so the snapshot is consistent; a
// crawl already paused through the admin API stays paused.
func (a *App) checkpointLoop(ctx context.Context) {
	if a.cfg.State.Path == "" || a.cfg.State.SaveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.State.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.checkpoint(ctx)
		}
	}
}

func (a *App) checkpoint(ctx context.Context) {
	wasPaused := a.driver.Paused()
	if !wasPaused {
		a.driver.Pause()
		defer a.driver.Resume()
	}
	waitCtx, cancel := context.WithTimeout(ctx, checkpointWait)
	defer cancel()
	if err := a.driver.WaitIdle(waitCtx); err != nil {
		a.logger.Warn("Periodic checkpoint skipped", zap.Error(err))
		return
	}
	if err := a.driver.SaveState(ctx); err != nil {
		a.logger.Error("Periodic checkpoint failed", zap.Error(err))
	}
}

// Close releases stores, clients and the tracer provider.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("Shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("Close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync reports EINVAL on stdout/stderr on some platforms.
	_ = a.logger.Sync()
}
