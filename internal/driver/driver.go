// Package driver runs the crawl control loop. It pulls entries from the
// frontier under a global concurrency bound, dispatches them, checks them for
// duplicates, runs the pipeline and feeds discovered links back into the
// frontier. It also owns pause, resume and state save/load.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/politecrawl/internal/checkpoint"
	"github.com/JakeFAU/politecrawl/internal/clock/system"
	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/dedup"
	"github.com/JakeFAU/politecrawl/internal/frontier"
	"github.com/JakeFAU/politecrawl/internal/metrics"
	"github.com/JakeFAU/politecrawl/internal/parser"
	"github.com/JakeFAU/politecrawl/internal/pipeline"
	"github.com/JakeFAU/politecrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/politecrawl/internal/policy/robots"
	"github.com/JakeFAU/politecrawl/internal/progress"
	"github.com/JakeFAU/politecrawl/internal/storage/memory"
)

// Strategy selects how dispatches are scheduled.
type Strategy string

// Scheduling strategies. Both honour the same concurrency bound.
const (
	StrategyPool  Strategy = "pool"
	StrategyTasks Strategy = "tasks"
)

// DuplicatePolicy decides what happens to content already seen under another URL.
type DuplicatePolicy string

// Duplicate policies.
const (
	// DuplicateDrop records the duplicate and skips the pipeline.
	DuplicateDrop DuplicatePolicy = "drop"
	// DuplicateProcess runs the pipeline but never delivers to the sink.
	DuplicateProcess DuplicatePolicy = "process"
)

// Budgets reported in Stats.BudgetStop.
const (
	BudgetDuration = "max_duration"
	BudgetBytes    = "max_bytes"
)

const (
	defaultIdlePoll = 25 * time.Millisecond
	maxSitemapDocs  = 50
)

var tracer = otel.Tracer("github.com/JakeFAU/politecrawl/internal/driver")

var (
	// ErrRunning is returned when Run is called on a driver that is already running.
	ErrRunning = errors.New("driver already running")
	// ErrNoSeeds is returned when a fresh run accepted no seed URL.
	ErrNoSeeds = errors.New("no seed url accepted")
	// ErrNoStateStore is returned by SaveState/LoadState without a configured store.
	ErrNoStateStore = errors.New("no state store configured")
)

// Config tunes the control loop.
type Config struct {
	Seeds           []string
	UserAgent       string
	Concurrency     int
	Strategy        Strategy
	ShutdownGrace   time.Duration
	DuplicatePolicy DuplicatePolicy
	FollowSitemaps  bool
	MaxLinksPerPage int
	SkipNofollow    bool
	// MaxDuration stops dispatching once a run segment has lasted this long.
	MaxDuration time.Duration
	// MaxBytes stops dispatching once this many body bytes were fetched,
	// counted across resumes.
	MaxBytes int64
	// IdlePoll bounds how long the loop waits when the frontier holds work
	// behind a depth barrier.
	IdlePoll time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Strategy == "" {
		c.Strategy = StrategyPool
	}
	if c.DuplicatePolicy == "" {
		c.DuplicatePolicy = DuplicateDrop
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = defaultIdlePoll
	}
	return c
}

// Dispatcher fetches one frontier entry.
type Dispatcher interface {
	Dispatch(ctx context.Context, entry crawler.FrontierEntry) crawler.FetchOutcome
}

// Deps are the components the driver orchestrates. Frontier, Dispatcher and
// Pipeline are required; everything else is optional.
type Deps struct {
	Frontier   *frontier.Frontier
	Dispatcher Dispatcher
	Pipeline   *pipeline.Engine
	Dedup      *dedup.Service
	Sink       crawler.Sink
	Robots     *robots.Controller
	Limiter    *ratelimit.Limiter
	State      *checkpoint.FileStore
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	Logger     *zap.Logger
	// Progress receives run and page journal events.
	Progress progress.Emitter
}

// Driver is the crawl control loop.
type Driver struct {
	cfg        Config
	frontier   *frontier.Frontier
	dispatcher Dispatcher
	pipeline   *pipeline.Engine
	dedup      *dedup.Service
	sink       crawler.Sink
	robots     *robots.Controller
	limiter    *ratelimit.Limiter
	state      *checkpoint.FileStore
	ids        crawler.IDGenerator
	clock      crawler.Clock
	logger     *zap.Logger

	journal progress.Emitter

	stats   counters
	running atomic.Bool
	wake    chan struct{}

	mu       sync.Mutex
	runID    string
	stopped  string
	resumed  bool
	paused   bool
	resumeCh chan struct{}
}

// New validates deps and builds a Driver.
func New(cfg Config, deps Deps) (*Driver, error) {
	if deps.Frontier == nil {
		return nil, errors.New("driver requires a frontier")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("driver requires a dispatcher")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("driver requires a pipeline")
	}
	cfg = cfg.withDefaults()
	switch cfg.Strategy {
	case StrategyPool, StrategyTasks:
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
	switch cfg.DuplicatePolicy {
	case DuplicateDrop, DuplicateProcess:
	default:
		return nil, fmt.Errorf("unknown duplicate policy %q", cfg.DuplicatePolicy)
	}
	d := &Driver{
		cfg:        cfg,
		frontier:   deps.Frontier,
		dispatcher: deps.Dispatcher,
		pipeline:   deps.Pipeline,
		dedup:      deps.Dedup,
		sink:       deps.Sink,
		robots:     deps.Robots,
		limiter:    deps.Limiter,
		state:      deps.State,
		ids:        deps.IDs,
		clock:      deps.Clock,
		logger:     deps.Logger,
		wake:       make(chan struct{}, 1),
		journal:    deps.Progress,
	}
	if d.clock == nil {
		d.clock = system.New()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d, nil
}

// RunID returns the identifier stamped on artifacts of this run.
func (d *Driver) RunID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runID
}

// Stats returns a snapshot of the run counters.
func (d *Driver) Stats() Stats {
	st := d.stats.snapshot()
	d.mu.Lock()
	st.BudgetStop = d.stopped
	d.mu.Unlock()
	return st
}

// Pending returns the number of queued frontier entries.
func (d *Driver) Pending() int { return d.frontier.Len() }

// InFlight returns the number of entries being processed.
func (d *Driver) InFlight() int { return d.frontier.InFlight() }

// Paused reports whether new dispatches are suspended.
func (d *Driver) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Pause stops new dispatches. In-flight work runs to completion.
func (d *Driver) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused {
		return
	}
	d.paused = true
	d.resumeCh = make(chan struct{})
	d.logger.Info("Crawl paused")
}

// Resume lets dispatching continue after Pause.
func (d *Driver) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.paused {
		return
	}
	d.paused = false
	close(d.resumeCh)
	d.logger.Info("Crawl resumed")
}

// WaitIdle blocks until the driver is paused with nothing in flight.
func (d *Driver) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if d.Paused() && d.frontier.InFlight() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait idle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// SaveState writes the frontier, politeness caches, rate limiter state and
// counters to the state store. Call it while paused for a consistent view;
// in-flight entries are already marked visited and are not re-queued.
func (d *Driver) SaveState(ctx context.Context) error {
	if d.state == nil {
		return ErrNoStateStore
	}
	st := checkpoint.State{
		RunID:    d.RunID(),
		SavedAt:  d.clock.Now(),
		Frontier: d.frontier.Snapshot(),
		Stats:    d.stats.toMap(),
	}
	if d.robots != nil {
		st.Robots = d.robots.Snapshot()
	}
	if d.limiter != nil {
		st.RateLimit = d.limiter.Snapshot()
	}
	if mem := d.memoryDedup(); mem != nil {
		snap := mem.Snapshot()
		st.Dedup = &snap
	}
	if err := d.state.Save(ctx, st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	d.logger.Info("Crawl state saved",
		zap.String("path", d.state.Path()),
		zap.Int("pending", len(st.Frontier.Pending)),
		zap.Int("visited", len(st.Frontier.Visited)),
	)
	return nil
}

// LoadState restores a previous save. It reports false when there is nothing
// to resume.
func (d *Driver) LoadState(ctx context.Context) (bool, error) {
	if d.state == nil {
		return false, ErrNoStateStore
	}
	st, ok, err := d.state.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return false, nil
	}
	d.frontier.Restore(st.Frontier)
	if d.robots != nil {
		d.robots.Restore(st.Robots)
	}
	if d.limiter != nil {
		d.limiter.Restore(st.RateLimit)
	}
	if mem := d.memoryDedup(); mem != nil && st.Dedup != nil {
		mem.Restore(*st.Dedup)
	}
	d.stats.restore(st.Stats)

	d.mu.Lock()
	d.runID = st.RunID
	d.resumed = true
	d.mu.Unlock()

	d.logger.Info("Crawl state restored",
		zap.String("run_id", st.RunID),
		zap.Time("saved_at", st.SavedAt),
		zap.Int("pending", len(st.Frontier.Pending)),
		zap.Int("visited", len(st.Frontier.Visited)),
	)
	return true, nil
}

func (d *Driver) memoryDedup() *memory.DedupStore {
	if d.dedup == nil {
		return nil
	}
	mem, _ := d.dedup.Backend().(*memory.DedupStore)
	return mem
}

// Run crawls until the frontier is exhausted or ctx is canceled. On
// cancellation no new work is dispatched; in-flight fetches get
// ShutdownGrace to finish and completed fetches still run the pipeline.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	if !d.running.CompareAndSwap(false, true) {
		return d.Stats(), ErrRunning
	}
	defer d.running.Store(false)

	started := d.clock.Now()
	d.mu.Lock()
	d.stopped = ""
	d.mu.Unlock()
	if err := d.prepare(ctx); err != nil {
		if runID := d.RunID(); runID != "" {
			d.emit(progress.Event{RunID: runID, TS: d.clock.Now(), Kind: progress.KindRunError, Note: err.Error()})
		}
		return d.Stats(), err
	}
	runID := d.RunID()
	d.emit(progress.Event{RunID: runID, TS: started, Kind: progress.KindRunStart})
	d.logger.Info("Crawl started",
		zap.String("run_id", runID),
		zap.String("strategy", string(d.cfg.Strategy)),
		zap.Int("concurrency", d.cfg.Concurrency),
		zap.Int("pending", d.frontier.Len()),
	)

	fetchCtx, cancelFetch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFetch()

	sem := semaphore.NewWeighted(int64(d.cfg.Concurrency))
	var wg sync.WaitGroup
	var work chan crawler.FrontierEntry
	if d.cfg.Strategy == StrategyPool {
		work = make(chan crawler.FrontierEntry)
		for i := 0; i < d.cfg.Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for entry := range work {
					d.process(fetchCtx, runID, entry)
					sem.Release(1)
				}
			}()
		}
	}

	if budget := d.loop(ctx, sem, work, &wg, fetchCtx, runID, started); budget != "" {
		d.mu.Lock()
		d.stopped = budget
		d.mu.Unlock()
		d.logger.Info("Crawl budget reached, dispatch stopped",
			zap.String("budget", budget),
			zap.Int64("bytes_fetched", d.stats.bytesFetched.Load()),
			zap.Duration("elapsed", d.clock.Now().Sub(started)),
		)
	}

	if work != nil {
		close(work)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	if ctx.Err() != nil {
		timer := time.NewTimer(d.cfg.ShutdownGrace)
		select {
		case <-done:
		case <-timer.C:
			d.logger.Warn("Shutdown grace elapsed, canceling in-flight fetches",
				zap.Duration("grace", d.cfg.ShutdownGrace),
				zap.Int("in_flight", d.frontier.InFlight()),
			)
			cancelFetch()
			<-done
		}
		timer.Stop()
	} else {
		<-done
	}

	stats := d.Stats()
	d.logger.Info("Crawl finished",
		zap.String("run_id", runID),
		zap.Bool("interrupted", ctx.Err() != nil),
		zap.Int64("fetched", stats.Fetched),
		zap.Int64("unchanged", stats.Unchanged),
		zap.Int64("failed", stats.FailedTerminal),
		zap.Int64("delivered", stats.Delivered),
		zap.Int("pending", d.frontier.Len()),
	)
	end := progress.Event{RunID: runID, TS: d.clock.Now(), Kind: progress.KindRunDone}
	end.Dur = end.TS.Sub(started)
	if stats.BudgetStop != "" {
		end.Note = "budget: " + stats.BudgetStop
	}
	if err := ctx.Err(); err != nil {
		end.Kind = progress.KindRunInterrupted
		end.Note = err.Error()
		d.emit(end)
		return stats, fmt.Errorf("crawl interrupted: %w", err)
	}
	d.emit(end)
	return stats, nil
}

func (d *Driver) emit(evt progress.Event) {
	if d.journal != nil {
		d.journal.Emit(evt)
	}
}

func (d *Driver) prepare(ctx context.Context) error {
	d.mu.Lock()
	resumed := d.resumed
	if d.runID == "" && d.ids != nil {
		id, err := d.ids.NewID()
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("generate run id: %w", err)
		}
		d.runID = id
	}
	d.mu.Unlock()

	accepted := 0
	for _, seed := range d.cfg.Seeds {
		err := d.frontier.Offer(ctx, seed, "", 0, crawler.DiscoverySeed)
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, crawler.ErrAlreadySeen):
		default:
			d.logger.Warn("Seed rejected", zap.String("url", seed), zap.Error(err))
		}
	}
	if resumed {
		return nil
	}
	if accepted == 0 && d.frontier.Len() == 0 {
		return ErrNoSeeds
	}
	if d.cfg.FollowSitemaps && d.robots != nil {
		d.seedSitemaps(ctx)
	}
	return nil
}

// loop hands entries to workers until the frontier is exhausted, ctx is
// canceled or a budget is reached. It returns the budget that stopped it.
func (d *Driver) loop(ctx context.Context, sem *semaphore.Weighted, work chan<- crawler.FrontierEntry,
	wg *sync.WaitGroup, fetchCtx context.Context, runID string, started time.Time,
) string {
	for {
		if budget := d.budgetReached(started); budget != "" {
			return budget
		}
		if err := d.waitRunnable(ctx); err != nil {
			return ""
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return ""
		}
		if budget := d.budgetReached(started); budget != "" {
			sem.Release(1)
			return budget
		}
		d.mu.Lock()
		if d.paused {
			d.mu.Unlock()
			sem.Release(1)
			continue
		}
		entry, ok := d.frontier.Next()
		d.mu.Unlock()

		if !ok {
			sem.Release(1)
			if d.frontier.Exhausted() {
				return ""
			}
			select {
			case <-ctx.Done():
				return ""
			case <-d.wake:
			case <-time.After(d.cfg.IdlePoll):
			}
			continue
		}

		if work == nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				d.process(fetchCtx, runID, entry)
			}()
			continue
		}
		select {
		case work <- entry:
		case <-ctx.Done():
			d.frontier.Done(entry)
			sem.Release(1)
			return ""
		}
	}
}

// budgetReached reports the first exhausted budget. Entries already
// dispatched finish normally; undispatched ones stay pending for a resume.
func (d *Driver) budgetReached(started time.Time) string {
	if d.cfg.MaxDuration > 0 && d.clock.Now().Sub(started) >= d.cfg.MaxDuration {
		return BudgetDuration
	}
	if d.cfg.MaxBytes > 0 && d.stats.bytesFetched.Load() >= d.cfg.MaxBytes {
		return BudgetBytes
	}
	return ""
}

func (d *Driver) waitRunnable(ctx context.Context) error {
	for {
		d.mu.Lock()
		if !d.paused {
			d.mu.Unlock()
			return ctx.Err()
		}
		ch := d.resumeCh
		d.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (d *Driver) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// process handles one dispatched entry end to end. Links are offered before
// the entry is marked done so the frontier's depth barrier sees them.
func (d *Driver) process(ctx context.Context, runID string, entry crawler.FrontierEntry) {
	metrics.IncInFlight()
	defer metrics.DecInFlight()
	defer d.signal()
	defer d.frontier.Done(entry)

	ctx, span := tracer.Start(ctx, "crawl.page", trace.WithAttributes(
		attribute.String("url.full", entry.URL),
		attribute.Int("crawl.depth", entry.Depth),
		attribute.String("crawl.method", string(entry.Method)),
	))
	defer span.End()

	site := entry.URL
	outcome := d.dispatcher.Dispatch(ctx, entry)
	span.SetAttributes(
		attribute.String("crawl.outcome", string(outcome.Kind)),
		attribute.Int("http.response.status_code", outcome.StatusCode),
		attribute.Int("crawl.attempts", outcome.Attempts),
	)
	if outcome.Failed() && outcome.Err != nil {
		span.SetStatus(codes.Error, outcome.Err.Error())
	}
	logger := d.logger.With(
		zap.String("url", entry.URL),
		zap.Int("depth", entry.Depth),
		zap.String("outcome", string(outcome.Kind)),
	)
	d.emit(progress.Event{
		RunID:       runID,
		TS:          d.clock.Now(),
		Kind:        progress.KindPage,
		Site:        metrics.SanitizeSite(entry.URL),
		URL:         entry.URL,
		Outcome:     string(outcome.Kind),
		StatusClass: progress.ClassifyStatus(outcome.StatusCode),
		Bytes:       int64(len(outcome.Body)),
		Dur:         outcome.Elapsed,
	})

	switch outcome.Kind {
	case crawler.OutcomeSuccess:
	case crawler.OutcomeNotModified:
		d.stats.unchanged.Add(1)
		metrics.ObservePage(site, string(outcome.Kind), 0)
		logger.Debug("Page unchanged")
		return
	case crawler.OutcomeSkipped:
		d.stats.skippedByPolicy.Add(1)
		metrics.ObservePage(site, string(outcome.Kind), 0)
		logger.Debug("Page skipped by policy", zap.Error(outcome.Err))
		return
	case crawler.OutcomeCanceled:
		d.stats.canceled.Add(1)
		metrics.ObservePage(site, string(outcome.Kind), 0)
		return
	default:
		d.stats.failedTerminal.Add(1)
		metrics.ObservePage(site, string(outcome.Kind), 0)
		if d.dedup != nil && outcome.StatusCode > 0 {
			d.dedup.RecordResponse(ctx, entry.URL, "", "", outcome.StatusCode)
		}
		logger.Warn("Fetch failed",
			zap.Int("status", outcome.StatusCode),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err),
		)
		return
	}

	d.stats.fetched.Add(1)
	d.stats.bytesFetched.Add(int64(len(outcome.Body)))
	metrics.ObservePage(site, string(outcome.Kind), len(outcome.Body))
	if outcome.FinalURL != "" && outcome.FinalURL != entry.URL {
		if err := d.frontier.MarkVisited(outcome.FinalURL); err != nil {
			logger.Debug("Redirect target not recorded", zap.String("final_url", outcome.FinalURL), zap.Error(err))
		}
	}

	artifact := crawler.NewArtifact(entry, outcome, d.clock.Now())
	artifact.Crawl.RunID = runID
	artifact.Links = d.discover(ctx, entry, outcome, logger)

	duplicate := false
	if d.dedup != nil {
		verdict := d.dedup.Check(ctx, entry.URL, outcome.Body)
		artifact.Content.Hash = verdict.Hash
		if verdict.Duplicate {
			duplicate = true
			artifact.Crawl.Duplicate = true
			artifact.Crawl.Canonical = verdict.Canonical
			d.stats.duplicates.Add(1)
			logger.Debug("Duplicate content", zap.String("canonical", verdict.Canonical))
		}
	}
	if duplicate && d.cfg.DuplicatePolicy == DuplicateDrop {
		d.recordResponse(ctx, entry.URL, outcome)
		return
	}

	sink := d.sink
	if duplicate {
		sink = nil
	}
	res, err := d.pipeline.Execute(ctx, artifact, sink)
	switch {
	case res.Dropped:
		d.stats.pipelineDropped.Add(1)
		d.recordResponse(ctx, entry.URL, outcome)
		return
	case len(res.Failures) > 0:
		d.stats.pipelineFailed.Add(1)
	}
	if err != nil {
		d.stats.sinkFailed.Add(1)
		span.RecordError(err)
		logger.Error("Sink rejected artifact", zap.Error(err))
		return
	}
	if sink != nil {
		d.stats.delivered.Add(1)
	}
	d.recordResponse(ctx, entry.URL, outcome)
}

// discover extracts links from an HTML body and offers them one band deeper.
func (d *Driver) discover(ctx context.Context, entry crawler.FrontierEntry, outcome crawler.FetchOutcome, logger *zap.Logger) []string {
	if !parser.IsHTML(outcome.Header.Get("Content-Type")) {
		return nil
	}
	base := entry.URL
	if outcome.FinalURL != "" {
		base = outcome.FinalURL
	}
	links, err := parser.Links(base, outcome.Body, parser.LinkOptions{
		MaxLinks:     d.cfg.MaxLinksPerPage,
		SkipNofollow: d.cfg.SkipNofollow,
	})
	if err != nil {
		logger.Debug("Link extraction failed", zap.Error(err))
		return nil
	}
	accepted := 0
	for _, link := range links {
		if err := d.frontier.Offer(ctx, link, entry.URL, entry.Depth+1, crawler.DiscoveryLink); err == nil {
			accepted++
		}
	}
	logger.Debug("Links discovered", zap.Int("found", len(links)), zap.Int("queued", accepted))
	return links
}

func (d *Driver) recordResponse(ctx context.Context, rawURL string, outcome crawler.FetchOutcome) {
	if d.dedup == nil {
		return
	}
	d.dedup.RecordResponse(ctx, rawURL, outcome.Header.Get("ETag"), outcome.Header.Get("Last-Modified"), outcome.StatusCode)
}

// seedSitemaps offers every page listed in the seeds' robots sitemaps at
// depth one. Sitemap documents are fetched through the dispatcher so they
// are paced like any other request.
func (d *Driver) seedSitemaps(ctx context.Context) {
	origins := make(map[string]struct{})
	var queue []string
	for _, seed := range d.cfg.Seeds {
		origin, err := crawler.OriginOf(seed)
		if err != nil {
			continue
		}
		if _, ok := origins[origin]; ok {
			continue
		}
		origins[origin] = struct{}{}
		queue = append(queue, d.robots.Sitemaps(ctx, origin)...)
	}

	fetched := make(map[string]struct{})
	offered := 0
	for len(queue) > 0 && len(fetched) < maxSitemapDocs {
		loc := queue[0]
		queue = queue[1:]
		if _, ok := fetched[loc]; ok {
			continue
		}
		fetched[loc] = struct{}{}

		outcome := d.dispatcher.Dispatch(ctx, crawler.FrontierEntry{URL: loc, Method: crawler.DiscoverySitemap})
		if outcome.Kind != crawler.OutcomeSuccess {
			d.logger.Warn("Sitemap fetch failed", zap.String("url", loc), zap.String("outcome", string(outcome.Kind)))
			continue
		}
		sm, err := parser.ParseSitemap(outcome.Body)
		if err != nil {
			d.logger.Warn("Sitemap parse failed", zap.String("url", loc), zap.Error(err))
			continue
		}
		queue = append(queue, sm.Children...)
		for _, u := range sm.URLs {
			if err := d.frontier.Offer(ctx, u, loc, 1, crawler.DiscoverySitemap); err == nil {
				offered++
			}
		}
	}
	d.logger.Info("Sitemaps processed", zap.Int("documents", len(fetched)), zap.Int("queued", offered))
}
