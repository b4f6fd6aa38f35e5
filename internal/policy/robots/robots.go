// Package robots implements the politeness controller: a per-origin cache of
// robots.txt rules and crawl delays.
//
// Rules are fetched at most once per origin at a time (concurrent misses share
// one request) and cached in a bounded LRU with a freshness TTL. Any failure to
// obtain rules (network error, non-2xx status, unparsable body) yields a
// permissive policy that is cached like a real one.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/politecrawl/internal/clock/system"
	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/metrics"
)

// Config controls robots handling.
type Config struct {
	Enabled      bool
	UserAgent    string
	CacheSize    int
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	MaxBytes     int64
}

// Policy is the cached robots state of one origin.
type Policy struct {
	Origin     string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
	Permissive bool

	data *robotstxt.RobotsData
}

func (p *Policy) group(agent string) *robotstxt.Group {
	if p == nil || p.Permissive || p.data == nil {
		return nil
	}
	return p.data.FindGroup(agent)
}

// Controller answers is-allowed and crawl-delay queries.
type Controller struct {
	cfg    Config
	client *http.Client
	cache  *expirable.LRU[string, *Policy]
	flight singleflight.Group
	clock  crawler.Clock
	logger *zap.Logger
}

// Option customises a Controller.
type Option func(*Controller)

// WithHTTPClient overrides the client used to fetch robots.txt.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) {
		if client != nil {
			c.client = client
		}
	}
}

// WithClock overrides the clock used for freshness checks.
func WithClock(clock crawler.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New builds a Controller. A disabled controller allows everything.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1 << 20
	}
	c := &Controller{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		cache:  expirable.NewLRU[string, *Policy](cfg.CacheSize, nil, cfg.CacheTTL),
		clock:  system.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsAllowed reports whether agent may fetch rawURL. An empty agent uses the
// configured user agent.
func (c *Controller) IsAllowed(ctx context.Context, rawURL, agent string) bool {
	if !c.cfg.Enabled {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Path == "/robots.txt" {
		return true
	}
	if agent == "" {
		agent = c.cfg.UserAgent
	}
	group := c.policy(ctx, crawler.Origin(u)).group(agent)
	if group == nil {
		return true
	}
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return group.Test(target)
}

// CrawlDelay returns the crawl-delay the origin declares for the configured agent.
func (c *Controller) CrawlDelay(ctx context.Context, origin string) (time.Duration, bool) {
	if !c.cfg.Enabled {
		return 0, false
	}
	group := c.policy(ctx, origin).group(c.cfg.UserAgent)
	if group == nil || group.CrawlDelay <= 0 {
		return 0, false
	}
	return group.CrawlDelay, true
}

// Sitemaps returns the sitemap URLs the origin's robots.txt advertises.
func (c *Controller) Sitemaps(ctx context.Context, origin string) []string {
	if !c.cfg.Enabled {
		return nil
	}
	p := c.policy(ctx, origin)
	if p == nil || p.data == nil {
		return nil
	}
	return append([]string(nil), p.data.Sitemaps...)
}

func (c *Controller) policy(ctx context.Context, origin string) *Policy {
	if p, ok := c.lookup(origin); ok {
		return p
	}
	ch := c.flight.DoChan(origin, func() (any, error) {
		if p, ok := c.lookup(origin); ok {
			return p, nil
		}
		// The fetch is shared by every waiter, so it must not die with the
		// first caller's context.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
		defer cancel()
		p := c.fetch(fetchCtx, origin)
		c.cache.Add(origin, p)
		return p, nil
	})
	select {
	case res := <-ch:
		p, _ := res.Val.(*Policy)
		return p
	case <-ctx.Done():
		return &Policy{Origin: origin, Permissive: true}
	}
}

func (c *Controller) lookup(origin string) (*Policy, bool) {
	p, ok := c.cache.Get(origin)
	if !ok {
		return nil, false
	}
	if c.cfg.CacheTTL > 0 && c.clock.Now().Sub(p.FetchedAt) > c.cfg.CacheTTL {
		c.cache.Remove(origin)
		return nil, false
	}
	return p, true
}

func (c *Controller) fetch(ctx context.Context, origin string) *Policy {
	p := &Policy{Origin: origin, FetchedAt: c.clock.Now()}
	status, body, err := c.download(ctx, origin)
	p.StatusCode = status
	switch {
	case err != nil:
		c.logger.Warn("robots fetch failed; allowing access", zap.String("origin", origin), zap.Error(err))
		metrics.ObserveRobotsFetch("error")
		p.Permissive = true
		return p
	case status < 200 || status > 299:
		c.logger.Debug("robots unavailable; allowing access", zap.String("origin", origin), zap.Int("status", status))
		metrics.ObserveRobotsFetch("unavailable")
		p.Permissive = true
		return p
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		c.logger.Warn("robots parse failed; allowing access", zap.String("origin", origin), zap.Error(err))
		metrics.ObserveRobotsFetch("unparsable")
		p.Permissive = true
		return p
	}
	metrics.ObserveRobotsFetch("ok")
	p.Body = body
	p.data = data
	return p
}

func (c *Controller) download(ctx context.Context, origin string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(origin, "/")+"/robots.txt", nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new robots request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read robots body: %w", err)
	}
	return resp.StatusCode, body, nil
}
