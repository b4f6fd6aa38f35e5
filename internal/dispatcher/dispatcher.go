// Package dispatcher performs polite, retried fetches of frontier entries.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawl/internal/clock/system"
	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/metrics"
	"github.com/JakeFAU/politecrawl/internal/policy/ratelimit"
)

// Config controls dispatch behaviour.
type Config struct {
	UserAgent string
	Retry     RetryPolicy
	// ForceRefresh suppresses conditional request headers.
	ForceRefresh bool
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the clock used for backoff sleeps and timing.
func WithClock(c crawler.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithConditionalStore enables conditional requests from stored validators.
func WithConditionalStore(store crawler.ConditionalStore) Option {
	return func(d *Dispatcher) {
		d.conditional = store
	}
}

// Dispatcher turns a frontier entry into exactly one FetchOutcome.
type Dispatcher struct {
	transport   crawler.Transport
	politeness  crawler.Politeness
	limiter     crawler.RateLimiter
	conditional crawler.ConditionalStore
	clock       crawler.Clock
	logger      *zap.Logger
	cfg         Config
}

// New creates a Dispatcher. politeness and limiter may be nil.
func New(transport crawler.Transport, politeness crawler.Politeness, limiter crawler.RateLimiter, cfg Config, opts ...Option) *Dispatcher {
	cfg.Retry = cfg.Retry.withDefaults()
	d := &Dispatcher{
		transport:  transport,
		politeness: politeness,
		limiter:    limiter,
		clock:      system.New(),
		logger:     zap.NewNop(),
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch fetches entry, retrying transient failures, and reports the
// terminal attempt. It never returns an error; failures are outcome kinds.
func (d *Dispatcher) Dispatch(ctx context.Context, entry crawler.FrontierEntry) crawler.FetchOutcome {
	outcome := crawler.FetchOutcome{URL: entry.URL}
	origin, err := crawler.OriginOf(entry.URL)
	if err != nil {
		outcome.Kind = crawler.OutcomeNetworkError
		outcome.Err = &crawler.FetchError{Kind: crawler.FetchNetwork, URL: entry.URL, Err: err}
		return outcome
	}
	logger := d.logger.With(zap.String("url", entry.URL), zap.Int("depth", entry.Depth))

	if d.politeness != nil && d.limiter != nil {
		if delay, ok := d.politeness.CrawlDelay(ctx, origin); ok {
			d.limiter.SetCrawlDelay(origin, delay)
		}
	}
	header := d.conditionalHeaders(ctx, entry.URL)

	failures := 0
	rateLimited := 0
	for {
		if ctx.Err() != nil {
			return canceled(outcome, ctx.Err())
		}
		if d.politeness != nil && !d.politeness.IsAllowed(ctx, entry.URL, d.cfg.UserAgent) {
			outcome.Kind = crawler.OutcomeSkipped
			outcome.Err = &crawler.PolicyError{Kind: crawler.PolicyDisallowedByRobots, URL: entry.URL}
			metrics.ObserveFetchAttempt("skipped")
			logger.Debug("Skipping URL disallowed by robots")
			return outcome
		}
		if d.limiter != nil {
			if err := d.limiter.Acquire(ctx, origin); err != nil {
				return canceled(outcome, err)
			}
		}

		outcome.Attempts++
		start := d.clock.Now()
		resp, err := d.transport.Do(ctx, crawler.Request{URL: entry.URL, Header: header.Clone()})
		outcome.Elapsed = d.clock.Now().Sub(start)
		if err != nil {
			if ctx.Err() != nil {
				return canceled(outcome, ctx.Err())
			}
			var perr *crawler.PolicyError
			if errors.As(err, &perr) {
				outcome.Kind = crawler.OutcomeSkipped
				outcome.Err = perr
				metrics.ObserveFetchAttempt("skipped")
				logger.Debug("Skipping redirect disallowed by robots", zap.String("target", perr.URL))
				return outcome
			}
			fe := asFetchError(entry.URL, err)
			if d.limiter != nil {
				d.limiter.RecordOutcome(origin, 0, 0)
			}
			metrics.ObserveFetchAttempt(string(fe.Kind))
			failOutcome(&outcome, fe)
			if fe.Retryable() && failures+1 < d.cfg.Retry.MaxAttempts {
				failures++
				if !d.backoff(ctx, logger, string(fe.Kind), failures) {
					return canceled(outcome, ctx.Err())
				}
				continue
			}
			logger.Warn("Fetch failed", zap.String("kind", string(fe.Kind)), zap.Int("attempts", outcome.Attempts), zap.Error(fe))
			return outcome
		}

		retryAfter := ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After"), d.clock.Now())
		if d.limiter != nil {
			d.limiter.RecordOutcome(origin, resp.StatusCode, retryAfter)
		}
		outcome.StatusCode = resp.StatusCode
		outcome.Header = resp.Header
		outcome.FinalURL = resp.FinalURL
		outcome.Body = nil
		outcome.Err = nil

		switch code := resp.StatusCode; {
		case code >= 200 && code < 300:
			metrics.ObserveFetchAttempt("success")
			outcome.Kind = crawler.OutcomeSuccess
			outcome.Body = resp.Body
			return outcome
		case code == http.StatusNotModified:
			metrics.ObserveFetchAttempt("not_modified")
			outcome.Kind = crawler.OutcomeNotModified
			return outcome
		case code == http.StatusTooManyRequests:
			metrics.ObserveFetchAttempt("rate_limited")
			httpFailure(&outcome, entry.URL, code)
			if rateLimited < d.cfg.Retry.MaxRateLimitRetries {
				rateLimited++
				// The limiter already pushed the origin's next slot past Retry-After.
				metrics.ObserveRetry("rate_limited")
				logger.Info("Rate limited, requeueing attempt", zap.Duration("retry_after", retryAfter), zap.Int("retry", rateLimited))
				continue
			}
			logger.Warn("Rate limit retries exhausted", zap.Int("attempts", outcome.Attempts))
			return outcome
		case code >= 500:
			metrics.ObserveFetchAttempt("server_error")
			httpFailure(&outcome, entry.URL, code)
			if failures+1 < d.cfg.Retry.MaxAttempts {
				failures++
				if !d.backoff(ctx, logger, "server_error", failures) {
					return canceled(outcome, ctx.Err())
				}
				continue
			}
			logger.Warn("Server error retries exhausted", zap.Int("status", code), zap.Int("attempts", outcome.Attempts))
			return outcome
		default:
			metrics.ObserveFetchAttempt("client_error")
			httpFailure(&outcome, entry.URL, code)
			return outcome
		}
	}
}

func (d *Dispatcher) backoff(ctx context.Context, logger *zap.Logger, reason string, failures int) bool {
	wait := d.cfg.Retry.Backoff(failures)
	metrics.ObserveRetry(reason)
	logger.Debug("Retrying after backoff", zap.String("reason", reason), zap.Duration("wait", wait), zap.Int("retry", failures))
	return d.clock.Sleep(ctx, wait) == nil
}

func (d *Dispatcher) conditionalHeaders(ctx context.Context, rawURL string) http.Header {
	header := http.Header{}
	if d.conditional == nil || d.cfg.ForceRefresh {
		return header
	}
	state, ok := d.conditional.LookupConditional(ctx, rawURL)
	if !ok || !state.HasValidators() {
		return header
	}
	if state.ETag != "" {
		header.Set("If-None-Match", state.ETag)
	}
	if state.LastModified != "" {
		header.Set("If-Modified-Since", state.LastModified)
	}
	return header
}

func canceled(outcome crawler.FetchOutcome, err error) crawler.FetchOutcome {
	if err == nil {
		err = context.Canceled
	}
	outcome.Kind = crawler.OutcomeCanceled
	outcome.Body = nil
	outcome.Err = fmt.Errorf("dispatch canceled: %w", err)
	metrics.ObserveFetchAttempt("canceled")
	return outcome
}

func httpFailure(outcome *crawler.FetchOutcome, rawURL string, code int) {
	outcome.Kind = crawler.OutcomeHTTPError
	outcome.Err = &crawler.FetchError{Kind: crawler.FetchHTTPStatus, URL: rawURL, StatusCode: code}
}

func failOutcome(outcome *crawler.FetchOutcome, fe *crawler.FetchError) {
	outcome.StatusCode = 0
	outcome.Header = nil
	outcome.Body = nil
	outcome.Err = fe
	switch fe.Kind {
	case crawler.FetchTimeout:
		outcome.Kind = crawler.OutcomeTimeout
	case crawler.FetchBodyTooLarge:
		outcome.Kind = crawler.OutcomeTooLarge
	case crawler.FetchTooManyRedirects:
		outcome.Kind = crawler.OutcomeTooManyRedirects
	default:
		outcome.Kind = crawler.OutcomeNetworkError
	}
}

func asFetchError(rawURL string, err error) *crawler.FetchError {
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	kind := crawler.FetchNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		kind = crawler.FetchTimeout
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		kind = crawler.FetchTimeout
	}
	return &crawler.FetchError{Kind: kind, URL: rawURL, Err: err}
}
