// Package ratelimit paces requests per origin.
//
// Each origin has a next-allowed time derived from the default delay, the
// robots crawl-delay (which takes precedence when declared) and an adaptive
// delay that grows multiplicatively on 429/5xx responses and decays slowly
// after sustained success. An optional token bucket caps requests per second
// on top of the delay.
//
// Computing a grant and stamping the next-allowed time happen under a lock
// owned by that origin alone; the wait itself happens after every lock is
// released, so callers on different origins never block one another.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/politecrawl/internal/clock/system"
	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/metrics"
)

const (
	minBackoffStep = 250 * time.Millisecond
	decayFloor     = 50 * time.Millisecond
)

// Config holds rate limiter configuration.
type Config struct {
	DefaultDelay      time.Duration
	MaxDelay          time.Duration
	BackoffFactor     float64
	DecayFactor       float64
	DecayAfter        int
	RetryAfterCap     time.Duration
	RequestsPerSecond float64
	Burst             int
}

func (c Config) withDefaults() Config {
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = 0.5
	}
	if c.DecayAfter <= 0 {
		c.DecayAfter = 3
	}
	if c.RetryAfterCap <= 0 {
		c.RetryAfterCap = time.Minute
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Limiter manages per-origin pacing state.
type Limiter struct {
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger

	// mu guards the origins map only and is never held while waiting.
	mu      sync.Mutex
	origins map[string]*originState
}

type originState struct {
	mu         sync.Mutex
	next       time.Time
	holdUntil  time.Time
	adaptive   time.Duration
	crawlDelay time.Duration
	streak     int
	bucket     *rate.Limiter
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the clock used for grants and waits.
func WithClock(clock crawler.Clock) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a new Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:     cfg.withDefaults(),
		clock:   system.New(),
		logger:  zap.NewNop(),
		origins: make(map[string]*originState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) state(origin string) *originState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.origins[origin]
	if !ok {
		st = &originState{}
		if l.cfg.RequestsPerSecond > 0 {
			st.bucket = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
		}
		l.origins[origin] = st
	}
	return st
}

func (l *Limiter) baseLocked(st *originState) time.Duration {
	if st.crawlDelay > 0 {
		return st.crawlDelay
	}
	return l.cfg.DefaultDelay
}

func (l *Limiter) intervalLocked(st *originState) time.Duration {
	base := l.baseLocked(st)
	if st.adaptive > base {
		return st.adaptive
	}
	return base
}

// Acquire suspends the caller until origin may be contacted and reserves the
// following slot for the next caller. A backoff recorded while the caller
// waits moves its grant past the backoff deadline.
func (l *Limiter) Acquire(ctx context.Context, origin string) error {
	st := l.state(origin)

	st.mu.Lock()
	now := l.clock.Now()
	grant := now
	if st.next.After(grant) {
		grant = st.next
	}
	var reservation *rate.Reservation
	if st.bucket != nil {
		reservation = st.bucket.ReserveN(grant, 1)
		if reservation.OK() {
			grant = grant.Add(reservation.DelayFrom(grant))
		}
	}
	previous := st.next
	st.next = grant.Add(l.intervalLocked(st))
	stamped := st.next
	st.mu.Unlock()

	for {
		if wait := grant.Sub(now); wait > 0 {
			metrics.ObserveRateLimitDelay(origin, wait)
			if err := l.clock.Sleep(ctx, wait); err != nil {
				st.mu.Lock()
				if st.next.Equal(stamped) {
					st.next = previous
				}
				st.mu.Unlock()
				if reservation != nil {
					reservation.Cancel()
				}
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		st.mu.Lock()
		if !st.holdUntil.After(grant) {
			st.mu.Unlock()
			return nil
		}
		now = l.clock.Now()
		grant = st.holdUntil
		if st.next.After(grant) {
			grant = st.next
		}
		previous = st.next
		st.next = grant.Add(l.intervalLocked(st))
		stamped = st.next
		st.mu.Unlock()
		l.logger.Debug("backoff recorded during wait, regranting",
			zap.String("origin", origin),
			zap.Time("grant", grant),
		)
	}
}

// RecordOutcome feeds a response back into origin's pacing. 429 and 5xx
// grow the adaptive delay and push the next grant out; for 429 the push is
// the larger of the capped Retry-After and the adaptive delay. Successful
// responses decay the adaptive delay every DecayAfter consecutive successes.
// A zero status (transport failure) leaves the state unchanged.
func (l *Limiter) RecordOutcome(origin string, status int, retryAfter time.Duration) {
	st := l.state(origin)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case status == 429 || status >= 500:
		st.streak = 0
		st.adaptive = l.grow(st)
		wait := st.adaptive
		if status == 429 && retryAfter > 0 {
			if retryAfter > l.cfg.RetryAfterCap {
				retryAfter = l.cfg.RetryAfterCap
			}
			if retryAfter > wait {
				wait = retryAfter
			}
		}
		until := l.clock.Now().Add(wait)
		if until.After(st.next) {
			st.next = until
		}
		if until.After(st.holdUntil) {
			st.holdUntil = until
		}
		l.logger.Debug("backing off origin",
			zap.String("origin", origin),
			zap.Int("status", status),
			zap.Duration("adaptive_delay", st.adaptive),
			zap.Duration("wait", wait),
		)
	case status >= 200 && status < 400:
		if st.adaptive == 0 {
			return
		}
		st.streak++
		if st.streak < l.cfg.DecayAfter {
			return
		}
		st.streak = 0
		st.adaptive = time.Duration(float64(st.adaptive) * l.cfg.DecayFactor)
		if st.adaptive < decayFloor || st.adaptive <= l.baseLocked(st) {
			st.adaptive = 0
		}
	}
}

func (l *Limiter) grow(st *originState) time.Duration {
	current := st.adaptive
	if base := l.baseLocked(st); base > current {
		current = base
	}
	if current < minBackoffStep {
		current = minBackoffStep
	}
	next := time.Duration(float64(current) * l.cfg.BackoffFactor)
	if next > l.cfg.MaxDelay {
		next = l.cfg.MaxDelay
	}
	return next
}

// SetCrawlDelay records the robots crawl-delay for origin; zero clears it.
func (l *Limiter) SetCrawlDelay(origin string, delay time.Duration) {
	st := l.state(origin)
	st.mu.Lock()
	st.crawlDelay = delay
	st.mu.Unlock()
}

// Delay returns the interval currently enforced between grants for origin.
func (l *Limiter) Delay(origin string) time.Duration {
	st := l.state(origin)
	st.mu.Lock()
	defer st.mu.Unlock()
	return l.intervalLocked(st)
}
