package dispatcher

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy bounds retries and computes jittered exponential backoff.
type RetryPolicy struct {
	// MaxAttempts caps attempts for network, timeout and 5xx failures.
	MaxAttempts int
	// MaxRateLimitRetries caps additional attempts after a 429.
	MaxRateLimitRetries int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	// Jitter spreads each wait over [delay/2, delay).
	Jitter bool
}

// DefaultRetryPolicy returns a policy with sane defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         3,
		MaxRateLimitRetries: 3,
		BaseDelay:           250 * time.Millisecond,
		MaxDelay:            30 * time.Second,
		Jitter:              true,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.MaxRateLimitRetries < 0 {
		p.MaxRateLimitRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Backoff returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if !p.Jitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
