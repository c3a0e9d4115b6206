package coordinator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	defaultInitialWait = 50 * time.Millisecond
	defaultMaxWait     = 2 * time.Second
	minWait            = time.Millisecond
)

// LimiterConfig sizes a vendor token bucket.
type LimiterConfig struct {
	// RequestsPerSecond is the sustained rate. Zero or negative disables limiting.
	RequestsPerSecond float64
	// Burst is the bucket capacity; values below one are raised to one.
	Burst int
	// InitialWait and MaxWait bound the jittered backoff used while the bucket is empty.
	InitialWait time.Duration
	MaxWait     time.Duration
}

// Limiter is a per-vendor token bucket. Callers that find the bucket empty back off with
// jitter instead of queueing on a reservation, so a burst of waiters does not wake in lockstep.
type Limiter struct {
	bucket      *rate.Limiter
	initialWait time.Duration
	maxWait     time.Duration
}

// NewLimiter constructs a limiter from cfg.
func NewLimiter(cfg LimiterConfig) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		bucket:      rate.NewLimiter(limit, burst),
		initialWait: cfg.InitialWait,
		maxWait:     cfg.MaxWait,
	}
	if l.initialWait <= 0 {
		l.initialWait = defaultInitialWait
	}
	if l.maxWait <= 0 {
		l.maxWait = defaultMaxWait
	}
	if l.maxWait < l.initialWait {
		l.maxWait = l.initialWait
	}
	return l
}

// Allow takes a token if one is available without waiting.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.bucket.Allow()
}

// Wait blocks until a token is taken or ctx is done. The returned flag reports whether the
// caller had to wait at all.
func (l *Limiter) Wait(ctx context.Context) (bool, error) {
	if l == nil || l.bucket.Allow() {
		return false, nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.initialWait
	bo.MaxInterval = l.maxWait
	bo.RandomizationFactor = 0.5
	bo.Reset()

	for {
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = l.maxWait
		}
		// Never sleep past the moment the bucket refills one token. A token another caller
		// took first still costs minWait, so contended waiters do not spin.
		if until := l.untilNextToken(time.Now()); until < sleep {
			sleep = max(until, minWait)
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return true, ctx.Err()
		case <-timer.C:
		}
		if l.bucket.Allow() {
			return true, nil
		}
	}
}

// untilNextToken reads the bucket level without taking a token, so a probe never starves a
// concurrent Allow.
func (l *Limiter) untilNextToken(now time.Time) time.Duration {
	limit := l.bucket.Limit()
	if limit == rate.Inf {
		return 0
	}
	missing := 1 - l.bucket.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	if limit <= 0 {
		return l.maxWait
	}
	return time.Duration(missing / float64(limit) * float64(time.Second))
}
