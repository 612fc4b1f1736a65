// Package ratelimit implements per-key token-bucket admission control.
package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSweepInterval is how often the background sweeper runs.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultIdleTimeout is how long a bucket may sit untouched before the
	// sweeper evicts it.
	DefaultIdleTimeout = 10 * time.Minute
)

// RateLimitError reports a rejected acquisition, with enough context for the
// HTTP layer to build a 429 response.
type RateLimitError struct {
	Resource      string
	Limit         int
	WindowSeconds int
	RetryAfter    time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d requests per %ds", e.Resource, e.Limit, e.WindowSeconds)
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
}

// Limiter is a token-bucket rate limiter keyed by an arbitrary string
// (typically the caller's principal scope value, or a session ID). Buckets
// are created lazily on first use and evicted by an opt-in background sweep.
type Limiter struct {
	requestsPerMinute int
	burstSize         int
	refillRate        float64 // tokens per second

	sweepInterval time.Duration
	idleTimeout   time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	logger *slog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a limiter admitting requestsPerMinute sustained with
// bursts up to burstSize. The sweeper does not run until Start is called.
func NewLimiter(requestsPerMinute, burstSize int, logger *slog.Logger) *Limiter {
	return &Limiter{
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		refillRate:        float64(requestsPerMinute) / 60.0,
		sweepInterval:     DefaultSweepInterval,
		idleTimeout:       DefaultIdleTimeout,
		buckets:           make(map[string]*bucket),
		logger:            logger.With("component", "ratelimit"),
		now:               time.Now,
	}
}

// CheckRateLimit acquires one token for key. It returns a *RateLimitError
// when the bucket is empty; any other outcome is an admit.
func (l *Limiter) CheckRateLimit(key string) error {
	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	l.refill(b, now)

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / l.refillRate * float64(time.Second))
		return &RateLimitError{
			Resource:      key,
			Limit:         l.requestsPerMinute,
			WindowSeconds: 60,
			RetryAfter:    wait,
		}
	}
	b.tokens--
	return nil
}

// WaitTime reports how long until the next token for key becomes available.
// Zero means a request would be admitted immediately.
func (l *Limiter) WaitTime(key string) time.Duration {
	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	l.refill(b, l.now())
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) / l.refillRate * float64(time.Second))
}

// refill advances the bucket to now. Caller holds b.mu.
func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = min(float64(l.burstSize), b.tokens+elapsed*l.refillRate)
	}
	b.lastUpdate = now
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burstSize), lastUpdate: l.now()}
		l.buckets[key] = b
	}
	return b
}

// Start launches the background sweeper. Without it buckets are retained
// until process exit, bounded only by the number of distinct keys.
func (l *Limiter) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.sweepLoop()
	l.logger.Info("Rate limit sweeper started",
		"sweep_interval", l.sweepInterval, "idle_timeout", l.idleTimeout)
}

// Stop terminates the sweeper and waits for it to exit.
func (l *Limiter) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	close(l.stopCh)
	done := l.doneCh
	l.mu.Unlock()

	<-done
	l.logger.Info("Rate limit sweeper stopped")
}

func (l *Limiter) sweepLoop() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep evicts buckets idle for longer than idleTimeout.
func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.idleTimeout)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := b.lastUpdate.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
			evicted++
		}
	}
	if evicted > 0 {
		l.logger.Debug("Evicted idle rate limit buckets",
			"evicted", evicted, "remaining", len(l.buckets))
	}
}
