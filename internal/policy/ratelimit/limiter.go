// Package ratelimit throttles fetches with one token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/giftlist-scraper/internal/metrics"
)

const (
	// unknownHost keys every URL that has no parseable host.
	unknownHost = "unknown"

	defaultMaxHosts = 4096
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained request rate per host. Zero or less disables limiting.
	RPS   float64
	Burst int
	// MaxHosts is the bucket count past which full, idle buckets are dropped.
	MaxHosts int
}

// Limiter manages per-host rate limits. It implements scraper.Limiter.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	maxHosts int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = defaultMaxHosts
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		maxHosts: maxHosts,
	}
}

// Enabled reports whether Wait can ever block.
func (l *Limiter) Enabled() bool {
	return l.limit != rate.Inf
}

// Wait blocks until a token is available for the host of rawURL or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if !l.Enabled() {
		return nil
	}
	host := hostKey(rawURL)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}

	now := time.Now()
	r := l.reserve(host, now)
	delay := r.DelayFrom(now)
	if delay == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && deadline.Sub(now) < delay {
		r.Cancel()
		return fmt.Errorf("rate limit wait for %s: %w", host, context.DeadlineExceeded)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		if delay > time.Millisecond {
			metrics.ObserveRateLimitDelay(host, delay)
		}
		return nil
	case <-ctx.Done():
		r.Cancel()
		return fmt.Errorf("rate limit wait for %s: %w", host, ctx.Err())
	}
}

// reserve takes a token from the host bucket under the map lock so a bucket
// is never evicted between lookup and use.
func (l *Limiter) reserve(host string, now time.Time) *rate.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		if len(l.limiters) >= l.maxHosts {
			l.evictFull(now)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	return limiter.ReserveN(now, 1)
}

// evictFull drops buckets that have refilled completely. A fresh bucket
// behaves identically, so eviction never grants extra tokens.
func (l *Limiter) evictFull(now time.Time) {
	for host, limiter := range l.limiters {
		if limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, host)
		}
	}
}

// hostKey lower-cases the hostname so "Shop.Example" and "shop.example" share
// a bucket. Ports are dropped.
func hostKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return unknownHost
	}
	return strings.ToLower(u.Hostname())
}
