package http

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerSecond keeps catalog walks polite to the API.
	DefaultRequestsPerSecond = 2.0
	// MinRateMultiplier is the floor of dynamic rate reduction (25% of the configured rate).
	MinRateMultiplier = 0.25
	// rateLimitBackoff is the first pause after a 429 when no Retry-After is sent.
	rateLimitBackoff = 2 * time.Second
	// maxRateLimitBackoff caps the pause after repeated 429s.
	maxRateLimitBackoff = time.Minute
)

// RateLimiterConfig defines rate limiting behavior.
type RateLimiterConfig struct {
	// RequestsPerSecond per host. Zero or negative disables limiting.
	RequestsPerSecond float64
}

// DefaultRateLimiterConfig returns the defaults used by New.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{RequestsPerSecond: DefaultRequestsPerSecond}
}

type hostLimit struct {
	limiter      *rate.Limiter
	backoff      time.Duration
	backoffUntil time.Time
	strikes      int
}

// RateLimiter is a per-host token bucket that slows down after 429s and
// recovers as requests succeed again.
type RateLimiter struct {
	mu     sync.Mutex
	hosts  map[string]*hostLimit
	config RateLimiterConfig
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		hosts:  make(map[string]*hostLimit),
		config: cfg,
	}
}

// Wait blocks until a request to urlStr is allowed, honouring both the token
// bucket and any backoff imposed by a previous rate-limit response.
func (rl *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	if rl == nil || rl.config.RequestsPerSecond <= 0 {
		return nil
	}

	rl.mu.Lock()
	h := rl.host(hostOf(urlStr))
	pause := time.Until(h.backoffUntil)
	limiter := h.limiter
	rl.mu.Unlock()

	if pause > 0 {
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return limiter.Wait(ctx)
}

// RecordRateLimit registers a rate-limit response and returns how long the
// caller should wait before trying again.
func (rl *RateLimiter) RecordRateLimit(urlStr string, retryAfter time.Duration) time.Duration {
	if rl == nil || rl.config.RequestsPerSecond <= 0 {
		if retryAfter > 0 {
			return retryAfter
		}
		return rateLimitBackoff
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	h := rl.host(hostOf(urlStr))
	h.strikes++

	if h.backoff == 0 {
		h.backoff = rateLimitBackoff
	} else {
		h.backoff *= 2
	}
	if h.backoff > maxRateLimitBackoff {
		h.backoff = maxRateLimitBackoff
	}
	if retryAfter > h.backoff {
		h.backoff = retryAfter
	}
	h.backoffUntil = time.Now().Add(h.backoff)

	factor := 1.0
	for i := 0; i < h.strikes; i++ {
		factor /= 2
	}
	if factor < MinRateMultiplier {
		factor = MinRateMultiplier
	}
	h.limiter.SetLimit(rate.Limit(rl.config.RequestsPerSecond * factor))

	return h.backoff
}

// RecordSuccess walks the host back toward its configured rate.
func (rl *RateLimiter) RecordSuccess(urlStr string) {
	if rl == nil || rl.config.RequestsPerSecond <= 0 {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	h, ok := rl.hosts[hostOf(urlStr)]
	if !ok || h.strikes == 0 {
		return
	}

	h.strikes--
	if h.strikes == 0 {
		h.backoff = 0
		h.limiter.SetLimit(rate.Limit(rl.config.RequestsPerSecond))
	}
}

// Limit returns the current rate for the host of urlStr.
func (rl *RateLimiter) Limit(urlStr string) float64 {
	if rl == nil || rl.config.RequestsPerSecond <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	return float64(rl.host(hostOf(urlStr)).limiter.Limit())
}

// must be called with rl.mu held
func (rl *RateLimiter) host(name string) *hostLimit {
	h, ok := rl.hosts[name]
	if !ok {
		h = &hostLimit{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), 1)}
		rl.hosts[name] = h
	}
	return h
}

// hostOf extracts the host name, without port, from a URL string.
func hostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}
