package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig configures request rate limiting for model providers.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited).
	RequestsPerMinute int
	// BurstSize allows a temporary burst above the steady rate.
	BurstSize int
}

// DefaultRateLimitConfig returns conservative defaults for free-tier cloud APIs.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 25,
		BurstSize:         3,
	}
}

// RateLimitProvider wraps a provider with a token-bucket request limiter.
type RateLimitProvider struct {
	inner  Provider
	config *RateLimitConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimitProvider creates a rate-limited provider wrapper.
func NewRateLimitProvider(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitProvider{
		inner:      inner,
		config:     config,
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string { return r.inner.Name() }

// EmbedModel returns the underlying provider's embedding model identifier.
func (r *RateLimitProvider) EmbedModel() string { return r.inner.EmbedModel() }

// Complete waits for rate-limit capacity, then delegates.
func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Complete(ctx, prompt, opts)
}

// Embed waits for rate-limit capacity, then delegates.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

// wait blocks until a request token is available or the context is done.
func (r *RateLimitProvider) wait(ctx context.Context) error {
	if r.config.RequestsPerMinute <= 0 {
		return nil
	}
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		// Time until one token accrues.
		deficit := 1 - r.tokens
		delay := time.Duration(deficit / r.ratePerSecond() * float64(time.Second))
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (r *RateLimitProvider) ratePerSecond() float64 {
	return float64(r.config.RequestsPerMinute) / 60.0
}

// refill accrues tokens based on elapsed time; caller holds the lock.
func (r *RateLimitProvider) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now

	burst := float64(r.config.BurstSize)
	if burst < 1 {
		burst = 1
	}
	r.tokens += elapsed * r.ratePerSecond()
	if r.tokens > burst {
		r.tokens = burst
	}
}
