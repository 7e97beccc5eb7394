package val

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/errs"
)

// Router combines a Registry with a per-provider circuit breaker and
// retry policy: Call selects a provider, fails with ProviderUnavailable
// if its breaker is open, and retries transient failures with backoff paced by
// golang.org/x/time/rate rather than a hand-rolled sleep loop.
type Router[P Named] struct {
	registry *Registry[P]
	retry    RetryConfig
	breaker  CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	log      *clog.Logger
}

// RetryConfig governs provider-call retries.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// CircuitBreakerConfig governs the per-provider breaker created on first use.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

func NewRouter[P Named](registry *Registry[P], retry RetryConfig, breaker CircuitBreakerConfig) *Router[P] {
	return &Router[P]{
		registry: registry,
		retry:    retry,
		breaker:  breaker,
		breakers: make(map[string]*CircuitBreaker),
		log:      clog.New("VAL"),
	}
}

func (r *Router[P]) breakerFor(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewCircuitBreaker(r.breaker.FailureThreshold, r.breaker.SuccessThreshold, r.breaker.Cooldown)
		r.breakers[name] = b
	}
	return b
}

// Call selects a provider per strategy and invokes fn, retrying
// transient failures up to retry.MaxRetries times with exponential
// backoff. fn's error is considered transient unless it is one of the
// closed error-kind types that callers should never retry
// (ProviderNotConfigured, DimensionMismatch).
func (r *Router[P]) Call(ctx context.Context, strategy Strategy, capability string, fn func(P) error) error {
	provider, err := r.registry.Select(strategy, capability)
	if err != nil {
		return err
	}
	breaker := r.breakerFor(provider.Name())

	backoff := r.retry.InitialBackoff
	limiter := rate.NewLimiter(rate.Every(backoff), 1)

	var lastErr error
	for attempt := 0; attempt <= r.retry.MaxRetries; attempt++ {
		now := time.Now()
		if !breaker.Allow(now) {
			return &errs.ProviderUnavailable{Provider: provider.Name()}
		}

		start := time.Now()
		err := fn(provider)
		latency := time.Since(start)

		if r.registry.health != nil {
			r.registry.health.Record(provider.Name(), latency, time.Now())
		}

		if err == nil {
			breaker.RecordSuccess(time.Now())
			return nil
		}

		breaker.RecordFailure(time.Now())
		lastErr = err
		if !isRetryable(err) || attempt == r.retry.MaxRetries {
			break
		}

		limiter.SetLimit(rate.Every(backoff))
		if waitErr := limiter.Wait(ctx); waitErr != nil {
			return waitErr
		}
		backoff = time.Duration(float64(backoff) * r.retry.Multiplier)
		if backoff > r.retry.MaxBackoff {
			backoff = r.retry.MaxBackoff
		}
		r.log.Warn("provider %s call failed (attempt %d/%d): %v", provider.Name(), attempt+1, r.retry.MaxRetries, err)
	}
	return lastErr
}

func isRetryable(err error) bool {
	if _, ok := errs.As[*errs.ProviderNotConfigured](err); ok {
		return false
	}
	if _, ok := errs.As[*errs.DimensionMismatch](err); ok {
		return false
	}
	return true
}
