package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"opsgate.io/internal/obs"
)

// Result is the outcome of one Consume call, carrying everything the HTTP
// layer needs for the X-RateLimit response headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// CounterStore is the shared counter backend. Incr must be atomic across
// instances: concurrent calls for the same key may never observe the same
// count.
type CounterStore interface {
	// Incr adds one to the key's fixed-window counter, starting the window
	// on first increment, and returns the new count and remaining window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	// SetBlock marks the key blocked for the given duration.
	SetBlock(ctx context.Context, key string, d time.Duration) error
	// BlockTTL returns the remaining block for the key, zero when unblocked.
	BlockTTL(ctx context.Context, key string) (time.Duration, error)
}

// Limiter enforces per-identity, per-category fixed-window budgets on top of
// a shared CounterStore.
type Limiter struct {
	store    CounterStore
	policies map[Category]Policy
	failMode FailMode
	now      func() time.Time
}

// Option configures Limiter behavior.
type Option func(*Limiter)

// WithPolicies overrides the default category budgets.
func WithPolicies(policies map[Category]Policy) Option {
	return func(l *Limiter) {
		if len(policies) > 0 {
			l.policies = policies
		}
	}
}

// WithLimiterClock overrides the time source (useful for tests).
func WithLimiterClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLimiter constructs a Limiter. The fail mode is a required, explicit
// choice.
func NewLimiter(store CounterStore, failMode FailMode, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: counter store is required")
	}
	if failMode != FailOpen && failMode != FailClosed {
		return nil, errors.New("ratelimit: fail mode must be explicitly open or closed")
	}
	l := &Limiter{
		store:    store,
		policies: DefaultPolicies(),
		failMode: failMode,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy returns the budget for a category, falling back to the general API
// budget for unknown categories.
func (l *Limiter) Policy(category Category) Policy {
	if p, ok := l.policies[category]; ok {
		return p
	}
	return l.policies[CategoryAPI]
}

// FailMode returns the configured store-failure behavior.
func (l *Limiter) FailMode() FailMode { return l.failMode }

// Consume spends one unit of the identity's budget in the category. When the
// store is unreachable the returned error is non-nil and Result.Allowed
// reflects the fail mode.
func (l *Limiter) Consume(ctx context.Context, identity string, category Category) (Result, error) {
	policy := l.Policy(category)
	res := Result{Limit: policy.Budget}
	key := fmt.Sprintf("rl:%s:%s", category, identity)

	blocked, err := l.store.BlockTTL(ctx, "block:"+key)
	if err != nil {
		return l.storeFailure(res, category), err
	}
	if blocked > 0 {
		res.RetryAfter = blocked
		res.ResetAt = l.now().Add(blocked)
		obs.ObserveRateLimitDenial(string(category))
		return res, nil
	}

	count, ttl, err := l.store.Incr(ctx, key, policy.Window)
	if err != nil {
		return l.storeFailure(res, category), err
	}
	if ttl <= 0 {
		ttl = policy.Window
	}
	res.ResetAt = l.now().Add(ttl)

	if count > int64(policy.Budget) {
		res.RetryAfter = ttl
		if policy.BlockFor > 0 {
			// First over-budget request starts the penalty window.
			if err := l.store.SetBlock(ctx, "block:"+key, policy.BlockFor); err == nil {
				res.RetryAfter = policy.BlockFor
				res.ResetAt = l.now().Add(policy.BlockFor)
			}
		}
		obs.ObserveRateLimitDenial(string(category))
		return res, nil
	}

	res.Allowed = true
	res.Remaining = policy.Budget - int(count)
	return res, nil
}

func (l *Limiter) storeFailure(res Result, category Category) Result {
	if l.failMode == FailOpen {
		res.Allowed = true
		res.Remaining = res.Limit
		return res
	}
	obs.ObserveRateLimitDenial(string(category))
	return res
}
