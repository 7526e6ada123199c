package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store holds the sliding windows of many keys.
//
// Acquire MUST be atomic per key: pruning, the count check and the append
// happen under one critical section so concurrent callers can never push a
// key past MaxRequests. Implementations are in-process (memory) or shared
// (redis).
type Store interface {
	// Acquire prunes timestamps older than the policy window and records now
	// when fewer than MaxRequests remain. A denied request is not recorded.
	Acquire(ctx context.Context, key string, now time.Time, policy Policy) (Window, error)

	// Peek returns the valid count and oldest timestamp without mutating.
	Peek(ctx context.Context, key string, now time.Time, policy Policy) (Window, error)

	// Reset discards the record of key.
	Reset(ctx context.Context, key string) error

	// ResetAll discards every record whose key starts with prefix.
	ResetAll(ctx context.Context, prefix string) error

	// Stats summarises the records whose key starts with prefix.
	Stats(ctx context.Context, prefix string, now time.Time, policy Policy) (Stats, error)
}

// Limiter enforces one tier's policy against a Store.
type Limiter struct {
	tier   Tier
	policy Policy
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger used when the store fails.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// NewLimiter creates a Limiter for tier backed by store.
func NewLimiter(tier Tier, policy Policy, store Store, opts ...Option) *Limiter {
	l := &Limiter{
		tier:   tier,
		policy: policy,
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Tier returns the tier this limiter enforces.
func (l *Limiter) Tier() Tier { return l.tier }

// Policy returns the enforced policy.
func (l *Limiter) Policy() Policy { return l.policy }

func (l *Limiter) key(identifier string) string {
	return FormatKey(l.tier, identifier)
}

// Allow records a request for identifier if the window has room.
func (l *Limiter) Allow(ctx context.Context, identifier string) (Decision, error) {
	now := l.now()
	w, err := l.store.Acquire(ctx, l.key(identifier), now, l.policy)
	if err != nil {
		return Decision{}, fmt.Errorf("acquire %s window: %w", l.tier, err)
	}

	d := Decision{
		Allowed:   w.Allowed,
		Limit:     l.policy.MaxRequests,
		Remaining: max(0, l.policy.MaxRequests-w.Count),
	}
	if w.Allowed {
		d.ResetAt = now.Add(l.policy.Window)
	} else {
		d.RetryAfter = retryAfterSeconds(l.policy.Window, now, w.Oldest)
		d.ResetAt = w.Oldest.Add(l.policy.Window)
	}
	return d, nil
}

// IsAllowed is Allow reduced to a boolean. Store failures fail open.
func (l *Limiter) IsAllowed(ctx context.Context, identifier string) bool {
	d, err := l.Allow(ctx, identifier)
	if err != nil {
		l.logger.Error("rate limit check failed, allowing request",
			"tier", l.tier,
			"error", err,
		)
		return true
	}
	return d.Allowed
}

// RemainingRequests returns how many more requests identifier may make now.
func (l *Limiter) RemainingRequests(ctx context.Context, identifier string) int {
	w, err := l.store.Peek(ctx, l.key(identifier), l.now(), l.policy)
	if err != nil {
		l.logger.Error("rate limit peek failed", "tier", l.tier, "error", err)
		return l.policy.MaxRequests
	}
	return max(0, l.policy.MaxRequests-w.Count)
}

// RetryAfter returns the whole seconds until the oldest recorded request
// leaves the window, or 0 when nothing is recorded.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string) int {
	now := l.now()
	w, err := l.store.Peek(ctx, l.key(identifier), now, l.policy)
	if err != nil {
		l.logger.Error("rate limit peek failed", "tier", l.tier, "error", err)
		return 0
	}
	return retryAfterSeconds(l.policy.Window, now, w.Oldest)
}

// Reset discards identifier's history.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if err := l.store.Reset(ctx, l.key(identifier)); err != nil {
		return fmt.Errorf("reset %s window: %w", l.tier, err)
	}
	return nil
}

// ResetAll discards the history of every identifier in this tier.
func (l *Limiter) ResetAll(ctx context.Context) error {
	if err := l.store.ResetAll(ctx, TierPrefix(l.tier)); err != nil {
		return fmt.Errorf("reset %s tier: %w", l.tier, err)
	}
	return nil
}

// Stats summarises the identifiers tracked by this tier.
func (l *Limiter) Stats(ctx context.Context) (Stats, error) {
	s, err := l.store.Stats(ctx, TierPrefix(l.tier), l.now(), l.policy)
	if err != nil {
		return Stats{}, fmt.Errorf("stats for %s tier: %w", l.tier, err)
	}
	return s, nil
}

// failedPrefix namespaces failed-login identifiers.
const failedPrefix = "failed_"

// LoginGuard counts failed login attempts and locks an account once the
// failed-login policy is exhausted.
type LoginGuard struct {
	limiter *Limiter
}

// NewLoginGuard wraps a limiter configured with the failed-login policy.
func NewLoginGuard(limiter *Limiter) *LoginGuard {
	return &LoginGuard{limiter: limiter}
}

// Locked reports whether identifier has no failed attempts left, and the
// seconds until the next attempt is possible.
func (g *LoginGuard) Locked(ctx context.Context, identifier string) (bool, int) {
	id := failedPrefix + identifier
	if g.limiter.RemainingRequests(ctx, id) > 0 {
		return false, 0
	}
	return true, g.limiter.RetryAfter(ctx, id)
}

// RecordFailure counts a failed attempt and reports whether the account is
// now locked.
func (g *LoginGuard) RecordFailure(ctx context.Context, identifier string) (bool, int) {
	id := failedPrefix + identifier
	d, err := g.limiter.Allow(ctx, id)
	if err != nil {
		g.limiter.logger.Error("failed login tracking unavailable", "error", err)
		return false, 0
	}
	if !d.Allowed || d.Remaining == 0 {
		return true, g.limiter.RetryAfter(ctx, id)
	}
	return false, 0
}

// Remaining returns the failed attempts identifier has left.
func (g *LoginGuard) Remaining(ctx context.Context, identifier string) int {
	return g.limiter.RemainingRequests(ctx, failedPrefix+identifier)
}

// RecordSuccess clears the failed attempts of identifier.
func (g *LoginGuard) RecordSuccess(ctx context.Context, identifier string) error {
	return g.limiter.Reset(ctx, failedPrefix+identifier)
}
