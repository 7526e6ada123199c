package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pharmalink/pharmagate/internal/adapter/outbound/memory"
	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newAuthLimiter(clock *fakeClock) *ratelimit.Limiter {
	policy := ratelimit.DefaultPolicies()[ratelimit.TierAuth]
	return ratelimit.NewLimiter(ratelimit.TierAuth, policy, memory.NewWindowStore(),
		ratelimit.WithClock(clock.Now))
}

func TestLimiter_AuthTierScenario(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := newAuthLimiter(clock)

	for i := 0; i < 5; i++ {
		if !l.IsAllowed(ctx, "10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d, err := l.Allow(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if d.Allowed {
		t.Fatal("6th request should be rejected")
	}
	if d.RetryAfter != 900 {
		t.Errorf("RetryAfter = %d, want 900", d.RetryAfter)
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	if d.Limit != 5 {
		t.Errorf("Limit = %d, want 5", d.Limit)
	}

	// Other identifiers have their own window.
	if !l.IsAllowed(ctx, "10.0.0.2") {
		t.Error("a different identifier should be allowed")
	}
}

func TestLimiter_NthPlusOneDeniedRegardlessOfSpacing(t *testing.T) {
	spacings := []time.Duration{0, time.Millisecond, time.Second, 2 * time.Minute}

	for _, spacing := range spacings {
		t.Run(spacing.String(), func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			l := newAuthLimiter(clock)

			for i := 0; i < 5; i++ {
				if !l.IsAllowed(ctx, "id") {
					t.Fatalf("request %d should be allowed", i+1)
				}
				clock.Advance(spacing)
			}
			if l.IsAllowed(ctx, "id") {
				t.Error("request 6 inside the window should be denied")
			}
		})
	}
}

func TestLimiter_SlidingRecoveryFreesOneSlot(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := newAuthLimiter(clock)

	for i := 0; i < 5; i++ {
		l.IsAllowed(ctx, "id")
		clock.Advance(time.Minute)
	}
	if l.IsAllowed(ctx, "id") {
		t.Fatal("window is full")
	}

	// First timestamp was at t0, we are at t0+5m. Move to t0+15m.
	clock.Advance(10 * time.Minute)
	if got := l.RemainingRequests(ctx, "id"); got != 1 {
		t.Errorf("RemainingRequests = %d, want 1", got)
	}
	if !l.IsAllowed(ctx, "id") {
		t.Fatal("one slot should be free")
	}
	if l.IsAllowed(ctx, "id") {
		t.Error("only one slot should have been freed")
	}
}

func TestLimiter_RetryAfterMonotonic(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := newAuthLimiter(clock)

	if got := l.RetryAfter(ctx, "id"); got != 0 {
		t.Errorf("RetryAfter with no history = %d, want 0", got)
	}

	for i := 0; i < 5; i++ {
		l.IsAllowed(ctx, "id")
	}

	prev := l.RetryAfter(ctx, "id")
	if prev != 900 {
		t.Fatalf("RetryAfter = %d, want 900", prev)
	}
	for i := 0; i < 20; i++ {
		clock.Advance(47 * time.Second)
		got := l.RetryAfter(ctx, "id")
		if got > prev {
			t.Fatalf("RetryAfter increased from %d to %d", prev, got)
		}
		prev = got
	}
	if prev != 0 {
		t.Errorf("RetryAfter after the window = %d, want 0", prev)
	}
}

func TestLimiter_RetryAfterRoundsUp(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := newAuthLimiter(clock)

	l.IsAllowed(ctx, "id")
	clock.Advance(1500 * time.Millisecond)

	// 900s - 1.5s = 898.5s -> 899
	if got := l.RetryAfter(ctx, "id"); got != 899 {
		t.Errorf("RetryAfter = %d, want 899", got)
	}
}

func TestLimiter_RemainingDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := newAuthLimiter(clock)

	for i := 0; i < 10; i++ {
		if got := l.RemainingRequests(ctx, "id"); got != 5 {
			t.Fatalf("RemainingRequests = %d, want 5", got)
		}
	}
	l.IsAllowed(ctx, "id")
	if got := l.RemainingRequests(ctx, "id"); got != 4 {
		t.Errorf("RemainingRequests = %d, want 4", got)
	}
}

func TestLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := newAuthLimiter(clock)

	for i := 0; i < 6; i++ {
		l.IsAllowed(ctx, "id")
	}
	if err := l.Reset(ctx, "id"); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if !l.IsAllowed(ctx, "id") {
		t.Error("request after Reset should be allowed")
	}
}

func TestLimiter_StatsAndResetAll(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := newAuthLimiter(clock)

	for i := 0; i < 5; i++ {
		l.IsAllowed(ctx, "blocked")
	}
	l.IsAllowed(ctx, "light")

	st, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	want := ratelimit.Stats{TotalClients: 2, TotalRequests: 6, BlockedClients: 1}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}

	if err := l.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll() error: %v", err)
	}
	st, _ = l.Stats(ctx)
	if st.TotalClients != 0 {
		t.Errorf("TotalClients after ResetAll = %d, want 0", st.TotalClients)
	}
}

type failingStore struct{ ratelimit.Store }

var errStoreDown = errors.New("store down")

func (failingStore) Acquire(context.Context, string, time.Time, ratelimit.Policy) (ratelimit.Window, error) {
	return ratelimit.Window{}, errStoreDown
}

func (failingStore) Peek(context.Context, string, time.Time, ratelimit.Policy) (ratelimit.Window, error) {
	return ratelimit.Window{}, errStoreDown
}

func TestLimiter_StoreFailureFailsOpen(t *testing.T) {
	ctx := context.Background()
	policy := ratelimit.Policy{Window: time.Minute, MaxRequests: 1}
	l := ratelimit.NewLimiter(ratelimit.TierAPI, policy, failingStore{})

	if _, err := l.Allow(ctx, "id"); !errors.Is(err, errStoreDown) {
		t.Errorf("Allow() error = %v, want wrapped errStoreDown", err)
	}
	if !l.IsAllowed(ctx, "id") {
		t.Error("IsAllowed should fail open")
	}
	if got := l.RemainingRequests(ctx, "id"); got != 1 {
		t.Errorf("RemainingRequests = %d, want 1", got)
	}
	if got := l.RetryAfter(ctx, "id"); got != 0 {
		t.Errorf("RetryAfter = %d, want 0", got)
	}
}

func TestLoginGuard_LocksAfterPolicyExhausted(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	policy := ratelimit.DefaultPolicies()[ratelimit.TierFailedLogin]
	l := ratelimit.NewLimiter(ratelimit.TierFailedLogin, policy, memory.NewWindowStore(),
		ratelimit.WithClock(clock.Now))
	g := ratelimit.NewLoginGuard(l)

	for i := 0; i < 4; i++ {
		if locked, _ := g.RecordFailure(ctx, "a@b.cm"); locked {
			t.Fatalf("account locked after %d failures", i+1)
		}
	}
	locked, retry := g.RecordFailure(ctx, "a@b.cm")
	if !locked {
		t.Fatal("account should be locked after the 5th failure")
	}
	if retry != 900 {
		t.Errorf("retryAfter = %d, want 900", retry)
	}
	if locked, _ := g.Locked(ctx, "a@b.cm"); !locked {
		t.Error("Locked() should report the lock")
	}

	if err := g.RecordSuccess(ctx, "a@b.cm"); err != nil {
		t.Fatalf("RecordSuccess() error: %v", err)
	}
	if locked, _ := g.Locked(ctx, "a@b.cm"); locked {
		t.Error("success should clear the failed attempts")
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  ratelimit.Policy
		wantErr bool
	}{
		{"valid", ratelimit.Policy{Window: time.Second, MaxRequests: 1}, false},
		{"zero window", ratelimit.Policy{MaxRequests: 1}, true},
		{"zero max", ratelimit.Policy{Window: time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.policy.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatKey(t *testing.T) {
	if got := ratelimit.FormatKey(ratelimit.TierAuth, "10.0.0.1"); got != "ratelimit:auth:10.0.0.1" {
		t.Errorf("FormatKey() = %q", got)
	}
	if got := ratelimit.TierPrefix(ratelimit.TierAPI); got != "ratelimit:api:" {
		t.Errorf("TierPrefix() = %q", got)
	}
}
