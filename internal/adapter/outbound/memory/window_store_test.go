package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
)

var testPolicy = ratelimit.Policy{Window: time.Minute, MaxRequests: 3, Message: "slow down"}

func TestWindowStore_AcquireAdmitsUpToMax(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewWindowStore()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		w, err := s.Acquire(ctx, "k", now.Add(time.Duration(i)*time.Second), testPolicy)
		if err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
		if !w.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if w.Count != i+1 {
			t.Errorf("Count = %d, want %d", w.Count, i+1)
		}
	}

	w, _ := s.Acquire(ctx, "k", now.Add(5*time.Second), testPolicy)
	if w.Allowed {
		t.Fatal("4th request should be denied")
	}
	if !w.Oldest.Equal(now) {
		t.Errorf("Oldest = %v, want %v", w.Oldest, now)
	}

	// Denied requests are not recorded.
	peek, _ := s.Peek(ctx, "k", now.Add(6*time.Second), testPolicy)
	if peek.Count != 3 {
		t.Errorf("Count after denial = %d, want 3", peek.Count)
	}
}

func TestWindowStore_SlidingRecovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewWindowStore()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		_, _ = s.Acquire(ctx, "k", now.Add(time.Duration(i)*10*time.Second), testPolicy)
	}

	// Exactly window after the first request one slot is free again.
	w, _ := s.Acquire(ctx, "k", now.Add(time.Minute), testPolicy)
	if !w.Allowed {
		t.Fatal("request should be allowed once the oldest timestamp expired")
	}
	w, _ = s.Acquire(ctx, "k", now.Add(time.Minute+time.Second), testPolicy)
	if w.Allowed {
		t.Fatal("only one slot should have been freed")
	}
}

func TestWindowStore_PeekDoesNotMutate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewWindowStore()
	now := time.Unix(1_700_000_000, 0)
	_, _ = s.Acquire(ctx, "k", now, testPolicy)

	for i := 0; i < 5; i++ {
		w, _ := s.Peek(ctx, "k", now, testPolicy)
		if w.Count != 1 {
			t.Fatalf("Peek Count = %d, want 1", w.Count)
		}
	}

	w, _ := s.Peek(ctx, "missing", now, testPolicy)
	if w.Count != 0 || !w.Oldest.IsZero() {
		t.Errorf("Peek on unknown key = %+v, want empty", w)
	}
}

func TestWindowStore_ResetAndResetAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewWindowStore()
	now := time.Now()

	_, _ = s.Acquire(ctx, "ratelimit:api:a", now, testPolicy)
	_, _ = s.Acquire(ctx, "ratelimit:api:b", now, testPolicy)
	_, _ = s.Acquire(ctx, "ratelimit:auth:a", now, testPolicy)

	if err := s.Reset(ctx, "ratelimit:api:a"); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if s.Size() != 2 {
		t.Errorf("Size() = %d, want 2", s.Size())
	}

	if err := s.ResetAll(ctx, "ratelimit:api:"); err != nil {
		t.Fatalf("ResetAll() error: %v", err)
	}
	if s.Size() != 1 {
		t.Errorf("Size() = %d, want 1 (auth key kept)", s.Size())
	}
}

func TestWindowStore_Stats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewWindowStore()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		_, _ = s.Acquire(ctx, "ratelimit:api:blocked", now, testPolicy)
	}
	_, _ = s.Acquire(ctx, "ratelimit:api:light", now, testPolicy)
	_, _ = s.Acquire(ctx, "ratelimit:auth:other", now, testPolicy)

	st, err := s.Stats(ctx, "ratelimit:api:", now, testPolicy)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	want := ratelimit.Stats{TotalClients: 2, TotalRequests: 4, BlockedClients: 1}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}
}

func TestWindowStore_CleanupKeepsLiveRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewWindowStore()
	now := time.Unix(1_700_000_000, 0)

	_, _ = s.Acquire(ctx, "idle", now, testPolicy)
	_, _ = s.Acquire(ctx, "live", now.Add(2*time.Minute), testPolicy)
	_, _ = s.Acquire(ctx, "live", now.Add(2*time.Minute+time.Second), testPolicy)

	// idle: resetTime = now+1m, which is before (now+2m30s) - 1m.
	cleaned := s.Cleanup(now.Add(2*time.Minute + 30*time.Second))
	if cleaned != 1 {
		t.Errorf("Cleanup() = %d, want 1", cleaned)
	}
	if s.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", s.Size())
	}

	w, _ := s.Peek(ctx, "live", now.Add(2*time.Minute+30*time.Second), testPolicy)
	if w.Count != 2 {
		t.Errorf("live Count after cleanup = %d, want 2", w.Count)
	}
}

func TestWindowStore_CleanupDoesNotChangeDecision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	withCleanup := NewWindowStore()
	without := NewWindowStore()
	for i := 0; i < 3; i++ {
		ts := now.Add(time.Duration(i) * 20 * time.Second)
		_, _ = withCleanup.Acquire(ctx, "k", ts, testPolicy)
		_, _ = without.Acquire(ctx, "k", ts, testPolicy)
	}

	check := now.Add(70 * time.Second)
	withCleanup.Cleanup(check)

	a, _ := withCleanup.Acquire(ctx, "k", check, testPolicy)
	b, _ := without.Acquire(ctx, "k", check, testPolicy)
	if a.Allowed != b.Allowed || a.Count != b.Count {
		t.Errorf("cleanup changed the outcome: %+v vs %+v", a, b)
	}
}

func TestWindowStore_ConcurrentAcquireNeverOvershoots(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewWindowStore()
	policy := ratelimit.Policy{Window: time.Minute, MaxRequests: 10}
	now := time.Now()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := s.Acquire(ctx, "hot", now, policy)
			if err != nil {
				t.Errorf("Acquire() error: %v", err)
				return
			}
			if w.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 10 {
		t.Errorf("allowed = %d, want exactly 10", got)
	}
}

func TestWindowStore_StartCleanupStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewWindowStoreWithInterval(10 * time.Millisecond)
	s.StartCleanup(context.Background())

	_, _ = s.Acquire(context.Background(), "k", time.Now().Add(-time.Hour), testPolicy)

	deadline := time.Now().Add(2 * time.Second)
	for s.Size() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after background cleanup", s.Size())
	}

	s.Stop()
	s.Stop()
}

func TestWindowStore_StartCleanupStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewWindowStoreWithInterval(time.Hour)
	s.StartCleanup(ctx)
	cancel()
	s.wg.Wait()
}

func TestWindowStore_PingAlwaysReachable(t *testing.T) {
	t.Parallel()

	s := NewWindowStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() on a cancelled context = %v, want nil", err)
	}

	s.Stop()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() after Stop = %v, want nil", err)
	}
}
