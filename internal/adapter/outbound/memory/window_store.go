// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
)

// shardCount must stay a power of two.
const shardCount = 64

// windowRecord is the sliding window of one key.
type windowRecord struct {
	requests  []time.Time
	resetTime time.Time
	window    time.Duration
}

// prune drops timestamps that are window or more behind now.
func (r *windowRecord) prune(now time.Time) {
	kept := r.requests[:0]
	for _, ts := range r.requests {
		if now.Sub(ts) < r.window {
			kept = append(kept, ts)
		}
	}
	clear(r.requests[len(kept):])
	r.requests = kept
}

type windowShard struct {
	mu      sync.Mutex
	records map[string]*windowRecord
}

// WindowStore implements ratelimit.Store in memory.
// Keys are spread over shards by xxhash; each shard has its own mutex, so
// check-then-append is atomic per key and cleanup never races a request.
type WindowStore struct {
	shards          [shardCount]*windowShard
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	now             func() time.Time
}

// NewWindowStore creates a store with the default 5 minute cleanup interval.
func NewWindowStore() *WindowStore {
	return NewWindowStoreWithInterval(5 * time.Minute)
}

// NewWindowStoreWithInterval creates a store with a custom cleanup interval.
func NewWindowStoreWithInterval(cleanupInterval time.Duration) *WindowStore {
	s := &WindowStore{
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		now:             time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &windowShard{records: make(map[string]*windowRecord)}
	}
	return s
}

func (s *WindowStore) shardFor(key string) *windowShard {
	return s.shards[xxhash.Sum64String(key)&(shardCount-1)]
}

// Acquire implements ratelimit.Store.
func (s *WindowStore) Acquire(_ context.Context, key string, now time.Time, policy ratelimit.Policy) (ratelimit.Window, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		rec = &windowRecord{window: policy.Window}
		sh.records[key] = rec
	}
	rec.window = policy.Window
	rec.prune(now)

	if len(rec.requests) >= policy.MaxRequests {
		return ratelimit.Window{
			Allowed: false,
			Count:   len(rec.requests),
			Oldest:  rec.requests[0],
		}, nil
	}

	rec.requests = append(rec.requests, now)
	rec.resetTime = now.Add(policy.Window)
	return ratelimit.Window{
		Allowed: true,
		Count:   len(rec.requests),
		Oldest:  rec.requests[0],
	}, nil
}

// Peek implements ratelimit.Store. The record is left untouched.
func (s *WindowStore) Peek(_ context.Context, key string, now time.Time, policy ratelimit.Policy) (ratelimit.Window, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var w ratelimit.Window
	rec, ok := sh.records[key]
	if !ok {
		return w, nil
	}
	for _, ts := range rec.requests {
		if now.Sub(ts) >= policy.Window {
			continue
		}
		if w.Count == 0 || ts.Before(w.Oldest) {
			w.Oldest = ts
		}
		w.Count++
	}
	return w, nil
}

// Reset implements ratelimit.Store.
func (s *WindowStore) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.records, key)
	sh.mu.Unlock()
	return nil
}

// ResetAll implements ratelimit.Store.
func (s *WindowStore) ResetAll(_ context.Context, prefix string) error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key := range sh.records {
			if strings.HasPrefix(key, prefix) {
				delete(sh.records, key)
			}
		}
		sh.mu.Unlock()
	}
	return nil
}

// Stats implements ratelimit.Store.
func (s *WindowStore) Stats(_ context.Context, prefix string, now time.Time, policy ratelimit.Policy) (ratelimit.Stats, error) {
	var st ratelimit.Stats
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, rec := range sh.records {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			valid := 0
			for _, ts := range rec.requests {
				if now.Sub(ts) < policy.Window {
					valid++
				}
			}
			st.TotalClients++
			st.TotalRequests += valid
			if valid >= policy.MaxRequests {
				st.BlockedClients++
			}
		}
		sh.mu.Unlock()
	}
	return st, nil
}

// Cleanup evicts records idle for longer than their window and prunes the
// rest. Returns the number of evicted records.
func (s *WindowStore) Cleanup(now time.Time) int {
	cleaned, remaining := 0, 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, rec := range sh.records {
			if rec.resetTime.Before(now.Add(-rec.window)) {
				delete(sh.records, key)
				cleaned++
				continue
			}
			rec.prune(now)
			remaining++
		}
		sh.mu.Unlock()
	}

	if cleaned > 0 {
		slog.Debug("rate limit store cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", remaining)
	}
	return cleaned
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (s *WindowStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.Cleanup(s.now())
			}
		}
	}()
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *WindowStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the number of tracked keys.
func (s *WindowStore) Size() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Ping implements ratelimit.Store. The in-memory store is always reachable.
func (s *WindowStore) Ping(context.Context) error {
	return nil
}

// Compile-time interface verification.
var _ ratelimit.Store = (*WindowStore)(nil)
