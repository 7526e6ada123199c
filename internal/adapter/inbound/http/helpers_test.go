package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pharmalink/pharmagate/internal/adapter/outbound/memory"
	"github.com/pharmalink/pharmagate/internal/domain/audit"
	"github.com/pharmalink/pharmagate/internal/domain/auth"
	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
	"github.com/pharmalink/pharmagate/internal/domain/validation"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventSink collects recorded security events.
type eventSink struct {
	mu     sync.Mutex
	events []audit.SecurityEvent
}

func (s *eventSink) Record(e audit.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) last() audit.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return audit.SecurityEvent{}
	}
	return s.events[len(s.events)-1]
}

func (s *eventSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestValidator(t *testing.T) *validation.Validator {
	t.Helper()
	v, err := validation.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func newTestSessions(t *testing.T, clock *fakeClock) *auth.SessionManager {
	t.Helper()
	m, err := auth.NewSessionManager(auth.SessionConfig{Secret: []byte("http-test-secret-0123456789abcdef")})
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	m.SetClock(clock.Now)
	return m
}

func newTestLimiters(clock *fakeClock, store ratelimit.Store) map[ratelimit.Tier]*ratelimit.Limiter {
	limiters := make(map[ratelimit.Tier]*ratelimit.Limiter)
	for tier, policy := range ratelimit.DefaultPolicies() {
		limiters[tier] = ratelimit.NewLimiter(tier, policy, store,
			ratelimit.WithClock(clock.Now), ratelimit.WithLogger(discardLogger()))
	}
	return limiters
}

func tokenFor(t *testing.T, sessions *auth.SessionManager, role auth.Role) string {
	t.Helper()
	token, err := sessions.Generate(auth.Principal{UserID: "u-" + string(role), Email: string(role) + "@pharmalink.cm", Role: role})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return token
}

// gatekeeperFixture is a Gatekeeper in front of a recording handler.
type gatekeeperFixture struct {
	clock    *fakeClock
	sessions *auth.SessionManager
	events   *eventSink
	metrics  *Metrics
	handler  http.Handler
	reached  *http.Request
}

func newGatekeeperFixture(t *testing.T, mutate func(*GatekeeperConfig)) *gatekeeperFixture {
	t.Helper()
	f := &gatekeeperFixture{clock: newFakeClock(), events: &eventSink{}}
	f.sessions = newTestSessions(t, f.clock)
	f.metrics = NewMetrics(prometheus.NewRegistry())

	cfg := GatekeeperConfig{
		Classifier: ratelimit.DefaultClassifier(),
		Limiters:   newTestLimiters(f.clock, memory.NewWindowStore()),
		Validator:  newTestValidator(t),
		Sessions:   f.sessions,
		ProtectedRoutes: []ProtectedRoute{
			{Prefix: "/api/orders", Roles: auth.PatientRoles},
		},
		Events:  f.events,
		Metrics: f.metrics,
		Logger:  discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := NewGatekeeper(cfg)
	if err != nil {
		t.Fatalf("NewGatekeeper: %v", err)
	}
	f.handler = g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.reached = r
		w.WriteHeader(http.StatusOK)
	}))
	return f
}

func (f *gatekeeperFixture) do(r *http.Request) *httptest.ResponseRecorder {
	f.reached = nil
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)
	return rec
}

func apiRequest(method, path, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("User-Agent", browserUA)
	r.Header.Set("X-Forwarded-For", "10.0.0.1")
	return r
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Acquire(context.Context, string, time.Time, ratelimit.Policy) (ratelimit.Window, error) {
	return ratelimit.Window{}, io.ErrUnexpectedEOF
}

func (failingStore) Peek(context.Context, string, time.Time, ratelimit.Policy) (ratelimit.Window, error) {
	return ratelimit.Window{}, io.ErrUnexpectedEOF
}

func (failingStore) Reset(context.Context, string) error { return io.ErrUnexpectedEOF }

func (failingStore) ResetAll(context.Context, string) error { return io.ErrUnexpectedEOF }

func (failingStore) Stats(context.Context, string, time.Time, ratelimit.Policy) (ratelimit.Stats, error) {
	return ratelimit.Stats{}, io.ErrUnexpectedEOF
}
