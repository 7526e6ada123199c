package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pharmalink/pharmagate/internal/adapter/outbound/memory"
	"github.com/pharmalink/pharmagate/internal/service"
)

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthChecker_Healthy(t *testing.T) {
	events := service.NewEventService(memory.NewEventStore(10), discardLogger(), service.WithChannelSize(100))
	hc := NewHealthChecker(memory.NewWindowStore(), memory.NewEventStore(10), events, 100, "test-version")

	health := hc.Check(context.Background())
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["rate_limit_store"] != "ok" {
		t.Errorf("rate_limit_store = %q, want ok", health.Checks["rate_limit_store"])
	}
	if health.Checks["events"] != "ok: 0/100 (0%)" {
		t.Errorf("events = %q", health.Checks["events"])
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	health := NewHealthChecker(nil, nil, nil, 0, "").Check(context.Background())
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	for _, k := range []string{"rate_limit_store", "event_store", "events"} {
		if health.Checks[k] != "not configured" {
			t.Errorf("%s = %q, want 'not configured'", k, health.Checks[k])
		}
	}
}

func TestHealthChecker_UnreachableStore(t *testing.T) {
	hc := NewHealthChecker(downPinger{}, nil, nil, 0, "")

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var health HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "unhealthy" || health.Checks["rate_limit_store"] != "error: connection refused" {
		t.Errorf("health = %+v", health)
	}
}
