package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/pharmalink/pharmagate/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker verifies component health.
type HealthChecker struct {
	rateLimitStore Pinger
	eventStore     Pinger
	events         *service.EventService
	channelSize    int
	version        string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(rateLimitStore, eventStore Pinger, events *service.EventService, channelSize int, version string) *HealthChecker {
	return &HealthChecker{
		rateLimitStore: rateLimitStore,
		eventStore:     eventStore,
		events:         events,
		channelSize:    channelSize,
		version:        version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	ping := func(name string, p Pinger) {
		if p == nil {
			checks[name] = "not configured"
			return
		}
		if err := p.Ping(ctx); err != nil {
			checks[name] = "error: " + err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	ping("rate_limit_store", h.rateLimitStore)
	ping("event_store", h.eventStore)

	if h.events != nil {
		depth := h.events.ChannelDepth()
		percentFull := 0
		if h.channelSize > 0 {
			percentFull = depth * 100 / h.channelSize
		}
		if percentFull > 90 {
			// under backpressure
			checks["events"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, h.channelSize, percentFull)
			healthy = false
		} else {
			checks["events"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, h.channelSize, percentFull)
		}
		if drops := h.events.DroppedEvents(); drops > 0 {
			checks["event_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["events"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
