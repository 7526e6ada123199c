package http

import (
	"net/http"
	"time"

	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
)

// unmeteredPaths are served beside the gatekeeper and never counted.
var unmeteredPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// MetricsMiddleware counts requests and their latency per rate-limit tier.
// Requests outside every tier are labelled "upstream". The outcome label
// separates gateway and client rejections (4xx) from server errors (5xx).
// A nil classifier means ratelimit.DefaultClassifier.
func MetricsMiddleware(metrics *Metrics, classifier *ratelimit.Classifier) func(http.Handler) http.Handler {
	if classifier == nil {
		classifier = ratelimit.DefaultClassifier()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if unmeteredPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			tier := metricsTierLabel(classifier.Classify(r.URL.Path, r.Method))
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			metrics.RequestDuration.WithLabelValues(tier).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, tier, outcomeLabel(rec.status)).Inc()
		})
	}
}

func metricsTierLabel(t ratelimit.Tier) string {
	if t == ratelimit.TierNone {
		return "upstream"
	}
	return string(t)
}

// statusRecorder keeps the status code written by the inner handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streamed upstream responses through the reverse proxy.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// outcomeLabel maps a status code to ok, rejected or error.
func outcomeLabel(code int) string {
	switch {
	case code >= 500:
		return "error"
	case code >= 400:
		return "rejected"
	default:
		return "ok"
	}
}
