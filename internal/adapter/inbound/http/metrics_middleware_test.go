package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
)

func TestMetricsMiddleware_CountsRequestsByTier(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := MetricsMiddleware(metrics, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/payments/intent":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/pharmacies":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/auth/login", nil),
		httptest.NewRequest(http.MethodPost, "/api/payments/intent", nil),
		httptest.NewRequest(http.MethodGet, "/api/products", nil),
		httptest.NewRequest(http.MethodGet, "/pharmacies", nil),
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodGet, "/metrics", nil),
	} {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	tests := []struct {
		method, tier, outcome string
		want                  float64
	}{
		{"POST", "auth", "ok", 1},
		{"POST", "strict", "rejected", 1},
		{"GET", "api", "ok", 1},
		{"GET", "upstream", "error", 1},
		{"GET", "upstream", "ok", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues(tt.method, tt.tier, tt.outcome))
		if got != tt.want {
			t.Errorf("requests{%s,%s,%s} = %v, want %v", tt.method, tt.tier, tt.outcome, got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(metrics.RequestDuration); n != 4 {
		t.Errorf("duration series = %d, want 4 (health and metrics are skipped)", n)
	}
}

func TestMetricsMiddleware_CustomClassifier(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	classifier := ratelimit.NewClassifier(ratelimit.Rule{Tier: ratelimit.TierStrict, Prefix: "/rx/"})
	h := MetricsMiddleware(metrics, classifier)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rx/42", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/products", nil))

	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "strict", "ok")); got != 1 {
		t.Errorf("strict = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "upstream", "ok")); got != 1 {
		t.Errorf("upstream = %v, want 1 (the custom rules have no /api/ tier)", got)
	}
}

func TestMetricsMiddleware_DurationHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	h := MetricsMiddleware(metrics, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for range 3 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/products", nil))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() != "pharmagate_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "tier") == "api" {
				hist = m.GetHistogram()
			}
		}
	}
	if hist == nil {
		t.Fatal("no api tier duration histogram gathered")
	}
	if hist.GetSampleCount() != 3 {
		t.Errorf("sample count = %d, want 3", hist.GetSampleCount())
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestOutcomeLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "ok"},
		{307, "ok"},
		{400, "rejected"},
		{401, "rejected"},
		{429, "rejected"},
		{502, "error"},
	}
	for _, tt := range tests {
		if got := outcomeLabel(tt.code); got != tt.want {
			t.Errorf("outcomeLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
