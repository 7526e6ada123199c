package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
)

// RouterConfig holds the pieces assembled by NewRouter.
type RouterConfig struct {
	Gatekeeper *Gatekeeper
	API        *APIHandler
	// Classifier labels request metrics by tier. Nil takes the
	// gatekeeper's classifier.
	Classifier *ratelimit.Classifier
	// Upstream handles every route the gateway does not serve itself.
	// Nil answers 404.
	Upstream http.Handler
	Health   *HealthChecker
	Metrics  *Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter builds the middleware chain and routes.
//
// Middleware order (outermost first):
//  1. MetricsMiddleware - count and latency per tier, outermost to see rejections
//  2. RequestID - request ID and enriched logger
//  3. Gatekeeper - security stages, skipped for /health and /metrics
//  4. API handlers, or the upstream catch-all
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := http.NewServeMux()
	if cfg.API != nil {
		cfg.API.Register(app)
	}
	upstream := cfg.Upstream
	if upstream == nil {
		upstream = http.HandlerFunc(notFound)
	}
	app.Handle("/", upstream)

	var guarded http.Handler = app
	if cfg.Gatekeeper != nil {
		guarded = cfg.Gatekeeper.Middleware(app)
	}

	mux := http.NewServeMux()
	if cfg.Health != nil {
		mux.Handle("/health", cfg.Health.Handler())
	} else {
		mux.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Checks: map[string]string{}})
		}))
	}
	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", guarded)

	var handler http.Handler = mux
	handler = RequestIDMiddleware(logger)(handler)
	if cfg.Metrics != nil {
		classifier := cfg.Classifier
		if classifier == nil && cfg.Gatekeeper != nil {
			classifier = cfg.Gatekeeper.cfg.Classifier
		}
		handler = MetricsMiddleware(cfg.Metrics, classifier)(handler)
	}
	return handler
}

// Server is the inbound HTTP server of the gateway.
type Server struct {
	handler      http.Handler
	server       *http.Server
	addr         string
	certFile     string
	keyFile      string
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	gaugeLimiters map[ratelimit.Tier]*ratelimit.Limiter
	gaugeMetrics  *Metrics
	gaugeInterval time.Duration
	wg            sync.WaitGroup
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithTimeouts sets the read and write timeouts of the server.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithKeyGauge periodically publishes the number of tracked clients per tier.
func WithKeyGauge(limiters map[ratelimit.Tier]*ratelimit.Limiter, metrics *Metrics, interval time.Duration) Option {
	return func(s *Server) {
		s.gaugeLimiters = limiters
		s.gaugeMetrics = metrics
		s.gaugeInterval = interval
	}
}

// NewServer creates a Server serving handler.
func NewServer(handler http.Handler, opts ...Option) *Server {
	s := &Server{
		handler:      handler,
		addr:         "127.0.0.1:8080",
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       90 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	tlsEnabled := s.certFile != "" && s.keyFile != ""
	if tlsEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	gaugeCtx, stopGauge := context.WithCancel(ctx)
	defer func() {
		stopGauge()
		s.wg.Wait()
	}()
	s.startKeyGauge(gaugeCtx)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) startKeyGauge(ctx context.Context) {
	if s.gaugeMetrics == nil || len(s.gaugeLimiters) == 0 || s.gaugeInterval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.gaugeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for tier, limiter := range s.gaugeLimiters {
					st, err := limiter.Stats(ctx)
					if err != nil {
						s.logger.Debug("limiter stats unavailable", "tier", tier, "error", err)
						continue
					}
					s.gaugeMetrics.RateLimitKeys.WithLabelValues(string(tier)).Set(float64(st.TotalClients))
				}
			}
		}
	}()
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
