package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/pharmalink/pharmagate/internal/adapter/inbound/http"
	"github.com/pharmalink/pharmagate/internal/adapter/outbound/sqlite"
	"github.com/pharmalink/pharmagate/internal/config"
	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
	"github.com/pharmalink/pharmagate/internal/service"
	"github.com/pharmalink/pharmagate/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the pharmagate security gateway.

Requests are rate limited, validated and authenticated, then forwarded to
upstream.url. Without an upstream the gateway serves only its own API.

Examples:
  # Start with config file settings
  pharmagate start

  # Start in development mode (debug logging, development secret)
  pharmagate start --dev

  # Start with a specific config file
  pharmagate --config /etc/pharmagate/pharmagate.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, development secret)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("pharmagate stopped")
	return nil
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// ===== Tracing and OpenTelemetry metrics =====
	_, shutdownTracing, err := telemetry.Init(telemetry.Options{
		Enabled:        cfg.Tracing.Enabled,
		ServiceVersion: Version,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// ===== Metrics =====
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := http.NewMetrics(reg)

	// ===== Rate limiting =====
	windows, closeWindows, err := newWindowStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeWindows()
	limiters := newLimiters(cfg, windows, logger)
	guard := ratelimit.NewLoginGuard(limiters[ratelimit.TierFailedLogin])

	// Failed-login lockout stays on when request limiting is disabled.
	var gateLimiters map[ratelimit.Tier]*ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		gateLimiters = limiters
	} else {
		logger.Warn("request rate limiting disabled")
	}

	// ===== Validation and auth =====
	validator, err := newValidator(cfg)
	if err != nil {
		return err
	}
	users, err := newUserStore(cfg)
	if err != nil {
		return err
	}
	sessions, err := newSessions(cfg)
	if err != nil {
		return err
	}

	// ===== Security events =====
	events, err := newEventStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	eventService := service.NewEventService(events, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(config.Duration(cfg.Audit.FlushInterval)),
		service.WithSendTimeout(config.Duration(cfg.Audit.SendTimeout)),
		service.WithDropHook(metrics.EventDropsTotal.Inc),
		service.WithMeter(otel.Meter("github.com/pharmalink/pharmagate/internal/service")),
	)
	eventService.Start(ctx)
	// Stop before the store closes so pending events are flushed.
	defer eventService.Stop()

	if store, ok := events.(*sqlite.EventStore); ok {
		go purgeEvents(ctx, store, config.Duration(cfg.Audit.Retention), logger)
	}

	login := service.NewLoginService(users, sessions, guard, validator, eventService, logger)

	// ===== HTTP =====
	gatekeeper, err := http.NewGatekeeper(http.GatekeeperConfig{
		Production:      cfg.IsProduction(),
		Classifier:      ratelimit.DefaultClassifier(),
		Limiters:        gateLimiters,
		Validator:       validator,
		MaxPayloadBytes: cfg.Security.MaxPayloadBytes,
		InspectJSON:     cfg.Security.InspectJSON,
		MaxJSONDepth:    cfg.Security.MaxJSONDepth,
		Sessions:        sessions,
		ProtectedRoutes: protectedRoutes(cfg),
		Events:          eventService,
		Metrics:         metrics,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gatekeeper: %w", err)
	}

	api := http.NewAPIHandler(http.APIHandlerConfig{
		Login:      login,
		Sessions:   sessions,
		Users:      users,
		Events:     eventService,
		Limiters:   limiters,
		Metrics:    metrics,
		Production: cfg.IsProduction(),
		Logger:     logger,
	})

	upstream, err := http.NewUpstreamHandler(cfg.Upstream.URL, config.Duration(cfg.Upstream.Timeout), logger)
	if err != nil {
		return fmt.Errorf("failed to create upstream proxy: %w", err)
	}

	router := http.NewRouter(http.RouterConfig{
		Gatekeeper: gatekeeper,
		API:        api,
		Upstream:   upstream,
		Health:     http.NewHealthChecker(windows, events, eventService, cfg.Audit.ChannelSize, Version),
		Metrics:    metrics,
		Gatherer:   reg,
		Logger:     logger,
	})

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithTimeouts(config.Duration(cfg.Server.ReadTimeout), config.Duration(cfg.Server.WriteTimeout)),
		http.WithKeyGauge(limiters, metrics, 30*time.Second),
	}
	if cfg.Server.TLSCertFile != "" {
		opts = append(opts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}

	logger.Info("pharmagate starting",
		"version", Version,
		"mode", cfg.Server.Mode,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"upstream", cfg.Upstream.URL,
		"rate_limit", cfg.RateLimit.Enabled,
		"rate_limit_backend", cfg.RateLimit.Backend,
		"users", users.Len(),
		"protected_routes", len(cfg.Auth.ProtectedRoutes),
		"event_output", cfg.Audit.Output,
		"tracing", cfg.Tracing.Enabled,
	)

	return http.NewServer(router, opts...).Start(ctx)
}

// purgeEvents deletes sqlite events older than retention every hour.
func purgeEvents(ctx context.Context, store *sqlite.EventStore, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := store.PurgeOlderThan(ctx, time.Now().Add(-retention))
		if err != nil && ctx.Err() == nil {
			logger.Warn("event purge failed", "error", err)
		} else if n > 0 {
			logger.Info("purged old security events", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
