package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"

	"github.com/stacklok/feedsync/internal/api"
	"github.com/stacklok/feedsync/internal/config"
	"github.com/stacklok/feedsync/internal/discovery"
	"github.com/stacklok/feedsync/internal/fetch"
	"github.com/stacklok/feedsync/internal/httpclient"
	"github.com/stacklok/feedsync/internal/sources"
	pkgsync "github.com/stacklok/feedsync/internal/sync"
	"github.com/stacklok/feedsync/internal/sync/coordinator"
	"github.com/stacklok/feedsync/internal/sync/state"
	"github.com/stacklok/feedsync/internal/telemetry"
	"github.com/stacklok/feedsync/internal/versions"
)

const (
	defaultHTTPAddress = ":8080"
	// On-demand fetches answer synchronously, so requests may run as long as one source
	defaultRequestTimeout = 5 * time.Minute
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = defaultRequestTimeout + 15*time.Second
	defaultIdleTimeout    = 60 * time.Second

	tracerName = "github.com/stacklok/feedsync"
)

// FeedsyncAppOptions is a function that configures the feedsync app builder
type FeedsyncAppOptions func(*feedsyncAppConfig) error

// feedsyncAppConfig collects the builder inputs.
// It supports dependency injection for testing while providing sensible defaults for production
type feedsyncAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	syncManager pkgsync.Manager
	store       state.Store
	telemetry   *telemetry.Telemetry

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	dataDir string
}

func baseConfig(opts ...FeedsyncAppOptions) (*feedsyncAppConfig, error) {
	cfg := &feedsyncAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.dataDir != "" {
		cfg.config = cfg.config.WithDataDir(cfg.dataDir)
	}

	return cfg, nil
}

// NewFeedsyncApp builds the coordinator and the HTTP server around it
func NewFeedsyncApp(
	ctx context.Context,
	opts ...FeedsyncAppOptions,
) (*FeedsyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	components, err := buildComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components)
	if err != nil {
		_ = components.Close(ctx)
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	return &FeedsyncApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// NewComponents builds the coordinator and its dependencies without an HTTP server.
// The caller must Close the returned components.
func NewComponents(ctx context.Context, opts ...FeedsyncAppOptions) (*AppComponents, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildComponents(ctx, cfg)
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) FeedsyncAppOptions {
	return func(cfg *feedsyncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) FeedsyncAppOptions {
	return func(cfg *feedsyncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) FeedsyncAppOptions {
	return func(cfg *feedsyncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithDataDirectory overrides storage.dataDir from the configuration
func WithDataDirectory(dir string) FeedsyncAppOptions {
	return func(cfg *feedsyncAppConfig) error {
		cfg.dataDir = dir
		return nil
	}
}

// WithSyncManager allows injecting a custom sync manager (for testing)
func WithSyncManager(sm pkgsync.Manager) FeedsyncAppOptions {
	return func(cfg *feedsyncAppConfig) error {
		cfg.syncManager = sm
		return nil
	}
}

// WithStore allows injecting a coordination store (for testing)
func WithStore(store state.Store) FeedsyncAppOptions {
	return func(cfg *feedsyncAppConfig) error {
		cfg.store = store
		return nil
	}
}

// WithTelemetry sets already-initialized telemetry providers
func WithTelemetry(tel *telemetry.Telemetry) FeedsyncAppOptions {
	return func(cfg *feedsyncAppConfig) error {
		cfg.telemetry = tel
		return nil
	}
}

// buildComponents builds telemetry, store, sync manager and coordinator
func buildComponents(ctx context.Context, b *feedsyncAppConfig) (_ *AppComponents, err error) {
	slog.Info("Initializing sync components")

	catalog, err := sources.NewCatalog(b.config)
	if err != nil {
		return nil, fmt.Errorf("failed to build source catalog: %w", err)
	}

	components := &AppComponents{Catalog: catalog}

	// Ensure cleanup happens on error
	defer func() {
		if err != nil {
			_ = components.Close(ctx)
		}
	}()

	if b.telemetry == nil {
		b.telemetry, err = telemetry.New(ctx, telemetry.WithTelemetryConfig(b.config.Telemetry))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}
	components.Telemetry = b.telemetry

	if b.store == nil {
		b.store, err = state.NewStore(ctx, b.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create coordination store: %w", err)
		}
	}
	components.Store = b.store

	tracer := b.telemetry.Tracer(tracerName)
	meterProvider := b.telemetry.MeterProvider()

	if b.syncManager == nil {
		b.syncManager, err = buildSyncManager(b, meterProvider)
		if err != nil {
			return nil, err
		}
	}

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	components.Coordinator = coordinator.New(
		b.syncManager,
		b.store,
		catalog,
		b.config,
		coordinator.WithSyncMetrics(syncMetrics),
		coordinator.WithTracer(tracer),
	)

	slog.Info("Sync components initialized successfully",
		"sources", len(catalog.List()),
		"enabled", len(catalog.Enabled()),
		"storage", b.config.GetStorageType())
	return components, nil
}

// buildSyncManager wires discovery and fetch over one shared HTTP client
func buildSyncManager(b *feedsyncAppConfig, meterProvider metric.MeterProvider) (pkgsync.Manager, error) {
	fetchCfg := b.config.GetFetchConfig()
	tracer := b.telemetry.Tracer(tracerName)

	userAgent := fetchCfg.UserAgent
	if userAgent == "" {
		userAgent = versions.UserAgent()
	}
	client := httpclient.NewDefaultClient(fetchCfg.GetTimeout(), httpclient.WithUserAgent(userAgent))

	discoveryMetrics, err := telemetry.NewDiscoveryMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery metrics: %w", err)
	}
	fetchMetrics, err := telemetry.NewFetchMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch metrics: %w", err)
	}

	engine := discovery.NewEngine(
		discovery.NewStrategyFactory(client),
		discovery.WithMetrics(discoveryMetrics),
		discovery.WithTracer(tracer),
	)

	downloaderOpts := []fetch.DownloaderOption{fetch.WithMaxAttempts(fetchCfg.MaxAttempts)}
	if fetchCfg.RateLimit > 0 {
		downloaderOpts = append(downloaderOpts, fetch.WithRateLimit(fetchCfg.RateLimit))
	}
	downloader := fetch.NewHTTPDownloader(client, b.config.GetDataDir(), downloaderOpts...)

	executor := fetch.NewExecutor(
		b.store,
		downloader,
		fetch.WithMetrics(fetchMetrics),
		fetch.WithTracer(tracer),
	)

	return pkgsync.NewDefaultSyncManager(engine, executor, pkgsync.WithTracer(tracer)), nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *feedsyncAppConfig,
	components *AppComponents,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Tracing and metrics go first so they see every request
	httpMetrics, err := telemetry.NewHTTPMetrics(components.Telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	b.middlewares = append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(components.Telemetry.TracerProvider()),
		httpMetrics.Middleware,
	}, b.middlewares...)

	store := components.Store
	serverOpts := []api.ServerOption{
		api.WithMiddlewares(b.middlewares...),
		api.WithReadinessCheck(func(ctx context.Context) error {
			_, err := store.Lock(ctx)
			return err
		}),
	}
	if handler := components.Telemetry.MetricsHandler(); handler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(handler))
		slog.Info("Prometheus metrics endpoint enabled", "path", "/metrics")
	}

	router := api.NewServer(components.Coordinator, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
