package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/fedgate/pkg/authn"
	"github.com/platinummonkey/fedgate/pkg/config"
	"github.com/platinummonkey/fedgate/pkg/correlation"
	"github.com/platinummonkey/fedgate/pkg/federation"
	"github.com/platinummonkey/fedgate/pkg/httputil"
	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/registry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fedgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting fedgate federated authentication gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
		}()
	}

	metrics := observability.NewMetrics(nil)

	store, err := newCorrelationStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics.RegisterSnapshotsInFlight(func() float64 {
		countCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := store.Count(countCtx)
		if err != nil {
			logger.WithError(err).Warn("Failed to count in-flight correlation snapshots")
			return 0
		}
		return float64(n)
	})

	providers, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return err
	}

	providerSet, err := federation.NewProviderSet(ctx, providers.Providers)
	if err != nil {
		return err
	}
	logger.WithField("providers", len(providers.Providers)).Info("Loaded identity providers")

	serviceRegistry := registry.NewStaticRegistry(providers.Registry)
	engine := authn.NewLocalEngine(logger, metrics)

	initiator := federation.NewInitiator(store, serviceRegistry, metrics, logger)
	resolver := federation.NewCallbackResolver(store, providerSet, metrics, logger)
	validator := federation.NewValidator(initiator, metrics, logger, nil)
	if err := validator.CheckProviderTransforms(providerSet.All()); err != nil {
		return err
	}
	outcome := federation.NewOutcome(engine, metrics, logger)
	action := federation.NewAction(providerSet, initiator, resolver, validator, outcome, logger, "/login")
	handler := federation.NewHandler(action, logger)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		metrics.HTTPMiddleware,
	)

	var root http.Handler = chain(router)
	if cfg.Observability.OTelEnabled {
		root = otelhttp.NewHandler(root, "fedgate")
	}

	mainServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      newHealthRouter(store, metrics, cfg.Observability.MetricsEnabled),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", mainServer.Addr).Info("Login endpoint listening")
		if err := mainServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health endpoint listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := mainServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shut down server cleanly")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shut down health server cleanly")
		}
		return nil
	})

	return g.Wait()
}

// newCorrelationStore builds the snapshot store the config selects.
func newCorrelationStore(cfg *config.Config, logger *observability.Logger) (correlation.Store, error) {
	switch cfg.Correlation.Type {
	case "redis":
		store, err := correlation.NewRedisStore(correlation.RedisConfig{
			URL:        cfg.Correlation.RedisURL,
			Password:   cfg.Correlation.RedisPassword,
			DB:         cfg.Correlation.RedisDB,
			MaxRetries: cfg.Correlation.RedisMaxRetries,
			PoolSize:   cfg.Correlation.RedisPoolSize,
			TTL:        cfg.Correlation.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Using redis correlation store")
		return store, nil
	default:
		logger.Info("Using in-memory correlation store")
		return correlation.NewMemoryStore(cfg.Correlation.TTL, logger), nil
	}
}

// newHealthRouter serves liveness, readiness, and metrics on the
// operational port.
func newHealthRouter(store correlation.Store, metrics *observability.Metrics, metricsEnabled bool) http.Handler {
	checker := observability.NewHealthChecker(map[string]observability.Pinger{
		"correlation_store": store,
	})

	router := mux.NewRouter()
	router.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
	if metricsEnabled {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	return router
}
