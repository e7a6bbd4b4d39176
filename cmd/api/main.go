// Package main is the entry point for the LogoForge API server.
//
// It loads configuration, connects the Postgres pool and the anonymous-quota
// ledger backend, wires the external provider clients (image generation,
// Stripe, identity introspection) into the domain services, builds the HTTP
// server with the core chassis (middleware, routing, health checks), and
// starts listening for requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"logoforge/internal/api/handlers"
	"logoforge/internal/auth"
	"logoforge/internal/billing"
	"logoforge/internal/config"
	"logoforge/internal/core"
	"logoforge/internal/db"
	"logoforge/internal/external"
	"logoforge/internal/generation"
	"logoforge/internal/observability"
	"logoforge/internal/quota"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("logoforge API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"anon_ledger", cfg.Quota.AnonymousLedger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	userRepo := db.NewUserRepo(pool)
	logoRepo := db.NewLogoRepo(pool)
	userLedger := db.NewPostgresLedger(pool)

	anonLedger, redisClient, err := buildAnonLedger(cfg.Quota)
	if err != nil {
		return fmt.Errorf("building anonymous ledger: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Provider clients. The image client's HTTP timeout tracks the per-prompt
	// deadline so a hung upstream call cannot outlive its slot.
	imageClient := external.NewImageGenClient(
		&http.Client{Timeout: cfg.Generation.PerPromptTimeout},
		external.ImageGenClientConfig{
			APIKey:  cfg.Generation.APIKey.Unmask(),
			BaseURL: cfg.Generation.BaseURL,
			Model:   cfg.Generation.Model,
			Logger:  logger,
		},
	)
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 30 * time.Second},
		userRepo,
		external.StripeClientConfig{
			SecretKey:      cfg.Billing.StripeSecretKey.Unmask(),
			UpgradePriceID: cfg.Billing.UpgradePriceID,
			Logger:         logger,
		},
	)
	identityClient := external.NewIdentityClient(
		&http.Client{Timeout: 10 * time.Second},
		external.IdentityClientConfig{
			IntrospectionURL: cfg.Auth.IntrospectionURL,
			ClientSecret:     cfg.Auth.ClientSecret,
			Logger:           logger,
		},
	)

	// Domain services.
	authService := auth.NewService(auth.ServiceConfig{
		Introspector: identityClient,
		Users:        userRepo,
		Logger:       logger,
	})
	generationService := generation.NewService(generation.ServiceConfig{
		AnonLedger: anonLedger,
		UserLedger: userLedger,
		Policy:     quota.NewPolicy(cfg.Quota.AnonymousDailyLimit, cfg.Quota.FreeLifetimeLimit),
		Dispatcher: generation.NewDispatcher(generation.DispatcherConfig{
			Generator:        imageClient,
			PlaceholderURL:   cfg.Generation.PlaceholderURL,
			PerPromptTimeout: cfg.Generation.PerPromptTimeout,
			Logger:           logger,
		}),
		Logos:  logoRepo,
		Logger: logger,
	})
	billingService := billing.NewService(billing.ServiceConfig{
		Provider:      stripeClient,
		Verifier:      &external.StripeVerifier{},
		Users:         userRepo,
		WebhookSecret: cfg.Billing.StripeWebhookSecret,
		AppURL:        cfg.Server.AppURL,
		Logger:        logger,
	})

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = authService
	srv.Metrics, err = buildMetrics(ctx, cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("building metrics: %w", err)
	}
	srv.HealthProbes = buildHealthProbes(pool, redisClient)

	generateHandler := handlers.NewGenerateHandler(generationService, srv.Validator, cfg.Generation.MaxPrompts, logger)
	logosHandler := handlers.NewLogosHandler(logoRepo, logger)
	billingHandler := handlers.NewBillingHandler(billingService, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(billingService, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		generateHandler.RegisterRoutes,
		func(r chi.Router) {
			r.Route("/logos", func(r chi.Router) {
				r.Use(srv.RequireAuth)
				logosHandler.RegisterRoutes(r)
			})
		},
		func(r chi.Router) {
			r.Route("/billing", func(r chi.Router) {
				// The webhook authenticates by signature, not bearer token.
				webhookHandler.RegisterRoutes(r)

				r.Group(func(r chi.Router) {
					r.Use(srv.RequireAuth)
					billingHandler.RegisterRoutes(r)
				})
			})
		},
	)

	srv.MountRoutes()

	return runHTTPServer(ctx, srv, cfg, logger)
}

// buildAnonLedger selects the anonymous-quota ledger backend. Memory suits a
// single instance; Redis keeps replicas agreeing on per-IP counts.
func buildAnonLedger(cfg config.QuotaConfig) (quota.Ledger, *goredis.Client, error) {
	if cfg.AnonymousLedger != "redis" {
		return quota.NewMemoryLedger(), nil, nil
	}

	opts, err := goredis.ParseURL(cfg.RedisURL.Unmask())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	client := goredis.NewClient(opts)
	return quota.NewRedisLedger(client), client, nil
}

// buildMetrics returns the CloudWatch collector when metrics are enabled,
// otherwise a no-op.
func buildMetrics(ctx context.Context, cfg config.ObservabilityConfig, logger *slog.Logger) (core.MetricsCollector, error) {
	if !cfg.EnableMetrics {
		return observability.NoopMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return observability.NewCloudWatchMetrics(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.MetricNamespace,
		logger,
	), nil
}

func buildHealthProbes(pool *pgxpool.Pool, redisClient *goredis.Client) []core.HealthProbe {
	probes := []core.HealthProbe{&databaseProbe{pool: pool}}
	if redisClient != nil {
		probes = append(probes, &redisProbe{client: redisClient})
	}
	return probes
}

type databaseProbe struct {
	pool *pgxpool.Pool
}

func (p *databaseProbe) Name() string                    { return "database" }
func (p *databaseProbe) Check(ctx context.Context) error { return p.pool.Ping(ctx) }

type redisProbe struct {
	client *goredis.Client
}

func (p *redisProbe) Name() string                    { return "ledger" }
func (p *redisProbe) Check(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// runHTTPServer starts the server in standard HTTP mode with graceful
// shutdown.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log
// level. JSON output feeds log aggregation directly.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
