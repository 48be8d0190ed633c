package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/kaupa/internal"
	"github.com/dukerupert/kaupa/internal/address"
	"github.com/dukerupert/kaupa/internal/cookie"
	"github.com/dukerupert/kaupa/internal/email"
	"github.com/dukerupert/kaupa/internal/events"
	"github.com/dukerupert/kaupa/internal/handler/admin"
	"github.com/dukerupert/kaupa/internal/handler/api"
	"github.com/dukerupert/kaupa/internal/handler/webhook"
	"github.com/dukerupert/kaupa/internal/jobs"
	"github.com/dukerupert/kaupa/internal/memory"
	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/dukerupert/kaupa/internal/postgres"
	"github.com/dukerupert/kaupa/internal/provider"
	"github.com/dukerupert/kaupa/internal/redisx"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/dukerupert/kaupa/internal/router"
	"github.com/dukerupert/kaupa/internal/routes"
	"github.com/dukerupert/kaupa/internal/service"
	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/dukerupert/kaupa/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	// Error tracking
	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	// ==========================================================================
	// Storage
	// ==========================================================================

	var store repository.Store
	if cfg.DatabaseUrl == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart")
		mem := memory.New()
		if err := seedDevCatalog(ctx, mem, logger); err != nil {
			return fmt.Errorf("failed to seed dev catalog: %w", err)
		}
		store = mem
	} else {
		// Initialize database/sql connection for migrations
		logger.Info("Connecting to database...")
		sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer sqlDB.Close()

		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		logger.Info("Running database migrations...")
		if err := internal.RunMigrations(sqlDB); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database migrations completed successfully")

		// Initialize pgx connection pool for application
		pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()
		store = postgres.New(pool)
	}

	// Webhook dedup: Redis when configured, otherwise per process.
	var dedup redisx.Deduper = redisx.NewMemoryDeduper(cfg.Redis.DedupTTL)
	if cfg.Redis.URL != "" {
		rdb, err := redisx.New(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer rdb.Close()
		dedup = redisx.NewRedisDeduper(rdb, cfg.Redis.DedupTTL)
		logger.Info("Webhook dedup using redis")
	}

	// Domain events
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		nc, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		publisher = nc
		logger.Info("Publishing domain events to nats", "prefix", cfg.NATS.SubjectPrefix)
	}

	// Order receipts ride on the event stream.
	var sender email.Sender
	switch {
	case cfg.Email.PostmarkToken != "":
		sender = email.NewPostmarkSender(cfg.Email.PostmarkToken, cfg.Email.From)
	case cfg.Email.Host != "":
		sender = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     int(cfg.Email.Port),
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			FromName: cfg.Email.FromName,
		}, logger)
	default:
		sender = email.NewLogSender(logger)
	}
	publisher = email.NewOrderNotifier(publisher, sender, cfg.BaseURL, logger)
	defer publisher.Close()

	// ==========================================================================
	// Providers
	// ==========================================================================

	taxRate := decimal.Zero
	if cfg.Checkout.TaxRate != "" {
		taxRate, err = decimal.NewFromString(cfg.Checkout.TaxRate)
		if err != nil {
			return fmt.Errorf("invalid TAX_RATE: %w", err)
		}
	}
	providers, err := provider.Build(provider.Config{
		Tax:                 provider.ProviderName(cfg.Checkout.TaxProvider),
		StripeAPIKey:        cfg.Stripe.SecretKey,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		StripeTimeout:       30 * time.Second,
		TaxRate:             taxRate,
		ShippingRates:       cfg.Checkout.ShippingRates,
		FreeShippingCents:   cfg.Checkout.FreeShippingCents,
	}, logger)
	if err != nil {
		return fmt.Errorf("provider initialization failed: %w", err)
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	clock := service.SystemClock()
	ledger := service.NewStockLedger(store, clock, logger)
	reservations := service.NewReservationManager(store, clock, cfg.Reservation.TTL, logger)
	carts := service.NewCartService(store, clock, cfg.Reservation.TTL, logger)
	checkouts := service.NewCheckoutService(
		store,
		providers.Billing,
		providers.Shipping,
		providers.Tax,
		address.NewBasicValidator(),
		publisher,
		clock,
		service.CheckoutConfig{
			Currency:        cfg.Currency,
			SuccessURL:      cfg.Stripe.SuccessURL,
			CancelURL:       cfg.Stripe.CancelURL,
			PaymentWindow:   cfg.Checkout.PaymentWindow,
			ReservationTTL:  cfg.Reservation.TTL,
			UnitWeightGrams: cfg.Checkout.UnitWeightGrams,
		},
		logger,
	)
	orders := service.NewOrderService(store, publisher, clock, cfg.Reservation.TTL, logger)

	// ==========================================================================
	// Middleware
	// ==========================================================================

	telemetry.InitBusinessMetrics("kaupa")

	// Business and HTTP metrics share the default registry, which already
	// carries the Go and process collectors.
	metrics := middleware.NewMetrics("kaupa", nil)

	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.HSTSMaxAge = 0
	}

	rateConfig := middleware.DefaultRateLimiterConfig()
	rateConfig.RequestsPerSecond = cfg.RateLimit.RPS
	rateConfig.BurstSize = cfg.RateLimit.Burst
	defaultRateLimiter := middleware.NewRateLimiter(rateConfig)
	defer defaultRateLimiter.Stop()
	strictRateLimiter := middleware.NewRateLimiter(middleware.StrictRateLimiterConfig())
	defer strictRateLimiter.Stop()

	auth := routes.Auth{
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		Cookies:   cookie.NewConfig(cfg.Auth.CookieDomain, cfg.Auth.SecureCookie),
	}

	// ==========================================================================
	// Routes
	// ==========================================================================

	r := router.New(
		middleware.RequestID,
		middleware.WithClientIP(),
		middleware.WithRequestLogger(logger),
		router.Recovery(logger),
		telemetry.SentryMiddleware(),
		metrics.Middleware,
		middleware.SecurityHeaders(securityConfig),
		middleware.Timeout(middleware.DefaultTimeout),
		router.Logger(logger),
	)

	routes.RegisterAPIRoutes(r, routes.APIDeps{
		Auth:              auth,
		CartHandler:       api.NewCartHandler(carts, auth.Cookies),
		CheckoutHandler:   api.NewCheckoutHandler(carts, checkouts),
		OrderHandler:      api.NewOrderHandler(orders),
		VariantHandler:    api.NewVariantHandler(ledger),
		RateLimiter:       defaultRateLimiter,
		StrictRateLimiter: strictRateLimiter,
	})
	routes.RegisterAdminRoutes(r, routes.AdminDeps{
		Auth:               auth,
		OrderStatusHandler: admin.NewOrderStatusHandler(orders),
	})

	stripeWebhookHandler := webhook.NewStripeHandler(providers.Billing, orders, checkouts, dedup, webhook.StripeWebhookConfig{
		WebhookSecret: cfg.Stripe.WebhookSecret,
	})
	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		StripeHandler: stripeWebhookHandler.HandleWebhook,
	})
	routes.RegisterOpsRoutes(r, routes.OpsDeps{
		Ping:    store.Ping,
		Metrics: metrics.Handler(),
	})

	var h http.Handler = r
	if len(cfg.CORS.AllowedOrigins) > 0 {
		h = router.CORS(cfg.CORS.AllowedOrigins)(r)
	}

	// ==========================================================================
	// Background jobs
	// ==========================================================================

	w := worker.NewWorker(worker.Config{}, logger,
		jobs.SweepReservations(reservations, cfg.Reservation.SweepInterval),
		jobs.AbandonCheckouts(checkouts, cfg.Checkout.AbandonInterval),
	)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = w.Start(ctx)
	}()

	// ==========================================================================
	// Start server
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	<-workerDone

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
