package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"carepay/internal/commission"
	commissionapi "carepay/internal/commission/api"
	"carepay/internal/common/database"
	"carepay/internal/common/middleware"
	"carepay/internal/common/nats"
	"carepay/internal/directory"
	"carepay/internal/rates"
	"carepay/internal/split"
	"carepay/internal/transfer"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"COMMISSION_PORT" default:"8086"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// RateTablePath points at a JSON rate table; empty means the built-in
	// default table.
	RateTablePath string `envconfig:"RATE_TABLE_PATH"`

	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	Database  database.Config
	NATS      nats.Config
	Policy    split.Policy
	Transfer  transfer.Config
	Processor transfer.ProcessorConfig
}

const (
	streamPayments    = "PAYMENTS"
	streamCommissions = "COMMISSIONS"
	consumerName      = "commission-pipeline"
)

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Run schema migrations
	if err := database.Migrate(cfg.Database, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS
	natsClient, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	if _, err := natsClient.EnsureStream(ctx, nats.DefaultStreamConfig(streamPayments, []string{commission.SubjectPaymentConfirmed})); err != nil {
		logger.Error("failed to ensure payments stream", "error", err)
		os.Exit(1)
	}
	if _, err := natsClient.EnsureStream(ctx, nats.DefaultStreamConfig(streamCommissions, []string{"commission.>"})); err != nil {
		logger.Error("failed to ensure commissions stream", "error", err)
		os.Exit(1)
	}
	consumer, err := natsClient.EnsureConsumer(ctx, nats.DefaultConsumerConfig(consumerName, streamPayments, commission.SubjectPaymentConfirmed))
	if err != nil {
		logger.Error("failed to ensure payment consumer", "error", err)
		os.Exit(1)
	}

	// Load the rate table
	table := rates.DefaultTable()
	if cfg.RateTablePath != "" {
		table, err = rates.LoadFile(cfg.RateTablePath)
		if err != nil {
			logger.Error("failed to load rate table", "path", cfg.RateTablePath, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("rate table loaded", "entries", len(table.Entries()))

	// Create services
	resolver := rates.NewResolver(table, rates.NewPostgresPlanStore(db))
	processor := transfer.NewHTTPProcessor(cfg.Processor, logger)
	orchestrator := transfer.NewOrchestrator(processor, cfg.Transfer, logger)
	publisher := nats.NewPublisher(natsClient, logger)

	commissionService := commission.NewService(
		commission.NewPostgresStore(db),
		directory.NewPostgresStore(db),
		resolver,
		cfg.Policy,
		orchestrator,
		publisher,
		logger,
	)

	// Start the event bus consumer
	subscriber := nats.NewSubscriber(consumer, logger)
	go func() {
		if err := subscriber.Start(ctx, commissionService.HandleEnvelope); err != nil && ctx.Err() == nil {
			logger.Error("event consumer stopped", "error", err)
			cancel()
		}
	}()

	// Create handlers
	commissionHandler := commissionapi.NewHandler(commissionService)
	webhookHandler := commission.NewWebhookHandler(commissionService, logger)

	// Replays cached responses for retried mutating requests that carry an
	// Idempotency-Key header.
	idempotency := middleware.Idempotency(middleware.NewPostgresIdempotencyStore(db), cfg.IdempotencyTTL)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		if err := natsClient.HealthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Webhook from the upstream payment flow
	r.With(idempotency).Post("/webhooks/payment-confirmed", webhookHandler.ServeHTTP)

	// API routes
	r.Route("/api/v1/commissions", func(r chi.Router) {
		r.Use(idempotency)
		r.Mount("/", commissionHandler.Routes())
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting commission service",
			"port", cfg.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
