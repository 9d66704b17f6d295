package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"finsuite/internal/auth"
	"finsuite/internal/config"
	"finsuite/internal/eventing"
	"finsuite/internal/eventing/eventbus"
	eventamqp "finsuite/internal/eventing/infrastructure/amqp"
	"finsuite/internal/gateway"
	"finsuite/internal/observability/metrics"
	paymentsapp "finsuite/internal/payments/application"
	paymentshttp "finsuite/internal/payments/interfaces"
	settlementapp "finsuite/internal/settlement/application"
	settlementhttp "finsuite/internal/settlement/interfaces"
	"finsuite/internal/webhooks"
	webhookshttp "finsuite/internal/webhooks/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config error", zap.Error(err))
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("logger error", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db open error", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("db ping error", zap.Error(err))
		}
	}
	metrics.Init(db, logger)

	stores, err := openStores(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatal("store setup error", zap.Error(err))
	}
	defer stores.Close()

	tenants := auth.ContextTenant{Fallback: cfg.TenantID}
	bus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry(
		gateway.Authorized{},
		gateway.Captured{},
		gateway.Refunded{},
		gateway.Voided{},
		gateway.EvidenceSubmitted{},
		gateway.GatewayErrorOccurred{},
		webhooks.WebhookReceived{},
		paymentsapp.TransactionStatusChanged{},
		settlementapp.BatchClosed{},
		settlementapp.BatchReconciled{},
		settlementapp.BatchDisputed{},
	)
	dispatcher := eventing.NewDispatcher(bus, stores.outbox, registry, stores.dlq, logger)
	publisher, err := eventing.NewPublisher(stores.outboxWriter, cfg.TenantID, bus, logger)
	if err != nil {
		logger.Fatal("publisher error", zap.Error(err))
	}

	if cfg.AMQPURL != "" {
		conn, channel, err := eventamqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal("amqp dial error", zap.Error(err))
		}
		defer conn.Close()
		forwarder, err := eventamqp.NewForwarder(channel, logger, eventamqp.WithExchange(cfg.AMQPExchange))
		if err != nil {
			logger.Fatal("amqp forwarder error", zap.Error(err))
		}
		bus.SubscribeAll(forwarder.Handle)
		logger.Info("forwarding events to amqp", zap.String("exchange", cfg.AMQPExchange))
	}

	orchestrator, err := buildOrchestrator(cfg, stores.idempotency, publisher, tenants, logger)
	if err != nil {
		logger.Fatal("gateway orchestrator error", zap.Error(err))
	}

	settlementService, err := settlementapp.NewService(stores.batches, publisher, logger)
	if err != nil {
		logger.Fatal("settlement service error", zap.Error(err))
	}
	lifecycleOpts := []paymentsapp.Option{}
	if cfg.DefaultProvider != "" {
		lifecycleOpts = append(lifecycleOpts, paymentsapp.WithDefaultProvider(cfg.DefaultProvider))
	}
	lifecycle, err := paymentsapp.NewLifecycle(stores.transactions, orchestrator, publisher, tenants, logger, lifecycleOpts...)
	if err != nil {
		logger.Fatal("payments lifecycle error", zap.Error(err))
	}

	eventing.Consume(bus, "settlement.captured", stores.processed, settlementService.HandleCaptured)
	eventing.Consume(bus, "settlement.authorized", stores.processed, settlementService.HandleAuthorized)

	router := webhooks.NewRouter()
	lifecycle.Routes(router)
	settlementService.Routes(router)
	processor, err := buildWebhookProcessor(cfg, router, stores.dedup, publisher, logger)
	if err != nil {
		logger.Fatal("webhook processor error", zap.Error(err))
	}
	webhookHandler, err := webhookshttp.NewHandler(processor, logger)
	if err != nil {
		logger.Fatal("webhook handler error", zap.Error(err))
	}
	paymentHandler, err := paymentshttp.NewTransactionHandler(lifecycle, stores.audit, logger)
	if err != nil {
		logger.Fatal("payment handler error", zap.Error(err))
	}
	batchHandler, err := settlementhttp.NewBatchHandler(settlementService, stores.audit, logger)
	if err != nil {
		logger.Fatal("settlement handler error", zap.Error(err))
	}

	go dispatcher.Run(ctx, cfg.DispatchInterval, cfg.DispatchBatch)
	if stores.requeue != nil {
		go requeueFailed(ctx, logger, stores.requeue)
	}

	if cfg.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set; authenticated endpoints will reject every request")
	}
	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/webhooks/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(authMiddleware.Wrap)
	webhookHandler.Routes(r)
	paymentHandler.Routes(r)
	batchHandler.Routes(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(r, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", zap.Error(err))
		}
	}()

	logger.Info("http listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Strings("providers", cfg.ProviderNames()),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(parsed)
	return zcfg.Build()
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("tenant_id", auth.TenantIDFromContext(r.Context())),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
