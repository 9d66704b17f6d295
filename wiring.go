package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"finsuite/internal/audit"
	"finsuite/internal/config"
	"finsuite/internal/eventing"
	eventingrepo "finsuite/internal/eventing/infrastructure/postgres"
	"finsuite/internal/gateway"
	"finsuite/internal/idempotency"
	idempotencypg "finsuite/internal/idempotency/infrastructure/postgres"
	idempotencyredis "finsuite/internal/idempotency/infrastructure/redis"
	payments "finsuite/internal/payments/domain"
	paymentsmemory "finsuite/internal/payments/infrastructure/memory"
	paymentspg "finsuite/internal/payments/infrastructure/postgres"
	settlement "finsuite/internal/settlement/domain"
	settlementmemory "finsuite/internal/settlement/infrastructure/memory"
	settlementpg "finsuite/internal/settlement/infrastructure/postgres"
	"finsuite/internal/webhooks"
	webhookspg "finsuite/internal/webhooks/infrastructure/postgres"
	webhooksredis "finsuite/internal/webhooks/infrastructure/redis"
)

const (
	purgeInterval    = time.Hour
	requeueInterval  = time.Minute
	maxOutboxRetries = 5
)

// stores groups the persistence chosen at startup. Durable records live in
// postgres whenever a database is configured; idempotency and webhook dedup
// follow STORE_BACKEND.
type stores struct {
	idempotency  idempotency.Store
	dedup        webhooks.Deduplicator
	outbox       eventing.OutboxStore
	outboxWriter eventing.OutboxWriter
	dlq          eventing.DLQStore
	processed    eventing.ProcessedStore
	audit        audit.Logger
	batches      settlement.Repository
	transactions payments.TransactionRepository
	redis        *goredis.Client
	// requeue is set when failed outbox records can be retried.
	requeue func(ctx context.Context, maxAttempts int) (int64, error)
}

func (s *stores) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func openStores(ctx context.Context, cfg config.Config, db *sql.DB, logger *zap.Logger) (*stores, error) {
	out := &stores{}
	if db == nil {
		mem := eventing.NewMemoryStore()
		out.outbox, out.outboxWriter, out.dlq, out.processed = mem, mem, mem, mem
		out.audit = audit.NewMemoryLogger()
		out.batches = settlementmemory.NewRepository()
		out.transactions = paymentsmemory.NewTransactionRepository()
	} else if err := openDurable(out, db); err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		out.redis = client
		if out.idempotency, err = idempotencyredis.NewStore(client, idempotencyredis.WithPrefix("paycore:idem:")); err != nil {
			return nil, err
		}
		if out.dedup, err = webhooksredis.NewDedupStore(client, webhooksredis.WithPrefix("paycore:webhook:")); err != nil {
			return nil, err
		}
	case config.BackendPostgres:
		idem, err := idempotencypg.NewStore(db)
		if err != nil {
			return nil, err
		}
		dedup, err := webhookspg.NewDedupStore(db)
		if err != nil {
			return nil, err
		}
		out.idempotency, out.dedup = idem, dedup
		go purgeExpired(ctx, logger, "idempotency_records", idem.PurgeExpired)
		go purgeExpired(ctx, logger, "webhook_deliveries", dedup.PurgeExpired)
	default:
		out.idempotency = idempotency.NewMemoryStore()
		out.dedup = webhooks.NewMemoryDeduplicator(time.Now)
	}
	return out, nil
}

func openDurable(out *stores, db *sql.DB) error {
	outbox, err := eventingrepo.NewOutboxStore(db)
	if err != nil {
		return err
	}
	dlq, err := eventingrepo.NewDLQStore(db)
	if err != nil {
		return err
	}
	processed, err := eventingrepo.NewProcessedStore(db)
	if err != nil {
		return err
	}
	auditRepo, err := audit.NewRepository(db)
	if err != nil {
		return err
	}
	batches, err := settlementpg.NewBatchRepository(db)
	if err != nil {
		return err
	}
	transactions, err := paymentspg.NewTransactionRepository(db)
	if err != nil {
		return err
	}
	out.outbox, out.outboxWriter, out.dlq, out.processed = outbox, outbox, dlq, processed
	out.requeue = outbox.Requeue
	out.audit = auditRepo
	out.batches = batches
	out.transactions = transactions
	return nil
}

func purgeExpired(ctx context.Context, logger *zap.Logger, table string, purge func(context.Context) (int64, error)) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purge(ctx)
			if err != nil {
				logger.Warn("purge expired rows failed", zap.String("table", table), zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("purged expired rows", zap.String("table", table), zap.Int64("rows", n))
			}
		}
	}
}

// requeueFailed gives failed outbox records another delivery round until they
// reach maxOutboxRetries.
func requeueFailed(ctx context.Context, logger *zap.Logger, requeue func(context.Context, int) (int64, error)) {
	ticker := time.NewTicker(requeueInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := requeue(ctx, maxOutboxRetries)
			if err != nil {
				logger.Warn("outbox requeue failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("outbox records requeued", zap.Int64("records", n))
			}
		}
	}
}

func buildOrchestrator(cfg config.Config, store idempotency.Store, publisher gateway.EventPublisher, tenants gateway.TenantResolver, logger *zap.Logger) (*gateway.Orchestrator, error) {
	builder := gateway.NewRegistryBuilder()
	overrides := make(map[string]gateway.BreakerSettings)
	invokerOpts := []gateway.InvokerOption{}
	for _, name := range cfg.ProviderNames() {
		pc := cfg.Providers[name]
		gw, err := gateway.NewHTTPGateway(name, pc.BaseURL, pc.APIKey,
			gateway.WithHTTPClient(&http.Client{Timeout: pc.Timeout}))
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		builder.Register(name, gw)

		policy, err := gateway.NewExponentialBackoff(retryConfig(pc.Retry))
		if err != nil {
			return nil, fmt.Errorf("provider %s retry: %w", name, err)
		}
		invokerOpts = append(invokerOpts, gateway.WithDependencyPolicy(name, policy))
		overrides[name] = breakerSettings(pc.Breaker)
	}
	registry, err := builder.Build()
	if err != nil {
		return nil, err
	}
	defaultPolicy, err := gateway.NewExponentialBackoff(gateway.DefaultBackoffConfig())
	if err != nil {
		return nil, err
	}
	breakers, err := gateway.NewBreakerSet(gateway.DefaultBreakerSettings(), overrides, logger)
	if err != nil {
		return nil, err
	}
	invoker, err := gateway.NewInvoker(defaultPolicy, breakers, logger, invokerOpts...)
	if err != nil {
		return nil, err
	}
	opts := []gateway.OrchestratorOption{
		gateway.WithIdempotencyOptions(idempotency.Options{TTL: cfg.IdempotencyTTL, Lease: cfg.IdempotencyLease}),
	}
	if cfg.DefaultProvider != "" {
		opts = append(opts, gateway.WithDefaultProvider(cfg.DefaultProvider))
	}
	return gateway.NewOrchestrator(registry, invoker, store, publisher, tenants, logger, opts...)
}

func retryConfig(rc config.RetryConfig) gateway.BackoffConfig {
	out := gateway.DefaultBackoffConfig()
	if rc.MaxAttempts > 0 {
		out.MaxAttempts = rc.MaxAttempts
	}
	if rc.BaseDelay > 0 {
		out.BaseDelay = rc.BaseDelay
	}
	if rc.Multiplier > 0 {
		out.Multiplier = rc.Multiplier
	}
	if rc.MaxDelay > 0 {
		out.MaxDelay = rc.MaxDelay
	}
	return out
}

func breakerSettings(bc config.BreakerConfig) gateway.BreakerSettings {
	out := gateway.DefaultBreakerSettings()
	if bc.FailureRatio > 0 {
		out.FailureRatio = bc.FailureRatio
	}
	if bc.MinRequests > 0 {
		out.MinRequests = bc.MinRequests
	}
	if bc.OpenTimeout > 0 {
		out.OpenTimeout = bc.OpenTimeout
	}
	return out
}

func buildWebhookProcessor(cfg config.Config, router *webhooks.Router, dedup webhooks.Deduplicator, publisher webhooks.EventPublisher, logger *zap.Logger) (*webhooks.Processor, error) {
	builder := webhooks.NewRegistryBuilder()
	for _, name := range cfg.ProviderNames() {
		pc := cfg.Providers[name]
		if pc.WebhookSecret == "" {
			logger.Warn("provider has no webhook secret; deliveries will be rejected", zap.String("provider", name))
		}
		builder.RegisterProvider(name, webhooks.ProviderConfig{
			SignatureHeader: pc.SignatureHeader,
			Secret:          []byte(pc.WebhookSecret),
		})
		builder.RegisterHandler(name, webhooks.CompositeHandler{
			Verifier: verifier(pc),
			Parser:   parser(pc.Events),
			Process:  router.Route,
		})
	}
	registry, err := builder.Build()
	if err != nil {
		return nil, err
	}
	opts := []webhooks.ProcessorOption{webhooks.WithDedupTTL(cfg.WebhookDedupTTL)}
	if cfg.ReleaseOnHandlerError {
		opts = append(opts, webhooks.WithReleaseOnHandlerError())
	}
	return webhooks.NewProcessor(registry, dedup, publisher, logger, opts...)
}

func verifier(pc config.ProviderConfig) webhooks.Verifier {
	if pc.SignatureScheme == config.SchemeTimestamped {
		return webhooks.TimestampedVerifier{MaxSkew: pc.MaxSkew, Now: time.Now}
	}
	return webhooks.HMACVerifier{}
}

func parser(em config.EventMapping) webhooks.JSONParser {
	p := webhooks.JSONParser{
		EventIDPath:    em.IDPath,
		EventTypePath:  em.TypePath,
		OccurredAtPath: em.OccurredAtPath,
		DataPath:       em.DataPath,
	}
	if len(em.Types) > 0 {
		p.Types = make(map[string]webhooks.EventType, len(em.Types))
		for raw, canonical := range em.Types {
			p.Types[raw] = webhooks.ParseEventType(canonical)
		}
	}
	return p
}
