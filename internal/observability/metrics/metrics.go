package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "paycore_"

	resultSuccess = "success"
	resultError   = "error"

	webhookResultProcessed  = "processed"
	webhookResultDuplicate  = "duplicate"
	webhookResultRejected   = "rejected"
	webhookResultFailed     = "failed"
	webhookResultUnresolved = "unresolved"
)

var (
	registerOnce sync.Once

	gatewayAttempts     *prometheus.CounterVec
	gatewayLatency      *prometheus.HistogramVec
	gatewayRetries      *prometheus.CounterVec
	circuitRejections   *prometheus.CounterVec
	breakerStateChanges *prometheus.CounterVec

	idempotentReplays *prometheus.CounterVec

	webhookTotal *prometheus.CounterVec

	settlementReconcileTotal *prometheus.CounterVec
	batchExportTotal         *prometheus.CounterVec
	batchExportLatency       *prometheus.HistogramVec

	outboxPublishLatency  *prometheus.HistogramVec
	outboxDispatchLatency *prometheus.HistogramVec
	outboxDispatchRecords *prometheus.CounterVec
	consumerLag           *prometheus.GaugeVec
	forwardedEvents       *prometheus.CounterVec
)

// Init registers payment core metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		gatewayAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "gateway_attempts_total",
				Help: "Gateway call attempts by provider, operation and result",
			},
			[]string{"provider", "operation", "result"},
		)
		gatewayLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "gateway_latency_seconds",
				Help:    "Gateway operation latency in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "operation", "result"},
		)
		gatewayRetries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "gateway_retries_total",
				Help: "Gateway retries scheduled by dependency",
			},
			[]string{"dependency"},
		)
		circuitRejections = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "gateway_circuit_open_total",
				Help: "Calls rejected because the dependency circuit was open",
			},
			[]string{"dependency"},
		)
		breakerStateChanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "gateway_breaker_transitions_total",
				Help: "Circuit breaker state changes by dependency and target state",
			},
			[]string{"dependency", "state"},
		)

		idempotentReplays = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "idempotent_replays_total",
				Help: "Operations answered from a stored idempotent result",
			},
			[]string{"scope"},
		)

		webhookTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "webhooks_total",
				Help: "Webhook deliveries by provider and outcome",
			},
			[]string{"provider", "result"},
		)

		settlementReconcileTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_reconcile_total",
				Help: "Settlement batch reconciliations by discrepancy severity",
			},
			[]string{"severity"},
		)
		batchExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_export_total",
				Help: "Settlement batch exports by format and result",
			},
			[]string{"format", "result"},
		)
		batchExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_export_latency_seconds",
				Help:    "Settlement batch export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		outboxPublishLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_publish_latency_seconds",
				Help:    "Outbox insert latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_dispatch_latency_seconds",
				Help:    "Outbox dispatch run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchRecords = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_records_total",
				Help: "Outbox records handled by dispatch outcome",
			},
			[]string{"outcome"},
		)
		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Delay between event occurrence and consumption",
			},
			[]string{"consumer"},
		)
		forwardedEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_forwarded_total",
				Help: "Domain events relayed to the message broker by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			gatewayAttempts,
			gatewayLatency,
			gatewayRetries,
			circuitRejections,
			breakerStateChanges,
			idempotentReplays,
			webhookTotal,
			settlementReconcileTotal,
			batchExportTotal,
			batchExportLatency,
			outboxPublishLatency,
			outboxDispatchLatency,
			outboxDispatchRecords,
			consumerLag,
			forwardedEvents,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveGatewayCall records one orchestrated gateway operation.
func ObserveGatewayCall(provider, operation, result string, duration time.Duration) {
	provider, operation, result = orUnknown(provider), orUnknown(operation), orSuccess(result)
	if gatewayAttempts != nil {
		gatewayAttempts.WithLabelValues(provider, operation, result).Inc()
	}
	if gatewayLatency != nil {
		gatewayLatency.WithLabelValues(provider, operation, result).Observe(duration.Seconds())
	}
}

// IncGatewayRetry counts a scheduled retry.
func IncGatewayRetry(dependency string) {
	if gatewayRetries != nil {
		gatewayRetries.WithLabelValues(orUnknown(dependency)).Inc()
	}
}

// IncCircuitOpen counts a call rejected by an open circuit.
func IncCircuitOpen(dependency string) {
	if circuitRejections != nil {
		circuitRejections.WithLabelValues(orUnknown(dependency)).Inc()
	}
}

// IncBreakerTransition counts a breaker state change.
func IncBreakerTransition(dependency, state string) {
	if breakerStateChanges != nil {
		breakerStateChanges.WithLabelValues(orUnknown(dependency), orUnknown(state)).Inc()
	}
}

// IncIdempotentReplay counts a stored result returned without execution.
func IncIdempotentReplay(scope string) {
	if idempotentReplays != nil {
		idempotentReplays.WithLabelValues(orUnknown(scope)).Inc()
	}
}

// IncWebhook counts a webhook outcome.
func IncWebhook(provider, result string) {
	if webhookTotal != nil {
		webhookTotal.WithLabelValues(orUnknown(provider), orUnknown(result)).Inc()
	}
}

// IncSettlementReconcile counts a reconciliation by severity.
func IncSettlementReconcile(severity string) {
	if settlementReconcileTotal != nil {
		settlementReconcileTotal.WithLabelValues(orUnknown(severity)).Inc()
	}
}

// ObserveBatchExport records export latency and result.
func ObserveBatchExport(format, result string, duration time.Duration) {
	format, result = orUnknown(format), orSuccess(result)
	if batchExportTotal != nil {
		batchExportTotal.WithLabelValues(format, result).Inc()
	}
	if batchExportLatency != nil {
		batchExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveOutboxPublish records an outbox insert.
func ObserveOutboxPublish(result string, duration time.Duration) {
	if outboxPublishLatency != nil {
		outboxPublishLatency.WithLabelValues(orSuccess(result)).Observe(duration.Seconds())
	}
}

// ObserveOutboxDispatch records a dispatch run and its per-record outcomes.
func ObserveOutboxDispatch(result string, duration time.Duration, sent, failed, dlq int) {
	if outboxDispatchLatency != nil {
		outboxDispatchLatency.WithLabelValues(orSuccess(result)).Observe(duration.Seconds())
	}
	if outboxDispatchRecords != nil {
		outboxDispatchRecords.WithLabelValues("sent").Add(float64(sent))
		outboxDispatchRecords.WithLabelValues("failed").Add(float64(failed))
		outboxDispatchRecords.WithLabelValues("dlq").Add(float64(dlq))
	}
}

// ObserveConsumerLag records how far behind a consumer is.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(orUnknown(consumer)).Set(lag.Seconds())
	}
}

// IncForwarded counts an event relayed to the broker.
func IncForwarded(result string) {
	if forwardedEvents != nil {
		forwardedEvents.WithLabelValues(orSuccess(result)).Inc()
	}
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func orSuccess(value string) string {
	if value == "" {
		return resultSuccess
	}
	return value
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	WebhookProcessed  = webhookResultProcessed
	WebhookDuplicate  = webhookResultDuplicate
	WebhookRejected   = webhookResultRejected
	WebhookFailed     = webhookResultFailed
	WebhookUnresolved = webhookResultUnresolved
)
