package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "event_outbox_pending",
			Help: "Pending outbox records",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM event_outbox WHERE status = 'pending'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "event_dlq_count",
			Help: "Dead letter queue records",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM dead_letter_events")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "settlement_open_batches",
			Help: "Settlement batches still accepting payments",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM settlement_batches WHERE status = 'open'")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
