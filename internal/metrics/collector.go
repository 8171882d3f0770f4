// Package metrics exports handle, migration and worker events to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	kindLabel      = "kind"
	resultLabel    = "result"
	outcomeLabel   = "outcome"
	directionLabel = "direction"
)

// Collector implements handle.Observer and migrate.Observer.
type Collector struct {
	gatherer prometheus.Gatherer

	queries        *prometheus.CounterVec
	queryDur       *prometheus.HistogramVec
	transactions   *prometheus.CounterVec
	broadcasts     *prometheus.CounterVec
	sessionsPurged prometheus.Counter
	migrations     *prometheus.CounterVec
	migrationStmts prometheus.Counter
	queueDepth     prometheus.Gauge
	lastBroadcast  prometheus.Gauge
}

// NewCollector registers the serenity metrics in reg. A nil reg uses a
// fresh registry.
func NewCollector(reg *prometheus.Registry, labels prometheus.Labels) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		gatherer: reg,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "serenity_queries_total",
			Help:        "Statements executed, by leading keyword and result",
			ConstLabels: labels,
		}, []string{kindLabel, resultLabel}),
		queryDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "serenity_query_duration_seconds",
			Help:        "Statement round trip time",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{kindLabel}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "serenity_transactions_total",
			Help:        "Finished transactions, by outcome",
			ConstLabels: labels,
		}, []string{outcomeLabel}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "serenity_broadcasts_total",
			Help:        "Broadcast messages written (out) and read (in)",
			ConstLabels: labels,
		}, []string{directionLabel}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "serenity_sessions_removed_total",
			Help:        "Expired sessions removed by cleanup",
			ConstLabels: labels,
		}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "serenity_migrations_total",
			Help:        "Schema updates, by result",
			ConstLabels: labels,
		}, []string{resultLabel}),
		migrationStmts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "serenity_migration_statements_total",
			Help:        "DDL statements emitted by schema updates",
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "serenity_broadcast_queue_depth",
			Help:        "Messages waiting in the local broadcast queue",
			ConstLabels: labels,
		}),
		lastBroadcast: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "serenity_broadcast_last_id",
			Help:        "Highest __broadcasts id processed",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(
		c.queries, c.queryDur, c.transactions, c.broadcasts, c.sessionsPurged,
		c.migrations, c.migrationStmts, c.queueDepth, c.lastBroadcast,
	)
	return c
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (c *Collector) ObserveQuery(kind string, ok bool, d time.Duration) {
	c.queries.WithLabelValues(kind, result(ok)).Inc()
	c.queryDur.WithLabelValues(kind).Observe(d.Seconds())
}

func (c *Collector) ObserveTransaction(outcome string) {
	c.transactions.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveBroadcast(direction string, n int) {
	c.broadcasts.WithLabelValues(direction).Add(float64(n))
}

func (c *Collector) ObserveSessionsRemoved(n int64) {
	if n > 0 {
		c.sessionsPurged.Add(float64(n))
	}
}

func (c *Collector) ObserveMigration(statements int, applied bool) {
	c.migrations.WithLabelValues(result(applied)).Inc()
	c.migrationStmts.Add(float64(statements))
}

// ObserveQueue records the local queue depth and the last processed id.
func (c *Collector) ObserveQueue(depth int, lastID int64) {
	c.queueDepth.Set(float64(depth))
	c.lastBroadcast.Set(float64(lastID))
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
