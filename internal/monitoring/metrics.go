package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is what the ledger services report to.
type Recorder interface {
	RecordSubmission(outcome string)
	RecordTransition(from, to string)
	RecordRejection(operation, rule string)
	RecordBalanceMutation(kind string, coins int64)
	RecordOutboxPublish(success bool)
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// LedgerMetrics is the prometheus Recorder.
type LedgerMetrics struct {
	submissionsTotal      *prometheus.CounterVec
	transitionsTotal      *prometheus.CounterVec
	rejectionsTotal       *prometheus.CounterVec
	balanceMutationsTotal *prometheus.CounterVec
	coinsMovedTotal       *prometheus.CounterVec
	outboxPublishTotal    *prometheus.CounterVec
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
}

// NewLedgerMetrics registers the ledger collectors on reg.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	factory := promauto.With(reg)
	return &LedgerMetrics{
		submissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corra_reward_submissions_total",
			Help: "Reward request submissions by outcome",
		}, []string{"outcome"}),
		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corra_transaction_transitions_total",
			Help: "Coin transaction status transitions",
		}, []string{"from", "to"}),
		rejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corra_rule_rejections_total",
			Help: "Ledger operations refused by a business rule",
		}, []string{"operation", "rule"}),
		balanceMutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corra_balance_mutations_total",
			Help: "Balance mutations by kind",
		}, []string{"kind"}),
		coinsMovedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corra_coins_moved_total",
			Help: "Absolute coins moved by balance mutations",
		}, []string{"kind"}),
		outboxPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corra_outbox_publish_total",
			Help: "Outbox relay attempts by result",
		}, []string{"result"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corra_http_requests_total",
			Help: "HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corra_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *LedgerMetrics) RecordSubmission(outcome string) {
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *LedgerMetrics) RecordTransition(from, to string) {
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *LedgerMetrics) RecordRejection(operation, rule string) {
	m.rejectionsTotal.WithLabelValues(operation, rule).Inc()
}

func (m *LedgerMetrics) RecordBalanceMutation(kind string, coins int64) {
	m.balanceMutationsTotal.WithLabelValues(kind).Inc()
	if coins < 0 {
		coins = -coins
	}
	m.coinsMovedTotal.WithLabelValues(kind).Add(float64(coins))
}

func (m *LedgerMetrics) RecordOutboxPublish(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.outboxPublishTotal.WithLabelValues(result).Inc()
}

func (m *LedgerMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
