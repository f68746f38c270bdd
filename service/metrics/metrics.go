package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to every component that records metrics. Components accept
// a nil *Metrics and skip recording.
type Metrics struct {
	// Ledger metrics
	transactionsAdmittedTotal *prometheus.CounterVec
	transactionsRejectedTotal *prometheus.CounterVec
	blocksMinedTotal          prometheus.Counter
	blockTransactions         prometheus.Histogram
	mempoolSize               prometheus.Gauge

	// Invoice metrics
	invoicesCreatedTotal *prometheus.CounterVec
	invoicesSettledTotal *prometheus.CounterVec
	invoicesExpiredTotal prometheus.Counter
	refundsTotal         *prometheus.CounterVec

	// Webhook metrics
	webhookDeliveriesTotal  *prometheus.CounterVec
	webhookDeliveryDuration prometheus.Histogram
	webhookQueueDepth       prometheus.Gauge

	// Event publishing metrics
	eventsPublishedTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	rateLimitedTotal    prometheus.Counter
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		transactionsAdmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_admitted_total",
				Help: "Total number of transactions admitted to the pending pool",
			},
			[]string{"sender_type"},
		),
		transactionsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_rejected_total",
				Help: "Total number of transactions rejected at admission",
			},
			[]string{"reason"},
		),
		blocksMinedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_blocks_mined_total",
				Help: "Total number of blocks mined",
			},
		),
		blockTransactions: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_block_transactions",
				Help:    "Number of transactions confirmed per mined block",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		mempoolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_mempool_size",
				Help: "Current number of unconfirmed transactions in the mempool",
			},
		),

		invoicesCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoices_created_total",
				Help: "Total number of invoices created",
			},
			[]string{"currency"},
		),
		invoicesSettledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoices_settled_total",
				Help: "Total number of invoices that reached the paid state",
			},
			[]string{"currency"},
		),
		invoicesExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "invoices_expired_total",
				Help: "Total number of invoices that expired unpaid",
			},
		),
		refundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refunds_total",
				Help: "Total number of refund attempts by outcome",
			},
			[]string{"status"},
		),

		webhookDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts by outcome",
			},
			[]string{"status"},
		),
		webhookDeliveryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_duration_seconds",
				Help:    "Duration of webhook delivery attempts in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),
		webhookQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhook_queue_depth",
				Help: "Current number of webhook tasks awaiting delivery",
			},
		),

		eventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Total number of settlement events published",
			},
			[]string{"subject", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		rateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),
	}
}

// Ledger metric helpers

// RecordTransactionAdmitted records a transaction accepted into the pending pool.
func (m *Metrics) RecordTransactionAdmitted(senderType string) {
	m.transactionsAdmittedTotal.WithLabelValues(senderType).Inc()
}

// RecordTransactionRejected records a transaction rejected at admission.
func (m *Metrics) RecordTransactionRejected(reason string) {
	m.transactionsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordBlockMined records a mined block and its transaction count.
func (m *Metrics) RecordBlockMined(txCount int) {
	m.blocksMinedTotal.Inc()
	m.blockTransactions.Observe(float64(txCount))
}

// RecordMempoolSize records the current mempool depth.
func (m *Metrics) RecordMempoolSize(size int) {
	m.mempoolSize.Set(float64(size))
}

// Invoice metric helpers

// RecordInvoiceCreated records a newly created invoice.
func (m *Metrics) RecordInvoiceCreated(currency string) {
	m.invoicesCreatedTotal.WithLabelValues(currency).Inc()
}

// RecordInvoiceSettled records an invoice transitioning to paid.
func (m *Metrics) RecordInvoiceSettled(currency string) {
	m.invoicesSettledTotal.WithLabelValues(currency).Inc()
}

// RecordInvoiceExpired records an invoice transitioning to expired.
func (m *Metrics) RecordInvoiceExpired() {
	m.invoicesExpiredTotal.Inc()
}

// RecordRefund records a refund attempt outcome ("success" or "failure").
func (m *Metrics) RecordRefund(status string) {
	m.refundsTotal.WithLabelValues(status).Inc()
}

// Webhook metric helpers

// RecordWebhookDelivery records a delivery attempt outcome
// ("delivered", "retried" or "dropped") with its duration.
func (m *Metrics) RecordWebhookDelivery(status string, duration float64) {
	m.webhookDeliveriesTotal.WithLabelValues(status).Inc()
	m.webhookDeliveryDuration.Observe(duration)
}

// RecordWebhookQueueDepth records the current delivery queue depth.
func (m *Metrics) RecordWebhookQueueDepth(depth int) {
	m.webhookQueueDepth.Set(float64(depth))
}

// Event publishing metric helpers

// RecordEventPublished records a settlement event publish attempt.
func (m *Metrics) RecordEventPublished(subject, status string) {
	m.eventsPublishedTotal.WithLabelValues(subject, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	m.rateLimitedTotal.Inc()
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
