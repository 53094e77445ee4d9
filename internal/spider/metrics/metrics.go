package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/armadaproject/condor-spider/internal/spider/model"
)

const CondorSpiderMetricsPrefix = "condor_spider_"

type BulkOutcome string

const (
	BulkOutcomeSuccess        BulkOutcome = "success"
	BulkOutcomeTransportError BulkOutcome = "transport_error"
)

// AlertReason names a failure an operator should be told about.
type AlertReason string

const (
	AlertQueryTimeout    AlertReason = "query_timeout"
	AlertDeliveryFailure AlertReason = "delivery_failure"
)

type Metrics struct {
	registry          *prometheus.Registry
	recordsFetched    *prometheus.CounterVec
	recordsIndexed    *prometheus.CounterVec
	transformErrors   *prometheus.CounterVec
	fetchErrors       *prometheus.CounterVec
	documentsRejected prometheus.Counter
	batchesLost       prometheus.Counter
	bulkAttempts      *prometheus.CounterVec
	bulkDuration      prometheus.Histogram
	activeQueries     prometheus.Gauge
	alerts            *prometheus.CounterVec
}

// NewMetrics registers the spider's metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		recordsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: CondorSpiderMetricsPrefix + "records_fetched_total",
			Help: "Number of records pulled from schedds grouped by kind",
		}, []string{"kind"}),
		recordsIndexed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: CondorSpiderMetricsPrefix + "records_indexed_total",
			Help: "Number of documents accepted by the index store grouped by kind",
		}, []string{"kind"}),
		transformErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: CondorSpiderMetricsPrefix + "transform_errors_total",
			Help: "Number of records that could not be turned into documents grouped by kind",
		}, []string{"kind"}),
		fetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: CondorSpiderMetricsPrefix + "fetch_errors_total",
			Help: "Number of schedd queries that failed or timed out grouped by kind",
		}, []string{"kind"}),
		documentsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: CondorSpiderMetricsPrefix + "documents_rejected_total",
			Help: "Number of documents refused individually by the index store",
		}),
		batchesLost: factory.NewCounter(prometheus.CounterOpts{
			Name: CondorSpiderMetricsPrefix + "batches_lost_total",
			Help: "Number of batches dropped after exhausting delivery retries",
		}),
		bulkAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: CondorSpiderMetricsPrefix + "bulk_attempts_total",
			Help: "Number of bulk writes attempted grouped by outcome",
		}, []string{"outcome"}),
		bulkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    CondorSpiderMetricsPrefix + "bulk_duration_seconds",
			Help:    "Time taken by a single bulk write",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		activeQueries: factory.NewGauge(prometheus.GaugeOpts{
			Name: CondorSpiderMetricsPrefix + "active_queries",
			Help: "Number of schedds currently being queried",
		}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: CondorSpiderMetricsPrefix + "alerts_total",
			Help: "Number of failures raised for operator attention grouped by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordFetched(kind model.Kind) {
	m.recordsFetched.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) RecordsIndexed(kind model.Kind, n int) {
	m.recordsIndexed.WithLabelValues(string(kind)).Add(float64(n))
}

func (m *Metrics) RecordTransformError(kind model.Kind) {
	m.transformErrors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) RecordFetchError(kind model.Kind) {
	m.fetchErrors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) DocumentsRejected(n int) {
	m.documentsRejected.Add(float64(n))
}

func (m *Metrics) RecordBatchLost() {
	m.batchesLost.Inc()
}

func (m *Metrics) RecordBulkAttempt(outcome BulkOutcome, seconds float64) {
	m.bulkAttempts.WithLabelValues(string(outcome)).Inc()
	m.bulkDuration.Observe(seconds)
}

func (m *Metrics) QueryStarted() {
	m.activeQueries.Inc()
}

func (m *Metrics) QueryFinished() {
	m.activeQueries.Dec()
}

func (m *Metrics) Alert(reason AlertReason) {
	m.alerts.WithLabelValues(string(reason)).Inc()
}
