package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the vault agent metrics. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	chunkTransfers   *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	blobOperations   *prometheus.CounterVec
	blobDuration     *prometheus.HistogramVec
	blobErrors       *prometheus.CounterVec
	unlockAttempts   *prometheus.CounterVec
	orphanedBlobs    prometheus.Counter
}

// NewMetrics registers metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry registers metrics with reg and serves them from g.
func NewMetricsWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		chunkTransfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_chunk_transfers_total",
				Help: "Encrypted chunk transfers by direction and result",
			},
			[]string{"direction", "result"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_transfer_bytes_total",
				Help: "Plaintext bytes moved through the chunk pipeline",
			},
			[]string{"direction"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_transfer_duration_seconds",
				Help:    "Whole-file transfer duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"direction"},
		),
		blobOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_blob_operations_total",
				Help: "Blob backend operations",
			},
			[]string{"backend", "operation"},
		),
		blobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_blob_operation_duration_seconds",
				Help:    "Blob backend operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
		blobErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_blob_errors_total",
				Help: "Failed blob backend operations",
			},
			[]string{"backend", "operation"},
		),
		unlockAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_unlock_attempts_total",
				Help: "Password unlock attempts by result",
			},
			[]string{"result"},
		),
		orphanedBlobs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vault_orphaned_blobs_total",
				Help: "Blobs left behind by failed uploads",
			},
		),
	}
}

// RecordChunk counts one chunk upload or download.
func (m *Metrics) RecordChunk(direction string, err error) {
	if m == nil {
		return
	}
	m.chunkTransfers.WithLabelValues(direction, result(err)).Inc()
}

// RecordTransfer records a completed whole-file transfer.
func (m *Metrics) RecordTransfer(direction string, bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
	m.transferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordBlobOperation records one blob backend call.
func (m *Metrics) RecordBlobOperation(backend, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.blobOperations.WithLabelValues(backend, operation).Inc()
	m.blobDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		m.blobErrors.WithLabelValues(backend, operation).Inc()
	}
}

func (m *Metrics) RecordUnlock(err error) {
	if m == nil {
		return
	}
	m.unlockAttempts.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) RecordOrphanedBlobs(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphanedBlobs.Add(float64(n))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
