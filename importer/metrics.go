package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "bulkimport_"

// Metrics exposes import progress to Prometheus. Create one per registry;
// a nil registerer gives working collectors that are not exported anywhere.
type Metrics struct {
	messagesDispatched prometheus.Counter
	messagesCommitted  prometheus.Counter
	messagesFailed     prometheus.Counter
	batchesCommitted   prometheus.Counter
	batchesFailed      *prometheus.CounterVec
	documentsWritten   *prometheus.CounterVec
	commitDuration     prometheus.Histogram
	workers            prometheus.Gauge
	poolGrowths        prometheus.Counter
}

// NewMetrics creates the importer collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messagesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "messages_dispatched_total",
			Help: "Number of messages routed to workers",
		}),
		messagesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "messages_committed_total",
			Help: "Number of messages durably committed",
		}),
		messagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "messages_failed_total",
			Help: "Number of messages discarded by rolled back batches",
		}),
		batchesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "batches_committed_total",
			Help: "Number of committed batches",
		}),
		batchesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "batches_failed_total",
			Help: "Number of rolled back batches by failure kind",
		}, []string{"kind"}),
		documentsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "documents_written_total",
			Help: "Number of documents written by committed batches",
		}, []string{"operation"}),
		commitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    metricsPrefix + "commit_duration_seconds",
			Help:    "Time spent in Commit for successful batches",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		workers: factory.NewGauge(prometheus.GaugeOpts{
			Name: metricsPrefix + "workers",
			Help: "Number of workers in the current pool",
		}),
		poolGrowths: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "pool_growths_total",
			Help: "Number of times the threading policy grew the pool",
		}),
	}
}

func (m *Metrics) recordDispatched() {
	m.messagesDispatched.Inc()
}

func (m *Metrics) recordResult(r batchResult) {
	if r.err != nil {
		m.batchesFailed.WithLabelValues(r.err.Kind.String()).Inc()
		m.messagesFailed.Add(float64(r.size))
		return
	}
	m.batchesCommitted.Inc()
	m.messagesCommitted.Add(float64(r.size))
	m.documentsWritten.WithLabelValues("create").Add(float64(r.written.Created))
	m.documentsWritten.WithLabelValues("update").Add(float64(r.written.Updated))
	m.documentsWritten.WithLabelValues("skip").Add(float64(r.written.Skipped))
	m.commitDuration.Observe(r.duration.Seconds())
}

func (m *Metrics) recordWorkers(n int, grown bool) {
	m.workers.Set(float64(n))
	if grown {
		m.poolGrowths.Inc()
	}
}

