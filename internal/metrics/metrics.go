// Package metrics wires the supplier's internal counters and gauges into
// prometheus/client_golang. None of this is required by spec.md's
// Non-goals, but every ambient concern of a production supplier is carried
// regardless of what the functional Non-goals exclude (see SPEC_FULL.md).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of instruments a Supplier and its workers report to.
// A nil *Metrics is safe to use (all methods become no-ops) so tests and
// embedders that don't care about metrics aren't forced to wire a registry.
type Metrics struct {
	recordsSupplied  *prometheus.CounterVec
	endOfShard       *prometheus.CounterVec
	retries          *prometheus.CounterVec
	workerFailures   *prometheus.CounterVec
	bufferDepth      prometheus.Gauge
	bufferCapacity   prometheus.Gauge
}

// New registers the supplier's instruments on reg and returns a Metrics
// handle. Passing a fresh prometheus.NewRegistry() is recommended for tests
// to avoid colliding with the default global registry.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		recordsSupplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_supplied_total",
			Help:      "Records (including the end-of-shard sentinel) enqueued into the buffer.",
		}, []string{"stream", "partition"}),
		endOfShard: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "end_of_shard_total",
			Help:      "END_OF_SHARD sentinels successfully enqueued per partition.",
		}, []string{"stream", "partition"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_retries_total",
			Help:      "Ticks that rearmed after a transient condition, by reason.",
		}, []string{"stream", "partition", "reason"}),
		workerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_failures_total",
			Help:      "Partition workers that stopped permanently after a fatal upstream error.",
		}, []string{"stream", "partition"}),
		bufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_depth",
			Help:      "Current number of records resident in the shared bounded buffer.",
		}),
		bufferCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_capacity",
			Help:      "Configured capacity of the shared bounded buffer.",
		}),
	}
	reg.MustRegister(m.recordsSupplied, m.endOfShard, m.retries, m.workerFailures, m.bufferDepth, m.bufferCapacity)
	return m
}

func (m *Metrics) RecordSupplied(stream, partition string) {
	if m == nil {
		return
	}
	m.recordsSupplied.WithLabelValues(stream, partition).Inc()
}

func (m *Metrics) EndOfShardEmitted(stream, partition string) {
	if m == nil {
		return
	}
	m.endOfShard.WithLabelValues(stream, partition).Inc()
}

func (m *Metrics) Retry(stream, partition, reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(stream, partition, reason).Inc()
}

func (m *Metrics) WorkerFailed(stream, partition string) {
	if m == nil {
		return
	}
	m.workerFailures.WithLabelValues(stream, partition).Inc()
}

func (m *Metrics) SetBufferDepth(n int) {
	if m == nil {
		return
	}
	m.bufferDepth.Set(float64(n))
}

func (m *Metrics) SetBufferCapacity(n int) {
	if m == nil {
		return
	}
	m.bufferCapacity.Set(float64(n))
}
