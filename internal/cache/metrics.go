package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "pinset"
	metricsSubsystem = "cache"

	// KindLookup labels FindBest traffic.
	KindLookup = "lookup"
	// KindDependencies labels DependenciesOf traffic.
	KindDependencies = "dependencies"
	// KindHashes labels HashesOf traffic.
	KindHashes = "hashes"

	// TierPrior labels lookups answered by a still-satisfying prior pin.
	TierPrior = "prior"
	// TierMemory labels in-run memo hits.
	TierMemory = "memory"
	// TierPersisted labels hits served from the SQLite store.
	TierPersisted = "persisted"
)

// Metrics are the Prometheus counters of a cache Index.
type Metrics struct {
	Hits         *prometheus.CounterVec
	Misses       *prometheus.CounterVec
	Shared       *prometheus.CounterVec
	Writes       prometheus.Counter
	ReadFailures prometheus.Counter
}

// NewMetrics creates the cache counters and registers them on reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "hits_total",
			Help:      "Number of cache hits by kind and tier.",
		}, []string{"kind", "tier"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "misses_total",
			Help:      "Number of lookups forwarded to the index.",
		}, []string{"kind"}),
		Shared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "shared_total",
			Help:      "Number of concurrent duplicate lookups coalesced with singleflight.",
		}, []string{"kind"}),
		Writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "writes_total",
			Help:      "Number of entries buffered for persistence.",
		}),
		ReadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "read_failures_total",
			Help:      "Number of persisted entries that could not be read and were treated as misses.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Shared, m.Writes, m.ReadFailures)
	}
	return m
}

func (m *Metrics) hit(kind, tier string) {
	if m != nil {
		m.Hits.WithLabelValues(kind, tier).Inc()
	}
}

func (m *Metrics) miss(kind string) {
	if m != nil {
		m.Misses.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) shared(kind string) {
	if m != nil {
		m.Shared.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) write() {
	if m != nil {
		m.Writes.Inc()
	}
}

func (m *Metrics) readFailure() {
	if m != nil {
		m.ReadFailures.Inc()
	}
}
