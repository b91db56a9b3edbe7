package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// Metrics collects executor and evaluator measurements. A nil *Metrics is
// valid and records nothing, so tests can skip registration.
type Metrics struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	retriesTotal    prometheus.Counter
	deadLetters     prometheus.Counter
	checksTotal     *prometheus.CounterVec
	checkDuration   prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	slowThreshold time.Duration
}

// NewMetrics builds and registers the metric set
func NewMetrics(reg prometheus.Registerer, slowThreshold time.Duration) *Metrics {
	m := &Metrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acs",
			Name:      "commands_total",
			Help:      "Commands processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "acs",
			Name:      "command_duration_seconds",
			Help:      "End-to-end command latency, by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "acs",
			Name:      "command_queue_depth",
			Help:      "Commands waiting in the executor channel.",
		}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acs",
			Name:      "persistence_retries_total",
			Help:      "Persistence attempts beyond the first.",
		}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acs",
			Name:      "dead_letters_total",
			Help:      "Commands routed to the dead letter queue.",
		}),
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acs",
			Name:      "permission_checks_total",
			Help:      "Permission checks, by decision.",
		}, []string{"decision"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "acs",
			Name:      "permission_check_duration_seconds",
			Help:      "Permission check latency.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acs",
			Name:      "cache_hits_total",
			Help:      "Snapshot cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acs",
			Name:      "cache_misses_total",
			Help:      "Snapshot cache misses.",
		}),
		slowThreshold: slowThreshold,
	}

	reg.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.queueDepth,
		m.retriesTotal,
		m.deadLetters,
		m.checksTotal,
		m.checkDuration,
		m.cacheHits,
		m.cacheMisses,
	)
	return m
}

// ObserveCommand records a finished command and flags slow ones
func (m *Metrics) ObserveCommand(kind CommandKind, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	m.commandsTotal.WithLabelValues(string(kind), outcome).Inc()
	m.commandDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())

	if m.slowThreshold > 0 && elapsed > m.slowThreshold {
		slogging.Get().Warn("Slow command %s took %s (threshold %s)", kind, elapsed, m.slowThreshold)
	}
}

// SetQueueDepth records the executor channel occupancy
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ObserveRetries records persistence attempts beyond the first
func (m *Metrics) ObserveRetries(attempts int) {
	if m == nil || attempts <= 1 {
		return
	}
	m.retriesTotal.Add(float64(attempts - 1))
}

// ObserveDeadLetter records a command routed to the dead letter queue
func (m *Metrics) ObserveDeadLetter() {
	if m == nil {
		return
	}
	m.deadLetters.Inc()
}

// ObserveCheck records a permission check outcome
func (m *Metrics) ObserveCheck(decision Decision, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(string(decision)).Inc()
	m.checkDuration.Observe(elapsed.Seconds())
}

// ObserveCacheHit records a snapshot cache hit or miss
func (m *Metrics) ObserveCacheHit(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
