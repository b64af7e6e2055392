package runtime

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "uigen"
	metricsSubsystem = "dispatcher"
)

// Metrics exposes Prometheus collectors for dispatcher activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	tasks          *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	activeRequests prometheus.Gauge
}

// MustNewMetrics registers the dispatcher collectors with reg, reusing
// collectors that are already registered under the same names. Tests should
// pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Requests handled by the dispatcher by final status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each dispatcher stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_total",
			Help:      "Executed tasks by agent and outcome.",
		}, []string{"agent", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result (hit or miss).",
		}, []string{"result"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active_requests",
			Help:      "Requests currently being executed.",
		}),
	}
	m.requests = mustRegister(reg, m.requests)
	m.stageDuration = mustRegister(reg, m.stageDuration)
	m.tasks = mustRegister(reg, m.tasks)
	m.cacheLookups = mustRegister(reg, m.cacheLookups)
	m.activeRequests = mustRegister(reg, m.activeRequests)
	return m
}

func mustRegister[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) requestStarted() {
	if m == nil {
		return
	}
	m.activeRequests.Inc()
}

func (m *Metrics) requestFinished(status Status) {
	if m == nil {
		return
	}
	m.activeRequests.Dec()
	m.requests.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeStage(stage Status, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) taskFinished(agentID string, status TaskStatus) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(agentID, string(status)).Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
