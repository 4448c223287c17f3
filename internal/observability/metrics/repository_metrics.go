package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	AggregateInvoice = "invoice"
	AggregateCart    = "cart"
	AggregateProduct = "product"
)

const (
	OutcomeCommitted   = "committed"
	OutcomeNotFound    = "not_found"
	OutcomeInvalid     = "invalid"
	OutcomeRejected    = "rejected"
	OutcomeConflict    = "conflict"
	OutcomeLockTimeout = "lock_timeout"
	OutcomePersistence = "persistence_error"
	OutcomeUnexpected  = "unexpected"
)

const (
	ConflictKindPhantom = "phantom"
	ConflictKindChanged = "changed"
	ConflictKindStale   = "stale"
)

// RepositoryMetrics captures write-path health of the aggregate repositories.
type RepositoryMetrics struct {
	attempts  *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	lockWait  *prometheus.HistogramVec
}

var (
	repositoryMetricsOnce sync.Once
	repositoryMetrics     *RepositoryMetrics
)

// Repository returns the singleton repository metrics registry.
func Repository() *RepositoryMetrics {
	return RepositoryWithConfig(Config{})
}

// RepositoryWithConfig returns the singleton repository metrics registry using config labels.
func RepositoryWithConfig(cfg Config) *RepositoryMetrics {
	repositoryMetricsOnce.Do(func() {
		repositoryMetrics = newRepositoryMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return repositoryMetrics
}

// ResetRepositoryMetricsForTest resets the repository metrics singleton for tests.
func ResetRepositoryMetricsForTest() {
	repositoryMetricsOnce = sync.Once{}
	repositoryMetrics = nil
}

func newRepositoryMetrics(registerer prometheus.Registerer, cfg Config) *RepositoryMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "storefront"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_repository_mutate_attempts_total",
		Help:        "Transaction attempts made by aggregate write paths.",
		ConstLabels: constLabels,
	}, []string{"aggregate"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_repository_mutate_outcomes_total",
		Help:        "Final outcome of aggregate write calls.",
		ConstLabels: constLabels,
	}, []string{"aggregate", "outcome"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_repository_conflicts_total",
		Help:        "Optimistic concurrency conflicts by kind.",
		ConstLabels: constLabels,
	}, []string{"aggregate", "kind"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "storefront_repository_lock_wait_seconds",
		Help:        "Time spent waiting for named aggregate locks.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		ConstLabels: constLabels,
	}, []string{"resource"})

	attempts = registerCounterVec(registerer, attempts)
	outcomes = registerCounterVec(registerer, outcomes)
	conflicts = registerCounterVec(registerer, conflicts)
	lockWait = registerHistogramVec(registerer, lockWait)

	return &RepositoryMetrics{
		attempts:  attempts,
		outcomes:  outcomes,
		conflicts: conflicts,
		lockWait:  lockWait,
	}
}

func (m *RepositoryMetrics) IncAttempt(aggregate string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(aggregate).Inc()
}

func (m *RepositoryMetrics) IncOutcome(aggregate, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(aggregate, outcome).Inc()
}

func (m *RepositoryMetrics) IncConflict(aggregate, kind string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(aggregate, kind).Inc()
}

// ObserveLockWait records how long a named lock took to acquire.
func (m *RepositoryMetrics) ObserveLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

func registerCounterVec(registerer prometheus.Registerer, vec *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(vec); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return vec
}

func registerHistogramVec(registerer prometheus.Registerer, vec *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := registerer.Register(vec); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
	}
	return vec
}
