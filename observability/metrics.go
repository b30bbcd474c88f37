package observability

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AssessmentMetrics records the activity of the default-state assessment
// loop: passes run, status transitions taken, and capital locked or released.
type AssessmentMetrics struct {
	passes      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	locks       prometheus.Counter
	unlocks     prometheus.Counter
	lockedWei   prometheus.Counter
	duration    prometheus.Histogram
}

var (
	assessmentMetricsOnce sync.Once
	assessmentRegistry    *AssessmentMetrics
)

// Assessment returns the lazily-initialised assessment metrics registry.
func Assessment() *AssessmentMetrics {
	assessmentMetricsOnce.Do(func() {
		assessmentRegistry = &AssessmentMetrics{
			passes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "covernet",
				Subsystem: "assessment",
				Name:      "passes_total",
				Help:      "Total assessment passes segmented by outcome.",
			}, []string{"outcome"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "covernet",
				Subsystem: "assessment",
				Name:      "transitions_total",
				Help:      "Lending pool status transitions segmented by source and target state.",
			}, []string{"from", "to"}),
			locks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "covernet",
				Subsystem: "assessment",
				Name:      "capital_locks_total",
				Help:      "Count of capital locks taken against delinquent lending pools.",
			}),
			unlocks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "covernet",
				Subsystem: "assessment",
				Name:      "capital_unlocks_total",
				Help:      "Count of capital locks released after pool recovery.",
			}),
			lockedWei: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "covernet",
				Subsystem: "assessment",
				Name:      "capital_locked_wei_total",
				Help:      "Cumulative capital locked, in wei.",
			}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "covernet",
				Subsystem: "assessment",
				Name:      "pass_duration_seconds",
				Help:      "Latency distribution of assessment passes.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			assessmentRegistry.passes,
			assessmentRegistry.transitions,
			assessmentRegistry.locks,
			assessmentRegistry.unlocks,
			assessmentRegistry.lockedWei,
			assessmentRegistry.duration,
		)
	})
	return assessmentRegistry
}

// ObservePass records one assessment pass and its duration.
func (m *AssessmentMetrics) ObservePass(err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.duration.Observe(duration.Seconds())
}

// RecordTransition counts a status transition. From and to should be the
// stable state names so dashboards stay consistent across releases.
func (m *AssessmentMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordLock counts one capital lock and its size.
func (m *AssessmentMetrics) RecordLock(amount *big.Int) {
	if m == nil {
		return
	}
	m.locks.Inc()
	if amount != nil {
		value, _ := new(big.Float).SetInt(amount).Float64()
		if !math.IsInf(value, 0) && !math.IsNaN(value) {
			m.lockedWei.Add(value)
		}
	}
}

// RecordUnlock counts one capital release.
func (m *AssessmentMetrics) RecordUnlock() {
	if m == nil {
		return
	}
	m.unlocks.Inc()
}
