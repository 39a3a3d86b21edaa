// Package metrics holds the companion's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/sweep"
)

const namespace = "companion"

// Metrics implements the observer hooks of the cycle, insight engine, memory
// cache, LLM provider and sweep worker.
type Metrics struct {
	cyclesTotal   prometheus.Counter
	cycleDuration prometheus.Histogram
	cycleUsers    *prometheus.CounterVec
	sleepHours    prometheus.Gauge
	insightsTotal prometheus.Counter
	actionsTotal  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	llmCalls      *prometheus.CounterVec
	sweepRows     *prometheus.CounterVec
	sweepFailures prometheus.Counter
	sweepDuration prometheus.Histogram
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "cycles_total",
			Help: "Completed autonomous cycles.",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "cycle_duration_seconds",
			Help:    "Wall time of one autonomous cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		cycleUsers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "users_total",
			Help: "Users handled per cycle by outcome.",
		}, []string{"outcome"}),
		sleepHours: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "sleep_hours",
			Help: "Most recently scheduled sleep between cycles.",
		}),
		insightsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "insight", Name: "generated_total",
			Help: "Insights parsed from generation output.",
		}),
		actionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "insight", Name: "actions_total",
			Help: "Executed insight actions by type and result.",
		}, []string{"action", "result"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "memory", Name: "cache_lookups_total",
			Help: "Memory read cache lookups.",
		}, []string{"result"}),
		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "calls_total",
			Help: "Text-generation calls by model class and result.",
		}, []string{"class", "result"}),
		sweepRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "rows_total",
			Help: "Rows changed by the memory sweep.",
		}, []string{"step"}),
		sweepFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "failures_total",
			Help: "Sweeps that finished with an error.",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "duration_seconds",
			Help:    "Wall time of one sweep.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) CycleCompleted(elapsed time.Duration, processed, skipped, failed, sleepHours int) {
	m.cyclesTotal.Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
	m.cycleUsers.WithLabelValues("processed").Add(float64(processed))
	m.cycleUsers.WithLabelValues("skipped").Add(float64(skipped))
	m.cycleUsers.WithLabelValues("failed").Add(float64(failed))
}

// SleepScheduled records the clamped sleep the scheduler armed.
func (m *Metrics) SleepScheduled(hours int) { m.sleepHours.Set(float64(hours)) }

func (m *Metrics) InsightsGenerated(n int) { m.insightsTotal.Add(float64(n)) }

func (m *Metrics) InsightExecuted(action model.ActionType, ok bool) {
	m.actionsTotal.WithLabelValues(string(action), result(ok)).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) LLMCall(fast bool, err error) {
	class := "standard"
	if fast {
		class = "fast"
	}
	m.llmCalls.WithLabelValues(class, result(err == nil)).Inc()
}

func (m *Metrics) SweepFinished(r sweep.Result, elapsed time.Duration, err error) {
	m.sweepRows.WithLabelValues("archived").Add(float64(r.Archived))
	m.sweepRows.WithLabelValues("deleted").Add(float64(r.Deleted))
	m.sweepRows.WithLabelValues("purged").Add(float64(r.Purged))
	m.sweepDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.sweepFailures.Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
