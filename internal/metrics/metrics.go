// Package metrics provides Prometheus instrumentation for the offline queue,
// replay, sync and connectivity. A nil *Metrics is valid and records nothing,
// so components can be built without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catalogsync"

// Replay outcomes used as label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Metrics holds every collector registered by the sync core.
type Metrics struct {
	registry *prometheus.Registry

	QueueDepth       prometheus.Gauge
	DeadLetterDepth  prometheus.Gauge
	EnqueueTotal     *prometheus.CounterVec
	ReplayTotal      *prometheus.CounterVec
	SyncTotal        *prometheus.CounterVec
	SyncUpdatedTotal *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	Online           prometheus.Gauge
}

// New creates Metrics on a private registry. Go runtime and process
// collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_depth",
			Help:      "Number of actions waiting in the offline queue",
		}),
		DeadLetterDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dead_letter_depth",
			Help:      "Number of actions abandoned after exhausting retries",
		}),
		EnqueueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offline_enqueue_total",
				Help:      "Total number of actions added to the offline queue",
			},
			[]string{"entity", "type"},
		),
		ReplayTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replay_actions_total",
				Help:      "Total number of replayed actions by outcome",
			},
			[]string{"entity", "type", "outcome"},
		),
		SyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_pulls_total",
				Help:      "Total number of entity pulls by result",
			},
			[]string{"entity", "result"},
		),
		SyncUpdatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_rows_merged_total",
				Help:      "Total number of remote rows merged into the local cache",
			},
			[]string{"entity"},
		),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_all_duration_seconds",
			Help:      "Duration of full sync passes",
			Buckets:   prometheus.DefBuckets,
		}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "Connectivity status (1 = online, 0 = offline)",
		}),
	}

	m.registry.MustRegister(
		m.QueueDepth,
		m.DeadLetterDepth,
		m.EnqueueTotal,
		m.ReplayTotal,
		m.SyncTotal,
		m.SyncUpdatedTotal,
		m.SyncDuration,
		m.Online,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetQueueDepth records the current offline queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetDeadLetterDepth records the current dead-letter list length.
func (m *Metrics) SetDeadLetterDepth(n int) {
	if m == nil {
		return
	}
	m.DeadLetterDepth.Set(float64(n))
}

// ObserveEnqueue counts an action added to the queue.
func (m *Metrics) ObserveEnqueue(entity, actionType string) {
	if m == nil {
		return
	}
	m.EnqueueTotal.WithLabelValues(entity, actionType).Inc()
}

// ObserveReplay counts one replayed action.
func (m *Metrics) ObserveReplay(entity, actionType, outcome string) {
	if m == nil {
		return
	}
	m.ReplayTotal.WithLabelValues(entity, actionType, outcome).Inc()
}

// ObservePull counts one entity pull and the rows it merged.
func (m *Metrics) ObservePull(entity string, ok bool, updated int) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.SyncTotal.WithLabelValues(entity, result).Inc()
	if updated > 0 {
		m.SyncUpdatedTotal.WithLabelValues(entity).Add(float64(updated))
	}
}

// ObserveSyncDuration records the duration of a SyncAll pass in seconds.
func (m *Metrics) ObserveSyncDuration(seconds float64) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(seconds)
}

// SetOnline records the connectivity status.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.Online.Set(1)
	} else {
		m.Online.Set(0)
	}
}
