package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch 汇总改单结果分发相关的 Prometheus 指标。
// 方法对 nil 接收者安全，未启用指标时可直接传 nil。
type Dispatch struct {
	registry *prometheus.Registry

	requests     prometheus.Counter
	delivered    *prometheus.CounterVec
	hookFaults   *prometheus.CounterVec
	slowHooks    *prometheus.CounterVec
	hookDuration *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec
	pending      prometheus.Gauge
}

// NewDispatch 在独立 registry 上创建指标。
func NewDispatch(namespace string) *Dispatch {
	registry := prometheus.NewRegistry()

	m := &Dispatch{
		registry: registry,

		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_requests_total",
			Help:      "Total order edit requests recorded",
		}),

		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Order edit outcome events delivered to strategies",
		}, []string{"strategy", "kind"}),

		hookFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_faults_total",
			Help:      "Strategy hooks that panicked during delivery",
		}, []string{"strategy"}),

		slowHooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_hooks_total",
			Help:      "Strategy hooks still running past the slow hook threshold",
		}, []string{"strategy"}),

		hookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Strategy hook execution time",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1, 5},
		}, []string{"strategy", "kind"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lane_queue_depth",
			Help:      "Events queued per strategy lane",
		}, []string{"strategy"}),

		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_edit_requests",
			Help:      "Edit requests awaiting a terminal outcome",
		}),
	}

	registry.MustRegister(
		m.requests,
		m.delivered,
		m.hookFaults,
		m.slowHooks,
		m.hookDuration,
		m.queueDepth,
		m.pending,
	)

	return m
}

// Handler 返回 /metrics 处理器。
func (m *Dispatch) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 registry。
func (m *Dispatch) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Dispatch) RecordRequest() {
	if m == nil {
		return
	}
	m.requests.Inc()
}

func (m *Dispatch) RecordDelivered(strategy, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(strategy, kind).Inc()
	m.hookDuration.WithLabelValues(strategy, kind).Observe(elapsed.Seconds())
}

func (m *Dispatch) RecordHookFault(strategy string) {
	if m == nil {
		return
	}
	m.hookFaults.WithLabelValues(strategy).Inc()
}

func (m *Dispatch) RecordSlowHook(strategy string) {
	if m == nil {
		return
	}
	m.slowHooks.WithLabelValues(strategy).Inc()
}

func (m *Dispatch) SetQueueDepth(strategy string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(strategy).Set(float64(depth))
}

func (m *Dispatch) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
