// Package metrics exposes Prometheus counters for the update pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nodesync"

// Run outcomes.
const (
	OutcomeUpdated  = "updated"
	OutcomeEmpty    = "empty"
	OutcomeConfig   = "config_error"
	OutcomeFailed   = "failed"
	OutcomePanicked = "panicked"
)

// Fetch results.
const (
	FetchOK     = "ok"
	FetchStatus = "bad_status"
	FetchError  = "error"
)

// Metrics 持有一个私有 registry。所有方法对 nil 接收者安全。
type Metrics struct {
	registry       *prometheus.Registry
	runs           *prometheus.CounterVec
	fetchAttempts  *prometheus.CounterVec
	nodesFound     prometheus.Counter
	persistedNodes prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished update runs by outcome.",
		}, []string{"outcome"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Subscription fetch attempts by result.",
		}, []string{"result"}),
		nodesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_found_total",
			Help:      "Newly seen unique nodes across all runs.",
		}),
		persistedNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persisted_nodes",
			Help:      "Node count of the last successful write.",
		}),
	}
	m.registry.MustRegister(
		m.runs,
		m.fetchAttempts,
		m.nodesFound,
		m.persistedNodes,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFetch(result string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) AddNodesFound(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.nodesFound.Add(float64(n))
}

func (m *Metrics) SetPersistedNodes(n int) {
	if m == nil {
		return
	}
	m.persistedNodes.Set(float64(n))
}

// Registry 返回底层 registry，主要用于测试。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
