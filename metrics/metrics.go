// Package metrics exposes Prometheus counters for the portal's core flows
// and the HTTP server that serves them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Metrics holds the portal counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registrations   *prometheus.CounterVec
	logins          *prometheus.CounterVec
	uidConflicts    prometheus.Counter
	instanceActions *prometheus.CounterVec
	persistRetries  prometheus.Counter
	bootstrap       *prometheus.CounterVec
}

// NewMetrics creates the counters under namespace and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "User registrations by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		uidConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uid_allocation_conflicts_total",
			Help:      "Lost compare-and-set rounds while allocating user ids.",
		}),
		instanceActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_actions_total",
			Help:      "Instance lifecycle actions by action and result.",
		}, []string{"action", "result"}),
		persistRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_persist_retries_total",
			Help:      "Retried writes of a launched instance id.",
		}),
		bootstrap: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bootstrap_requests_total",
			Help:      "Bootstrap lifecycle requests by type and result.",
		}, []string{"request_type", "result"}),
	}

	reg.MustRegister(m.registrations, m.logins, m.uidConflicts, m.instanceActions, m.persistRetries, m.bootstrap)
	return m
}

func (m *Metrics) Registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) UIDConflict() {
	if m == nil {
		return
	}
	m.uidConflicts.Inc()
}

func (m *Metrics) InstanceAction(action, result string) {
	if m == nil {
		return
	}
	m.instanceActions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) PersistRetry() {
	if m == nil {
		return
	}
	m.persistRetries.Inc()
}

func (m *Metrics) Bootstrap(requestType, result string) {
	if m == nil {
		return
	}
	m.bootstrap.WithLabelValues(requestType, result).Inc()
}

// MetricsServer serves a private Prometheus registry.
type MetricsServer struct {
	registry *prometheus.Registry
	metrics  *Metrics
	srv      *http.Server
}

// New creates a metrics server listening on addr with the portal counters
// registered under namespace, alongside Go runtime and process collectors.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		metrics:  NewMetrics(namespace, registry),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Metrics returns the counters registered with this server.
func (s *MetricsServer) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the underlying registry.
func (s *MetricsServer) Registry() *prometheus.Registry {
	return s.registry
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
