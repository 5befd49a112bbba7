// Package metrics provides Prometheus metrics for the OVN provider.
//
// This package exposes:
// - Networking and token API request counts and latency
// - OVN Northbound transaction counts and latency
// - Northbound connection status
// - Token validation results
//
// Metrics are served by Handler on the metrics listener.
//
// Reference: OVN-Kubernetes pkg/metrics/
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the Prometheus metrics namespace
	Namespace = "ovirt_provider_ovn"

	// Subsystem names for different metric categories
	SubsystemAPI  = "api"
	SubsystemOVN  = "ovn"
	SubsystemAuth = "auth"
)

var (
	// registerOnce ensures metrics are registered only once
	registerOnce sync.Once

	// Registry holds every provider metric plus the Go and process collectors.
	Registry = prometheus.NewRegistry()

	// ---- API Metrics ----

	// APIRequestDuration measures REST request latency
	// Labels: api (neutron/keystone), method, resource, code
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Time taken to serve REST requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"api", "method", "resource", "code"},
	)

	// APIRequestTotal counts REST requests
	// Labels: api (neutron/keystone), method, resource, code
	APIRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemAPI,
			Name:      "request_total",
			Help:      "Total number of REST requests",
		},
		[]string{"api", "method", "resource", "code"},
	)

	// APIRequestsInFlight tracks the number of requests currently being served
	APIRequestsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemAPI,
			Name:      "requests_in_flight",
			Help:      "Number of REST requests currently being served",
		},
		[]string{"api"},
	)

	// ---- OVN Database Metrics ----

	// OVNOperationDuration measures the time taken for OVN database operations
	// Labels: operation, result (success/failure)
	OVNOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemOVN,
			Name:      "operation_duration_seconds",
			Help:      "Time taken for OVN database operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation", "result"},
	)

	// OVNOperationTotal counts the total number of OVN database operations
	// Labels: operation, result (success/failure)
	OVNOperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemOVN,
			Name:      "operation_total",
			Help:      "Total number of OVN database operations",
		},
		[]string{"operation", "result"},
	)

	// OVNDBConnectionStatus indicates the connection status to OVN databases
	// Labels: database (nb)
	// Value: 1 = connected, 0 = disconnected
	OVNDBConnectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemOVN,
			Name:      "db_connection_status",
			Help:      "OVN database connection status (1=connected, 0=disconnected)",
		},
		[]string{"database"},
	)

	// ---- Auth Metrics ----

	// TokenValidationTotal counts token validations
	// Labels: plugin, result (success/failure/cached)
	TokenValidationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemAuth,
			Name:      "token_validation_total",
			Help:      "Total number of auth token validations",
		},
		[]string{"plugin", "result"},
	)
)

// Register registers all metrics with Registry.
// This function is safe to call multiple times; metrics will only be registered once.
func Register() {
	registerOnce.Do(func() {
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		// API metrics
		Registry.MustRegister(APIRequestDuration)
		Registry.MustRegister(APIRequestTotal)
		Registry.MustRegister(APIRequestsInFlight)

		// OVN metrics
		Registry.MustRegister(OVNOperationDuration)
		Registry.MustRegister(OVNOperationTotal)
		Registry.MustRegister(OVNDBConnectionStatus)

		// Auth metrics
		Registry.MustRegister(TokenValidationTotal)
	})
}

// Handler returns the HTTP handler exposing Registry.
func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
