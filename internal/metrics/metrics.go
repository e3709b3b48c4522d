// Package metrics holds the gateway's Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cactus",
			Name:      "http_requests_total",
			Help:      "Total number of gateway HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cactus",
			Name:      "http_request_duration_seconds",
			Help:      "Gateway HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cactus",
			Name:      "routing_decisions_total",
			Help:      "Inference routing decisions by final mode",
		},
		[]string{"mode"},
	)

	CloudFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cactus",
			Name:      "cloud_fallbacks_total",
			Help:      "Cloud enhancement failures that reverted to local results",
		},
	)

	ModelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cactus",
			Name:      "model_call_duration_seconds",
			Help:      "Local model call duration in seconds by operation",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"op", "status"},
	)

	PrivacyRefineTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cactus",
			Name:      "privacy_refine_total",
			Help:      "LLM privacy refinement outcomes in the ambiguous band",
		},
		[]string{"outcome"}, // "blended", "unparseable", "error"
	)
)

var registered bool

// Register registers all collectors. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(RoutingDecisionsTotal)
	prometheus.MustRegister(CloudFallbacksTotal)
	prometheus.MustRegister(ModelCallDuration)
	prometheus.MustRegister(PrivacyRefineTotal)
	registered = true
}
