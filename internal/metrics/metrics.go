// file: internal/metrics/metrics.go
// version: 1.0.0
// guid: 7b8c9d0e-1f2a-3b4c-5d6e-7f8a9b0c1d2e

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	providerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "library_manager",
		Name:      "provider_calls_total",
		Help:      "Total provider calls by provider and outcome",
	}, []string{"provider", "outcome"})
	providerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "library_manager",
		Name:      "provider_call_duration_seconds",
		Help:      "Histogram of provider call durations by provider",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms up to ~3m
	}, []string{"provider"})
	breakerOpens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "library_manager",
		Name:      "breaker_opens_total",
		Help:      "Times a provider circuit breaker opened",
	}, []string{"provider"})

	layerResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "library_manager",
		Name:      "layer_results_total",
		Help:      "Layer outcomes by layer number and action",
	}, []string{"layer", "action"})
	fixesApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "library_manager",
		Name:      "fixes_applied_total",
		Help:      "Folder renames applied",
	})
	booksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "library_manager",
		Name:      "books_total",
		Help:      "Current total number of tracked books",
	})
	queueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "library_manager",
		Name:      "queue_depth",
		Help:      "Current verification queue depth",
	})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(providerCalls, providerLatency, breakerOpens,
			layerResults, fixesApplied, booksGauge, queueGauge)
	})
}

// ObserveProviderCall records one provider call and its latency.
func ObserveProviderCall(provider string, d time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	providerCalls.WithLabelValues(provider, outcome).Inc()
	providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// IncBreakerOpen counts a breaker transition to open.
func IncBreakerOpen(provider string) { breakerOpens.WithLabelValues(provider).Inc() }

// IncLayerResult counts one layer outcome.
func IncLayerResult(layer, action string) { layerResults.WithLabelValues(layer, action).Inc() }

// IncFixApplied counts one applied rename.
func IncFixApplied() { fixesApplied.Inc() }

// Gauges
func SetBooks(n int) { booksGauge.Set(float64(n)) }
func SetQueue(n int) { queueGauge.Set(float64(n)) }
