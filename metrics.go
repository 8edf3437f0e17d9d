/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbops

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metric label values for apply outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// DefaultApplyDurationBuckets is default buckets into which observations of applying scripts are counted.
var DefaultApplyDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// PrometheusMetrics represents a collector of metrics for migration applies.
type PrometheusMetrics struct {
	AttemptDurations *prometheus.HistogramVec
	ScriptsTotal     *prometheus.CounterVec
}

// PrometheusMetricsOption is a functional option for NewPrometheusMetrics.
type PrometheusMetricsOption func(*prometheusMetricsOptions)

type prometheusMetricsOptions struct {
	namespace       string
	durationBuckets []float64
	constLabels     prometheus.Labels
}

// WithMetricsNamespace sets the namespace of all metrics.
func WithMetricsNamespace(namespace string) PrometheusMetricsOption {
	return func(o *prometheusMetricsOptions) {
		o.namespace = namespace
	}
}

// WithMetricsConstLabels sets constant labels (e.g. environment) attached to all metrics.
func WithMetricsConstLabels(labels prometheus.Labels) PrometheusMetricsOption {
	return func(o *prometheusMetricsOptions) {
		o.constLabels = labels
	}
}

// NewPrometheusMetrics creates a new metrics collector.
func NewPrometheusMetrics(options ...PrometheusMetricsOption) *PrometheusMetrics {
	opts := prometheusMetricsOptions{namespace: "dbops", durationBuckets: DefaultApplyDurationBuckets}
	for _, opt := range options {
		opt(&opts)
	}
	return &PrometheusMetrics{
		AttemptDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.namespace,
			Name:        "apply_attempt_duration_seconds",
			Help:        "A histogram of the durations of attempts to deliver a SQL script, by strategy and outcome.",
			Buckets:     opts.durationBuckets,
			ConstLabels: opts.constLabels,
		}, []string{"strategy", "outcome"}),
		ScriptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.namespace,
			Name:        "apply_scripts_total",
			Help:        "Number of SQL scripts processed, by final outcome.",
			ConstLabels: opts.constLabels,
		}, []string{"outcome"}),
	}
}

// ObserveAttempt records a single delivery attempt.
func (pm *PrometheusMetrics) ObserveAttempt(strategy string, succeeded bool, elapsed time.Duration) {
	pm.AttemptDurations.WithLabelValues(strategy, outcomeLabel(succeeded)).Observe(elapsed.Seconds())
}

// ObserveScript records the terminal outcome of a script.
func (pm *PrometheusMetrics) ObserveScript(succeeded bool) {
	pm.ScriptsTotal.WithLabelValues(outcomeLabel(succeeded)).Inc()
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.AttemptDurations, pm.ScriptsTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.AttemptDurations)
	prometheus.Unregister(pm.ScriptsTotal)
}

// Push sends collected metrics to a Prometheus Pushgateway, replacing the previous push of job.
func (pm *PrometheusMetrics) Push(ctx context.Context, gatewayURL, job string) error {
	err := push.New(gatewayURL, job).
		Collector(pm.AttemptDurations).
		Collector(pm.ScriptsTotal).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}

func outcomeLabel(succeeded bool) string {
	if succeeded {
		return OutcomeSucceeded
	}
	return OutcomeFailed
}
