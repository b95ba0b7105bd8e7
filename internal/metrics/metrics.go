// Package metrics holds the Prometheus collectors shared by the service components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts handled API requests.
	// Labels: method, path (route template), status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campaign_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Redirects counts gateway redirects by outcome: ok, not_found, expired, error.
	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_redirects_total",
			Help: "Total number of short link redirects",
		},
		[]string{"outcome"},
	)

	AccessLogFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_access_log_failures_total",
			Help: "Access log writes that failed or timed out after the redirect was served",
		},
	)

	CIDCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_cid_collisions_total",
			Help: "Generated CIDs rejected because they were already taken",
		},
	)

	// AggregationRuns counts aggregator runs by mode (incremental, backfill) and outcome.
	AggregationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_aggregation_runs_total",
			Help: "Total number of aggregation runs",
		},
		[]string{"mode", "outcome"},
	)

	AggregationMetricFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_aggregation_metric_failures_total",
			Help: "Metric computations that failed or timed out during aggregation",
		},
		[]string{"metric"},
	)

	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campaign_aggregation_duration_seconds",
			Help:    "Duration of aggregation runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	Estimates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_source_estimates_total",
			Help: "Source estimates produced, by confidence",
		},
		[]string{"confidence"},
	)

	// ConsumedEvents counts messages handled by consumers, by topic and outcome (ack, nack, drop).
	ConsumedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_consumed_events_total",
			Help: "Messages handled by event consumers",
		},
		[]string{"topic", "outcome"},
	)
)
