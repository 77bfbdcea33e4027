package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the analysis service
var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsinsight_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsinsight_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)

	// Rate limiting metrics
	rateLimitedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsinsight_rate_limited_requests_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"endpoint"},
	)

	// Analysis engine metrics
	analysisRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsinsight_analysis_runs_total",
			Help: "Total number of analysis runs by engine and outcome",
		},
		[]string{"engine", "status"},
	)

	analysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsinsight_analysis_duration_seconds",
			Help:    "Analysis run duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, // 0.5ms to 5s
		},
		[]string{"engine"},
	)

	detectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsinsight_detections_total",
			Help: "Total number of changepoints or outliers reported",
		},
		[]string{"engine"},
	)

	// Group aggregation metrics
	groupAggregationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsinsight_group_aggregations_total",
			Help: "Total number of group aggregations by metric and policy",
		},
		[]string{"metric", "policy"},
	)

	groupMembers = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tsinsight_group_members",
			Help:    "Number of member series combined per group aggregation",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// Series source metrics
	sourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsinsight_source_fetch_duration_seconds",
			Help:    "Duration of series and membership fetches",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}, // 10ms to 10s
		},
		[]string{"source"},
	)

	sourceFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsinsight_source_fetch_errors_total",
			Help: "Total number of failed series and membership fetches",
		},
		[]string{"source"},
	)

	// Collector metrics
	collectorScrapeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsinsight_collector_scrape_duration_seconds",
			Help:    "Duration of sample collector scrapes",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0}, // 100ms to 10s
		},
		[]string{"collector"},
	)

	collectorScrapeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsinsight_collector_scrape_errors_total",
			Help: "Total number of sample collector scrape errors",
		},
		[]string{"collector"},
	)

	// In-memory store metrics
	storePointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tsinsight_store_points_total",
			Help: "Total number of points appended to the in-memory store",
		},
	)

	storeSeries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsinsight_store_series",
			Help: "Current number of series in the in-memory store",
		},
	)

	storeDroppedPointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tsinsight_store_dropped_points_total",
			Help: "Total number of points dropped due to store limits",
		},
	)
)

// Outcome labels for RecordAnalysis
const (
	StatusOK           = "ok"
	StatusInvalidInput = "invalid_input"
	StatusError        = "error"
)

// RecordHTTPRequest records metrics for HTTP requests
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"method":      method,
		"path":        path,
		"status_code": strconv.Itoa(statusCode),
	}

	httpRequestsTotal.With(labels).Inc()
	httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordRateLimitedRequest records rate limiting metrics
func RecordRateLimitedRequest(endpoint string) {
	rateLimitedRequestsTotal.With(prometheus.Labels{"endpoint": endpoint}).Inc()
}

// RecordAnalysis records one analysis engine run
func RecordAnalysis(engine, status string, duration time.Duration) {
	analysisRunsTotal.With(prometheus.Labels{"engine": engine, "status": status}).Inc()
	analysisDuration.With(prometheus.Labels{"engine": engine}).Observe(duration.Seconds())
}

// RecordDetections adds count reported changepoints or outliers for engine
func RecordDetections(engine string, count int) {
	if count > 0 {
		detectionsTotal.With(prometheus.Labels{"engine": engine}).Add(float64(count))
	}
}

// RecordGroupAggregation records one orchestrated group aggregation
func RecordGroupAggregation(metric, policy string, members int) {
	groupAggregationsTotal.With(prometheus.Labels{"metric": metric, "policy": policy}).Inc()
	groupMembers.Observe(float64(members))
}

// RecordSourceFetch records a series or membership fetch
func RecordSourceFetch(source string, duration time.Duration, hasError bool) {
	sourceFetchDuration.With(prometheus.Labels{"source": source}).Observe(duration.Seconds())

	if hasError {
		sourceFetchErrors.With(prometheus.Labels{"source": source}).Inc()
	}
}

// RecordCollectorScrape records sample collector scrape metrics
func RecordCollectorScrape(collector string, duration time.Duration, hasError bool) {
	collectorScrapeDuration.With(prometheus.Labels{"collector": collector}).Observe(duration.Seconds())

	if hasError {
		collectorScrapeErrors.With(prometheus.Labels{"collector": collector}).Inc()
	}
}

// RecordStorePoint records a point appended to the in-memory store
func RecordStorePoint() {
	storePointsTotal.Inc()
}

// RecordStoreDroppedPoint records a point rejected by store limits
func RecordStoreDroppedPoint() {
	storeDroppedPointsTotal.Inc()
}

// SetStoreSeries sets the current series count of the in-memory store
func SetStoreSeries(count int64) {
	storeSeries.Set(float64(count))
}
