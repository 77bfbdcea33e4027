package timeseries

// Metric names understood by the aggregation policy table
const (
	// Additive metrics: group totals are sums of member values
	MetricRPS      = "rps"
	MetricCPUTotal = "cpu_total"

	// Intensive metrics: group values are averages of member values
	MetricLatencyMs    = "latency_ms"
	MetricErrorRatePct = "error_rate_pct"
)

// AllMetricKeys returns all well-known metric names
func AllMetricKeys() []string {
	return []string{
		MetricRPS,
		MetricCPUTotal,
		MetricLatencyMs,
		MetricErrorRatePct,
	}
}

// SeriesKey identifies one stored series
type SeriesKey struct {
	Entity string `json:"entity"`
	Metric string `json:"metric"`
}

// String returns "entity/metric"
func (k SeriesKey) String() string {
	return k.Entity + "/" + k.Metric
}
