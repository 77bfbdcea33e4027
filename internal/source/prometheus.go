package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/tsinsight/internal/metrics"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
	"github.com/aaronlmathis/tsinsight/internal/version"
)

// PrometheusConfig configures range queries against a Prometheus server
type PrometheusConfig struct {
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	Lookback time.Duration `yaml:"lookback"`
	Step     time.Duration `yaml:"step"`

	// Queries maps metric keys to PromQL templates. Each query should reduce
	// to a single series (sum, avg or a quantile over the entity). Rows of a
	// multi-series result are summed per timestamp, which is only meaningful
	// for additive metrics such as rps or cpu_total.
	Queries map[string]string `yaml:"queries"`
}

// DefaultQueries maps the well-known metric keys to PromQL templates.
// $namespace and $name are replaced with the two halves of a "namespace/pod"
// entity, $entity with the entity as given.
func DefaultQueries() map[string]string {
	return map[string]string{
		timeseries.MetricRPS:          `sum(rate(http_requests_total{namespace="$namespace",pod="$name"}[1m]))`,
		timeseries.MetricCPUTotal:     `sum(rate(container_cpu_usage_seconds_total{namespace="$namespace",pod="$name",container!=""}[1m]))`,
		timeseries.MetricLatencyMs:    `1000 * histogram_quantile(0.5, sum by (le) (rate(http_request_duration_seconds_bucket{namespace="$namespace",pod="$name"}[5m])))`,
		timeseries.MetricErrorRatePct: `100 * sum(rate(http_requests_total{namespace="$namespace",pod="$name",code=~"5.."}[1m])) / sum(rate(http_requests_total{namespace="$namespace",pod="$name"}[1m]))`,
	}
}

// DefaultPrometheusConfig returns a configuration for a local Prometheus
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		URL:      "http://localhost:9090",
		Timeout:  10 * time.Second,
		Lookback: time.Hour,
		Step:     30 * time.Second,
		Queries:  DefaultQueries(),
	}
}

// PrometheusResponse is the envelope of the Prometheus HTTP API
type PrometheusResponse struct {
	Status    string         `json:"status"`
	ErrorType string         `json:"errorType,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      PrometheusData `json:"data"`
}

// PrometheusData represents the data section of a Prometheus response
type PrometheusData struct {
	ResultType string             `json:"resultType"`
	Result     []PrometheusResult `json:"result"`
}

// PrometheusResult is one labelled matrix row
type PrometheusResult struct {
	Metric map[string]string `json:"metric"`
	Values [][]interface{}   `json:"values"`
}

// PrometheusReader reads entity series from Prometheus range queries
type PrometheusReader struct {
	logger  *zap.Logger
	baseURL string
	config  PrometheusConfig
	client  *http.Client
	now     func() time.Time
}

// NewPrometheusReader creates a reader for the server at config.URL
func NewPrometheusReader(logger *zap.Logger, config PrometheusConfig) (*PrometheusReader, error) {
	if _, err := url.ParseRequestURI(config.URL); err != nil {
		return nil, fmt.Errorf("invalid prometheus URL %q: %w", config.URL, err)
	}
	if config.Lookback <= 0 {
		return nil, fmt.Errorf("prometheus lookback must be positive, got %s", config.Lookback)
	}
	if config.Step <= 0 {
		return nil, fmt.Errorf("prometheus step must be positive, got %s", config.Step)
	}
	if len(config.Queries) == 0 {
		config.Queries = DefaultQueries()
	}

	return &PrometheusReader{
		logger:  logger,
		baseURL: strings.TrimRight(config.URL, "/"),
		config:  config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		now: time.Now,
	}, nil
}

// Query renders the PromQL template for metric and entity
func (p *PrometheusReader) Query(entity, metric string) (string, bool) {
	tmpl, ok := p.config.Queries[metric]
	if !ok {
		return "", false
	}

	namespace, name := "", entity
	if i := strings.IndexByte(entity, '/'); i >= 0 {
		namespace, name = entity[:i], entity[i+1:]
	}
	r := strings.NewReplacer("$namespace", namespace, "$name", name, "$entity", entity)
	return r.Replace(tmpl), true
}

// Series runs the metric's range query over the configured lookback and folds
// every returned row into one series, summing rows that share a timestamp.
func (p *PrometheusReader) Series(ctx context.Context, entity, metric string) (timeseries.Series, error) {
	query, ok := p.Query(entity, metric)
	if !ok {
		return timeseries.Series{}, fmt.Errorf("no prometheus query for metric %q: %w", metric, ErrNotFound)
	}

	end := p.now()
	start := end.Add(-p.config.Lookback)

	began := time.Now()
	results, err := p.QueryRange(ctx, query, start, end, p.config.Step)
	metrics.RecordSourceFetch("prometheus", time.Since(began), err != nil)
	if err != nil {
		return timeseries.Series{}, err
	}

	if len(results) > 1 {
		p.logger.Warn("Prometheus query returned several series; summing them per timestamp",
			zap.String("entity", entity),
			zap.String("metric", metric),
			zap.Int("series", len(results)))
	}

	points := matrixPoints(results)
	if len(points) == 0 {
		return timeseries.Series{}, fmt.Errorf("series %s/%s: %w", entity, metric, ErrNotFound)
	}
	return timeseries.NewSeries(entity, points), nil
}

// QueryRange performs a range query against Prometheus
func (p *PrometheusReader) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]PrometheusResult, error) {
	u, err := url.Parse(p.baseURL + "/api/v1/query_range")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prometheus URL: %w", err)
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("step", fmt.Sprintf("%.0fs", step.Seconds()))
	u.RawQuery = params.Encode()

	p.logger.Debug("Querying Prometheus",
		zap.String("query", query),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Duration("step", step))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query prometheus: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus query failed with status %d: %s", resp.StatusCode, string(body))
	}

	var promResp PrometheusResponse
	if err := json.Unmarshal(body, &promResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prometheus response: %w", err)
	}
	if promResp.Status != "success" {
		return nil, fmt.Errorf("prometheus query failed: %s %s", promResp.ErrorType, promResp.Error)
	}
	if promResp.Data.ResultType != "matrix" {
		return nil, fmt.Errorf("unexpected prometheus result type %q", promResp.Data.ResultType)
	}

	return promResp.Data.Result, nil
}

// Ping checks that the Prometheus server reports itself ready
func (p *PrometheusReader) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/-/ready", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach prometheus: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prometheus not ready: status %d", resp.StatusCode)
	}
	return nil
}

// matrixPoints sums every row by timestamp. Malformed or non-finite samples
// are skipped.
func matrixPoints(results []PrometheusResult) []timeseries.Point {
	byTime := make(map[int64]float64)
	for _, result := range results {
		for _, pair := range result.Values {
			if len(pair) != 2 {
				continue
			}
			ts, ok := pair[0].(float64)
			if !ok {
				continue
			}
			raw, ok := pair[1].(string)
			if !ok {
				continue
			}
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
				continue
			}
			byTime[int64(math.Round(ts*1000))] += value
		}
	}

	points := make([]timeseries.Point, 0, len(byTime))
	for ms, value := range byTime {
		points = append(points, timeseries.Point{T: time.UnixMilli(ms).UTC(), V: value})
	}
	return points
}
