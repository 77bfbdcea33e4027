package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// requiredParam returns a non-blank query parameter
func requiredParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", fmt.Errorf("%w: query parameter %q is required", timeseries.ErrInvalidArgument, name)
	}
	return v, nil
}

// parseMetricsParam splits a comma-separated metric list, defaulting to the
// well-known metrics
func parseMetricsParam(param string) []string {
	if strings.TrimSpace(param) == "" {
		return timeseries.AllMetricKeys()
	}

	seen := make(map[string]bool)
	var out []string
	for _, m := range strings.Split(param, ",") {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// parseFloatParam returns nil when the parameter is absent
func parseFloatParam(r *http.Request, name string) (*float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: query parameter %q must be a number", timeseries.ErrInvalidArgument, name)
	}
	return &v, nil
}

// parseIntParam returns nil when the parameter is absent
func parseIntParam(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: query parameter %q must be an integer", timeseries.ErrInvalidArgument, name)
	}
	return &v, nil
}

// parseDurationParam returns zero when the parameter is absent
func parseDurationParam(r *http.Request, name string) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: query parameter %q must be a positive duration", timeseries.ErrInvalidArgument, name)
	}
	return d, nil
}

// queryOptions flattens the query string into aggregation options, keeping
// the first value of repeated keys
func queryOptions(r *http.Request) map[string]string {
	q := r.URL.Query()
	opts := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			opts[k] = vs[0]
		}
	}
	return opts
}
