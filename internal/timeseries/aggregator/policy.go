package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aaronlmathis/tsinsight/internal/analysis/merge"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// DefaultOverrideKey is the option callers set to force a policy
const DefaultOverrideKey = "top_aggregation"

// PolicyTable maps metric names to aggregation policies.
// Metrics missing from the table are passed through uncombined.
type PolicyTable struct {
	Policies    map[string]string `yaml:"policies"`
	OverrideKey string            `yaml:"override_key"`
}

// DefaultPolicyTable sums additive metrics and averages intensive ones
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		Policies: map[string]string{
			timeseries.MetricRPS:          "sum",
			timeseries.MetricCPUTotal:     "sum",
			timeseries.MetricLatencyMs:    "avg",
			timeseries.MetricErrorRatePct: "avg",
		},
		OverrideKey: DefaultOverrideKey,
	}
}

// Validate checks every table entry names a known policy
func (t PolicyTable) Validate() error {
	if strings.TrimSpace(t.OverrideKey) == "" {
		return fmt.Errorf("policy override key must not be empty")
	}

	metrics := make([]string, 0, len(t.Policies))
	for metric := range t.Policies {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		if _, err := merge.ParsePolicy(t.Policies[metric]); err != nil {
			return fmt.Errorf("policy for metric %q: %w", metric, err)
		}
	}
	return nil
}

// Resolve picks the policy for metric. A non-empty override option wins over
// the table; an unrecognised override is an invalid argument. ok is false when
// the metric should be passed through.
func (t PolicyTable) Resolve(metric string, options map[string]string) (policy merge.Policy, ok bool, err error) {
	if raw, set := options[t.OverrideKey]; set && strings.TrimSpace(raw) != "" {
		forced, parseErr := merge.ParsePolicy(raw)
		if parseErr != nil {
			return 0, false, fmt.Errorf("option %s: %w", t.OverrideKey, parseErr)
		}
		return forced, true, nil
	}

	raw, found := t.Policies[metric]
	if !found {
		return 0, false, nil
	}
	policy, err = merge.ParsePolicy(raw)
	if err != nil {
		return 0, false, fmt.Errorf("policy for metric %q: %w", metric, err)
	}
	return policy, true, nil
}
