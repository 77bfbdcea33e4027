package timeseries

import "testing"

func TestAllMetricKeys(t *testing.T) {
	keys := AllMetricKeys()
	if len(keys) != 4 {
		t.Fatalf("Expected 4 metric keys, got %d", len(keys))
	}

	seen := make(map[string]bool)
	for _, k := range keys {
		if k == "" {
			t.Error("Metric key should not be empty")
		}
		if seen[k] {
			t.Errorf("Duplicate metric key %q", k)
		}
		seen[k] = true
	}

	for _, want := range []string{"rps", "cpu_total", "latency_ms", "error_rate_pct"} {
		if !seen[want] {
			t.Errorf("Expected metric key %q", want)
		}
	}
}

func TestSeriesKeyString(t *testing.T) {
	k := SeriesKey{Entity: "shop/cart-7f9", Metric: MetricRPS}
	if got := k.String(); got != "shop/cart-7f9/rps" {
		t.Errorf("Expected shop/cart-7f9/rps, got %s", got)
	}
}
