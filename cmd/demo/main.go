package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/tsinsight/internal/analysis/changepoint"
	"github.com/aaronlmathis/tsinsight/internal/analysis/outlier"
	"github.com/aaronlmathis/tsinsight/internal/logging"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
	"github.com/aaronlmathis/tsinsight/internal/timeseries/aggregator"
)

func main() {
	logger, err := logging.NewLogger("warn", "console", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fmt.Println("tsinsight - synthetic workload demo")
	fmt.Println("===================================")

	store := timeseries.NewMemStore(timeseries.DefaultConfig())
	start := time.Now().Add(-2 * time.Hour).Truncate(time.Minute)
	rng := rand.New(rand.NewSource(42))

	// Three replicas of one deployment; web-2 starts later and sees a
	// latency regression half way through
	pods := []string{"shop/web-1", "shop/web-2", "shop/web-3"}
	store.SetMembers("shop/web", pods)
	for i, pod := range pods {
		offset := time.Duration(i*20) * time.Second
		for m := 0; m < 120; m++ {
			ts := start.Add(time.Duration(m)*time.Minute + offset)
			rps := 50 + 10*math.Sin(float64(m)/15) + rng.NormFloat64()
			latency := 40 + rng.NormFloat64()*2
			if pod == "shop/web-2" && m >= 60 {
				latency += 35
			}
			if pod == "shop/web-3" && m == 90 {
				rps += 80
			}
			store.Append(pod, timeseries.MetricRPS, timeseries.NewPoint(ts, rps))
			store.Append(pod, timeseries.MetricLatencyMs, timeseries.NewPoint(ts, latency))
		}
	}

	ctx := context.Background()

	keys := store.Keys()
	fmt.Printf("\nStore: %d series\n", len(keys))
	for _, key := range keys {
		fmt.Printf("  %s\n", key)
	}

	fmt.Println("\nChangepoints (penalty 50):")
	for _, pod := range pods {
		s, err := store.Series(ctx, pod, timeseries.MetricLatencyMs)
		if err != nil {
			logger.Fatal("Failed to read series", zap.Error(err))
		}
		found, err := changepoint.DetectSeries(s, changepoint.DefaultConfig().WithPenalty(50))
		if err != nil {
			logger.Fatal("Segmentation failed", zap.Error(err))
		}
		fmt.Printf("  %s latency_ms: %v\n", pod, timeseries.FormatTimestamps(found))
	}

	fmt.Println("\nTrend outliers (window 7, threshold 20):")
	cfg := outlier.Config{WindowSize: 7, ResidualThreshold: 20}
	for _, pod := range pods {
		s, err := store.Series(ctx, pod, timeseries.MetricRPS)
		if err != nil {
			logger.Fatal("Failed to read series", zap.Error(err))
		}
		found, err := outlier.DetectSeries(s, cfg)
		if err != nil {
			logger.Fatal("Outlier scoring failed", zap.Error(err))
		}
		fmt.Printf("  %s rps: %v\n", pod, timeseries.FormatTimestamps(found))
	}

	agg := aggregator.NewAggregator(logger, store, aggregator.DefaultPolicyTable(), aggregator.DefaultConfig())

	fmt.Println("\nGroup aggregation for shop/web:")
	for _, q := range []struct {
		metric  string
		options map[string]string
	}{
		{timeseries.MetricRPS, nil},
		{timeseries.MetricLatencyMs, nil},
		{timeseries.MetricLatencyMs, map[string]string{aggregator.DefaultOverrideKey: "sum"}},
	} {
		res, err := agg.AggregateGroup(ctx, "shop/web", q.metric, q.options)
		if err != nil {
			logger.Fatal("Aggregation failed", zap.Error(err))
		}
		if res.Aggregated.IsEmpty() {
			fmt.Printf("  %-11s no samples\n", q.metric)
			continue
		}
		values := res.Aggregated.Values[q.metric]
		fmt.Printf("  %-11s policy=%-8s points=%d first=%.2f last=%.2f\n",
			q.metric, res.Policy, res.Aggregated.Len(), values[0], values[len(values)-1])
	}
}
