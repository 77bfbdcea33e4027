package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"

	"github.com/aaronlmathis/tsinsight/internal/metrics"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// CollectorConfig configures the PodMetrics poller
type CollectorConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Namespace limits collection; empty means all namespaces
	Namespace string `yaml:"namespace"`
}

// DefaultCollectorConfig returns the default configuration
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Interval: 30 * time.Second,
	}
}

// PodCPUCollector polls metrics.k8s.io and appends each pod's CPU usage, in
// cores, to the store under cpu_total keyed "namespace/pod".
type PodCPUCollector struct {
	logger        *zap.Logger
	metricsClient metricsv1beta1.MetricsV1beta1Interface
	store         timeseries.Store
	config        CollectorConfig
	now           func() time.Time
}

// NewPodCPUCollector creates a collector writing into store
func NewPodCPUCollector(logger *zap.Logger, metricsClient metricsv1beta1.MetricsV1beta1Interface, store timeseries.Store, config CollectorConfig) *PodCPUCollector {
	if config.Interval <= 0 {
		config.Interval = DefaultCollectorConfig().Interval
	}
	return &PodCPUCollector{
		logger:        logger,
		metricsClient: metricsClient,
		store:         store,
		config:        config,
		now:           time.Now,
	}
}

// Collect performs one scrape and returns the number of samples stored
func (c *PodCPUCollector) Collect(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := c.collect(ctx)
	metrics.RecordCollectorScrape("pod_cpu", time.Since(start), err != nil)
	return n, err
}

func (c *PodCPUCollector) collect(ctx context.Context) (int, error) {
	podMetrics, err := c.metricsClient.PodMetricses(c.config.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to list pod metrics: %w", err)
	}

	stored := 0
	for _, pm := range podMetrics.Items {
		var nanocores int64
		for _, container := range pm.Containers {
			nanocores += container.Usage.Cpu().ScaledValue(resource.Nano)
		}
		cores := float64(nanocores) / 1e9

		ts := pm.Timestamp.Time
		if ts.IsZero() {
			ts = c.now()
		}

		entity := pm.Namespace + "/" + pm.Name
		if !c.store.Append(entity, timeseries.MetricCPUTotal, timeseries.NewPoint(ts, cores)) {
			c.logger.Warn("Store rejected pod CPU sample", zap.String("pod", entity))
			continue
		}
		stored++
	}

	c.logger.Debug("Collected pod CPU usage",
		zap.Int("pods", len(podMetrics.Items)),
		zap.Int("stored", stored))
	return stored, nil
}

// Run scrapes immediately and then on every interval until ctx is done.
// Scrape failures are logged and do not stop the loop.
func (c *PodCPUCollector) Run(ctx context.Context) {
	c.logger.Info("Starting pod CPU collector",
		zap.Duration("interval", c.config.Interval),
		zap.String("namespace", c.config.Namespace))

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := c.Collect(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Pod CPU scrape failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			c.logger.Info("Pod CPU collector stopped")
			return
		case <-ticker.C:
		}
	}
}
