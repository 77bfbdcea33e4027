package timeseries

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aaronlmathis/tsinsight/internal/metrics"
)

// HealthMetrics tracks health and guardrail counters for the sample store
type HealthMetrics struct {
	mu sync.RWMutex

	// Counters
	seriesCount      int64 // Current number of active series
	totalPointsAdded int64 // Total points added (lifetime)

	// Error tracking
	errorCount     int64 // Total errors encountered
	droppedPoints  int64 // Points dropped due to limits
	rejectedSeries int64 // Series creations refused due to limits

	// Resource limits
	maxSeriesCount     int // Maximum allowed series
	maxPointsPerSeries int // Maximum points per series (guard)
}

// NewHealthMetrics creates a new health metrics tracker
func NewHealthMetrics() *HealthMetrics {
	return &HealthMetrics{
		maxSeriesCount:     1000,  // Default: max 1000 series
		maxPointsPerSeries: 10000, // Default: max 10k points per series
	}
}

// SetLimits configures resource limits
func (h *HealthMetrics) SetLimits(maxSeries, maxPointsPerSeries int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.maxSeriesCount = maxSeries
	h.maxPointsPerSeries = maxPointsPerSeries
}

// IncrementSeriesCount increments the active series count
func (h *HealthMetrics) IncrementSeriesCount() {
	metrics.SetStoreSeries(atomic.AddInt64(&h.seriesCount, 1))
}

// DecrementSeriesCount decrements the active series count
func (h *HealthMetrics) DecrementSeriesCount() {
	metrics.SetStoreSeries(atomic.AddInt64(&h.seriesCount, -1))
}

// RecordPointAdded records that a point was added to a series
func (h *HealthMetrics) RecordPointAdded() {
	atomic.AddInt64(&h.totalPointsAdded, 1)
	metrics.RecordStorePoint()
}

// RecordError records an error
func (h *HealthMetrics) RecordError() {
	atomic.AddInt64(&h.errorCount, 1)
}

// RecordDroppedPoint records a point that was dropped due to limits
func (h *HealthMetrics) RecordDroppedPoint() {
	atomic.AddInt64(&h.droppedPoints, 1)
	metrics.RecordStoreDroppedPoint()
}

// RecordRejectedSeries records a series that could not be created
func (h *HealthMetrics) RecordRejectedSeries() {
	atomic.AddInt64(&h.rejectedSeries, 1)
	h.RecordError()
}

// CheckSeriesLimit checks if creating a new series would exceed limits
func (h *HealthMetrics) CheckSeriesLimit() bool {
	current := atomic.LoadInt64(&h.seriesCount)
	h.mu.RLock()
	limit := h.maxSeriesCount
	h.mu.RUnlock()

	return int(current) < limit
}

// CheckPointsLimit checks if a series has room for another point
func (h *HealthMetrics) CheckPointsLimit(seriesPointCount int) bool {
	h.mu.RLock()
	limit := h.maxPointsPerSeries
	h.mu.RUnlock()

	return seriesPointCount < limit
}

// GetSnapshot returns a snapshot of current health metrics
func (h *HealthMetrics) GetSnapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HealthSnapshot{
		SeriesCount:        atomic.LoadInt64(&h.seriesCount),
		TotalPointsAdded:   atomic.LoadInt64(&h.totalPointsAdded),
		ErrorCount:         atomic.LoadInt64(&h.errorCount),
		DroppedPoints:      atomic.LoadInt64(&h.droppedPoints),
		RejectedSeries:     atomic.LoadInt64(&h.rejectedSeries),
		MaxSeriesCount:     h.maxSeriesCount,
		MaxPointsPerSeries: h.maxPointsPerSeries,
		Timestamp:          time.Now(),
	}
}

// HealthSnapshot represents a point-in-time snapshot of health metrics
type HealthSnapshot struct {
	SeriesCount        int64     `json:"series_count"`
	TotalPointsAdded   int64     `json:"total_points_added"`
	ErrorCount         int64     `json:"error_count"`
	DroppedPoints      int64     `json:"dropped_points"`
	RejectedSeries     int64     `json:"rejected_series"`
	MaxSeriesCount     int       `json:"max_series_count"`
	MaxPointsPerSeries int       `json:"max_points_per_series"`
	Timestamp          time.Time `json:"timestamp"`
}

// IsHealthy returns true if the store is operating within healthy parameters
func (s HealthSnapshot) IsHealthy() bool {
	if s.MaxSeriesCount > 0 && float64(s.SeriesCount)/float64(s.MaxSeriesCount) > 0.9 {
		return false
	}

	if s.TotalPointsAdded > 0 && float64(s.DroppedPoints)/float64(s.TotalPointsAdded) > 0.1 {
		return false
	}

	return true
}

// GetStatus returns a human-readable status string
func (s HealthSnapshot) GetStatus() string {
	if s.IsHealthy() {
		return "healthy"
	}

	if s.MaxSeriesCount > 0 && float64(s.SeriesCount)/float64(s.MaxSeriesCount) > 0.9 {
		return "warning: approaching series limit"
	}

	if s.TotalPointsAdded > 0 && float64(s.DroppedPoints)/float64(s.TotalPointsAdded) > 0.1 {
		return "warning: high drop rate"
	}

	return "degraded"
}
