package timeseries

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store defines the interface for collecting samples and group membership
type Store interface {
	// Append adds a point to the entity's metric series, creating it on first use.
	// It returns false when a guardrail rejected the point.
	Append(entity, metric string, p Point) bool

	// Series returns a sorted snapshot of the entity's metric series
	Series(ctx context.Context, entity, metric string) (Series, error)

	// SetMembers replaces the child entities that roll up into parent
	SetMembers(parent string, children []string)

	// Members returns the child entities of parent
	Members(ctx context.Context, parent string) ([]string, error)

	// Keys returns all series keys
	Keys() []SeriesKey

	// Prune removes old data from all series
	Prune()
}

// MemStore is an in-memory implementation of Store
type MemStore struct {
	mu      sync.RWMutex
	series  map[SeriesKey][]Point
	members map[string][]string
	config  Config
	health  *HealthMetrics
}

// NewMemStore creates a new in-memory store with the given configuration
func NewMemStore(config Config) *MemStore {
	return NewMemStoreWithHealth(config, NewHealthMetrics())
}

// NewMemStoreWithHealth creates a new in-memory store with custom health metrics
func NewMemStoreWithHealth(config Config, health *HealthMetrics) *MemStore {
	// Ensure health limits are set from config
	health.SetLimits(config.MaxSeries, config.MaxPointsPerSeries)

	return &MemStore{
		series:  make(map[SeriesKey][]Point),
		members: make(map[string][]string),
		config:  config,
		health:  health,
	}
}

// Append adds a point to the entity's metric series
func (m *MemStore) Append(entity, metric string, p Point) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := SeriesKey{Entity: entity, Metric: metric}
	points, exists := m.series[key]
	if !exists {
		// Check if we can create a new series (guardrail)
		if !m.health.CheckSeriesLimit() {
			m.health.RecordRejectedSeries()
			return false
		}
		m.health.IncrementSeriesCount()
	}

	if !m.health.CheckPointsLimit(len(points)) {
		m.health.RecordDroppedPoint()
		m.series[key] = points
		return false
	}

	m.series[key] = append(points, p)
	m.health.RecordPointAdded()
	return true
}

// Series returns a sorted copy of the stored points
func (m *MemStore) Series(ctx context.Context, entity, metric string) (Series, error) {
	if err := ctx.Err(); err != nil {
		return Series{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	points, exists := m.series[SeriesKey{Entity: entity, Metric: metric}]
	if !exists {
		return Series{}, fmt.Errorf("series %s/%s: %w", entity, metric, ErrNotFound)
	}
	// NewSeries copies, so the snapshot is safe to use after the lock is released
	return NewSeries(entity, points), nil
}

// SetMembers replaces the child entities of parent
func (m *MemStore) SetMembers(parent string, children []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.members[parent] = append([]string(nil), children...)
}

// Members returns the child entities of parent
func (m *MemStore) Members(ctx context.Context, parent string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	children, exists := m.members[parent]
	if !exists {
		return nil, fmt.Errorf("group %s: %w", parent, ErrNotFound)
	}
	return append([]string(nil), children...), nil
}

// Keys returns all series keys ordered by entity then metric
func (m *MemStore) Keys() []SeriesKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]SeriesKey, 0, len(m.series))
	for key := range m.series {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Entity != keys[j].Entity {
			return keys[i].Entity < keys[j].Entity
		}
		return keys[i].Metric < keys[j].Metric
	})
	return keys
}

// Prune removes points older than the configured max window
func (m *MemStore) Prune() {
	m.PruneBefore(time.Now().Add(-m.config.MaxWindow))
}

// PruneBefore removes points older than cutoff and deletes series left
// without points, releasing their slot under the series limit. It returns
// the number of deleted series.
func (m *MemStore) PruneBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, points := range m.series {
		kept := points[:0]
		for _, p := range points {
			if !p.T.Before(cutoff) {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(m.series, key)
			m.health.DecrementSeriesCount()
			removed++
			continue
		}
		m.series[key] = kept
	}
	return removed
}

// GetHealth returns the health metrics for the store
func (m *MemStore) GetHealth() *HealthMetrics {
	return m.health
}

// GetHealthSnapshot returns a snapshot of current health metrics
func (m *MemStore) GetHealthSnapshot() HealthSnapshot {
	return m.health.GetSnapshot()
}
