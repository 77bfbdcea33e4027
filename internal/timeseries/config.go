package timeseries

import "time"

// Config holds guardrails for the in-memory sample store
type Config struct {
	// Maximum age of points kept by Prune
	MaxWindow time.Duration `yaml:"max_window"`

	// Health and guardrails
	MaxSeries          int `yaml:"max_series"`            // Maximum number of entity/metric series
	MaxPointsPerSeries int `yaml:"max_points_per_series"` // Maximum points per series
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxWindow:          24 * time.Hour, // one day of history
		MaxSeries:          1000,           // Maximum 1000 series
		MaxPointsPerSeries: 10000,          // Maximum 10k points per series
	}
}
