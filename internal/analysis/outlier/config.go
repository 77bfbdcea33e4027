package outlier

import (
	"fmt"
	"math"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// Config holds the sliding-window parameters
type Config struct {
	// WindowSize is the number of consecutive samples in each local fit.
	// It must be odd, at least 3 and no larger than the series length.
	WindowSize int `yaml:"window_size" json:"windowSize"`

	// ResidualThreshold is the absolute deviation from the local trend above
	// which a sample is reported.
	ResidualThreshold float64 `yaml:"residual_threshold" json:"residualThreshold"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		WindowSize:        5,
		ResidualThreshold: 3.0,
	}
}

// Validate checks the parameters against a series of n samples
func (c Config) Validate(n int) error {
	switch {
	case c.WindowSize < 3:
		return fmt.Errorf("%w: window size must be at least 3, got %d", timeseries.ErrInvalidArgument, c.WindowSize)
	case c.WindowSize%2 == 0:
		return fmt.Errorf("%w: window size must be odd, got %d", timeseries.ErrInvalidArgument, c.WindowSize)
	case c.WindowSize > n:
		return fmt.Errorf("%w: window size %d exceeds series length %d", timeseries.ErrInvalidArgument, c.WindowSize, n)
	case math.IsNaN(c.ResidualThreshold) || math.IsInf(c.ResidualThreshold, 0) || c.ResidualThreshold <= 0:
		return fmt.Errorf("%w: residual threshold must be a positive number, got %v", timeseries.ErrInvalidArgument, c.ResidualThreshold)
	}
	return nil
}
