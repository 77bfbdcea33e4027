package changepoint

import (
	"fmt"
	"math"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// Config holds segmentation parameters
type Config struct {
	// Penalty added per segment. Nil selects ln(n), recomputed for every
	// property from its own sample count.
	Penalty *float64 `yaml:"penalty,omitempty" json:"penalty,omitempty"`
}

// DefaultConfig returns the default configuration (BIC-style ln(n) penalty)
func DefaultConfig() Config {
	return Config{}
}

// WithPenalty returns a copy of c using a fixed penalty
func (c Config) WithPenalty(p float64) Config {
	c.Penalty = &p
	return c
}

// Validate rejects negative or non-finite penalties
func (c Config) Validate() error {
	if c.Penalty == nil {
		return nil
	}
	p := *c.Penalty
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return fmt.Errorf("%w: penalty must be a finite non-negative number, got %v", timeseries.ErrInvalidArgument, p)
	}
	return nil
}

// PenaltyFor returns the penalty used for a property with n samples
func (c Config) PenaltyFor(n int) float64 {
	if c.Penalty != nil {
		return *c.Penalty
	}
	if n < 1 {
		return 0
	}
	return math.Log(float64(n))
}
