// Package outlier flags samples that deviate sharply from a locally fitted
// linear trend. Slow drift is absorbed by the local fit; isolated spikes are not.
package outlier

import (
	"math"
	"time"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// Set maps a property name to its outlier timestamps in ascending order.
// Properties without outliers are absent.
type Set map[string][]string

// Line is an ordinary least-squares fit y = Slope*x + Intercept
type Line struct {
	Slope     float64
	Intercept float64
}

// At evaluates the line at x
func (l Line) At(x float64) float64 {
	return l.Slope*x + l.Intercept
}

// FitLine fits ys observed at the consecutive positions x0, x0+1, ...
// A window with no spread in x gets slope 0.
func FitLine(x0 int, ys []float64) Line {
	n := float64(len(ys))
	if n == 0 {
		return Line{}
	}

	var sumX, sumY float64
	for j, y := range ys {
		sumX += float64(x0 + j)
		sumY += y
	}
	meanX, meanY := sumX/n, sumY/n

	var num, den float64
	for j, y := range ys {
		dx := float64(x0+j) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}

	slope := 0.0
	if den != 0 {
		slope = num / den
	}
	return Line{Slope: slope, Intercept: meanY - slope*meanX}
}

// Residuals returns |y[i] - fit(i)| for every fully windowed index i.
// Boundary indices, which have no full window, are NaN.
func Residuals(values []float64, windowSize int) []float64 {
	out := make([]float64, len(values))
	half := windowSize / 2
	for i := range out {
		if i < half || i >= len(values)-half {
			out[i] = math.NaN()
			continue
		}
		line := FitLine(i-half, values[i-half:i+half+1])
		out[i] = math.Abs(values[i] - line.At(float64(i)))
	}
	return out
}

// Indices returns the positions whose residual exceeds cfg.ResidualThreshold
func Indices(values []float64, cfg Config) ([]int, error) {
	if err := cfg.Validate(len(values)); err != nil {
		return nil, err
	}
	return indices(values, cfg), nil
}

func indices(values []float64, cfg Config) []int {
	var out []int
	for i, r := range Residuals(values, cfg.WindowSize) {
		// NaN compares false, so boundary positions never qualify
		if r > cfg.ResidualThreshold {
			out = append(out, i)
		}
	}
	return out
}

// DetectSeries returns the outlier timestamps of one series
func DetectSeries(s timeseries.Series, cfg Config) ([]time.Time, error) {
	idx, err := Indices(s.Values(), cfg)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(idx))
	for i, j := range idx {
		out[i] = s.At(j).T
	}
	return out, nil
}

// Detect scores every property of batch. The window is validated against the
// batch length before any property is scored, so a bad window yields no
// partial result.
func Detect(batch timeseries.Batch, cfg Config) (Set, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(batch.Len()); err != nil {
		return nil, err
	}

	result := make(Set)
	for _, name := range batch.Properties() {
		s, ok := batch.Series(name)
		if !ok {
			continue
		}
		idx := indices(s.Values(), cfg)
		if len(idx) == 0 {
			continue
		}
		ts := make([]string, len(idx))
		for i, j := range idx {
			ts[i] = timeseries.FormatTimestamp(s.At(j).T)
		}
		result[name] = ts
	}
	return result, nil
}
