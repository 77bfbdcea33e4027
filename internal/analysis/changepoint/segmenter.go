package changepoint

import (
	"math"
	"time"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// Set maps a property name to its changepoint timestamps in ascending order
type Set map[string][]string

// prefixSums allows O(1) evaluation of a segment's residual sum of squares
type prefixSums struct {
	sum   []float64
	sumSq []float64
}

func newPrefixSums(values []float64) prefixSums {
	ps := prefixSums{
		sum:   make([]float64, len(values)+1),
		sumSq: make([]float64, len(values)+1),
	}
	for i, v := range values {
		ps.sum[i+1] = ps.sum[i] + v
		ps.sumSq[i+1] = ps.sumSq[i] + v*v
	}
	return ps
}

// cost returns the residual sum of squares of values[start:end] around the
// segment mean. Cancellation can push the difference slightly below zero on
// flat data, so it is floored at 0.
func (ps prefixSums) cost(start, end int) float64 {
	n := end - start
	if n <= 0 {
		return 0
	}
	s := ps.sum[end] - ps.sum[start]
	sq := ps.sumSq[end] - ps.sumSq[start]
	c := sq - s*s/float64(n)
	if c < 0 {
		return 0
	}
	return c
}

// Indices returns the changepoint indices of values, which must already be in
// timestamp order. Index 0 is never reported. Fewer than two values yield an
// empty, non-nil slice.
func Indices(values []float64, penalty float64) []int {
	n := len(values)
	if n < 2 {
		return []int{}
	}

	ps := newPrefixSums(values)

	best := make([]float64, n+1) // best[0] = 0
	last := make([]int, n+1)
	candidates := []int{0}
	scores := make([]float64, 0, n)

	for t := 1; t <= n; t++ {
		scores = scores[:0]
		minScore := math.Inf(1)
		minTau := 0
		for _, tau := range candidates {
			score := best[tau] + ps.cost(tau, t) + penalty
			scores = append(scores, score)
			if score < minScore {
				minScore = score
				minTau = tau
			}
		}
		best[t] = minScore
		last[t] = minTau

		// Keep only predecessors still as good as the optimum at t. There is
		// deliberately no slack term here; adding one changes results.
		kept := candidates[:0]
		for i, tau := range candidates {
			if scores[i] <= best[t] {
				kept = append(kept, tau)
			}
		}
		candidates = append(kept, t)
	}

	var cps []int
	for idx := last[n]; idx > 0; idx = last[idx] {
		cps = append(cps, idx)
	}

	out := make([]int, len(cps))
	for i, idx := range cps {
		out[len(cps)-1-i] = idx
	}
	return out
}

// DetectSeries returns the changepoint timestamps of one series
func DetectSeries(s timeseries.Series, cfg Config) ([]time.Time, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return detectSeries(s, cfg), nil
}

func detectSeries(s timeseries.Series, cfg Config) []time.Time {
	idx := Indices(s.Values(), cfg.PenaltyFor(s.Len()))
	out := make([]time.Time, len(idx))
	for i, j := range idx {
		out[i] = s.At(j).T
	}
	return out
}

// Detect segments every property of batch independently. Each property's
// samples are stable-sorted by timestamp first. Every property appears in the
// result; one with fewer than two samples maps to an empty list.
func Detect(batch timeseries.Batch, cfg Config) (Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	result := make(Set, len(batch.Values))
	for _, name := range batch.Properties() {
		s, ok := batch.Series(name)
		if !ok {
			continue
		}
		result[name] = timeseries.FormatTimestamps(detectSeries(s, cfg))
	}
	return result, nil
}
