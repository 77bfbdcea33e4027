// Package merge aligns series sampled on different grids onto their union
// timeline and combines them under a Sum or Average policy.
package merge

import (
	"sort"
	"time"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// Result is a combined series. Timestamps are UTC instants; Values holds a
// single entry keyed by the output metric, index-aligned to Timestamps.
type Result struct {
	Timestamps []string             `json:"timestamps"`
	Values     map[string][]float64 `json:"values"`
}

// Len returns the length of the timeline
func (r Result) Len() int {
	return len(r.Timestamps)
}

// IsEmpty reports whether the timeline has no instants
func (r Result) IsEmpty() bool {
	return len(r.Timestamps) == 0
}

func emptyResult() Result {
	return Result{Timestamps: []string{}, Values: map[string][]float64{}}
}

// Aggregate combines series under policy and stores the values under
// outputMetric. Empty series are ignored; when nothing remains the result has
// an empty timeline and an empty value map.
func Aggregate(series []timeseries.Series, outputMetric string, policy Policy) Result {
	interps := make([]*Interpolator, 0, len(series))
	for _, s := range series {
		if s.IsEmpty() {
			continue
		}
		interps = append(interps, NewInterpolator(s))
	}
	if len(interps) == 0 {
		return emptyResult()
	}

	timeline := UnionTimeline(series)
	values := make([]float64, len(timeline))
	for i, t := range timeline {
		var sum float64
		present := 0
		for _, in := range interps {
			if v, ok := in.At(t); ok {
				sum += v
				present++
			}
		}

		switch policy {
		case Average:
			if present > 0 {
				values[i] = sum / float64(present)
			}
		default:
			values[i] = sum
		}
	}

	ts := make([]string, len(timeline))
	for i, t := range timeline {
		ts[i] = timeseries.FormatInstant(t)
	}
	return Result{
		Timestamps: ts,
		Values:     map[string][]float64{outputMetric: values},
	}
}

// FromSeries renders a single series in the Result shape without combining
func FromSeries(s timeseries.Series, outputMetric string) Result {
	if s.IsEmpty() {
		return emptyResult()
	}
	ts := make([]string, s.Len())
	for i, p := range s.Points() {
		ts[i] = timeseries.FormatInstant(p.T)
	}
	return Result{
		Timestamps: ts,
		Values:     map[string][]float64{outputMetric: s.Values()},
	}
}

// UnionTimeline returns every distinct instant observed in series, ascending.
// Timestamps in different zones denoting the same instant collapse to one.
func UnionTimeline(series []timeseries.Series) []time.Time {
	var all []time.Time
	for _, s := range series {
		all = append(all, s.Timestamps()...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Before(all[j])
	})

	out := all[:0]
	for _, t := range all {
		if len(out) > 0 && out[len(out)-1].Equal(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
