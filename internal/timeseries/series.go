package timeseries

import (
	"fmt"
	"sort"
	"time"
)

// Series is a named sequence of points ordered by timestamp.
// A Series never shares its backing array with the caller, so it can be handed
// to the analysis engines from several goroutines at once.
type Series struct {
	Name   string
	points []Point
}

// NewSeries copies points and stable-sorts them by timestamp.
// Points with equal timestamps keep their input order.
func NewSeries(name string, points []Point) Series {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].T.Before(sorted[j].T)
	})
	return Series{Name: name, points: sorted}
}

// SeriesFromArrays zips index-aligned timestamps and values into a Series
func SeriesFromArrays(name string, timestamps []time.Time, values []float64) (Series, error) {
	if len(timestamps) != len(values) {
		return Series{}, fmt.Errorf("%w: series %q has %d timestamps but %d values",
			ErrInvalidArgument, name, len(timestamps), len(values))
	}

	points := make([]Point, len(values))
	for i := range values {
		points[i] = Point{T: timestamps[i], V: values[i]}
	}
	return NewSeries(name, points), nil
}

// Len returns the number of points
func (s Series) Len() int {
	return len(s.points)
}

// IsEmpty reports whether the series holds no points
func (s Series) IsEmpty() bool {
	return len(s.points) == 0
}

// At returns the i-th point in timestamp order
func (s Series) At(i int) Point {
	return s.points[i]
}

// Points returns a copy of the sorted points
func (s Series) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Values returns the point values in timestamp order
func (s Series) Values() []float64 {
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.V
	}
	return out
}

// Timestamps returns the point timestamps in ascending order
func (s Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s.points))
	for i, p := range s.points {
		out[i] = p.T
	}
	return out
}

// Since returns the points at or after since, still sorted
func (s Series) Since(since time.Time) Series {
	i := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].T.Before(since)
	})
	return NewSeries(s.Name, s.points[i:])
}
